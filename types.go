// Package dan provides a trainable deep averaging network (DAN) question
// guesser: it learns a fixed-size vector representation of a question and
// predicts an answer either through per-class logits (classification) or
// through nearest-neighbor retrieval over stored training representations
// (ranking).
package dan

import "fmt"

// Question represents one labeled question record with key-value fields.
// The text and answer field names are configurable; records missing the
// answer field are treated as unanswerable.
type Question map[string]string

// Guess is a single predicted answer.
type Guess struct {
	Guess string
}

// LossMode selects the training objective. It is fixed once at session
// configuration time and threaded through every component that needs
// mode-specific behavior: batch assembly, loss computation, evaluation
// and inference.
type LossMode int

const (
	// LossCrossEntropy trains per-class logits with multi-class cross-entropy.
	LossCrossEntropy LossMode = iota
	// LossMarginRanking trains representations with a pairwise margin
	// ranking objective over anchor/positive/negative triples.
	LossMarginRanking
)

// String returns the canonical name of the loss mode.
func (m LossMode) String() string {
	switch m {
	case LossCrossEntropy:
		return "cross_entropy"
	case LossMarginRanking:
		return "margin_ranking"
	default:
		return fmt.Sprintf("loss_mode(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler so the mode round-trips
// through YAML configuration files and persisted snapshots.
func (m LossMode) MarshalText() ([]byte, error) {
	switch m {
	case LossCrossEntropy, LossMarginRanking:
		return []byte(m.String()), nil
	}
	return nil, fmt.Errorf("unknown loss mode %d", int(m))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *LossMode) UnmarshalText(text []byte) error {
	parsed, err := ParseLossMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseLossMode parses a loss mode name.
func ParseLossMode(name string) (LossMode, error) {
	switch name {
	case "cross_entropy":
		return LossCrossEntropy, nil
	case "margin_ranking":
		return LossMarginRanking, nil
	}
	return 0, fmt.Errorf("unknown loss mode %q (want cross_entropy or margin_ranking)", name)
}

// Metric identifies the distance metric of a nearest-neighbor index.
// The index metric must match the ranking loss's distance semantics;
// a mismatch is a configuration error, not a style choice.
type Metric int

const (
	// MetricSquaredL2 is exact squared Euclidean distance. Neighbor
	// ordering is identical to Euclidean distance, which is what the
	// margin ranking loss computes.
	MetricSquaredL2 Metric = iota
)

// String returns the canonical name of the metric.
func (m Metric) String() string {
	switch m {
	case MetricSquaredL2:
		return "squared_l2"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// Guesser is the surface the surrounding guesser-selection system consumes.
type Guesser interface {
	// Train fits the guesser on labeled examples and returns the final
	// accuracy on the held-out evaluation examples.
	Train(training, eval []Question) (float64, error)

	// Predict returns up to k ranked answer guesses for a question.
	Predict(text string, k int) ([]Guess, error)

	// Save persists the guesser to its configured snapshot files.
	Save() error

	// Load restores the guesser from its configured snapshot files.
	Load() error
}

// Observer receives training-loop events at well-defined hook points.
// A nil Observer is legal; all hooks are then skipped.
type Observer interface {
	// OnBatch fires every reporting interval with the running average
	// training loss since the previous report.
	OnBatch(epoch, batch int, avgLoss float64)

	// OnEpoch fires after an epoch's evaluation pass with the computed
	// accuracy and the epoch's total training loss.
	OnEpoch(epoch int, accuracy, loss float64)

	// OnGradient fires once per parameter tensor per batch with the
	// tensor's max absolute gradient. skipped reports whether the
	// gradient exceeded the sanity threshold and was excluded from
	// the update.
	OnGradient(name string, maxAbs float64, skipped bool)
}
