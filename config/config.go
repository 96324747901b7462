// Package config defines the guesser's configuration surface. Every option
// has a single documented effect; none has hidden cross-effects.
package config

import (
	"fmt"
	"os"

	dan "github.com/diyapatel231/HWDan"
	"gopkg.in/yaml.v3"
)

// Parameters is the full set of recognized options.
type Parameters struct {
	// VocabSize caps the vocabulary, including the reserved padding and
	// unknown ids. Zero or negative means unbounded.
	VocabSize int `yaml:"vocab_size"`

	// MaxClasses caps the frozen answer-index length. Zero or negative
	// means unbounded.
	MaxClasses int `yaml:"max_classes"`

	// MinAnswerFreq excludes answers seen fewer times than this from the
	// answer index. In ranking mode it must be at least 2 so every kept
	// label has a positive candidate.
	MinAnswerFreq int `yaml:"min_answer_freq"`

	// NegSamples is reserved for future hard-negative mining; for now
	// exactly one negative is drawn per example regardless.
	NegSamples int `yaml:"neg_samples"`

	// Loss selects the training objective.
	Loss dan.LossMode `yaml:"loss"`

	// EmbeddingDim is the width of each embedding row.
	EmbeddingDim int `yaml:"embedding_dim"`

	// HiddenUnits is the hidden width, and in ranking mode also the
	// representation dimension.
	HiddenUnits int `yaml:"hidden_units"`

	// Dropout is the dropout rate applied between the two linear layers
	// during training.
	Dropout float64 `yaml:"dropout"`

	// LearningRate is the SGD step size.
	LearningRate float64 `yaml:"learning_rate"`

	// GradClip bounds the global gradient norm per batch; zero or
	// negative disables clipping.
	GradClip float64 `yaml:"grad_clip"`

	// GradSanity is the per-tensor max-abs gradient threshold above
	// which a tensor's gradient is logged and excluded from the update;
	// zero or negative disables the filter.
	GradSanity float64 `yaml:"grad_sanity"`

	// RankingMargin is the minimum required gap between negative and
	// positive distances for the ranking loss to reach zero.
	RankingMargin float64 `yaml:"ranking_margin"`

	// BatchSize is the number of examples per training batch.
	BatchSize int `yaml:"batch_size"`

	// NumEpochs is the number of passes over the training set.
	NumEpochs int `yaml:"num_epochs"`

	// Device selects the execution device. Only "cpu" is supported.
	Device string `yaml:"device"`

	// NumWorkers is the size of the batch-assembly prefetch pool; values
	// below 2 build batches on the training goroutine.
	NumWorkers int `yaml:"num_workers"`

	// CheckpointEvery is the batch cadence for index refreshes (ranking
	// mode) and running-loss reports.
	CheckpointEvery int `yaml:"checkpoint_every"`

	// ModelFile is the snapshot path prefix for Save and Load.
	ModelFile string `yaml:"model_file"`

	// TextField and AnswerField name the record fields holding question
	// text and gold label.
	TextField   string `yaml:"text_field"`
	AnswerField string `yaml:"answer_field"`

	// Initialization selects parameter initialization: "" (random) or
	// "identity" (diagnostic baseline).
	Initialization string `yaml:"initialization"`

	// Seed drives every random choice: parameter init, dropout masks,
	// shuffling, contrastive sampling.
	Seed int64 `yaml:"seed"`
}

// DefaultParameters returns the defaults for a small guesser.
func DefaultParameters() *Parameters {
	return &Parameters{
		VocabSize:       10000,
		MaxClasses:      100,
		MinAnswerFreq:   2,
		NegSamples:      1,
		Loss:            dan.LossCrossEntropy,
		EmbeddingDim:    50,
		HiddenUnits:     50,
		Dropout:         0.5,
		LearningRate:    0.05,
		GradClip:        5,
		GradSanity:      1000,
		RankingMargin:   1,
		BatchSize:       128,
		NumEpochs:       10,
		Device:          "cpu",
		NumWorkers:      1,
		CheckpointEvery: 50,
		ModelFile:       "dan_guesser",
		TextField:       "text",
		AnswerField:     "page",
		Seed:            1,
	}
}

// Load reads parameters from a YAML file on top of the defaults.
func Load(path string) (*Parameters, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	params := DefaultParameters()
	if err := yaml.Unmarshal(raw, params); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}

// Validate reports configuration errors before any training work starts.
func (p *Parameters) Validate() error {
	if p.EmbeddingDim <= 0 {
		return fmt.Errorf("embedding_dim must be positive, got %d", p.EmbeddingDim)
	}
	if p.HiddenUnits <= 0 {
		return fmt.Errorf("hidden_units must be positive, got %d", p.HiddenUnits)
	}
	if p.Dropout < 0 || p.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1), got %g", p.Dropout)
	}
	if p.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %g", p.LearningRate)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", p.BatchSize)
	}
	if p.NumEpochs <= 0 {
		return fmt.Errorf("num_epochs must be positive, got %d", p.NumEpochs)
	}
	if p.CheckpointEvery <= 0 {
		return fmt.Errorf("checkpoint_every must be positive, got %d", p.CheckpointEvery)
	}
	if p.NumWorkers < 0 {
		return fmt.Errorf("num_workers must not be negative, got %d", p.NumWorkers)
	}
	if p.Device != "cpu" {
		return fmt.Errorf("unsupported device %q (only cpu)", p.Device)
	}
	switch p.Loss {
	case dan.LossCrossEntropy:
	case dan.LossMarginRanking:
		if p.RankingMargin < 0 {
			return fmt.Errorf("ranking_margin must not be negative, got %g", p.RankingMargin)
		}
		if p.MinAnswerFreq < 2 {
			return fmt.Errorf("ranking mode needs min_answer_freq >= 2 so every label has a positive candidate, got %d", p.MinAnswerFreq)
		}
	default:
		return fmt.Errorf("unknown loss mode %v", p.Loss)
	}
	switch p.Initialization {
	case "", "identity":
	default:
		return fmt.Errorf("unknown initialization %q", p.Initialization)
	}
	if p.ModelFile == "" {
		return fmt.Errorf("model_file must not be empty")
	}
	if p.TextField == "" || p.AnswerField == "" {
		return fmt.Errorf("text_field and answer_field must not be empty")
	}
	return nil
}
