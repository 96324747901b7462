// Package models implements the deep averaging network encoder: an
// embedding table, masked average pooling over true sequence lengths, and a
// two-layer feed-forward projection. The same encoder serves both loss
// modes; only the width of the final layer differs.
package models

import (
	"fmt"
	"math"
	"math/rand"

	dan "github.com/diyapatel231/HWDan"
	"github.com/diyapatel231/HWDan/vocab"
	"gonum.org/v1/gonum/mat"
)

// DanConfig holds the encoder's structural configuration.
type DanConfig struct {
	VocabSize    int
	NumClasses   int
	EmbeddingDim int
	HiddenUnits  int
	Dropout      float64
	LossMode     dan.LossMode

	// Initialization selects the parameter initialization scheme:
	// "" for scaled random weights or "identity" for the diagnostic
	// identity baseline.
	Initialization string

	Seed int64
}

// DanModel is the trainable encoder. Parameters are owned exclusively by
// the model; all mutation happens through Step on the single training
// goroutine.
type DanModel struct {
	cfg       DanConfig
	outputDim int

	embeddings *mat.Dense // vocab x emb
	w1         *mat.Dense // emb x hidden
	b1         *mat.Dense // 1 x hidden
	w2         *mat.Dense // hidden x output
	b2         *mat.Dense // 1 x output

	training bool
	rng      *rand.Rand
}

// ForwardCache carries the intermediate activations of one forward pass,
// needed to compute gradients for the same pass.
type ForwardCache struct {
	tokens  [][]int
	lengths []int
	average *mat.Dense // batch x emb
	preAct  *mat.Dense // batch x hidden, before ReLU
	hidden  *mat.Dense // batch x hidden, after ReLU and dropout
	mask    *mat.Dense // dropout mask, nil in eval mode
}

// NewDanModel creates and initializes the encoder. Configuration problems,
// including unmet identity-initialization preconditions, are reported
// before any training work starts.
func NewDanModel(cfg DanConfig) (*DanModel, error) {
	if cfg.VocabSize <= vocab.UnkID {
		return nil, fmt.Errorf("vocab size %d too small (needs pad and unk ids)", cfg.VocabSize)
	}
	if cfg.EmbeddingDim <= 0 || cfg.HiddenUnits <= 0 {
		return nil, fmt.Errorf("invalid dimensions: embedding=%d hidden=%d", cfg.EmbeddingDim, cfg.HiddenUnits)
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return nil, fmt.Errorf("dropout %g outside [0, 1)", cfg.Dropout)
	}

	outputDim := cfg.HiddenUnits
	if cfg.LossMode == dan.LossCrossEntropy {
		if cfg.NumClasses <= 0 {
			return nil, fmt.Errorf("cross-entropy mode needs a positive class count, got %d", cfg.NumClasses)
		}
		outputDim = cfg.NumClasses
	}

	m := &DanModel{
		cfg:        cfg,
		outputDim:  outputDim,
		embeddings: mat.NewDense(cfg.VocabSize, cfg.EmbeddingDim, nil),
		w1:         mat.NewDense(cfg.EmbeddingDim, cfg.HiddenUnits, nil),
		b1:         mat.NewDense(1, cfg.HiddenUnits, nil),
		w2:         mat.NewDense(cfg.HiddenUnits, outputDim, nil),
		b2:         mat.NewDense(1, outputDim, nil),
		training:   true,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}

	if err := m.initializeParameters(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *DanModel) initializeParameters() error {
	switch m.cfg.Initialization {
	case "":
		// Embedding rows get small uniform noise; the padding row stays zero.
		for i := 1; i < m.cfg.VocabSize; i++ {
			for j := 0; j < m.cfg.EmbeddingDim; j++ {
				m.embeddings.Set(i, j, m.rng.Float64()*0.2-0.1)
			}
		}
		xavierFill(m.rng, m.w1)
		xavierFill(m.rng, m.w2)
	case "identity":
		if m.cfg.EmbeddingDim != m.cfg.HiddenUnits {
			return fmt.Errorf("cannot initialize to identity: embedding dimension %d != hidden dimension %d",
				m.cfg.EmbeddingDim, m.cfg.HiddenUnits)
		}
		if m.cfg.LossMode == dan.LossCrossEntropy && m.cfg.HiddenUnits != m.cfg.NumClasses {
			return fmt.Errorf("cannot initialize to identity: hidden dimension %d != class count %d",
				m.cfg.HiddenUnits, m.cfg.NumClasses)
		}
		for i := 1; i < m.cfg.VocabSize; i++ {
			for j := 0; j < m.cfg.EmbeddingDim; j++ {
				m.embeddings.Set(i, j, m.rng.Float64()*0.2-0.1)
			}
		}
		for i := 0; i < m.cfg.HiddenUnits; i++ {
			m.w1.Set(i, i, 1)
			m.w2.Set(i, i, 1)
		}
	default:
		return fmt.Errorf("unknown initialization %q", m.cfg.Initialization)
	}
	return nil
}

func xavierFill(rng *rand.Rand, w *mat.Dense) {
	rows, cols := w.Dims()
	limit := math.Sqrt(6.0 / float64(rows+cols))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			w.Set(i, j, rng.Float64()*2*limit-limit)
		}
	}
}

// Train puts the model in training mode; dropout is active.
func (m *DanModel) Train() { m.training = true }

// Eval puts the model in evaluation mode; dropout is a no-op.
func (m *DanModel) Eval() { m.training = false }

// Training reports whether the model is in training mode.
func (m *DanModel) Training() bool { return m.training }

// OutputDim returns the width of the encoder output: the class count in
// cross-entropy mode, the hidden width in ranking mode.
func (m *DanModel) OutputDim() int { return m.outputDim }

// Config returns the structural configuration the model was built with.
func (m *DanModel) Config() DanConfig { return m.cfg }

// Average computes masked average pooling: the elementwise mean of each
// sequence's first length embedded positions, with a floor of length 1 so
// empty inputs do not divide by zero. Exposed separately so the pooling
// contract is directly testable.
func (m *DanModel) Average(tokens [][]int, lengths []int) (*mat.Dense, error) {
	if len(tokens) != len(lengths) {
		return nil, fmt.Errorf("batch mismatch: %d token rows, %d lengths", len(tokens), len(lengths))
	}

	batch := len(tokens)
	avg := mat.NewDense(maxInt(batch, 1), m.cfg.EmbeddingDim, nil)
	if batch == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	for b := 0; b < batch; b++ {
		length := lengths[b]
		if length > len(tokens[b]) {
			return nil, fmt.Errorf("row %d: length %d exceeds padded width %d", b, length, len(tokens[b]))
		}
		for t := 0; t < length; t++ {
			id := tokens[b][t]
			if id < 0 || id >= m.cfg.VocabSize {
				return nil, fmt.Errorf("row %d: token id %d out of range [0, %d)", b, id, m.cfg.VocabSize)
			}
			for j := 0; j < m.cfg.EmbeddingDim; j++ {
				avg.Set(b, j, avg.At(b, j)+m.embeddings.At(id, j))
			}
		}
		divisor := float64(maxInt(length, 1))
		for j := 0; j < m.cfg.EmbeddingDim; j++ {
			avg.Set(b, j, avg.At(b, j)/divisor)
		}
	}
	return avg, nil
}

// Forward runs the encoder over a padded batch and returns one output row
// per sequence plus the cache needed for Backward.
func (m *DanModel) Forward(tokens [][]int, lengths []int) (*mat.Dense, *ForwardCache, error) {
	avg, err := m.Average(tokens, lengths)
	if err != nil {
		return nil, nil, err
	}
	batch := len(tokens)

	preAct := mat.NewDense(batch, m.cfg.HiddenUnits, nil)
	preAct.Mul(avg, m.w1)
	addRowVector(preAct, m.b1)

	hidden := mat.NewDense(batch, m.cfg.HiddenUnits, nil)
	hidden.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	}, preAct)

	var mask *mat.Dense
	if m.training && m.cfg.Dropout > 0 {
		keep := 1 - m.cfg.Dropout
		mask = mat.NewDense(batch, m.cfg.HiddenUnits, nil)
		for i := 0; i < batch; i++ {
			for j := 0; j < m.cfg.HiddenUnits; j++ {
				if m.rng.Float64() < m.cfg.Dropout {
					mask.Set(i, j, 0)
				} else {
					mask.Set(i, j, 1/keep)
				}
			}
		}
		hidden.MulElem(hidden, mask)
	}

	out := mat.NewDense(batch, m.outputDim, nil)
	out.Mul(hidden, m.w2)
	addRowVector(out, m.b2)

	cache := &ForwardCache{
		tokens:  tokens,
		lengths: lengths,
		average: avg,
		preAct:  preAct,
		hidden:  hidden,
		mask:    mask,
	}
	return out, cache, nil
}

// Backward back-propagates the output gradient dOut through the forward
// pass recorded in cache and returns gradients for every parameter. The
// padding embedding row accumulates no gradient.
func (m *DanModel) Backward(cache *ForwardCache, dOut *mat.Dense) *Gradients {
	batch, _ := dOut.Dims()

	g := NewGradients(m)

	// Second linear layer.
	g.W2.Mul(cache.hidden.T(), dOut)
	columnSumsInto(g.B2, dOut)

	dHidden := mat.NewDense(batch, m.cfg.HiddenUnits, nil)
	dHidden.Mul(dOut, m.w2.T())

	if cache.mask != nil {
		dHidden.MulElem(dHidden, cache.mask)
	}

	// ReLU gate.
	dPre := mat.NewDense(batch, m.cfg.HiddenUnits, nil)
	for i := 0; i < batch; i++ {
		for j := 0; j < m.cfg.HiddenUnits; j++ {
			if cache.preAct.At(i, j) > 0 {
				dPre.Set(i, j, dHidden.At(i, j))
			}
		}
	}

	// First linear layer.
	g.W1.Mul(cache.average.T(), dPre)
	columnSumsInto(g.B1, dPre)

	dAvg := mat.NewDense(batch, m.cfg.EmbeddingDim, nil)
	dAvg.Mul(dPre, m.w1.T())

	// Embedding rows: each token in a sequence receives 1/length of the
	// pooled gradient. The padding row is skipped.
	for b := 0; b < batch; b++ {
		length := cache.lengths[b]
		divisor := float64(maxInt(length, 1))
		for t := 0; t < length && t < len(cache.tokens[b]); t++ {
			id := cache.tokens[b][t]
			if id == vocab.PadID {
				continue
			}
			for j := 0; j < m.cfg.EmbeddingDim; j++ {
				g.Emb.Set(id, j, g.Emb.At(id, j)+dAvg.At(b, j)/divisor)
			}
		}
	}

	return g
}

// Step applies one SGD update. When clip > 0 the global gradient norm is
// clipped to clip before the update. The padding embedding row is restored
// to zero after the update.
func (m *DanModel) Step(g *Gradients, learningRate, clip float64) {
	if clip > 0 {
		norm := g.Norm()
		if norm > clip {
			g.Scale(clip / norm)
		}
	}

	applySGD(m.embeddings, g.Emb, learningRate)
	applySGD(m.w1, g.W1, learningRate)
	applySGD(m.b1, g.B1, learningRate)
	applySGD(m.w2, g.W2, learningRate)
	applySGD(m.b2, g.B2, learningRate)

	for j := 0; j < m.cfg.EmbeddingDim; j++ {
		m.embeddings.Set(vocab.PadID, j, 0)
	}
}

func applySGD(param, grad *mat.Dense, lr float64) {
	rows, cols := param.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			param.Set(i, j, param.At(i, j)-lr*grad.At(i, j))
		}
	}
}

func addRowVector(m *mat.Dense, row *mat.Dense) {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, m.At(i, j)+row.At(0, j))
		}
	}
}

func columnSumsInto(dst *mat.Dense, src *mat.Dense) {
	rows, cols := src.Dims()
	for j := 0; j < cols; j++ {
		var sum float64
		for i := 0; i < rows; i++ {
			sum += src.At(i, j)
		}
		dst.Set(0, j, sum)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
