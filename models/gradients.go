package models

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Gradients holds one gradient tensor per named model parameter.
type Gradients struct {
	Emb *mat.Dense
	W1  *mat.Dense
	B1  *mat.Dense
	W2  *mat.Dense
	B2  *mat.Dense
}

// GradientStat describes one tensor's gradient magnitude after a batch.
type GradientStat struct {
	Name    string
	MaxAbs  float64
	Skipped bool
}

// NewGradients allocates zero gradients shaped like the model's parameters.
func NewGradients(m *DanModel) *Gradients {
	return &Gradients{
		Emb: mat.NewDense(m.cfg.VocabSize, m.cfg.EmbeddingDim, nil),
		W1:  mat.NewDense(m.cfg.EmbeddingDim, m.cfg.HiddenUnits, nil),
		B1:  mat.NewDense(1, m.cfg.HiddenUnits, nil),
		W2:  mat.NewDense(m.cfg.HiddenUnits, m.outputDim, nil),
		B2:  mat.NewDense(1, m.outputDim, nil),
	}
}

func (g *Gradients) named() []struct {
	name   string
	tensor *mat.Dense
} {
	return []struct {
		name   string
		tensor *mat.Dense
	}{
		{"embeddings.weight", g.Emb},
		{"linear1.weight", g.W1},
		{"linear1.bias", g.B1},
		{"linear2.weight", g.W2},
		{"linear2.bias", g.B2},
	}
}

// Add accumulates another gradient set into this one. Shapes must match.
func (g *Gradients) Add(other *Gradients) {
	g.Emb.Add(g.Emb, other.Emb)
	g.W1.Add(g.W1, other.W1)
	g.B1.Add(g.B1, other.B1)
	g.W2.Add(g.W2, other.W2)
	g.B2.Add(g.B2, other.B2)
}

// Scale multiplies every gradient by s.
func (g *Gradients) Scale(s float64) {
	for _, t := range g.named() {
		t.tensor.Scale(s, t.tensor)
	}
}

// Norm returns the global L2 norm across all gradient tensors, the quantity
// gradient clipping bounds.
func (g *Gradients) Norm() float64 {
	var sum float64
	for _, t := range g.named() {
		rows, cols := t.tensor.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				v := t.tensor.At(i, j)
				sum += v * v
			}
		}
	}
	return math.Sqrt(sum)
}

// Sanitize checks each tensor's max absolute gradient against threshold.
// Tensors above the threshold are zeroed so a single numerical outlier
// cannot wreck the parameters; training continues. A threshold <= 0
// disables the filter. Stats for every tensor are returned either way.
func (g *Gradients) Sanitize(threshold float64) []GradientStat {
	stats := make([]GradientStat, 0, 5)
	for _, t := range g.named() {
		maxAbs := maxAbsValue(t.tensor)
		skipped := threshold > 0 && maxAbs > threshold
		if skipped {
			t.tensor.Zero()
		}
		stats = append(stats, GradientStat{Name: t.name, MaxAbs: maxAbs, Skipped: skipped})
	}
	return stats
}

func maxAbsValue(m *mat.Dense) float64 {
	var max float64
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := math.Abs(m.At(i, j)); v > max {
				max = v
			}
		}
	}
	return max
}
