package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a flat, gob-friendly snapshot of one parameter matrix.
type Tensor struct {
	Rows int
	Cols int
	Data []float64
}

func (m *DanModel) namedParameters() []struct {
	name   string
	tensor *mat.Dense
} {
	return []struct {
		name   string
		tensor *mat.Dense
	}{
		{"embeddings.weight", m.embeddings},
		{"linear1.weight", m.w1},
		{"linear1.bias", m.b1},
		{"linear2.weight", m.w2},
		{"linear2.bias", m.b2},
	}
}

// StateDict returns a named snapshot of every parameter tensor.
func (m *DanModel) StateDict() map[string]Tensor {
	state := make(map[string]Tensor, 5)
	for _, p := range m.namedParameters() {
		rows, cols := p.tensor.Dims()
		data := make([]float64, rows*cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				data[i*cols+j] = p.tensor.At(i, j)
			}
		}
		state[p.name] = Tensor{Rows: rows, Cols: cols, Data: data}
	}
	return state
}

// LoadStateDict restores parameters from a snapshot produced by StateDict.
// Missing tensors and shape mismatches are errors.
func (m *DanModel) LoadStateDict(state map[string]Tensor) error {
	for _, p := range m.namedParameters() {
		t, ok := state[p.name]
		if !ok {
			return fmt.Errorf("snapshot missing tensor %q", p.name)
		}
		rows, cols := p.tensor.Dims()
		if t.Rows != rows || t.Cols != cols {
			return fmt.Errorf("tensor %q shape mismatch: snapshot %dx%d, model %dx%d",
				p.name, t.Rows, t.Cols, rows, cols)
		}
		if len(t.Data) != rows*cols {
			return fmt.Errorf("tensor %q has %d values, want %d", p.name, len(t.Data), rows*cols)
		}
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				p.tensor.Set(i, j, t.Data[i*cols+j])
			}
		}
	}
	return nil
}
