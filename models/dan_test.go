package models

import (
	"math"
	"testing"

	dan "github.com/diyapatel231/HWDan"
	"gonum.org/v1/gonum/mat"
)

func rankingModel(t *testing.T, vocabSize, embDim, hidden int) *DanModel {
	t.Helper()
	m, err := NewDanModel(DanConfig{
		VocabSize:    vocabSize,
		EmbeddingDim: embDim,
		HiddenUnits:  hidden,
		Dropout:      0,
		LossMode:     dan.LossMarginRanking,
		Seed:         7,
	})
	if err != nil {
		t.Fatalf("NewDanModel: %v", err)
	}
	return m
}

// setEmbeddings overwrites the embedding table with known row vectors.
func setEmbeddings(t *testing.T, m *DanModel, rows [][]float64) {
	t.Helper()
	state := m.StateDict()
	emb := state["embeddings.weight"]
	for i, row := range rows {
		for j, v := range row {
			emb.Data[i*emb.Cols+j] = v
		}
	}
	state["embeddings.weight"] = emb
	if err := m.LoadStateDict(state); err != nil {
		t.Fatalf("LoadStateDict: %v", err)
	}
}

func TestMaskedAveragePooling(t *testing.T) {
	m := rankingModel(t, 4, 2, 2)
	setEmbeddings(t, m, [][]float64{
		{0, 0},  // pad
		{1, 1},  // unk
		{2, 4},  // token 2
		{6, 10}, // token 3
	})

	// True length 2, padded out to width 5. The padded positions must not
	// influence the average.
	tokens := [][]int{{2, 3, 0, 0, 0}}
	lengths := []int{2}

	avg, err := m.Average(tokens, lengths)
	if err != nil {
		t.Fatalf("Average: %v", err)
	}

	want := []float64{4, 7} // mean of (2,4) and (6,10)
	for j, w := range want {
		if got := avg.At(0, j); math.Abs(got-w) > 1e-12 {
			t.Errorf("avg[%d]: expected %g, got %g", j, w, got)
		}
	}
}

func TestAverageEmptySequenceFloor(t *testing.T) {
	m := rankingModel(t, 4, 2, 2)

	avg, err := m.Average([][]int{{0, 0}}, []int{0})
	if err != nil {
		t.Fatalf("Average: %v", err)
	}
	if avg.At(0, 0) != 0 || avg.At(0, 1) != 0 {
		t.Errorf("Expected zero average for empty sequence, got (%g, %g)", avg.At(0, 0), avg.At(0, 1))
	}
}

func TestAverageLengthExceedsWidth(t *testing.T) {
	m := rankingModel(t, 4, 2, 2)

	if _, err := m.Average([][]int{{2}}, []int{3}); err == nil {
		t.Errorf("Expected error when length exceeds padded width")
	}
}

func TestOutputWidthPerMode(t *testing.T) {
	ce, err := NewDanModel(DanConfig{
		VocabSize: 10, NumClasses: 3, EmbeddingDim: 4, HiddenUnits: 5,
		LossMode: dan.LossCrossEntropy, Seed: 1,
	})
	if err != nil {
		t.Fatalf("NewDanModel: %v", err)
	}
	if ce.OutputDim() != 3 {
		t.Errorf("cross-entropy output width: expected 3, got %d", ce.OutputDim())
	}

	rank := rankingModel(t, 10, 4, 5)
	if rank.OutputDim() != 5 {
		t.Errorf("ranking output width: expected 5, got %d", rank.OutputDim())
	}

	out, _, err := ce.Forward([][]int{{2, 3}}, []int{2})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if _, cols := out.Dims(); cols != 3 {
		t.Errorf("Forward output cols: expected 3, got %d", cols)
	}
}

func TestIdentityInitPreconditions(t *testing.T) {
	// Embedding dimension must match hidden width.
	_, err := NewDanModel(DanConfig{
		VocabSize: 10, EmbeddingDim: 4, HiddenUnits: 5,
		LossMode: dan.LossMarginRanking, Initialization: "identity", Seed: 1,
	})
	if err == nil {
		t.Errorf("Expected error for identity init with mismatched dimensions")
	}

	// Cross-entropy additionally requires hidden width == class count.
	_, err = NewDanModel(DanConfig{
		VocabSize: 10, NumClasses: 3, EmbeddingDim: 4, HiddenUnits: 4,
		LossMode: dan.LossCrossEntropy, Initialization: "identity", Seed: 1,
	})
	if err == nil {
		t.Errorf("Expected error for identity init with hidden != classes")
	}

	// Satisfied preconditions succeed and yield identity linear layers.
	m, err := NewDanModel(DanConfig{
		VocabSize: 10, NumClasses: 4, EmbeddingDim: 4, HiddenUnits: 4,
		LossMode: dan.LossCrossEntropy, Initialization: "identity", Seed: 1,
	})
	if err != nil {
		t.Fatalf("identity init with matched dims: %v", err)
	}
	state := m.StateDict()
	w1 := state["linear1.weight"]
	if w1.Data[0] != 1 || w1.Data[1] != 0 {
		t.Errorf("Expected identity first layer, got row start %v", w1.Data[:2])
	}
}

func TestDropoutEvalNoOp(t *testing.T) {
	m, err := NewDanModel(DanConfig{
		VocabSize: 6, EmbeddingDim: 3, HiddenUnits: 3, Dropout: 0.5,
		LossMode: dan.LossMarginRanking, Seed: 3,
	})
	if err != nil {
		t.Fatalf("NewDanModel: %v", err)
	}
	m.Eval()

	tokens := [][]int{{2, 3, 4}}
	lengths := []int{3}

	first, _, err := m.Forward(tokens, lengths)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	second, _, err := m.Forward(tokens, lengths)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	if !mat.EqualApprox(first, second, 1e-12) {
		t.Errorf("Eval-mode forward passes differ; dropout should be inactive")
	}
}

func TestPaddingRowStaysZero(t *testing.T) {
	m := rankingModel(t, 5, 3, 3)

	// Initial padding row is zero.
	state := m.StateDict()
	emb := state["embeddings.weight"]
	for j := 0; j < emb.Cols; j++ {
		if emb.Data[j] != 0 {
			t.Fatalf("Padding embedding row not zero at init: %v", emb.Data[:emb.Cols])
		}
	}

	// One full train step on a batch that includes padding.
	out, cache, err := m.Forward([][]int{{2, 3, 0, 0}}, []int{2})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	rows, cols := out.Dims()
	dOut := mat.NewDense(rows, cols, nil)
	dOut.Apply(func(_, _ int, _ float64) float64 { return 1 }, dOut)
	grads := m.Backward(cache, dOut)

	// Padding row must not accumulate gradient.
	for j := 0; j < 3; j++ {
		if grads.Emb.At(0, j) != 0 {
			t.Errorf("Padding row accumulated gradient: %g", grads.Emb.At(0, j))
		}
	}

	m.Step(grads, 0.1, 0)

	state = m.StateDict()
	emb = state["embeddings.weight"]
	for j := 0; j < emb.Cols; j++ {
		if emb.Data[j] != 0 {
			t.Errorf("Padding embedding row changed after update: %v", emb.Data[:emb.Cols])
		}
	}
}

func TestBackwardMovesLossDown(t *testing.T) {
	// A few SGD steps on a fixed batch should reduce a simple quadratic
	// surrogate loss 0.5*||out - target||^2.
	m := rankingModel(t, 6, 4, 4)
	tokens := [][]int{{2, 3}, {4, 5}}
	lengths := []int{2, 2}
	target := mat.NewDense(2, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})

	loss := func(out *mat.Dense) float64 {
		var sum float64
		for i := 0; i < 2; i++ {
			for j := 0; j < 4; j++ {
				d := out.At(i, j) - target.At(i, j)
				sum += 0.5 * d * d
			}
		}
		return sum
	}

	out, cache, err := m.Forward(tokens, lengths)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	before := loss(out)

	for step := 0; step < 25; step++ {
		out, cache, err = m.Forward(tokens, lengths)
		if err != nil {
			t.Fatalf("Forward: %v", err)
		}
		dOut := mat.NewDense(2, 4, nil)
		dOut.Sub(out, target)
		m.Step(m.Backward(cache, dOut), 0.1, 0)
	}

	out, _, err = m.Forward(tokens, lengths)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	after := loss(out)

	if after >= before {
		t.Errorf("Loss did not decrease: before=%g after=%g", before, after)
	}
}

func TestGradientClipping(t *testing.T) {
	m := rankingModel(t, 5, 2, 2)
	g := NewGradients(m)
	g.W1.Set(0, 0, 30)
	g.W1.Set(1, 1, 40)

	if norm := g.Norm(); math.Abs(norm-50) > 1e-9 {
		t.Fatalf("Expected norm 50, got %g", norm)
	}

	// Scaling to a clip of 5 shrinks the norm to exactly 5.
	g.Scale(5.0 / g.Norm())
	if norm := g.Norm(); math.Abs(norm-5) > 1e-9 {
		t.Errorf("Expected clipped norm 5, got %g", norm)
	}
}

func TestSanitizeFiltersOutliers(t *testing.T) {
	m := rankingModel(t, 5, 2, 2)
	g := NewGradients(m)
	g.W1.Set(0, 0, 1000)
	g.W2.Set(0, 0, 0.5)

	stats := g.Sanitize(10)

	var sawSkipped, sawKept bool
	for _, s := range stats {
		if s.Name == "linear1.weight" {
			if !s.Skipped {
				t.Errorf("Expected linear1.weight to be skipped")
			}
			sawSkipped = true
		}
		if s.Name == "linear2.weight" {
			if s.Skipped {
				t.Errorf("linear2.weight should not be skipped")
			}
			sawKept = true
		}
	}
	if !sawSkipped || !sawKept {
		t.Fatalf("Missing stats: %v", stats)
	}

	if g.W1.At(0, 0) != 0 {
		t.Errorf("Skipped tensor should be zeroed, got %g", g.W1.At(0, 0))
	}
	if g.W2.At(0, 0) != 0.5 {
		t.Errorf("Kept tensor should be untouched, got %g", g.W2.At(0, 0))
	}
}

func TestStateDictRoundTrip(t *testing.T) {
	a := rankingModel(t, 8, 3, 3)
	b := rankingModel(t, 8, 3, 3)

	// Diverge b, then restore from a's snapshot.
	out, cache, err := b.Forward([][]int{{2, 3}}, []int{2})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	rows, cols := out.Dims()
	dOut := mat.NewDense(rows, cols, nil)
	dOut.Apply(func(_, _ int, _ float64) float64 { return 1 }, dOut)
	b.Step(b.Backward(cache, dOut), 0.5, 0)

	if err := b.LoadStateDict(a.StateDict()); err != nil {
		t.Fatalf("LoadStateDict: %v", err)
	}

	a.Eval()
	b.Eval()
	outA, _, _ := a.Forward([][]int{{2, 3, 4}}, []int{3})
	outB, _, _ := b.Forward([][]int{{2, 3, 4}}, []int{3})
	if !mat.EqualApprox(outA, outB, 1e-12) {
		t.Errorf("Restored model produces different outputs")
	}
}

func TestLoadStateDictShapeMismatch(t *testing.T) {
	a := rankingModel(t, 8, 3, 3)
	b := rankingModel(t, 8, 4, 4)

	if err := b.LoadStateDict(a.StateDict()); err == nil {
		t.Errorf("Expected shape mismatch error")
	}
}
