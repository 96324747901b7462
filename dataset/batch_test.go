package dataset

import (
	"testing"

	dan "github.com/diyapatel231/HWDan"
	"github.com/diyapatel231/HWDan/vocab"
)

func TestBatchPaddingInvariant(t *testing.T) {
	recs := questions(
		"short", "x",
		"a much longer question text", "x",
		"mid length one", "y",
		"tiny", "y",
	)
	d := newData(t, dan.LossCrossEntropy, recs)

	batch, err := BuildBatch(d, []int{0, 1, 2, 3})
	if err != nil {
		t.Fatalf("BuildBatch: %v", err)
	}

	width := len(batch.Tokens[0])
	for i, row := range batch.Tokens {
		if len(row) != width {
			t.Fatalf("Row %d has width %d, batch width %d", i, len(row), width)
		}
		length := batch.Lengths[i]
		if length > width {
			t.Fatalf("Row %d length %d exceeds width %d", i, length, width)
		}
		// Every padded position holds the padding id, and the recorded
		// length is the true token count.
		for j := length; j < width; j++ {
			if row[j] != vocab.PadID {
				t.Errorf("Row %d position %d: expected pad id, got %d", i, j, row[j])
			}
		}
		tokens, _ := d.Vectorize(d.Question(i))
		if length != len(tokens) {
			t.Errorf("Row %d: recorded length %d, true length %d", i, length, len(tokens))
		}
	}
}

func TestBatchPreservesOrder(t *testing.T) {
	recs := questions("a", "x", "b", "x", "c", "y", "d", "y")
	d := newData(t, dan.LossCrossEntropy, recs)

	batch, err := BuildBatch(d, []int{2, 0, 3})
	if err != nil {
		t.Fatalf("BuildBatch: %v", err)
	}

	wantIndices := []int{2, 0, 3}
	for i, idx := range wantIndices {
		if batch.Indices[i] != idx {
			t.Errorf("Position %d: expected index %d, got %d", i, idx, batch.Indices[i])
		}
		if batch.Answers[i] != d.Answer(idx) {
			t.Errorf("Position %d: answer mismatch", i)
		}
	}
}

func TestContrastiveBatchShape(t *testing.T) {
	recs := questions(
		"one x", "x",
		"two x with more words", "x",
		"one y", "y",
		"two y", "y",
	)
	d := newData(t, dan.LossMarginRanking, recs)

	batch, err := BuildBatch(d, []int{0, 2})
	if err != nil {
		t.Fatalf("BuildBatch: %v", err)
	}

	if batch.Mode != dan.LossMarginRanking || batch.Contrast == nil {
		t.Fatalf("Ranking batch missing contrast part")
	}

	// Anchor, positive, and negative matrices share the batch-wide width.
	width := len(batch.Tokens[0])
	for i := range batch.Tokens {
		if len(batch.Contrast.PosTokens[i]) != width || len(batch.Contrast.NegTokens[i]) != width {
			t.Errorf("Row %d: contrastive widths differ from anchor width %d", i, width)
		}
		if batch.Contrast.PosLengths[i] == 0 || batch.Contrast.NegLengths[i] == 0 {
			t.Errorf("Row %d: contrastive lengths not recorded", i)
		}
	}
}

func TestClassificationBatchHasNoContrast(t *testing.T) {
	recs := questions("a", "x", "b", "x")
	d := newData(t, dan.LossCrossEntropy, recs)

	batch, err := BuildBatch(d, []int{0, 1})
	if err != nil {
		t.Fatalf("BuildBatch: %v", err)
	}
	if batch.Contrast != nil {
		t.Errorf("Classification batch should not carry a contrast part")
	}
}

func TestBatchesCoverDataset(t *testing.T) {
	recs := questions(
		"a", "x", "b", "x", "c", "y", "d", "y", "e", "x",
	)
	d := newData(t, dan.LossCrossEntropy, recs)

	for _, workers := range []int{1, 3} {
		batches, err := Batches(d, 2, true, workers)
		if err != nil {
			t.Fatalf("workers=%d: Batches: %v", workers, err)
		}
		if len(batches) != 3 {
			t.Fatalf("workers=%d: expected 3 batches, got %d", workers, len(batches))
		}

		seen := make(map[int]bool)
		for _, b := range batches {
			for _, idx := range b.Indices {
				if seen[idx] {
					t.Errorf("workers=%d: index %d appears twice", workers, idx)
				}
				seen[idx] = true
			}
		}
		if len(seen) != d.Len() {
			t.Errorf("workers=%d: expected %d distinct indices, got %d", workers, d.Len(), len(seen))
		}
	}
}

func TestBuildBatchEmpty(t *testing.T) {
	recs := questions("a", "x", "b", "x")
	d := newData(t, dan.LossCrossEntropy, recs)

	if _, err := BuildBatch(d, nil); err == nil {
		t.Errorf("Expected error for empty batch")
	}
}
