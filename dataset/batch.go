package dataset

import (
	"fmt"

	dan "github.com/diyapatel231/HWDan"
	"github.com/diyapatel231/HWDan/utils"
)

// Batch is a rectangular batch of padded token-id rows. Rows are examples,
// columns run to the longest sequence in the batch, and positions past a
// row's true length hold the padding id. Contrast is non-nil exactly when
// Mode is LossMarginRanking and the batch came from training data; that is
// the single dispatch point for the two batch shapes. Evaluation and
// inference batches are anchor-only in both modes.
type Batch struct {
	Mode dan.LossMode

	Tokens  [][]int
	Lengths []int
	Answers []string

	// Indices are the examples' ordinal positions in the dataset,
	// preserved in batch order for representation-store updates and
	// auditability.
	Indices []int

	Contrast *Contrast
}

// Contrast carries the positive and negative sequences of a ranking batch,
// padded to the same width as the anchors.
type Contrast struct {
	PosTokens  [][]int
	PosLengths []int
	NegTokens  [][]int
	NegLengths []int
}

// Size returns the number of examples in the batch.
func (b *Batch) Size() int { return len(b.Tokens) }

// BuildBatch assembles the examples at the given ordinal indices into one
// padded batch, preserving index order. The batch shape follows the
// dataset's loss mode.
func BuildBatch(d *QuestionData, indices []int) (*Batch, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("cannot build an empty batch")
	}

	examples := make([]Example, len(indices))
	maxLength := 0
	for i, idx := range indices {
		ex, err := d.ExampleAt(idx)
		if err != nil {
			return nil, err
		}
		examples[i] = ex
		for _, seq := range [][]int{ex.Tokens, ex.Positive, ex.Negative} {
			if len(seq) > maxLength {
				maxLength = len(seq)
			}
		}
	}
	if maxLength == 0 {
		maxLength = 1
	}

	batch := &Batch{
		Mode:    d.lossMode,
		Tokens:  paddedMatrix(len(indices), maxLength),
		Lengths: make([]int, len(indices)),
		Answers: make([]string, len(indices)),
		Indices: append([]int(nil), indices...),
	}
	for i, ex := range examples {
		copy(batch.Tokens[i], ex.Tokens)
		batch.Lengths[i] = len(ex.Tokens)
		batch.Answers[i] = ex.Answer
	}

	if d.contrastive() {
		c := &Contrast{
			PosTokens:  paddedMatrix(len(indices), maxLength),
			PosLengths: make([]int, len(indices)),
			NegTokens:  paddedMatrix(len(indices), maxLength),
			NegLengths: make([]int, len(indices)),
		}
		for i, ex := range examples {
			copy(c.PosTokens[i], ex.Positive)
			c.PosLengths[i] = len(ex.Positive)
			copy(c.NegTokens[i], ex.Negative)
			c.NegLengths[i] = len(ex.Negative)
		}
		batch.Contrast = c
	}

	return batch, nil
}

// paddedMatrix allocates a rows x cols matrix filled with the padding id
// (which is zero, so a fresh allocation is already padded).
func paddedMatrix(rows, cols int) [][]int {
	m := make([][]int, rows)
	for i := range m {
		m[i] = make([]int, cols)
	}
	return m
}

// Batches splits the dataset into padded batches, optionally shuffling
// example order first. With workers > 1 batches are assembled by a
// parallel prefetch pool over the read-only dataset; output order always
// matches input order.
func Batches(d *QuestionData, batchSize int, shuffle bool, workers int) ([]*Batch, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	var indices []int
	if shuffle {
		indices = d.shuffledIndices()
	} else {
		indices = d.orderedIndices()
	}

	chunks := utils.Batchify(indices, batchSize)
	return utils.MapParallel(chunks, workers, func(chunk []int) (*Batch, error) {
		return BuildBatch(d, chunk)
	})
}
