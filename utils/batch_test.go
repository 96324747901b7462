package utils

import (
	"errors"
	"testing"
)

func TestBatchify(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	batchSize := 3

	batches := Batchify(items, batchSize)

	expectedBatches := 4
	if len(batches) != expectedBatches {
		t.Errorf("Expected %d batches, got %d", expectedBatches, len(batches))
	}

	expectedLengths := []int{3, 3, 3, 1}
	for i, batch := range batches {
		if len(batch) != expectedLengths[i] {
			t.Errorf("Batch %d: expected length %d, got %d", i, expectedLengths[i], len(batch))
		}
	}
}

func TestBatchifyEmpty(t *testing.T) {
	items := []int{}
	batchSize := 3

	batches := Batchify(items, batchSize)

	if len(batches) != 0 {
		t.Errorf("Expected 0 batches for empty input, got %d", len(batches))
	}
}

func TestBatchifyPanic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for batch size <= 0")
		}
	}()

	items := []int{1, 2, 3}
	Batchify(items, 0)
}

func TestMapParallelPreservesOrder(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	for _, workers := range []int{1, 4} {
		results, err := MapParallel(items, workers, func(item int) (int, error) {
			return item * item, nil
		})
		if err != nil {
			t.Fatalf("workers=%d: unexpected error: %v", workers, err)
		}
		for i, r := range results {
			if r != i*i {
				t.Errorf("workers=%d: result %d: expected %d, got %d", workers, i, i*i, r)
			}
		}
	}
}

func TestMapParallelError(t *testing.T) {
	items := []int{1, 2, 3}
	boom := errors.New("boom")

	_, err := MapParallel(items, 2, func(item int) (int, error) {
		if item == 2 {
			return 0, boom
		}
		return item, nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected wrapped boom error, got %v", err)
	}
}
