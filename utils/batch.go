package utils

import (
	"fmt"
	"sync"
)

// Batchify splits a slice into batches of specified size
func Batchify[T any](items []T, batchSize int) [][]T {
	if batchSize <= 0 {
		panic("batch size must be positive")
	}

	batches := make([][]T, 0, (len(items)+batchSize-1)/batchSize)
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}
	return batches
}

// MapParallel applies worker to every item concurrently and returns the
// results in input order. With workers <= 1 it degrades to a plain
// sequential loop. Workers must only read shared data; this is a
// prefetch-style helper, not an ordering mechanism.
func MapParallel[T any, R any](
	items []T,
	workers int,
	worker func(item T) (R, error),
) ([]R, error) {
	if workers <= 1 {
		results := make([]R, len(items))
		for i, item := range items {
			r, err := worker(item)
			if err != nil {
				return nil, fmt.Errorf("item %d failed: %w", i, err)
			}
			results[i] = r
		}
		return results, nil
	}

	type job struct {
		index int
		item  T
	}
	type result struct {
		index int
		value R
		err   error
	}

	jobChan := make(chan job, len(items))
	resultChan := make(chan result, len(items))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobChan {
				v, err := worker(j.item)
				resultChan <- result{index: j.index, value: v, err: err}
			}
		}()
	}

	for i, item := range items {
		jobChan <- job{index: i, item: item}
	}
	close(jobChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]R, len(items))
	for res := range resultChan {
		if res.err != nil {
			return nil, fmt.Errorf("item %d failed: %w", res.index, res.err)
		}
		results[res.index] = res.value
	}

	return results, nil
}
