package retrieve

import (
	"errors"
	"testing"

	dan "github.com/diyapatel231/HWDan"
)

func newTestStore(t *testing.T, n, dim int) *Store {
	t.Helper()
	s, err := NewStore(n, dim, dan.MetricSquaredL2)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestQueryBeforeRefreshFails(t *testing.T) {
	s := newTestStore(t, 3, 2)

	_, err := s.Query([]float64{0, 0}, 1)
	if !errors.Is(err, ErrIndexNotBuilt) {
		t.Errorf("Expected ErrIndexNotBuilt, got %v", err)
	}
}

func TestSetRefreshQueryExact(t *testing.T) {
	s := newTestStore(t, 3, 2)

	err := s.Set([]int{0, 1, 2}, [][]float64{{0, 0}, {3, 4}, {10, 10}})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.RefreshIndex()

	// Querying an exact stored vector returns that example as the single
	// nearest neighbor with zero distance.
	hits, err := s.Query([]float64{3, 4}, 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 || hits[0].Index != 1 || hits[0].Distance != 0 {
		t.Errorf("Expected hit (1, 0), got %+v", hits)
	}
}

func TestQueryOrdering(t *testing.T) {
	s := newTestStore(t, 3, 2)
	if err := s.Set([]int{0, 1, 2}, [][]float64{{0, 0}, {1, 0}, {5, 0}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.RefreshIndex()

	hits, err := s.Query([]float64{0.9, 0}, 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if hits[0].Index != 1 || hits[1].Index != 0 || hits[2].Index != 2 {
		t.Errorf("Expected order [1 0 2], got %+v", hits)
	}
	for i := 0; i < len(hits)-1; i++ {
		if hits[i].Distance > hits[i+1].Distance {
			t.Errorf("Distances not ascending: %+v", hits)
		}
	}
}

func TestSetDimensionMismatch(t *testing.T) {
	s := newTestStore(t, 2, 3)

	err := s.Set([]int{0}, [][]float64{{1, 2}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch, got %v", err)
	}
}

func TestIndexIsSnapshot(t *testing.T) {
	s := newTestStore(t, 2, 2)
	if err := s.Set([]int{0, 1}, [][]float64{{0, 0}, {10, 10}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.RefreshIndex()

	// Mutate row 1 after the refresh. The index must keep answering from
	// the snapshot until the next refresh.
	if err := s.Set([]int{1}, [][]float64{{0.1, 0.1}}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	hits, err := s.Query([]float64{0.1, 0.1}, 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if hits[0].Index != 0 {
		t.Errorf("Stale index should still answer from snapshot, got hit %+v", hits[0])
	}

	s.RefreshIndex()
	hits, err = s.Query([]float64{0.1, 0.1}, 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if hits[0].Index != 1 {
		t.Errorf("After refresh expected hit 1, got %+v", hits[0])
	}
}

func TestQueryBatch(t *testing.T) {
	s := newTestStore(t, 2, 2)
	if err := s.Set([]int{0, 1}, [][]float64{{0, 0}, {5, 5}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.RefreshIndex()

	results, err := s.QueryBatch([][]float64{{0.1, 0}, {4.9, 5}}, 1)
	if err != nil {
		t.Fatalf("QueryBatch: %v", err)
	}
	if results[0][0].Index != 0 || results[1][0].Index != 1 {
		t.Errorf("Expected hits [0 1], got %+v", results)
	}
}

func TestFromRowsRoundTrip(t *testing.T) {
	s := newTestStore(t, 2, 2)
	if err := s.Set([]int{0, 1}, [][]float64{{1, 2}, {3, 4}}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	restored, err := FromRows(s.Rows(), dan.MetricSquaredL2)
	if err != nil {
		t.Fatalf("FromRows: %v", err)
	}
	restored.RefreshIndex()

	hits, err := restored.Query([]float64{3, 4}, 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if hits[0].Index != 1 || hits[0].Distance != 0 {
		t.Errorf("Expected exact hit on row 1, got %+v", hits[0])
	}
}

func TestNewStoreValidation(t *testing.T) {
	if _, err := NewStore(0, 2, dan.MetricSquaredL2); err == nil {
		t.Errorf("Expected error for zero examples")
	}
	if _, err := NewStore(2, 0, dan.MetricSquaredL2); err == nil {
		t.Errorf("Expected error for zero dimension")
	}
}
