// Package retrieve caches one representation vector per training example
// and answers exact nearest-neighbor queries over them. The index is a
// read-only snapshot of the store: it reflects the contents at the last
// RefreshIndex call, and staleness after a Set is deliberate and visible.
package retrieve

import (
	"errors"
	"fmt"
	"strings"

	dan "github.com/diyapatel231/HWDan"
	"github.com/diyapatel231/HWDan/utils"
)

// Sentinel errors for precondition and consistency failures.
var (
	// ErrIndexNotBuilt is returned when a query arrives before the first
	// RefreshIndex call.
	ErrIndexNotBuilt = errors.New("nearest-neighbor index not built: call RefreshIndex first")

	// ErrDimensionMismatch is returned when a vector's width does not
	// match the store's configured dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Hit is one nearest-neighbor result.
type Hit struct {
	// Index is the ordinal position of the stored example.
	Index int
	// Distance is the squared Euclidean distance to the query.
	Distance float64
}

// Store holds one fixed-dimension vector per training example, indexed by
// ordinal position. It is mutated only from the training goroutine at
// well-defined points; queries never run while a refresh is in progress.
type Store struct {
	metric dan.Metric
	dim    int
	rows   [][]float64

	index      [][]float64
	indexBuilt bool
}

// NewStore allocates a zero-filled store of n examples with the given
// representation dimension. Only the squared-L2 metric is supported; it is
// the metric the margin ranking loss's Euclidean distances agree with.
func NewStore(n, dim int, metric dan.Metric) (*Store, error) {
	if n <= 0 {
		return nil, fmt.Errorf("store needs at least one example, got %d", n)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("store dimension must be positive, got %d", dim)
	}
	if metric != dan.MetricSquaredL2 {
		return nil, fmt.Errorf("unsupported index metric %s", metric)
	}

	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, dim)
	}
	return &Store{metric: metric, dim: dim, rows: rows}, nil
}

// FromRows reconstructs a store from persisted row vectors.
func FromRows(rows [][]float64, metric dan.Metric) (*Store, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("store needs at least one example")
	}
	s, err := NewStore(len(rows), len(rows[0]), metric)
	if err != nil {
		return nil, err
	}
	indices := make([]int, len(rows))
	for i := range indices {
		indices[i] = i
	}
	if err := s.Set(indices, rows); err != nil {
		return nil, err
	}
	return s, nil
}

// Len returns the number of stored examples.
func (s *Store) Len() int { return len(s.rows) }

// Dim returns the representation dimension.
func (s *Store) Dim() int { return s.dim }

// Metric returns the index's distance metric.
func (s *Store) Metric() dan.Metric { return s.metric }

// Set overwrites the rows at the given ordinal indices. Vector widths must
// match the store's dimension. The index is not touched: it stays a
// snapshot of the last refresh until RefreshIndex is called again.
func (s *Store) Set(indices []int, vectors [][]float64) error {
	if len(indices) != len(vectors) {
		return fmt.Errorf("got %d indices but %d vectors", len(indices), len(vectors))
	}
	for i, idx := range indices {
		if idx < 0 || idx >= len(s.rows) {
			return fmt.Errorf("index %d out of range [0, %d)", idx, len(s.rows))
		}
		if len(vectors[i]) != s.dim {
			return fmt.Errorf("%w: row %d has width %d, store dimension is %d",
				ErrDimensionMismatch, idx, len(vectors[i]), s.dim)
		}
	}
	for i, idx := range indices {
		copy(s.rows[idx], vectors[i])
	}
	return nil
}

// Row returns a copy of the stored vector at the given ordinal index.
func (s *Store) Row(idx int) ([]float64, error) {
	if idx < 0 || idx >= len(s.rows) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(s.rows))
	}
	return append([]float64(nil), s.rows[idx]...), nil
}

// Rows returns a copy of all stored vectors, for persistence.
func (s *Store) Rows() [][]float64 {
	out := make([][]float64, len(s.rows))
	for i, row := range s.rows {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// RefreshIndex rebuilds the nearest-neighbor structure from the store's
// full current contents. A full rebuild, not an incremental update;
// refreshes are infrequent relative to training steps.
func (s *Store) RefreshIndex() {
	snapshot := make([][]float64, len(s.rows))
	for i, row := range s.rows {
		snapshot[i] = append([]float64(nil), row...)
	}
	s.index = snapshot
	s.indexBuilt = true
}

// Query returns the k closest stored examples to the query vector by
// squared Euclidean distance. Querying before the first RefreshIndex is a
// precondition failure, never an empty result.
func (s *Store) Query(query []float64, k int) ([]Hit, error) {
	if !s.indexBuilt {
		return nil, ErrIndexNotBuilt
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has width %d, store dimension is %d",
			ErrDimensionMismatch, len(query), s.dim)
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	distances := make([]float64, len(s.index))
	for i, row := range s.index {
		distances[i] = utils.SquaredDistance(query, row)
	}

	indices, values := utils.BottomK(distances, k)
	hits := make([]Hit, len(indices))
	for i := range indices {
		hits[i] = Hit{Index: indices[i], Distance: values[i]}
	}
	return hits, nil
}

// QueryBatch runs Query for every row of queries.
func (s *Store) QueryBatch(queries [][]float64, k int) ([][]Hit, error) {
	results := make([][]Hit, len(queries))
	for i, q := range queries {
		hits, err := s.Query(q, k)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		results[i] = hits
	}
	return results, nil
}

// String renders the stored rows for debugging.
func (s *Store) String() string {
	var b strings.Builder
	for i, row := range s.rows {
		fmt.Fprintf(&b, "%03d [", i)
		for j, v := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%.2f", v)
		}
		b.WriteString("]\n")
	}
	return b.String()
}
