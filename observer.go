package dan

import (
	"encoding/csv"
	"fmt"
	"io"
	"sync"
)

// MetricRow is one recorded observation.
type MetricRow struct {
	Iteration int
	Metric    string
	Value     float64
}

// MetricsRecorder is an Observer that accumulates per-batch loss averages,
// per-epoch accuracy/loss, and per-tensor gradient magnitudes so they can
// be dumped for external inspection. Gradients that were excluded by the
// sanity filter are counted but not folded into the running averages.
type MetricsRecorder struct {
	mu sync.Mutex

	rows             []MetricRow
	skippedGradients map[string]int
}

// NewMetricsRecorder creates an empty recorder.
func NewMetricsRecorder() *MetricsRecorder {
	return &MetricsRecorder{
		skippedGradients: make(map[string]int),
	}
}

// OnBatch implements Observer.
func (r *MetricsRecorder) OnBatch(epoch, batch int, avgLoss float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, MetricRow{Iteration: epoch, Metric: fmt.Sprintf("batch_%d_loss", batch), Value: avgLoss})
}

// OnEpoch implements Observer.
func (r *MetricsRecorder) OnEpoch(epoch int, accuracy, loss float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows,
		MetricRow{Iteration: epoch, Metric: "accuracy", Value: accuracy},
		MetricRow{Iteration: epoch, Metric: "loss", Value: loss},
	)
}

// OnGradient implements Observer.
func (r *MetricsRecorder) OnGradient(name string, maxAbs float64, skipped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if skipped {
		r.skippedGradients[name]++
		return
	}
	r.rows = append(r.rows, MetricRow{Iteration: -1, Metric: "grad_" + name, Value: maxAbs})
}

// Rows returns a copy of the recorded rows.
func (r *MetricsRecorder) Rows() []MetricRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MetricRow, len(r.rows))
	copy(out, r.rows)
	return out
}

// SkippedGradients returns how many times each named tensor's gradient was
// excluded by the sanity filter.
func (r *MetricsRecorder) SkippedGradients() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.skippedGradients))
	for k, v := range r.skippedGradients {
		out[k] = v
	}
	return out
}

// WriteCSV dumps the recorded rows as iteration,metric,value lines.
func (r *MetricsRecorder) WriteCSV(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"iteration", "metric", "value"}); err != nil {
		return fmt.Errorf("write metrics header: %w", err)
	}
	for _, row := range r.rows {
		record := []string{
			fmt.Sprintf("%d", row.Iteration),
			row.Metric,
			fmt.Sprintf("%g", row.Value),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write metrics row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
