package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Output formats.
const (
	FormatJSONL = "jsonl"
	FormatJSON  = "json"
)

// Summary counts items by outcome.
type Summary struct {
	Total      int           `json:"total"`
	Verified   int           `json:"verified"`
	Mismatched int           `json:"mismatched"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

// Summary returns outcome counts for the report.
func (r *Report) Summary() Summary {
	s := Summary{Total: len(r.Items), Duration: r.Duration, DurationMS: r.Duration.Milliseconds()}
	for _, it := range r.Items {
		switch {
		case it.Result == nil || !it.Success:
			s.Failed++
		case it.Verified():
			s.Verified++
		default:
			s.Mismatched++
		}
	}
	return s
}

// AllVerified reports whether every item verified.
func (r *Report) AllVerified() bool {
	s := r.Summary()
	return s.Total > 0 && s.Verified == s.Total
}

// Write serializes the report items as JSON lines or a JSON array.
func (r *Report) Write(w io.Writer, format string) error {
	switch format {
	case FormatJSONL, "":
		enc := json.NewEncoder(w)
		for _, it := range r.Items {
			if err := enc.Encode(it); err != nil {
				return fmt.Errorf("failed to encode item %d: %w", it.Index, err)
			}
		}
		return nil
	case FormatJSON:
		items := r.Items
		if items == nil {
			items = []Item{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	default:
		return fmt.Errorf("unsupported batch format: %s", format)
	}
}

// PrintSummary writes human-readable statistics.
func (s Summary) PrintSummary(w io.Writer, workers int) {
	_, _ = fmt.Fprintf(w, "\nBatch Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Total entries: %d\n", s.Total)
	_, _ = fmt.Fprintf(w, "  Verified: %d\n", s.Verified)
	_, _ = fmt.Fprintf(w, "  Mismatched: %d\n", s.Mismatched)
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", workers)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", s.Duration.Round(time.Millisecond))
	if s.Total > 0 && s.Duration > 0 {
		_, _ = fmt.Fprintf(w, "  Throughput: %.1f entries/sec\n", float64(s.Total)/s.Duration.Seconds())
	}
}
