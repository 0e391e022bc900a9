package batch

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/MeKo-Tech/idcheck/internal/pipeline"
)

// Verifier runs a single verification.
type Verifier interface {
	Verify(ctx context.Context, req pipeline.Request) *pipeline.Result
}

// Config controls a batch run.
type Config struct {
	Workers  int                       // 0 = runtime.NumCPU()
	Classify bool                      // run the advisory classifier per entry
	Progress pipeline.ProgressCallback // entry-level progress, optional
}

// Item is the outcome of one manifest entry.
type Item struct {
	Index int    `json:"index"`
	Image string `json:"image"`
	*pipeline.Result
}

// Report holds every item in manifest order.
type Report struct {
	Items    []Item
	Duration time.Duration
	Workers  int
}

// Runner verifies manifest entries with a bounded worker pool.
type Runner struct {
	verifier Verifier
	cfg      Config
}

// NewRunner creates a runner around v.
func NewRunner(v Verifier, cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Progress == nil {
		cfg.Progress = pipeline.NoOpProgressCallback{}
	}
	return &Runner{verifier: v, cfg: cfg}
}

type job struct {
	index int
	entry Entry
}

// Run verifies entries and returns their items in input order. On
// cancellation it returns the items finished so far together with ctx.Err().
func (r *Runner) Run(ctx context.Context, entries []Entry) (*Report, error) {
	if len(entries) == 0 {
		return nil, errors.New("no entries provided")
	}
	workers := min(r.cfg.Workers, len(entries))

	start := time.Now()
	r.cfg.Progress.OnStart(len(entries))

	jobs := make(chan job)
	results := make(chan Item, len(entries))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go r.worker(ctx, jobs, results, &wg)
	}

	go func() {
		defer close(jobs)
		for i, e := range entries {
			select {
			case jobs <- job{index: i, entry: e}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	done := make([]bool, len(entries))
	items := make([]Item, len(entries))
	processed := 0
	for it := range results {
		items[it.Index] = it
		done[it.Index] = true
		processed++
		r.cfg.Progress.OnProgress(processed, len(entries))
	}

	report := &Report{Duration: time.Since(start), Workers: workers}
	for i, ok := range done {
		if ok {
			report.Items = append(report.Items, items[i])
		}
	}

	if err := ctx.Err(); err != nil {
		r.cfg.Progress.OnError(processed, err)
		return report, err
	}
	r.cfg.Progress.OnComplete()
	return report, nil
}

func (r *Runner) worker(ctx context.Context, jobs <-chan job, results chan<- Item, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case j, ok := <-jobs:
			if !ok || ctx.Err() != nil {
				return
			}
			res := r.verifier.Verify(ctx, pipeline.Request{
				ImagePath: j.entry.Image,
				Claim:     j.entry.Claim(),
				Classify:  r.cfg.Classify,
				Progress:  pipeline.NoOpProgressCallback{},
			})
			slog.Debug("Batch entry verified", "index", j.index, "image", j.entry.Image,
				"success", res.Success, "verified", res.Verified())
			results <- Item{Index: j.index, Image: j.entry.Image, Result: res}
		case <-ctx.Done():
			return
		}
	}
}
