package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/MeKo-Tech/idcheck/internal/preprocess"
)

// Config controls which passes run per variant.
type Config struct {
	Language        string
	Whitelist       string
	PrimaryPSM      int
	AlternativePSMs []int
	InvertPass      bool
	CallTimeout     time.Duration // zero disables the per-call budget
}

// DefaultConfig returns the pass plan used for card scans.
func DefaultConfig() Config {
	return Config{
		Language:        "eng",
		Whitelist:       DefaultWhitelist,
		PrimaryPSM:      PSMSingleBlock,
		AlternativePSMs: []int{PSMSingleColumn, PSMSingleBlock, PSMSparseText},
		InvertPass:      true,
		CallTimeout:     10 * time.Second,
	}
}

// Pass is one planned engine call.
type Pass struct {
	Name   string
	Invert bool
	Config PassConfig
}

// PassResult records the outcome of one pass.
type PassResult struct {
	Pass     Pass
	Text     string
	TimedOut bool
	Duration time.Duration
}

// Text is the pooled output for one image variant.
type Text struct {
	Variant preprocess.Kind
	Pooled  string
	Passes  []PassResult
}

// Recognizer pools engine output across the configured passes.
type Recognizer struct {
	engine Engine
	cfg    Config
	passes []Pass
}

// NewRecognizer creates a recognizer for engine.
func NewRecognizer(engine Engine, cfg Config) (*Recognizer, error) {
	if engine == nil {
		return nil, errors.New("ocr: engine is required")
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	return &Recognizer{engine: engine, cfg: cfg, passes: planPasses(cfg)}, nil
}

// Passes returns the planned passes in execution order.
func (r *Recognizer) Passes() []Pass {
	return append([]Pass(nil), r.passes...)
}

func planPasses(cfg Config) []Pass {
	primary := PassConfig{Language: cfg.Language, PSM: cfg.PrimaryPSM, Whitelist: cfg.Whitelist}
	passes := []Pass{{Name: "primary", Config: primary}}
	if cfg.InvertPass {
		passes = append(passes, Pass{Name: "inverted", Invert: true, Config: primary})
	}
	for _, psm := range cfg.AlternativePSMs {
		passes = append(passes, Pass{
			Name:   fmt.Sprintf("psm%d", psm),
			Config: PassConfig{Language: cfg.Language, PSM: psm},
		})
	}
	return passes
}

// Recognize runs every pass over v and joins the non-blank results with
// newlines. A pass that exceeds the call budget contributes no text; any
// other engine failure aborts the variant.
func (r *Recognizer) Recognize(ctx context.Context, v preprocess.Variant) (Text, error) {
	out := Text{Variant: v.Kind, Passes: make([]PassResult, 0, len(r.passes))}
	var inverted *image.Gray
	texts := make([]string, 0, len(r.passes))

	for _, p := range r.passes {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		img := v.Image
		if p.Invert {
			if inverted == nil {
				inverted = preprocess.Invert(v.Image)
			}
			img = inverted
		}

		start := time.Now()
		text, err := r.call(ctx, img, p.Config)
		res := PassResult{Pass: p, Text: text, Duration: time.Since(start)}
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			res.TimedOut = true
			slog.Warn("Recognition pass timed out",
				"variant", string(v.Kind), "pass", p.Name, "budget", r.cfg.CallTimeout)
		default:
			return out, fmt.Errorf("recognize %s/%s: %w", v.Kind, p.Name, err)
		}
		out.Passes = append(out.Passes, res)

		slog.Debug("Recognition pass finished",
			"variant", string(v.Kind), "pass", p.Name,
			"chars", len(text), "duration_ms", res.Duration.Milliseconds())
		if strings.TrimSpace(text) != "" {
			texts = append(texts, text)
		}
	}
	out.Pooled = strings.Join(texts, "\n")
	return out, nil
}

// call bounds a single engine call by the configured budget. Engines that
// ignore cancellation are abandoned when the budget expires.
func (r *Recognizer) call(ctx context.Context, img image.Image, cfg PassConfig) (string, error) {
	if r.cfg.CallTimeout <= 0 {
		return r.engine.Recognize(ctx, img, cfg)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("engine panic: %v", p)}
			}
		}()
		text, err := r.engine.Recognize(callCtx, img, cfg)
		done <- result{text, err}
	}()

	select {
	case res := <-done:
		return res.text, res.err
	case <-callCtx.Done():
		return "", callCtx.Err()
	}
}
