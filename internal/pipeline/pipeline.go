// Package pipeline orchestrates identity verification: preprocessing, text
// recognition per variant, field extraction with short-circuit and the final
// comparison against the claimed identity.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/MeKo-Tech/idcheck/internal/classifier"
	"github.com/MeKo-Tech/idcheck/internal/extract"
	"github.com/MeKo-Tech/idcheck/internal/ocr"
	"github.com/MeKo-Tech/idcheck/internal/preprocess"
	"github.com/MeKo-Tech/idcheck/internal/verify"
)

const tracerName = "github.com/MeKo-Tech/idcheck/internal/pipeline"

// Config holds the tunables of a verification run.
type Config struct {
	Variants       []preprocess.Kind
	Preprocess     preprocess.Options
	OCR            ocr.Config
	Breaker        ocr.BreakerConfig
	Name           extract.NameOptions
	NameThreshold  int
	RecognizeAll   bool // recognise every variant even after all fields are found
	IncludeDebug   bool
	DebugSeparator string
}

// DefaultConfig returns the standard three-variant configuration.
func DefaultConfig() Config {
	return Config{
		Variants:       append([]preprocess.Kind(nil), preprocess.DefaultKinds...),
		Preprocess:     preprocess.DefaultOptions(),
		OCR:            ocr.DefaultConfig(),
		Breaker:        ocr.DefaultBreakerConfig(),
		Name:           extract.DefaultNameOptions(),
		NameThreshold:  verify.DefaultNameThreshold,
		IncludeDebug:   true,
		DebugSeparator: "\n---\n",
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if len(c.Variants) == 0 {
		return errors.New("at least one preprocessing variant is required")
	}
	for _, k := range c.Variants {
		if _, err := preprocess.ParseKind(string(k)); err != nil {
			return err
		}
	}
	if c.NameThreshold < 0 || c.NameThreshold > 100 {
		return fmt.Errorf("name threshold must be within 0-100, got %d", c.NameThreshold)
	}
	return nil
}

// ImageClassifier is the optional advisory classifier run on the raw image.
type ImageClassifier interface {
	Classify(ctx context.Context, img image.Image) (classifier.Result, error)
}

// Builder provides a fluent API for constructing pipelines.
type Builder struct {
	cfg        Config
	engine     ocr.Engine
	classifier ImageClassifier
	progress   ProgressCallback
	now        func() time.Time
	tracer     trace.Tracer
}

// NewBuilder creates a builder with DefaultConfig.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithVariants sets the ordered preprocessing variants.
func (b *Builder) WithVariants(kinds ...preprocess.Kind) *Builder {
	b.cfg.Variants = append([]preprocess.Kind(nil), kinds...)
	return b
}

// WithEngine sets the recognition engine. It is required.
func (b *Builder) WithEngine(e ocr.Engine) *Builder {
	b.engine = e
	return b
}

// WithClassifier sets the optional advisory classifier.
func (b *Builder) WithClassifier(c ImageClassifier) *Builder {
	b.classifier = c
	return b
}

// WithProgress sets the default progress callback used when a request
// carries none.
func (b *Builder) WithProgress(cb ProgressCallback) *Builder {
	b.progress = cb
	return b
}

// WithNameThresholds overrides the name acceptance and first-name thresholds.
func (b *Builder) WithNameThresholds(accept, firstName int) *Builder {
	b.cfg.Name.AcceptThreshold = accept
	b.cfg.Name.FirstNameThreshold = firstName
	b.cfg.NameThreshold = accept
	return b
}

// WithClock sets the clock used for age computation.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithTracer overrides the tracer taken from the global provider.
func (b *Builder) WithTracer(t trace.Tracer) *Builder {
	b.tracer = t
	return b
}

// Build validates the configuration and assembles the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if b.engine == nil {
		return nil, errors.New("pipeline: recognition engine is required")
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	engine := b.engine
	if b.cfg.Breaker.Enabled {
		engine = ocr.WithBreaker(engine, b.cfg.Breaker)
	}
	rec, err := ocr.NewRecognizer(engine, b.cfg.OCR)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	v := verify.New(b.cfg.NameThreshold)
	if b.now != nil {
		v.Now = b.now
	}
	tracer := b.tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	progress := b.progress
	if progress == nil {
		progress = NoOpProgressCallback{}
	}

	return &Pipeline{
		cfg:        b.cfg,
		engine:     engine,
		recognizer: rec,
		extractor:  extract.New(b.cfg.Name),
		verifier:   v,
		classifier: b.classifier,
		progress:   progress,
		tracer:     tracer,
	}, nil
}

// Pipeline is safe for concurrent use as long as its engine and classifier are.
type Pipeline struct {
	cfg        Config
	engine     ocr.Engine
	recognizer *ocr.Recognizer
	extractor  *extract.Extractor
	verifier   *verify.Verifier
	classifier ImageClassifier
	progress   ProgressCallback
	tracer     trace.Tracer
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() Config { return p.cfg }

// HasClassifier reports whether an advisory classifier is attached.
func (p *Pipeline) HasClassifier() bool { return p.classifier != nil }

// Info describes the pipeline for health endpoints and logs.
func (p *Pipeline) Info() map[string]any {
	variants := make([]string, len(p.cfg.Variants))
	for i, k := range p.cfg.Variants {
		variants[i] = string(k)
	}
	passes := p.recognizer.Passes()
	names := make([]string, len(passes))
	for i, ps := range passes {
		names[i] = ps.Name
	}
	info := map[string]any{
		"variants":       variants,
		"passes":         names,
		"language":       p.cfg.OCR.Language,
		"name_threshold": p.cfg.NameThreshold,
		"classifier":     p.classifier != nil,
	}
	if state, ok := ocr.State(p.engine); ok {
		info["breaker_state"] = state
	}
	return info
}

// Close releases the classifier when it holds resources.
func (p *Pipeline) Close() error {
	if c, ok := p.classifier.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
