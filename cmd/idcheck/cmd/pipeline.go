package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/idcheck/internal/classifier"
	"github.com/MeKo-Tech/idcheck/internal/config"
	"github.com/MeKo-Tech/idcheck/internal/ocr"
	"github.com/MeKo-Tech/idcheck/internal/ocr/tesseract"
	"github.com/MeKo-Tech/idcheck/internal/pipeline"
)

// engineFactory creates the recognition engine. Tests replace it with a
// scripted engine.
var engineFactory = func(cfg *config.Config) ocr.Engine {
	return tesseract.New(tesseract.Options{TessdataPrefix: cfg.OCR.TessdataPrefix})
}

// buildPipeline assembles the verification pipeline from configuration.
// withClassifier attaches the classifier when it is also enabled in cfg.
func buildPipeline(cfg *config.Config, withClassifier bool, progress pipeline.ProgressCallback) (*pipeline.Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	b := pipeline.NewBuilder().
		WithConfig(cfg.ToPipelineConfig()).
		WithEngine(engineFactory(cfg))
	if progress != nil {
		b.WithProgress(progress)
	}

	var cls *classifier.Classifier
	if withClassifier && cfg.Classifier.Enabled {
		c, err := classifier.New(cfg.ToClassifierConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize classifier: %w", err)
		}
		cls = c
		b.WithClassifier(cls)
		slog.Debug("Classifier attached", "method", cls.Method())
	} else if withClassifier {
		slog.Warn("Classification requested but classifier.enabled is false")
	}

	p, err := b.Build()
	if err != nil {
		if cls != nil {
			err = errors.Join(err, cls.Close())
		}
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	return p, nil
}
