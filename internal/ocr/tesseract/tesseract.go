// Package tesseract provides the gosseract-backed recognition engine.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/MeKo-Tech/idcheck/internal/ocr"
)

// Options configures the tesseract client.
type Options struct {
	TessdataPrefix string // directory holding *.traineddata; empty uses the system default
}

// Engine implements ocr.Engine with one gosseract client per call, since
// clients are not safe for concurrent use.
type Engine struct {
	opts          Options
	clientFactory func() *gosseract.Client
}

// New constructs a Tesseract-backed engine.
func New(opts Options) *Engine {
	return &Engine{opts: opts, clientFactory: gosseract.NewClient}
}

// Name identifies the engine in logs and health output.
func (e *Engine) Name() string { return "tesseract" }

// Version reports the linked tesseract library version.
func (e *Engine) Version() string { return gosseract.Version() }

// Recognize runs a single recognition pass.
func (e *Engine) Recognize(ctx context.Context, img image.Image, cfg ocr.PassConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}

	c := e.clientFactory()
	defer func() { _ = c.Close() }()

	if e.opts.TessdataPrefix != "" {
		if err := c.SetTessdataPrefix(e.opts.TessdataPrefix); err != nil {
			return "", fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if cfg.Language != "" {
		if err := c.SetLanguage(strings.Split(cfg.Language, "+")...); err != nil {
			return "", fmt.Errorf("set language: %w", err)
		}
	}
	if cfg.PSM > 0 {
		if err := c.SetPageSegMode(gosseract.PageSegMode(cfg.PSM)); err != nil {
			return "", fmt.Errorf("set page segmentation mode: %w", err)
		}
	}
	if cfg.Whitelist != "" {
		if err := c.SetWhitelist(cfg.Whitelist); err != nil {
			return "", fmt.Errorf("set whitelist: %w", err)
		}
	}
	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return text, nil
}
