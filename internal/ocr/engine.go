// Package ocr runs multi-pass text recognition over preprocessed card images.
package ocr

import (
	"context"
	"errors"
	"image"
)

// Page segmentation modes understood by the recognition engine.
const (
	PSMSingleColumn = 4
	PSMSingleBlock  = 6
	PSMSparseText   = 11
)

// DefaultWhitelist restricts primary passes to alphanumerics and the
// punctuation that appears on printed cards.
const DefaultWhitelist = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz/:,-. "

// ErrEngineUnavailable is returned when the engine guard refuses a call.
var ErrEngineUnavailable = errors.New("ocr: recognition engine unavailable")

// PassConfig configures a single recognition call.
type PassConfig struct {
	Language  string
	PSM       int
	Whitelist string // empty means unrestricted
}

// Engine recognises text in an image. It returns an empty string, not an
// error, for images without legible text.
type Engine interface {
	Recognize(ctx context.Context, img image.Image, cfg PassConfig) (string, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, img image.Image, cfg PassConfig) (string, error)

// Recognize calls f.
func (f EngineFunc) Recognize(ctx context.Context, img image.Image, cfg PassConfig) (string, error) {
	return f(ctx, img, cfg)
}
