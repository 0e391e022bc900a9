// Package testutil holds fixtures shared by package and integration tests.
package testutil

import (
	"context"
	"image"
	"sync"

	"github.com/MeKo-Tech/idcheck/internal/ocr"
)

// ScriptedEngine is a deterministic ocr.Engine for tests. Reply is called
// with the zero-based call index; when nil, Text is returned for every call.
type ScriptedEngine struct {
	Text  string
	Err   error
	Reply func(call int, cfg ocr.PassConfig) (string, error)

	mu    sync.Mutex
	calls []ocr.PassConfig
}

// NewTextEngine returns an engine that recognises text on every pass.
func NewTextEngine(text string) *ScriptedEngine {
	return &ScriptedEngine{Text: text}
}

// NewFailingEngine returns an engine whose every call fails with err.
func NewFailingEngine(err error) *ScriptedEngine {
	return &ScriptedEngine{Err: err}
}

// Recognize implements ocr.Engine.
func (e *ScriptedEngine) Recognize(ctx context.Context, _ image.Image, cfg ocr.PassConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.mu.Lock()
	n := len(e.calls)
	e.calls = append(e.calls, cfg)
	e.mu.Unlock()

	if e.Reply != nil {
		return e.Reply(n, cfg)
	}
	if e.Err != nil {
		return "", e.Err
	}
	return e.Text, nil
}

// Calls returns the configurations received so far.
func (e *ScriptedEngine) Calls() []ocr.PassConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ocr.PassConfig(nil), e.calls...)
}

// CallCount returns the number of calls received.
func (e *ScriptedEngine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}
