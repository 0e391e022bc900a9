package server

import (
	"bytes"
	"context"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idcheck/internal/pipeline"
	"github.com/MeKo-Tech/idcheck/internal/testutil"
)

const cardText = "GOVERNMENT OF INDIA\nName: John Andrew Smith\nDOB: 05/03/1999\nMALE\n2345 6789 0123"

var johnForm = map[string]string{
	"name":      "John Andrew Smith",
	"dob":       "05/03/1999",
	"id_number": "2345 6789 0123",
}

// newTestPipeline builds a real pipeline over a scripted OCR engine.
func newTestPipeline(t *testing.T, text string) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.NewBuilder().
		WithEngine(testutil.NewTextEngine(text)).
		WithClock(func() time.Time { return time.Date(2026, time.October, 14, 0, 0, 0, 0, time.UTC) }).
		Build()
	require.NoError(t, err)
	return p
}

func newTestServer(t *testing.T, v Verifier, mutate ...func(*Config)) *Server {
	t.Helper()
	cfg := Config{Port: 8080, CORSOrigin: "*", MaxUploadMB: 1, TimeoutSec: 5}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := NewServer(cfg, v, "test")
	require.NoError(t, err)
	return s
}

func cardPNG(t *testing.T) []byte {
	t.Helper()
	img, err := testutil.GenerateCard(testutil.DefaultCard())
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// multipartRequest builds a POST /verify request. A nil image omits the file part.
func multipartRequest(t *testing.T, fields map[string]string, filename string, image []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", filename)
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/verify", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// fakeVerifier records requests and returns a canned result.
type fakeVerifier struct {
	mu       sync.Mutex
	result   *pipeline.Result
	requests []pipeline.Request
	closed   int
}

func (f *fakeVerifier) Verify(_ context.Context, req pipeline.Request) *pipeline.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result
}

func (f *fakeVerifier) Info() map[string]any { return map[string]any{"fake": true} }

func (f *fakeVerifier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}
