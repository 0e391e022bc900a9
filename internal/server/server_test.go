package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idcheck/internal/pipeline"
	"github.com/MeKo-Tech/idcheck/internal/verify"
)

func TestNewServer(t *testing.T) {
	_, err := NewServer(Config{}, nil, "v")
	require.Error(t, err)

	s, err := NewServer(Config{RateLimit: RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 2}}, &fakeVerifier{}, "v")
	require.NoError(t, err)
	assert.Equal(t, int64(10*1024*1024), s.maxUpload)
	assert.Equal(t, 60*time.Second, s.timeout)
	assert.Equal(t, "*", s.corsOrigin)
	assert.NotNil(t, s.rateLimiter)
}

func TestConfig_Addr(t *testing.T) {
	assert.Equal(t, "localhost:8080", Config{Host: "localhost", Port: 8080}.Addr())
	assert.Equal(t, ":9000", Config{Port: 9000}.Addr())
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t, newTestPipeline(t, cardText))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Contains(t, resp.Pipeline, "variants")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestVerifyHandler(t *testing.T) {
	png := cardPNG(t)

	tests := []struct {
		name       string
		text       string
		fields     map[string]string
		filename   string
		image      []byte
		wantStatus int
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name:       "all fields match",
			text:       cardText,
			fields:     johnForm,
			filename:   "card.png",
			image:      png,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, true, body["success"])
				assert.Equal(t, true, body["all_match"])
				assert.InDelta(t, 27, body["age"], 0)
				assert.Equal(t, false, body["is_teen"])
			},
		},
		{
			name:       "name mismatch is still 200",
			text:       cardText,
			fields:     map[string]string{"name": "Priya Sharma", "dob": "05-03-1999", "id_number": "234567890123"},
			filename:   "card.png",
			image:      png,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, true, body["success"])
				assert.Equal(t, false, body["name_match"])
				assert.Equal(t, false, body["all_match"])
			},
		},
		{
			name:       "legacy aadhaar field",
			text:       cardText,
			fields:     map[string]string{"name": "John Andrew Smith", "dob": "05/03/1999", "aadhaar": "234567890123"},
			filename:   "card.png",
			image:      png,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, true, body["id_match"])
			},
		},
		{
			name:       "missing image",
			text:       cardText,
			fields:     johnForm,
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "image file is required", body["error"])
			},
		},
		{
			name:       "undecodable image",
			text:       cardText,
			fields:     johnForm,
			filename:   "card.png",
			image:      []byte("not an image"),
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Contains(t, body["error"], "Could not read image file")
			},
		},
		{
			name:       "invalid claim",
			text:       cardText,
			fields:     map[string]string{"name": "John", "dob": "sometime", "id_number": "12"},
			filename:   "card.png",
			image:      png,
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, false, body["success"])
				assert.Contains(t, body["error"], "Invalid claim")
				assert.NotContains(t, body, "name_match")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, newTestPipeline(t, tt.text))
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, multipartRequest(t, tt.fields, tt.filename, tt.image))

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			tt.check(t, body)
		})
	}
}

func TestVerifyHandler_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &fakeVerifier{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/verify", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestVerifyHandler_Preflight(t *testing.T) {
	fv := &fakeVerifier{}
	s := newTestServer(t, fv, func(c *Config) { c.CORSOrigin = "https://example.com" })
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/verify", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, fv.requests)
}

func TestVerifyHandler_UploadTooLarge(t *testing.T) {
	s := newTestServer(t, &fakeVerifier{})
	big := bytes.Repeat([]byte{0xff}, 2*1024*1024)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, johnForm, "card.png", big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestVerifyHandler_PassesClassifyFlag(t *testing.T) {
	fv := &fakeVerifier{result: &pipeline.Result{Success: true, Report: &verify.Report{}}}
	s := newTestServer(t, fv)

	fields := map[string]string{"classify": "true"}
	for k, v := range johnForm {
		fields[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, fields, "card.png", cardPNG(t)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fv.requests, 1)
	assert.True(t, fv.requests[0].Classify)
	assert.NotNil(t, fv.requests[0].Image)
	assert.Equal(t, "John Andrew Smith", fv.requests[0].Claim.Name)
}

func TestVerifyHandler_FailedResultIs200(t *testing.T) {
	fv := &fakeVerifier{result: &pipeline.Result{Error: "Verification failed: engine down", Err: errors.New("engine down")}}
	s := newTestServer(t, fv)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, johnForm, "card.png", cardPNG(t)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "engine down")
}

func TestRateLimitMiddleware(t *testing.T) {
	fv := &fakeVerifier{result: &pipeline.Result{Success: true, Report: &verify.Report{}}}
	s := newTestServer(t, fv, func(c *Config) {
		c.RateLimit = RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}
	})
	h := s.Handler()
	img := cardPNG(t)

	for range 2 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, multipartRequest(t, johnForm, "card.png", img))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, multipartRequest(t, johnForm, "card.png", img))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Len(t, fv.requests, 2)
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	require.NoError(t, rl.Allow("a"))
	require.NoError(t, rl.Allow("b"))

	err := rl.Allow("a")
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 60, rle.Limit)
	assert.InDelta(t, time.Second.Seconds(), rle.RetryAfter.Seconds(), 0.01)

	// A rejected request does not consume the next token.
	now = now.Add(time.Second)
	require.NoError(t, rl.Allow("a"))
	assert.Equal(t, 2, rl.Clients())

	now = now.Add(clientIdleTTL + time.Second)
	require.NoError(t, rl.Allow("c"))
	assert.Equal(t, 1, rl.Clients())
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded chain", headers: map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.1"}, remote: "10.0.0.2:1234", want: "203.0.113.1"},
		{name: "forwarded single", headers: map[string]string{"X-Forwarded-For": "203.0.113.9"}, remote: "10.0.0.2:1234", want: "203.0.113.9"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.4"}, remote: "10.0.0.2:1234", want: "198.51.100.4"},
		{name: "remote addr", remote: "192.0.2.7:5555", want: "192.0.2.7"},
		{name: "remote without port", remote: "192.0.2.8", want: "192.0.2.8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(r))
		})
	}
}

func TestSetVerifier_ClosesPrevious(t *testing.T) {
	old := &fakeVerifier{}
	s := newTestServer(t, old)
	next := &fakeVerifier{}
	s.SetVerifier(next)
	assert.Equal(t, 1, old.closed)
	assert.Same(t, next, s.current())

	require.NoError(t, s.Close())
	assert.Equal(t, 1, next.closed)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "invalid", outcome(false, false, true))
	assert.Equal(t, "failed", outcome(false, false, false))
	assert.Equal(t, "verified", outcome(true, true, false))
	assert.Equal(t, "mismatch", outcome(false, true, false))
}

func TestDecodeBase64(t *testing.T) {
	raw := []byte("hello card")
	std := base64.StdEncoding.EncodeToString(raw)

	for _, in := range []string{
		std,
		"data:image/png;base64," + std,
		base64.RawURLEncoding.EncodeToString(raw),
		"  " + std + "\n",
	} {
		got, err := decodeBase64(in)
		require.NoError(t, err, in)
		assert.Equal(t, raw, got)
	}

	_, err := decodeBase64("data:image/png;base64")
	require.Error(t, err)
	_, err = decodeBase64("!!not base64!!")
	require.Error(t, err)
}

type recordingConn struct {
	frames []WebSocketVerifyResponse
}

func (c *recordingConn) WriteMessage(_ int, data []byte) error {
	var resp WebSocketVerifyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}
	c.frames = append(c.frames, resp)
	return nil
}

func TestHandleWebSocketMessage_StreamsProgress(t *testing.T) {
	s := newTestServer(t, newTestPipeline(t, cardText))
	conn := &recordingConn{}

	msg, err := json.Marshal(WebSocketVerifyRequest{
		Name:        "John Andrew Smith",
		DOB:         "05/03/1999",
		IDNumber:    "2345 6789 0123",
		ImageBase64: "data:image/png;base64," + base64.StdEncoding.EncodeToString(cardPNG(t)),
	})
	require.NoError(t, err)
	s.handleWebSocketMessage(t.Context(), conn, msg)

	require.GreaterOrEqual(t, len(conn.frames), 2)
	first := conn.frames[0]
	assert.Equal(t, "processing", first.Status)
	assert.Zero(t, first.Progress)

	last := conn.frames[len(conn.frames)-1]
	assert.Equal(t, "verify_response", last.Type)
	assert.Equal(t, "completed", last.Status)
	assert.InDelta(t, 1.0, last.Progress, 1e-9)
	require.NotNil(t, last.Result)
	assert.True(t, last.Result.AllMatch)
	assert.Equal(t, last.Result.RequestID, last.RequestID)
}

func TestHandleWebSocketMessage_Errors(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantType string
		wantMsg  string
	}{
		{name: "bad json", payload: "{", wantType: "invalid_request", wantMsg: "Failed to parse request"},
		{name: "no image", payload: `{"name":"A"}`, wantType: "invalid_request", wantMsg: "No image data"},
		{name: "bad image", payload: `{"name":"A","image_base64":"aGVsbG8="}`, wantType: "invalid_request", wantMsg: "Could not read image file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeVerifier{})
			conn := &recordingConn{}
			s.handleWebSocketMessage(t.Context(), conn, []byte(tt.payload))
			require.Len(t, conn.frames, 1)
			assert.Equal(t, "error", conn.frames[0].Status)
			assert.Equal(t, tt.wantType, conn.frames[0].ErrorType)
			assert.Contains(t, conn.frames[0].Error, tt.wantMsg)
		})
	}
}

func TestHandleWebSocketMessage_InvalidClaim(t *testing.T) {
	s := newTestServer(t, newTestPipeline(t, cardText))
	conn := &recordingConn{}
	msg := `{"name":"","dob":"05/03/1999","id_number":"234567890123","image_base64":"` +
		base64.StdEncoding.EncodeToString(cardPNG(t)) + `"}`
	s.handleWebSocketMessage(t.Context(), conn, []byte(msg))

	require.Len(t, conn.frames, 1)
	assert.Equal(t, "error", conn.frames[0].Status)
	assert.Equal(t, "invalid_request", conn.frames[0].ErrorType)
	assert.Contains(t, conn.frames[0].Error, "Invalid claim")
}

func TestVerifyWebSocket_EndToEnd(t *testing.T) {
	s := newTestServer(t, newTestPipeline(t, cardText))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/verify"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	require.NoError(t, conn.WriteJSON(WebSocketVerifyRequest{
		Name:        "John Andrew Smith",
		DOB:         "05/03/1999",
		IDNumber:    "234567890123",
		ImageBase64: base64.StdEncoding.EncodeToString(cardPNG(t)),
	}))

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var frame WebSocketVerifyResponse
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Status == "processing" {
			continue
		}
		assert.Equal(t, "completed", frame.Status)
		require.NotNil(t, frame.Result)
		assert.True(t, frame.Result.Verified())
		break
	}
}
