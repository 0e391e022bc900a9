package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/idcheck/internal/pipeline"
	"github.com/MeKo-Tech/idcheck/internal/verify"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsResponseType = "verify_response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketVerifyRequest is a verification request sent over WebSocket.
type WebSocketVerifyRequest struct {
	Name     string `json:"name"`
	DOB      string `json:"dob"`
	IDNumber string `json:"id_number"`
	Aadhaar  string `json:"aadhaar,omitempty"`
	// ImageBase64 may carry a "data:image/...;base64," prefix.
	ImageBase64 string `json:"image_base64"`
	Classify    bool   `json:"classify,omitempty"`
}

// WebSocketConnWriter is the write half of a WebSocket connection.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketVerifyResponse is streamed back for each request: zero or more
// "processing" frames followed by exactly one "completed" or "error".
type WebSocketVerifyResponse struct {
	Type      string           `json:"type"`
	Status    string           `json:"status"` // "processing", "completed", "error"
	Progress  float64          `json:"progress"`
	Result    *pipeline.Result `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorType string           `json:"error_type,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
}

// verifyWebSocketHandler upgrades the connection and serves requests until
// the client goes away.
func (s *Server) verifyWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(r.Context(), conn)
}

func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, conn, data)
		}
	}
}

// handleWebSocketMessage runs one verification and streams its progress.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, data []byte) {
	var msg WebSocketVerifyRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendWebSocketError(conn, "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if strings.TrimSpace(msg.ImageBase64) == "" {
		s.sendWebSocketError(conn, "invalid_request", "No image data provided")
		return
	}

	img, err := decodeBase64Image(msg.ImageBase64)
	if err != nil {
		verificationsTotal.WithLabelValues("invalid").Inc()
		s.sendWebSocketError(conn, "invalid_request", fmt.Sprintf("Could not read image file: %v", err))
		return
	}

	id := msg.IDNumber
	if id == "" {
		id = msg.Aadhaar
	}
	req := pipeline.Request{
		Image:    img,
		Claim:    verify.Claim{Name: msg.Name, DOB: msg.DOB, IDNumber: id},
		Classify: msg.Classify,
		Progress: pipeline.ProgressFunc(func(current, total int) {
			p := 0.0
			if total > 0 {
				p = float64(current) / float64(total)
			}
			s.sendWebSocketResponse(conn, WebSocketVerifyResponse{
				Type:     wsResponseType,
				Status:   "processing",
				Progress: p,
			})
		}),
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	res := s.current().Verify(ctx, req)
	verificationDuration.WithLabelValues("websocket").Observe(time.Since(start).Seconds())

	invalid := res.IsInputError() || isLoadError(res.Err)
	verificationsTotal.WithLabelValues(outcome(res.Verified(), res.Success, invalid)).Inc()

	if !res.Success {
		errType := "processing_error"
		if invalid {
			errType = "invalid_request"
		}
		s.sendWebSocketResponse(conn, WebSocketVerifyResponse{
			Type:      wsResponseType,
			Status:    "error",
			Progress:  1,
			Result:    res,
			Error:     res.Error,
			ErrorType: errType,
			RequestID: res.RequestID,
		})
		return
	}

	s.sendWebSocketResponse(conn, WebSocketVerifyResponse{
		Type:      wsResponseType,
		Status:    "completed",
		Progress:  1,
		Result:    res,
		RequestID: res.RequestID,
	})
}

func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketVerifyResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

func (s *Server) sendWebSocketError(conn WebSocketConnWriter, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketVerifyResponse{
		Type:      wsResponseType,
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
	})
}

// decodeBase64 accepts standard or URL-safe base64, padded or not, with an
// optional data URL prefix.
func decodeBase64(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		idx := strings.Index(payload, ",")
		if idx < 0 {
			return nil, errors.New("malformed data URL")
		}
		payload = payload[idx+1:]
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(payload); err == nil {
			return data, nil
		}
	}
	return nil, errors.New("invalid base64 image data")
}
