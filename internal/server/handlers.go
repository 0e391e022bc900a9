package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/idcheck/internal/imageio"
	"github.com/MeKo-Tech/idcheck/internal/pipeline"
	"github.com/MeKo-Tech/idcheck/internal/verify"
)

// healthHandler handles health check requests.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := HealthResponse{
		Status:   "healthy",
		Version:  s.version,
		Time:     time.Now().UTC().Format(time.RFC3339),
		Pipeline: s.current().Info(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode health response", "error", err)
	}
}

// verifyHandler accepts a multipart form with an "image" file and the
// claimed name, dob and id_number, and returns the verification result.
func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorResponse(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d MB", s.maxUpload/(1024*1024)))
			return
		}
		s.writeErrorResponse(w, http.StatusBadRequest, "failed to parse form: "+err.Error())
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer func() { _ = file.Close() }()
	uploadSizeBytes.Observe(float64(header.Size))

	req := pipeline.Request{
		Claim:    claimFromForm(r),
		Classify: parseBool(r.FormValue("classify")),
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "failed to read image: "+err.Error())
		return
	}

	cleanup, err := s.attachImage(&req, header.Filename, data)
	if err != nil {
		verificationsTotal.WithLabelValues("invalid").Inc()
		s.writeErrorResponse(w, http.StatusBadRequest, "Could not read image file: "+err.Error())
		return
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	start := time.Now()
	res := s.current().Verify(ctx, req)
	verificationDuration.WithLabelValues("http").Observe(time.Since(start).Seconds())

	status := http.StatusOK
	invalid := res.IsInputError() || isLoadError(res.Err)
	if invalid {
		status = http.StatusBadRequest
	}
	verificationsTotal.WithLabelValues(outcome(res.Verified(), res.Success, invalid)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to encode verification response", "error", err)
	}
}

// attachImage decodes data into req.Image, or spills PDFs to a temporary file
// so the loader can extract the embedded page image.
func (s *Server) attachImage(req *pipeline.Request, filename string, data []byte) (func(), error) {
	noop := func() {}
	if strings.EqualFold(filepath.Ext(filename), ".pdf") || bytes.HasPrefix(data, []byte("%PDF")) {
		f, err := os.CreateTemp("", "idcheck-upload-*.pdf")
		if err != nil {
			return noop, err
		}
		path := f.Name()
		cleanup := func() { _ = os.Remove(path) }
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			cleanup()
			return noop, err
		}
		if err := f.Close(); err != nil {
			cleanup()
			return noop, err
		}
		req.ImagePath = path
		return cleanup, nil
	}

	img, _, err := imageio.Decode(bytes.NewReader(data))
	if err != nil {
		return noop, err
	}
	req.Image = img
	return noop, nil
}

func claimFromForm(r *http.Request) verify.Claim {
	id := r.FormValue("id_number")
	if id == "" {
		id = r.FormValue("aadhaar")
	}
	return verify.Claim{
		Name:     r.FormValue("name"),
		DOB:      r.FormValue("dob"),
		IDNumber: id,
	}
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

func isLoadError(err error) bool {
	var le *imageio.LoadError
	return errors.As(err, &le)
}

// decodeBase64Image decodes an image from a base64 payload that may carry a
// data URL prefix.
func decodeBase64Image(payload string) (image.Image, error) {
	data, err := decodeBase64(payload)
	if err != nil {
		return nil, err
	}
	img, _, err := imageio.Decode(bytes.NewReader(data))
	return img, err
}

// writeErrorResponse writes an error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Success: false, Error: message}); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
