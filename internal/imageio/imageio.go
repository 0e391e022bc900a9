// Package imageio loads scanned identity documents into memory.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// SupportedExtensions lists the file extensions LoadImage accepts.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".webp", ".pdf"}

// IsSupported reports whether the path has a supported extension.
func IsSupported(path string) bool {
	return slices.Contains(SupportedExtensions, strings.ToLower(filepath.Ext(path)))
}

// LoadError reports an unreadable document.
type LoadError struct {
	Path string
	Op   string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("image %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("image %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Metadata captures lightweight file and pixel information.
type Metadata struct {
	Path      string
	Format    string
	SizeBytes int64
	Width     int
	Height    int
}

// LoadImage opens and decodes a document image. PDF files yield their first
// embedded image.
func LoadImage(path string) (image.Image, Metadata, error) {
	if path == "" {
		return nil, Metadata{}, &LoadError{Op: "load", Err: errors.New("empty path")}
	}
	if !IsSupported(path) {
		return nil, Metadata{}, &LoadError{Path: path, Op: "load", Err: fmt.Errorf("unsupported format: %s", filepath.Ext(path))}
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, Metadata{}, &LoadError{Path: path, Op: "load", Err: err}
	}
	if fi.IsDir() {
		return nil, Metadata{}, &LoadError{Path: path, Op: "load", Err: errors.New("is a directory")}
	}

	var (
		img    image.Image
		format string
	)
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		img, err = FirstPDFImage(path)
		format = "pdf"
	} else {
		img, format, err = decodeFile(path)
	}
	if err != nil {
		return nil, Metadata{}, &LoadError{Path: path, Op: "decode", Err: err}
	}

	b := img.Bounds()
	if b.Empty() {
		return nil, Metadata{}, &LoadError{Path: path, Op: "decode", Err: errors.New("image has no pixels")}
	}
	return img, Metadata{
		Path:      path,
		Format:    format,
		SizeBytes: fi.Size(),
		Width:     b.Dx(),
		Height:    b.Dy(),
	}, nil
}

// Decode reads an encoded image from r, as received over HTTP or WebSocket.
func Decode(r io.Reader) (image.Image, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", &LoadError{Op: "read", Err: err}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", &LoadError{Op: "decode", Err: err}
	}
	if img.Bounds().Empty() {
		return nil, "", &LoadError{Op: "decode", Err: errors.New("image has no pixels")}
	}
	return img, format, nil
}

func decodeFile(path string) (image.Image, string, error) {
	f, err := os.Open(path) //nolint:gosec // G304: reading a user-provided document path is expected
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = f.Close() }()
	return image.Decode(f)
}
