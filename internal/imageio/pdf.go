package imageio

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ErrNoPDFImage is returned when a PDF carries no embedded raster image.
var ErrNoPDFImage = errors.New("pdf contains no embedded image")

// FirstPDFImage extracts the embedded images of the first page of a PDF and
// returns the largest one. Scanned cards are usually a single full-page image.
func FirstPDFImage(path string) (image.Image, error) {
	tempDir, err := os.MkdirTemp("", "idcheck-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	if err := api.ExtractImagesFile(path, tempDir, []string{"1"}, nil); err != nil {
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var best image.Image
	bestArea := 0
	for _, name := range names {
		img, _, err := decodeFile(filepath.Join(tempDir, name))
		if err != nil {
			// pdfcpu also writes formats the stdlib cannot decode (e.g. JPX); skip them.
			continue
		}
		if area := img.Bounds().Dx() * img.Bounds().Dy(); area > bestArea {
			best, bestArea = img, area
		}
	}
	if best == nil {
		return nil, ErrNoPDFImage
	}
	return best, nil
}
