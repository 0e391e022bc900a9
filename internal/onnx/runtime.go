// Package onnx wraps ONNX Runtime setup shared by model-backed collaborators.
package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	onnxrt "github.com/yalue/onnxruntime_go"
)

// LibraryEnv overrides the shared library location.
const LibraryEnv = "IDCHECK_ONNXRUNTIME_LIB"

var initMu sync.Mutex

// ErrLibraryNotFound is returned when no ONNX Runtime shared library exists
// at any of the probed locations.
var ErrLibraryNotFound = errors.New("onnx runtime library not found")

// LibraryName returns the shared library filename for the current OS.
func LibraryName() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so", nil
	case "darwin":
		return "libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// LibraryCandidates lists the locations probed for the shared library, in
// order: the explicit path, the environment override, then system paths.
func LibraryCandidates(explicit string, useGPU bool) []string {
	var out []string
	if explicit != "" {
		out = append(out, explicit)
	}
	if env := os.Getenv(LibraryEnv); env != "" {
		out = append(out, env)
	}
	name, err := LibraryName()
	if err != nil {
		return out
	}
	if useGPU {
		out = append(out, filepath.Join("/opt/onnxruntime/gpu/lib", name))
	}
	return append(out,
		filepath.Join("/usr/local/lib", name),
		filepath.Join("/usr/lib", name),
		filepath.Join("/opt/onnxruntime/cpu/lib", name),
	)
}

// InitEnvironment points onnxruntime_go at the first existing library
// candidate and initialises the runtime once per process.
func InitEnvironment(explicit string, useGPU bool) error {
	initMu.Lock()
	defer initMu.Unlock()
	if onnxrt.IsInitialized() {
		return nil
	}

	found := ""
	for _, p := range LibraryCandidates(explicit, useGPU) {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			found = p
			break
		}
	}
	if found == "" {
		return ErrLibraryNotFound
	}
	onnxrt.SetSharedLibraryPath(found)
	if err := onnxrt.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx: %w", err)
	}
	return nil
}
