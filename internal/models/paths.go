// Package models resolves on-disk locations of optional model files.
package models

import (
	"os"
	"path/filepath"
)

// DocumentClassifier is the default classifier model filename.
const DocumentClassifier = "document_classifier.onnx"

// TypeClassification is the subdirectory holding classification models.
const TypeClassification = "classification"

// DefaultModelsDir is used when neither a flag nor the environment names one.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "IDCHECK_MODELS_DIR"

// GetModelsDir returns the models directory.
// Priority: explicit argument, environment variable, DefaultModelsDir.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if env := os.Getenv(EnvModelsDir); env != "" {
		return env
	}
	return DefaultModelsDir
}

// ClassifierModelPath resolves filename under the classification directory,
// falling back to a flat layout when the organised path does not exist.
func ClassifierModelPath(modelsDir, filename string) string {
	if filename == "" {
		filename = DocumentClassifier
	}
	if filepath.IsAbs(filename) {
		return filename
	}
	base := GetModelsDir(modelsDir)
	organized := filepath.Join(base, TypeClassification, filename)
	if _, err := os.Stat(organized); err == nil {
		return organized
	}
	flat := filepath.Join(base, filename)
	if _, err := os.Stat(flat); err == nil {
		return flat
	}
	return organized
}
