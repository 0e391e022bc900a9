// Package batch verifies many claimed identities listed in a manifest.
package batch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/idcheck/internal/verify"
)

// Entry is one image and the identity claimed for it.
type Entry struct {
	Image    string `yaml:"image"`
	Name     string `yaml:"name"`
	DOB      string `yaml:"dob"`
	IDNumber string `yaml:"id_number"`
	Aadhaar  string `yaml:"aadhaar,omitempty"`
}

// Claim returns the entry's claimed identity.
func (e Entry) Claim() verify.Claim {
	id := e.IDNumber
	if id == "" {
		id = e.Aadhaar
	}
	return verify.Claim{Name: e.Name, DOB: e.DOB, IDNumber: id}
}

// Manifest is an ordered list of entries.
type Manifest struct {
	Entries []Entry `yaml:"entries"`
}

// LoadManifest reads a manifest file. Relative image paths are resolved
// against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path) //nolint:gosec // manifest path is user input
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseManifest(f, filepath.Dir(path))
}

// ParseManifest decodes either a bare YAML list of entries or a mapping with
// an "entries" key.
func ParseManifest(r io.Reader, baseDir string) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("manifest is empty")
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	var m Manifest
	root := &node
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	switch root.Kind {
	case yaml.SequenceNode:
		err = root.Decode(&m.Entries)
	case yaml.MappingNode:
		err = root.Decode(&m)
	default:
		err = errors.New("expected a list of entries")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if len(m.Entries) == 0 {
		return nil, errors.New("manifest has no entries")
	}
	for i := range m.Entries {
		e := &m.Entries[i]
		e.Image = strings.TrimSpace(e.Image)
		if e.Image == "" {
			return nil, fmt.Errorf("entry %d: image is required", i+1)
		}
		if baseDir != "" && !filepath.IsAbs(e.Image) {
			e.Image = filepath.Join(baseDir, e.Image)
		}
	}
	return &m, nil
}
