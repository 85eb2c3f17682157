// Package manifest reads extension.yaml files.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-yaml"
	"github.com/spf13/afero"

	apperrors "github.com/reglet-dev/exthost/internal/application/errors"
	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/domain/entities"
	"github.com/reglet-dev/exthost/internal/infrastructure/validation"
)

// FileNames are the manifest file names looked for in an extension root,
// in order.
var FileNames = []string{"extension.yaml", "extension.yml"}

// ErrNoManifest is returned when a directory holds no manifest.
var ErrNoManifest = errors.New("no extension manifest")

// Loader reads and validates manifests from a filesystem.
type Loader struct {
	fs        afero.Fs
	validator *validation.ManifestValidator
}

var _ ports.ManifestLoader = (*Loader)(nil)

// NewLoader creates a loader over fs.
func NewLoader(fs afero.Fs) (*Loader, error) {
	v, err := validation.NewManifestValidator()
	if err != nil {
		return nil, err
	}
	return &Loader{fs: fs, validator: v}, nil
}

// Load reads the manifest of the extension at root.
func (l *Loader) Load(ctx context.Context, root string) (entities.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return entities.Manifest{}, err
	}

	path, err := l.find(root)
	if err != nil {
		return entities.Manifest{}, err
	}
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return entities.Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := l.Parse(data)
	if err != nil {
		return entities.Manifest{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse validates a manifest document against the schema, then decodes it.
func (l *Loader) Parse(data []byte) (entities.Manifest, error) {
	js, err := yaml.YAMLToJSON(data)
	if err != nil {
		return entities.Manifest{}, fmt.Errorf("failed to decode manifest YAML: %w", err)
	}

	var doc any
	if err := json.Unmarshal(js, &doc); err != nil {
		return entities.Manifest{}, fmt.Errorf("failed to decode manifest YAML: %w", err)
	}
	if err := l.validator.ValidateDocument(doc); err != nil {
		return entities.Manifest{}, apperrors.NewValidationError("manifest", err.Error())
	}

	var m entities.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return entities.Manifest{}, fmt.Errorf("failed to decode manifest YAML: %w", err)
	}
	if err := validation.ValidateStruct(m); err != nil {
		return entities.Manifest{}, apperrors.NewValidationError("manifest", err.Error())
	}
	return m, nil
}

func (l *Loader) find(root string) (string, error) {
	for _, name := range FileNames {
		path := filepath.Join(root, name)
		info, err := l.fs.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to stat manifest: %w", err)
		}
	}
	return "", fmt.Errorf("%s: %w", root, ErrNoManifest)
}

// Discover returns the extension roots directly under dir, sorted. dir
// itself is returned when it holds a manifest.
func (l *Loader) Discover(dir string) ([]string, error) {
	if _, err := l.find(dir); err == nil {
		return []string{dir}, nil
	}

	entries, err := afero.ReadDir(l.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read extensions directory: %w", err)
	}

	var roots []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		root := filepath.Join(dir, e.Name())
		if _, err := l.find(root); err == nil {
			roots = append(roots, root)
		}
	}
	sort.Strings(roots)
	return roots, nil
}
