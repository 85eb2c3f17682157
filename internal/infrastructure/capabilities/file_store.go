// Package capabilities persists and prompts for extension capability grants.
package capabilities

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-yaml"
	"github.com/spf13/afero"

	"github.com/reglet-dev/exthost/internal/domain/capabilities"
)

// FileStore persists "always allow" decisions per extension.
type FileStore struct {
	fs         afero.Fs
	configPath string
}

// NewFileStore creates a FileStore backed by the OS filesystem.
func NewFileStore(configPath string) *FileStore {
	return NewFileStoreFs(afero.NewOsFs(), configPath)
}

// NewFileStoreFs creates a FileStore on fs.
func NewFileStoreFs(fs afero.Fs, configPath string) *FileStore {
	return &FileStore{fs: fs, configPath: configPath}
}

// ConfigPath returns the path to the grants file.
func (s *FileStore) ConfigPath() string {
	return s.configPath
}

type storedCapability struct {
	Kind    string `yaml:"kind"`
	Pattern string `yaml:"pattern"`
}

// grantsFile is the YAML layout of ~/.exthost/grants.yaml.
type grantsFile struct {
	Extensions map[string][]storedCapability `yaml:"extensions"`
}

// Load reads saved grants keyed by extension id. A missing file yields an
// empty map.
func (s *FileStore) Load() (map[string]capabilities.Grant, error) {
	data, err := afero.ReadFile(s.fs, s.configPath)
	if os.IsNotExist(err) {
		return map[string]capabilities.Grant{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read grants file: %w", err)
	}

	var file grantsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse grants file: %w", err)
	}

	out := make(map[string]capabilities.Grant, len(file.Extensions))
	for ext, caps := range file.Extensions {
		g := capabilities.NewGrant()
		for _, c := range caps {
			g.Add(capabilities.Capability{Kind: c.Kind, Pattern: c.Pattern})
		}
		out[ext] = g
	}
	return out, nil
}

// Save overwrites the grants file.
func (s *FileStore) Save(grants map[string]capabilities.Grant) error {
	//nolint:gosec // G301: 0o755 is standard for user config directories
	if err := s.fs.MkdirAll(filepath.Dir(s.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	exts := make([]string, 0, len(grants))
	for ext := range grants {
		exts = append(exts, ext)
	}
	sort.Strings(exts)

	file := grantsFile{Extensions: make(map[string][]storedCapability, len(grants))}
	for _, ext := range exts {
		caps := make([]storedCapability, 0, len(grants[ext]))
		for _, c := range grants[ext] {
			caps = append(caps, storedCapability{Kind: c.Kind, Pattern: c.Pattern})
		}
		file.Extensions[ext] = caps
	}

	data, err := yaml.MarshalWithOptions(file, yaml.IndentSequence(true))
	if err != nil {
		return fmt.Errorf("failed to marshal grants: %w", err)
	}
	return afero.WriteFile(s.fs, s.configPath, data, 0o600)
}
