// Package secrets resolves named secrets for hostcalls from local values,
// environment variables and files.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/infrastructure/system"
)

// placeholder matches ${secret:NAME} inside a hostcall argument.
var placeholder = regexp.MustCompile(`\$\{secret:([A-Za-z0-9_.-]+)\}`)

var errNotConfigured = errors.New("not configured")

// Resolver implements ports.SecretResolver. Every resolved value is tracked
// for redaction before it is returned.
type Resolver struct {
	config   *system.SecretsConfig
	provider ports.SensitiveValueProvider
	fs       afero.Fs
	getenv   func(string) string

	mu    sync.RWMutex
	cache map[string]string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFs reads file secrets from fs instead of the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(r *Resolver) { r.fs = fs }
}

// NewResolver creates a new secret resolver.
func NewResolver(config *system.SecretsConfig, provider ports.SensitiveValueProvider, opts ...Option) *Resolver {
	r := &Resolver{
		config:   config,
		provider: provider,
		fs:       afero.NewOsFs(),
		getenv:   os.Getenv,
		cache:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the named secret, looking in local values, then the
// environment, then files. Values are cached for the resolver's lifetime.
func (r *Resolver) Resolve(name string) (string, error) {
	r.mu.RLock()
	value, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return value, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if value, ok := r.cache[name]; ok {
		return value, nil
	}
	if r.config == nil {
		return "", fmt.Errorf("secret %q: secrets config not present", name)
	}

	for _, source := range []func(string) (string, error){r.local, r.env, r.file} {
		value, err := source(name)
		if errors.Is(err, errNotConfigured) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("secret %q: %w", name, err)
		}
		r.cache[name] = value
		if r.provider != nil {
			r.provider.Track(value)
		}
		return value, nil
	}
	return "", fmt.Errorf("secret %q not found in local, env, or files", name)
}

func (r *Resolver) local(name string) (string, error) {
	if v, ok := r.config.Local[name]; ok {
		return v, nil
	}
	return "", errNotConfigured
}

func (r *Resolver) env(name string) (string, error) {
	key, ok := r.config.Env[name]
	if !ok {
		return "", errNotConfigured
	}
	if v := r.getenv(key); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("env var %q is not set", key)
}

// file reads the mapped path through a filesystem rooted at its directory,
// so a mapping cannot be bent to read outside it.
func (r *Resolver) file(name string) (string, error) {
	path, ok := r.config.Files[name]
	if !ok {
		return "", errNotConfigured
	}
	dir := afero.NewBasePathFs(r.fs, filepath.Dir(path))
	data, err := afero.ReadFile(dir, filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("reading file %q: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Expand replaces each ${secret:NAME} in s with the resolved secret. The
// first unresolvable name fails the whole expansion.
func (r *Resolver) Expand(s string) (string, error) {
	if !strings.Contains(s, "${secret:") {
		return s, nil
	}
	var firstErr error
	out := placeholder.ReplaceAllStringFunc(s, func(m string) string {
		if firstErr != nil {
			return m
		}
		value, err := r.Resolve(placeholder.FindStringSubmatch(m)[1])
		if err != nil {
			firstErr = err
			return m
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
