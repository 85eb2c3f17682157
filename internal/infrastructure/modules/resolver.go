// Package modules resolves extension imports over a read-only filesystem
// snapshot plus an in-memory overlay of applied repairs.
package modules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/domain/repair"
)

// ErrOutsideRoot is returned when an overlay change would reach outside the
// extension root.
var ErrOutsideRoot = errors.New("path escapes extension root")

var resolveSuffixes = []string{"", ".ts", ".tsx", ".js", ".mjs", ".cjs", "/index.ts", "/index.js", "/index.mjs"}

// Resolver is the module view of one extension.
type Resolver struct {
	fs    afero.Fs
	root  string
	entry string

	mu        sync.RWMutex
	redirects map[string]string
	virtual   map[string][]byte
	entryOver string
}

var _ ports.ModuleResolver = (*Resolver)(nil)

// NewResolver creates a resolver for the extension at root. fs is wrapped
// read-only; entry is relative to root.
func NewResolver(fs afero.Fs, root, entry string) *Resolver {
	root = filepath.Clean(root)
	return &Resolver{
		fs:        afero.NewReadOnlyFs(fs),
		root:      root,
		entry:     filepath.Join(root, filepath.FromSlash(entry)),
		redirects: make(map[string]string),
		virtual:   make(map[string][]byte),
	}
}

// Root returns the extension root.
func (r *Resolver) Root() string { return r.root }

// FS returns the read-only snapshot repairs inspect.
func (r *Resolver) FS() afero.Fs { return r.fs }

// Entry returns the entry module path.
func (r *Resolver) Entry() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.entryOver != "" {
		return r.entryOver
	}
	return r.entry
}

// Resolve maps specifier, imported from importer, to a path. Failures use
// the "Cannot find module" wording the repair classifier recognises.
func (r *Resolver) Resolve(importer, specifier string) (string, error) {
	key := r.key(importer, specifier)

	r.mu.RLock()
	if to, ok := r.redirects[key]; ok {
		key = to
	}
	_, isVirtual := r.virtual[key]
	r.mu.RUnlock()
	if isVirtual {
		return key, nil
	}

	base := key
	if isBare(specifier) && key == specifier {
		base = filepath.Join(r.root, "node_modules", filepath.FromSlash(specifier))
	}
	if repair.VerifyMonotonicity(r.root, base) == repair.Monotonic {
		for _, suffix := range resolveSuffixes {
			candidate := base + filepath.FromSlash(suffix)
			if r.isFile(candidate) {
				return candidate, nil
			}
		}
	}

	//nolint:stylecheck // ST1005: matches the script engine's diagnostic
	return "", fmt.Errorf("Cannot find module '%s' imported from %s", specifier, importer)
}

// ReadFile returns overlay content first, then the snapshot. Redirected
// paths are read from their repair target.
func (r *Resolver) ReadFile(path string) ([]byte, error) {
	path = filepath.Clean(path)

	r.mu.RLock()
	if to, ok := r.redirects[path]; ok {
		path = to
	}
	content, ok := r.virtual[path]
	r.mu.RUnlock()
	if ok {
		return append([]byte(nil), content...), nil
	}

	if repair.VerifyMonotonicity(r.root, path) == repair.EscapesRoot {
		return nil, fmt.Errorf("ENOENT: no such file or directory, open '%s'", path)
	}
	data, err := afero.ReadFile(r.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("ENOENT: no such file or directory, open '%s'", path)
	}
	return data, err
}

// Source reads a module as text, returning "" when it cannot be read.
func (r *Resolver) Source(path string) string {
	data, err := r.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// Apply records a repair in the overlay so the failed reference resolves on
// the next load. No-op actions change nothing.
func (r *Resolver) Apply(f repair.Failure, a repair.Action) error {
	if a.NoOp {
		return nil
	}
	if a.Resolved == "" {
		return fmt.Errorf("%s repair has no resolved path", a.Pattern)
	}
	resolved := filepath.Clean(a.Resolved)
	if repair.VerifyMonotonicity(r.root, resolved) == repair.EscapesRoot {
		return fmt.Errorf("%s: %w", resolved, ErrOutsideRoot)
	}

	from := r.key(f.Importer, f.Specifier)

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(a.Content) > 0 {
		r.virtual[resolved] = append([]byte(nil), a.Content...)
	}

	entry := r.entry
	if r.entryOver != "" {
		entry = r.entryOver
	}

	switch a.Pattern {
	case repair.ExportShape:
		r.entryOver = resolved
	case repair.MissingAsset:
	default:
		if from != resolved {
			r.redirects[from] = resolved
		}
		if from == entry {
			r.entryOver = resolved
		}
	}
	return nil
}

// Overlay lists the virtual paths and redirects in a stable order.
func (r *Resolver) Overlay() (virtual []string, redirects map[string]string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for p := range r.virtual {
		virtual = append(virtual, p)
	}
	sort.Strings(virtual)

	redirects = make(map[string]string, len(r.redirects))
	for k, v := range r.redirects {
		redirects[k] = v
	}
	return virtual, redirects
}

func (r *Resolver) key(importer, specifier string) string {
	if isBare(specifier) {
		return specifier
	}
	if importer == "" {
		importer = r.Entry()
	}
	return repair.ResolveSpecifier(importer, specifier)
}

func (r *Resolver) isFile(path string) bool {
	info, err := r.fs.Stat(path)
	return err == nil && !info.IsDir()
}

func isBare(spec string) bool {
	if spec == "" || filepath.IsAbs(spec) {
		return false
	}
	return !strings.HasPrefix(spec, "./") && !strings.HasPrefix(spec, "../") && spec != "." && spec != ".."
}
