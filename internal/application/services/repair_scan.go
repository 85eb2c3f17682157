package services

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/domain/repair"
)

// Diagnostic kinds that are not repair patterns.
const (
	DiagnosticManifestInvalid = "manifest_invalid"
	DiagnosticUnrecognized    = "unrecognized"
)

var importSpecifier = regexp.MustCompile(`(?:from\s*|import\s*\(\s*|require\(\s*|import\s+)["']([^"']+)["']`)

var scriptExtensions = map[string]bool{".ts": true, ".tsx": true, ".js": true, ".mjs": true, ".cjs": true}

// RepairDiagnostic is one defect found by a scan, with the repair that
// would address it.
type RepairDiagnostic struct {
	Extension  string `json:"extension" yaml:"extension"`
	Root       string `json:"root" yaml:"root"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	Line       int    `json:"line,omitempty" yaml:"line,omitempty"`
	Specifier  string `json:"specifier,omitempty" yaml:"specifier,omitempty"`
	Pattern    string `json:"pattern" yaml:"pattern"`
	Risk       string `json:"risk,omitempty" yaml:"risk,omitempty"`
	Message    string `json:"message" yaml:"message"`
	Suggestion string `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	// Repairable reports whether the configured mode would apply the repair
	// at load time.
	Repairable bool `json:"repairable" yaml:"repairable"`
}

// RepairScanReport is the result of scanning extension roots.
type RepairScanReport struct {
	GeneratedAt time.Time          `json:"generated_at" yaml:"generated_at"`
	Mode        string             `json:"mode" yaml:"mode"`
	Extensions  int                `json:"extensions" yaml:"extensions"`
	Diagnostics []RepairDiagnostic `json:"diagnostics" yaml:"diagnostics"`
}

// RepairScanner finds load defects without loading or changing anything.
type RepairScanner struct {
	manifests ports.ManifestLoader
	modules   ModuleViewFactory
	fs        afero.Fs
	clock     ports.Clock
	mode      repair.Mode
}

// NewRepairScanner creates a scanner that judges repairs against mode.
func NewRepairScanner(manifests ports.ManifestLoader, modules ModuleViewFactory, fs afero.Fs, clock ports.Clock, mode repair.Mode) *RepairScanner {
	return &RepairScanner{manifests: manifests, modules: modules, fs: fs, clock: clock, mode: mode}
}

// Scan checks each root in turn.
func (s *RepairScanner) Scan(ctx context.Context, roots []string) (RepairScanReport, error) {
	report := RepairScanReport{
		GeneratedAt: s.clock.Now().UTC(),
		Mode:        s.mode.String(),
		Extensions:  len(roots),
		Diagnostics: []RepairDiagnostic{},
	}
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Diagnostics = append(report.Diagnostics, s.scanRoot(ctx, root)...)
	}
	return report, nil
}

func (s *RepairScanner) scanRoot(ctx context.Context, root string) []RepairDiagnostic {
	name := filepath.Base(root)
	raw, err := s.manifests.Load(ctx, root)
	if err != nil {
		return []RepairDiagnostic{{Extension: name, Root: root, Pattern: DiagnosticManifestInvalid, Message: err.Error()}}
	}

	manifest, changes, err := raw.Normalize(func(rel string) bool {
		info, err := s.fs.Stat(filepath.Join(root, filepath.FromSlash(rel)))
		return err == nil && !info.IsDir()
	})
	if err != nil {
		return []RepairDiagnostic{{Extension: name, Root: root, Pattern: DiagnosticManifestInvalid, Message: err.Error()}}
	}
	name = manifest.Name

	var out []RepairDiagnostic
	var material []string
	for _, c := range changes {
		if c.Field != "runtime" {
			material = append(material, c.String())
		}
	}
	if len(material) > 0 {
		p := repair.ManifestNormalization
		out = append(out, RepairDiagnostic{
			Extension:  name,
			Root:       root,
			File:       "extension.yaml",
			Pattern:    p.String(),
			Risk:       p.Risk().String(),
			Message:    "manifest is not in canonical form",
			Suggestion: "normalise " + strings.Join(material, ", "),
			Repairable: p.AllowedBy(s.mode),
		})
	}

	target := s.modules(root, manifest.Entry)
	return append(out, s.walk(name, root, target)...)
}

// walk follows script imports from the entry and reports every reference
// that does not resolve.
func (s *RepairScanner) walk(name, root string, target ports.RepairTarget) []RepairDiagnostic {
	var out []RepairDiagnostic
	visited := map[string]bool{}
	queue := []string{target.Entry()}

	for len(queue) > 0 {
		file := queue[0]
		queue = queue[1:]
		if visited[file] || !scriptExtensions[filepath.Ext(file)] {
			continue
		}
		visited[file] = true

		src, err := target.ReadFile(file)
		if err != nil {
			out = append(out, s.diagnose(name, root, target, file, "", "", err))
			continue
		}
		source := string(src)
		for _, m := range importSpecifier.FindAllStringSubmatchIndex(source, -1) {
			spec := source[m[2]:m[3]]
			resolved, err := target.Resolve(file, spec)
			if err != nil {
				d := s.diagnose(name, root, target, file, spec, source, err)
				d.Line = strings.Count(source[:m[2]], "\n") + 1
				out = append(out, d)
				continue
			}
			queue = append(queue, resolved)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Line < out[j].Line
	})
	return out
}

func (s *RepairScanner) diagnose(name, root string, target ports.RepairTarget, file, spec, source string, cause error) RepairDiagnostic {
	d := RepairDiagnostic{
		Extension: name,
		Root:      root,
		File:      relTo(root, file),
		Specifier: spec,
		Pattern:   DiagnosticUnrecognized,
		Message:   cause.Error(),
	}

	f, ok := repair.ParseFailure(cause.Error(), file, root)
	if !ok {
		return d
	}
	p, ok := repair.Classify(f)
	if !ok {
		return d
	}
	d.Pattern = p.String()
	d.Risk = p.Risk().String()
	d.Repairable = p.AllowedBy(s.mode)

	action, err := repair.Repair(p, repair.Context{
		FS:        target.FS(),
		Root:      root,
		Importer:  f.Importer,
		Specifier: f.Specifier,
		Source:    source,
	})
	switch {
	case err == nil:
		d.Suggestion = action.Description
	case errors.Is(err, repair.ErrNoRepair):
		d.Repairable = false
		d.Suggestion = err.Error()
	default:
		d.Suggestion = err.Error()
	}
	return d
}

func relTo(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}
