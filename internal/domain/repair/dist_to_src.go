package repair

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// sourceExtensions are tried in order when mapping a built file back to source.
var sourceExtensions = []string{".ts", ".tsx", ".mts", ".js", ".mjs", ".cjs"}

// SourceCandidates lists the source paths a dist/ path may map to, in the
// order they are tried. The last "dist" segment is replaced with "src".
func SourceCandidates(built string) []string {
	parts := strings.Split(filepath.ToSlash(built), "/")
	idx := -1
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] == "dist" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	parts[idx] = "src"
	mapped := filepath.FromSlash(strings.Join(parts, "/"))
	stem := strings.TrimSuffix(mapped, filepath.Ext(mapped))

	candidates := make([]string, 0, len(sourceExtensions)+1)
	if filepath.Ext(mapped) != "" {
		candidates = append(candidates, mapped)
	}
	for _, ext := range sourceExtensions {
		c := stem + ext
		if c != mapped {
			candidates = append(candidates, c)
		}
	}
	return candidates
}

func repairDistToSrc(rc Context) (Action, error) {
	built := ResolveSpecifier(rc.Importer, rc.Specifier)
	if exists(rc.FS, built) {
		return Action{Pattern: DistToSrc, Resolved: built, NoOp: true, Description: "built path resolves; nothing to repair"}, nil
	}

	for _, candidate := range SourceCandidates(built) {
		if !exists(rc.FS, candidate) {
			continue
		}
		if rc.Root != "" && VerifyMonotonicity(rc.Root, candidate) == EscapesRoot {
			return Action{}, fmt.Errorf("%w: %s resolves outside the extension root", ErrNoRepair, candidate)
		}
		return Action{
			Pattern:     DistToSrc,
			Resolved:    candidate,
			Description: fmt.Sprintf("resolved %s to %s", rc.Specifier, relTo(rc.Root, candidate)),
		}, nil
	}

	return Action{}, fmt.Errorf("%w: no source file found for %s", ErrNoRepair, rc.Specifier)
}

func exists(fs afero.Fs, path string) bool {
	if fs == nil {
		return false
	}
	info, err := fs.Stat(path)
	return err == nil && !info.IsDir()
}

func relTo(root, path string) string {
	if root == "" {
		return path
	}
	if rel, err := filepath.Rel(root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}
