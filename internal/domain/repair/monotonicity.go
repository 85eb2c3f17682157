package repair

import (
	"path/filepath"
	"strings"
)

// Verdict is the result of a monotonicity check on a repaired path.
type Verdict int

const (
	// Monotonic means the resolved path stays within the extension root.
	Monotonic Verdict = iota
	// EscapesRoot means the resolved path leaves the extension root.
	EscapesRoot
)

func (v Verdict) String() string {
	if v == EscapesRoot {
		return "escapes_root"
	}
	return "safe"
}

// VerifyMonotonicity checks that a repair did not widen what an extension can
// reach: the resolved path must be the root or lie beneath it. Paths are
// normalised lexically; symlinks are not followed. A relative resolved path
// is taken relative to root.
func VerifyMonotonicity(root, resolved string) Verdict {
	root = filepath.Clean(root)
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return EscapesRoot
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return EscapesRoot
	}
	return Monotonic
}
