// Package repair detects and fixes known structural defects in extension
// code so that imperfect third-party modules still load. Every function in
// this package is pure over its inputs: the same source and the same
// filesystem snapshot always yield byte-identical output.
package repair

import (
	"fmt"
	"strings"
)

// Pattern is a named category of recoverable extension-loading defect.
type Pattern int

const (
	// DistToSrc: a built-output import (dist/) resolves to its source file instead.
	DistToSrc Pattern = iota + 1
	// MissingAsset: a referenced static file is absent and gets synthetic content.
	MissingAsset
	// MonorepoEscape: an import reaches outside the extension into an
	// un-packaged sibling and is replaced by a generated stub.
	MonorepoEscape
	// MissingNpmDep: an external package is not installed.
	MissingNpmDep
	// ExportShape: the activation function is exported under a non-canonical shape.
	ExportShape
	// ManifestNormalization: manifest fields are canonicalised.
	ManifestNormalization
)

var patternNames = map[Pattern]string{
	DistToSrc:             "dist_to_src",
	MissingAsset:          "missing_asset",
	MonorepoEscape:        "monorepo_escape",
	MissingNpmDep:         "missing_npm_dep",
	ExportShape:           "export_shape",
	ManifestNormalization: "manifest_normalization",
}

// AllPatterns lists every pattern in declaration order.
func AllPatterns() []Pattern {
	return []Pattern{DistToSrc, MissingAsset, MonorepoEscape, MissingNpmDep, ExportShape, ManifestNormalization}
}

func (p Pattern) String() string {
	if name, ok := patternNames[p]; ok {
		return name
	}
	return fmt.Sprintf("pattern(%d)", int(p))
}

// ParsePattern parses a pattern's stable name.
func ParsePattern(s string) (Pattern, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for p, name := range patternNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown repair pattern %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Pattern) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pattern) UnmarshalText(text []byte) error {
	parsed, err := ParsePattern(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Risk is the fixed risk classification of a pattern.
type Risk int

const (
	// Safe repairs never change what code runs, only where it is found.
	Safe Risk = iota
	// Aggressive repairs synthesise behaviour the author did not write.
	Aggressive
)

func (r Risk) String() string {
	if r == Aggressive {
		return "aggressive"
	}
	return "safe"
}

// Risk returns the pattern's risk.
func (p Pattern) Risk() Risk {
	switch p {
	case MonorepoEscape, MissingNpmDep, ExportShape:
		return Aggressive
	default:
		return Safe
	}
}

// AllowedBy reports whether the mode permits applying this pattern.
func (p Pattern) AllowedBy(m Mode) bool {
	return m.ShouldApply() && (p.Risk() == Safe || m.AllowsAggressive())
}

// Mode is the ordered policy gate over repairs.
type Mode int

const (
	// Off disables detection and repair; defects are hard load failures.
	Off Mode = iota
	// Suggest detects and logs defects without applying repairs.
	Suggest
	// AutoSafe applies Safe repairs only.
	AutoSafe
	// AutoStrict applies every repair.
	AutoStrict
)

// DefaultMode is the mode used when configuration does not set one.
const DefaultMode = AutoSafe

var modeNames = map[Mode]string{
	Off:        "off",
	Suggest:    "suggest",
	AutoSafe:   "auto-safe",
	AutoStrict: "auto-strict",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode accepts "off", "suggest", "auto-safe" and "auto-strict"
// (underscores are accepted in place of dashes).
func ParseMode(s string) (Mode, error) {
	s = strings.ReplaceAll(strings.TrimSpace(strings.ToLower(s)), "_", "-")
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return Off, fmt.Errorf("unknown repair mode %q (want off, suggest, auto-safe or auto-strict)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ShouldApply reports whether repairs are applied at all.
func (m Mode) ShouldApply() bool {
	return m >= AutoSafe
}

// IsActive reports whether defects are at least detected and reported.
func (m Mode) IsActive() bool {
	return m >= Suggest
}

// AllowsAggressive reports whether Aggressive repairs may be applied.
func (m Mode) AllowsAggressive() bool {
	return m == AutoStrict
}
