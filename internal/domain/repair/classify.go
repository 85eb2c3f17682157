package repair

import (
	"path/filepath"
	"regexp"
	"strings"
)

// FailureKind is the broad class of a load failure.
type FailureKind string

const (
	FailureModuleNotFound  FailureKind = "module_not_found"
	FailureExportShape     FailureKind = "export_shape"
	FailureManifestInvalid FailureKind = "manifest_invalid"
)

// Failure is the observed signature of an extension load failure.
type Failure struct {
	Kind FailureKind
	// Specifier is the import or asset reference that failed to resolve.
	Specifier string
	// Importer is the path of the module holding the reference.
	Importer string
	// Root is the extension's root directory.
	Root string
	// Message is the engine's original error text.
	Message string
}

var (
	cannotFindModule = regexp.MustCompile(`Cannot find (?:module|package) ['"]([^'"]+)['"](?: (?:from|imported from) ['"]?([^'"\s]+)['"]?)?`)
	enoentOpen       = regexp.MustCompile(`ENOENT: no such file or directory, (?:open|stat) ['"]([^'"]+)['"]`)
	noActivate       = regexp.MustCompile(`(?i)(?:activate|default export) is not a function|no (?:default export|activate function)`)

	assetExtensions = map[string]bool{
		".html": true, ".htm": true, ".css": true, ".json": true,
		".svg": true, ".txt": true, ".md": true,
	}
)

// ParseFailure turns an engine error message into a Failure. It returns false
// when the message does not match any known signature.
func ParseFailure(message, importer, root string) (Failure, bool) {
	if m := cannotFindModule.FindStringSubmatch(message); m != nil {
		if m[2] != "" {
			importer = m[2]
		}
		return Failure{Kind: FailureModuleNotFound, Specifier: m[1], Importer: importer, Root: root, Message: message}, true
	}
	if m := enoentOpen.FindStringSubmatch(message); m != nil {
		return Failure{Kind: FailureModuleNotFound, Specifier: m[1], Importer: importer, Root: root, Message: message}, true
	}
	if noActivate.MatchString(message) {
		return Failure{Kind: FailureExportShape, Importer: importer, Root: root, Message: message}, true
	}
	return Failure{}, false
}

// Classify maps a failure signature to a repair pattern. Unrecognised
// failures return false and are never repaired.
func Classify(f Failure) (Pattern, bool) {
	switch f.Kind {
	case FailureExportShape:
		return ExportShape, true
	case FailureManifestInvalid:
		return ManifestNormalization, true
	case FailureModuleNotFound:
		return classifyMissing(f)
	default:
		return 0, false
	}
}

func classifyMissing(f Failure) (Pattern, bool) {
	spec := strings.TrimSpace(f.Specifier)
	if spec == "" || strings.HasPrefix(spec, "node:") {
		return 0, false
	}

	if !isRelative(spec) && !filepath.IsAbs(spec) {
		return MissingNpmDep, true
	}

	resolved := ResolveSpecifier(f.Importer, spec)
	if f.Root != "" && VerifyMonotonicity(f.Root, resolved) == EscapesRoot {
		return MonorepoEscape, true
	}
	if hasSegment(resolved, "dist") {
		return DistToSrc, true
	}
	if assetExtensions[strings.ToLower(filepath.Ext(resolved))] {
		return MissingAsset, true
	}
	return 0, false
}

// ResolveSpecifier resolves a relative or absolute specifier against the
// importing module's directory.
func ResolveSpecifier(importer, spec string) string {
	if filepath.IsAbs(spec) {
		return filepath.Clean(spec)
	}
	base := "."
	if importer != "" {
		base = filepath.Dir(importer)
	}
	return filepath.Clean(filepath.Join(base, filepath.FromSlash(spec)))
}

func isRelative(spec string) bool {
	return spec == "." || spec == ".." || strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../")
}

func hasSegment(p, segment string) bool {
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == segment {
			return true
		}
	}
	return false
}
