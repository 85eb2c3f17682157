package repair

import (
	"fmt"
	"regexp"
)

// Shape is the way an entry module exposes its activation function.
type Shape int

const (
	ShapeUnknown Shape = iota
	// ShapeDefaultFunction is the canonical form: export default function(api) {}.
	ShapeDefaultFunction
	// ShapeDoubleDefault: export default { default: fn }.
	ShapeDoubleDefault
	// ShapeNamedActivate: export function activate(api) {}.
	ShapeNamedActivate
	// ShapeObjectActivate: export default { activate(api) {} }.
	ShapeObjectActivate
)

func (s Shape) String() string {
	switch s {
	case ShapeDefaultFunction:
		return "default_function"
	case ShapeDoubleDefault:
		return "double_default"
	case ShapeNamedActivate:
		return "named_activate"
	case ShapeObjectActivate:
		return "object_activate"
	default:
		return "unknown"
	}
}

var (
	doubleDefault   = regexp.MustCompile(`export\s+default\s*\{\s*default\s*:`)
	objectActivate  = regexp.MustCompile(`export\s+default\s*\{[^}]*?\bactivate\s*(?:\(|:)`)
	namedActivate   = regexp.MustCompile(`export\s+(?:async\s+)?function\s+activate\b|export\s+(?:const|let|var)\s+activate\b|export\s*\{[^}]*\bactivate\b[^}]*\}`)
	defaultFunction = regexp.MustCompile(`export\s+default\s+(?:async\s+)?(?:function\b|\(|[A-Za-z_$][\w$]*\s*=>|class\b)`)
	defaultIdent    = regexp.MustCompile(`(?m)export\s+default\s+([A-Za-z_$][\w$]*)\s*;?\s*$`)
)

// bindingShape reports the shape of the value bound to ident, or
// ShapeUnknown when the binding is not in source.
func bindingShape(source, ident string) Shape {
	id := regexp.QuoteMeta(ident)
	decl := `(?:const|let|var)\s+` + id + `\s*=\s*`
	switch {
	case regexp.MustCompile(decl + `\{\s*default\s*:`).MatchString(source):
		return ShapeDoubleDefault
	case regexp.MustCompile(decl + `\{[^}]*?\bactivate\s*(?:\(|:)`).MatchString(source):
		return ShapeObjectActivate
	case regexp.MustCompile(decl + `(?:async\s+)?(?:function\b|\(|[A-Za-z_$][\w$]*\s*=>)`).MatchString(source),
		regexp.MustCompile(`(?:^|[\s;])(?:async\s+)?(?:function|class)\s+` + id + `\b`).MatchString(source):
		return ShapeDefaultFunction
	default:
		return ShapeUnknown
	}
}

// DetectShape inspects entry source for the activation export convention.
// More specific shapes are checked first. A default-exported identifier takes
// the shape of its binding.
func DetectShape(source string) Shape {
	if m := defaultIdent.FindStringSubmatch(source); m != nil {
		if shape := bindingShape(source, m[1]); shape != ShapeUnknown {
			return shape
		}
	}
	switch {
	case doubleDefault.MatchString(source):
		return ShapeDoubleDefault
	case objectActivate.MatchString(source):
		return ShapeObjectActivate
	case defaultFunction.MatchString(source):
		return ShapeDefaultFunction
	case namedActivate.MatchString(source):
		return ShapeNamedActivate
	default:
		return ShapeUnknown
	}
}

// CanonicalEntry renders a wrapper module whose default export is the single
// callable activation entry point for an entry of the given shape.
func CanonicalEntry(entrySpecifier string, shape Shape) (string, error) {
	var accessor string
	switch shape {
	case ShapeDoubleDefault:
		accessor = "entry.default.default"
	case ShapeNamedActivate:
		accessor = "entry.activate"
	case ShapeObjectActivate:
		accessor = "entry.default.activate.bind(entry.default)"
	case ShapeDefaultFunction:
		return "", fmt.Errorf("%w: entry already exports a default function", ErrNoRepair)
	default:
		return "", fmt.Errorf("%w: no recognised activation export", ErrNoRepair)
	}

	return fmt.Sprintf(`// exthost: canonical entry for %q (%s)
import * as entry from %q;
const activate = %s;
export default function (api) {
  return activate(api);
}
`, entrySpecifier, shape, entrySpecifier, accessor), nil
}
