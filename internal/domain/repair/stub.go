package repair

import (
	"fmt"
	"regexp"
	"strings"
)

// StubRule renders one export of a generated stub module.
type StubRule struct {
	Name   string
	Match  func(ident string) bool
	Render func(ident string) string
}

var (
	allCaps    = regexp.MustCompile(`^[A-Z][A-Z0-9_]+$`)
	pascalCase = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)
)

// hasVerbPrefix matches e.g. "isReady" for prefix "is" but not "island".
func hasVerbPrefix(ident, prefix string) bool {
	if !strings.HasPrefix(ident, prefix) || len(ident) == len(prefix) {
		return false
	}
	next := ident[len(prefix)]
	return next >= 'A' && next <= 'Z'
}

// StubRules is the ordered rule set; the first match wins.
var StubRules = []StubRule{
	{
		Name: "predicate",
		Match: func(s string) bool {
			return hasVerbPrefix(s, "is") || hasVerbPrefix(s, "has") || hasVerbPrefix(s, "can")
		},
		Render: func(s string) string { return fmt.Sprintf("export const %s = () => false;", s) },
	},
	{
		Name:   "getter",
		Match:  func(s string) bool { return hasVerbPrefix(s, "get") },
		Render: func(s string) string { return fmt.Sprintf("export const %s = () => ({});", s) },
	},
	{
		Name:   "detector",
		Match:  func(s string) bool { return hasVerbPrefix(s, "detect") },
		Render: func(s string) string { return fmt.Sprintf("export const %s = () => ({});", s) },
	},
	{
		Name:   "constant",
		Match:  allCaps.MatchString,
		Render: func(s string) string { return fmt.Sprintf("export const %s = [];", s) },
	},
	{
		Name:   "class",
		Match:  pascalCase.MatchString,
		Render: func(s string) string { return fmt.Sprintf("export class %s {}", s) },
	},
	{
		Name:   "function",
		Match:  func(string) bool { return true },
		Render: func(s string) string { return fmt.Sprintf("export const %s = () => {};", s) },
	},
}

// StubLine renders the export line for one imported name.
func StubLine(ident string) string {
	for _, rule := range StubRules {
		if rule.Match(ident) {
			return rule.Render(ident)
		}
	}
	return ""
}

// GenerateStub renders a stub module for specifier exporting every name.
// Names are emitted in the order given; callers pass ExtractImportNames output.
func GenerateStub(specifier string, names []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "// exthost: generated stub for %q\n", specifier)
	for _, name := range names {
		b.WriteString(StubLine(name))
		b.WriteByte('\n')
	}
	return b.String()
}

// GeneratePackageStub renders a stub for a missing npm package. It also
// exports an empty default object so default imports resolve.
func GeneratePackageStub(pkg string, names []string) string {
	return GenerateStub(pkg, names) + "export default {};\n"
}

// PackageName returns the npm package portion of a bare specifier:
// "lodash/fp" -> "lodash", "@scope/pkg/sub" -> "@scope/pkg".
func PackageName(spec string) string {
	parts := strings.Split(spec, "/")
	if strings.HasPrefix(spec, "@") && len(parts) > 1 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}
