package repair

import (
	"regexp"
	"sort"
	"strings"
)

var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// ExtractImportNames returns the sorted, de-duplicated names a module imports
// from specifier, across `import { a, b as c } from "spec"` and
// `const { x, y: z } = require("spec")`. Names are the exported names, not
// local aliases.
func ExtractImportNames(source, specifier string) []string {
	quoted := `["']` + regexp.QuoteMeta(specifier) + `["']`
	esm := regexp.MustCompile(`import\s*(?:type\s+)?(?:[A-Za-z_$][\w$]*\s*,\s*)?\{([^}]*)\}\s*from\s*` + quoted)
	cjs := regexp.MustCompile(`(?:const|let|var)\s*\{([^}]*)\}\s*=\s*require\(\s*` + quoted + `\s*\)`)

	seen := make(map[string]bool)
	collect := func(list, aliasSep string) {
		for _, part := range strings.Split(list, ",") {
			name := strings.TrimSpace(part)
			name = strings.TrimPrefix(name, "type ")
			if i := strings.Index(name, aliasSep); i >= 0 {
				name = name[:i]
			}
			name = strings.TrimSpace(name)
			if identifier.MatchString(name) && name != "default" {
				seen[name] = true
			}
		}
	}

	for _, m := range esm.FindAllStringSubmatch(source, -1) {
		collect(m[1], " as ")
	}
	for _, m := range cjs.FindAllStringSubmatch(source, -1) {
		collect(m[1], ":")
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
