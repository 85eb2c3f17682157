package repair

import (
	"path/filepath"
	"strings"
)

var assetFallbacks = map[string]string{
	".html": "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"></head><body></body></html>\n",
	".htm":  "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"></head><body></body></html>\n",
	".css":  "/* exthost: fallback stylesheet */\n",
	".js":   "// exthost: fallback module\nexport default {};\n",
	".mjs":  "// exthost: fallback module\nexport default {};\n",
	".cjs":  "// exthost: fallback module\nmodule.exports = {};\n",
	".svg":  "<svg xmlns=\"http://www.w3.org/2000/svg\"/>\n",
	".txt":  "\n",
	".md":   "\n",
}

// FallbackContent returns synthetic content for a missing asset, keyed by
// file extension. JSON never gets a fallback: config-shaped assets must fail
// with the original not-found error.
func FallbackContent(path string) ([]byte, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		return nil, false
	}
	content, ok := assetFallbacks[ext]
	if !ok {
		return nil, false
	}
	return []byte(content), true
}
