package capabilities

import (
	"testing"
)

// FuzzHostMatching checks host matching never panics and keeps its basic laws.
func FuzzHostMatching(f *testing.F) {
	seeds := []struct{ request, pattern string }{
		{"api.github.com", "*.github.com"},
		{"github.com", "*.github.com"},
		{"api.github.com:443", "api.github.com"},
		{"", ""},
		{":", "*."},
		{"a", "*"},
	}
	for _, s := range seeds {
		f.Add(s.request, s.pattern)
	}

	f.Fuzz(func(t *testing.T, request, pattern string) {
		if matchHost(request, "*") != true {
			t.Fatalf("universal pattern must match %q", request)
		}
		_ = matchHost(request, pattern)
		_ = matchPattern(request, pattern)
	})
}
