// Package redaction scrubs secrets from text and structured values before
// they reach an extension, a log line or the repair event store.
package redaction

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
)

const marker = "[REDACTED]"

// Config configures a Redactor.
type Config struct {
	// Patterns are extra regular expressions to redact.
	Patterns []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	// Paths are object keys whose string values are always redacted, e.g.
	// "headers.authorization" or just "password" for any depth.
	Paths []string `yaml:"paths,omitempty" json:"paths,omitempty"`
	// HashMode replaces secrets with a salted HMAC prefix instead of the marker.
	HashMode bool   `yaml:"hash_mode" json:"hash_mode"`
	Salt     string `yaml:"salt,omitempty" json:"salt,omitempty"`
	// DisableGitleaks skips the gitleaks rule set and uses only regex patterns.
	DisableGitleaks bool `yaml:"disable_gitleaks" json:"disable_gitleaks"`
}

// Redactor is safe for concurrent use. Its configuration is read-only after
// New; tracked values may be added at any time.
type Redactor struct {
	patterns []*regexp.Regexp
	paths    []string
	hashMode bool
	salt     string

	// nil when disabled or when the rule set failed to load
	gitleaksDetector *detect.Detector

	tracked *Provider
}

// New creates a Redactor.
func New(cfg Config) (*Redactor, error) {
	r := &Redactor{
		paths:    cfg.Paths,
		hashMode: cfg.HashMode,
		salt:     cfg.Salt,
		patterns: make([]*regexp.Regexp, 0, len(cfg.Patterns)+len(defaultPatterns)),
		tracked:  NewProvider(),
	}

	if !cfg.DisableGitleaks {
		detector, err := newGitleaksDetector()
		if err != nil {
			slog.Warn("gitleaks rules unavailable, using regex patterns only", "error", err)
		} else {
			r.gitleaksDetector = detector
		}
	}

	for _, p := range append(append([]string(nil), defaultPatterns...), cfg.Patterns...) {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile pattern %s: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}

	return r, nil
}

func newGitleaksDetector() (*detect.Detector, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(strings.NewReader(config.DefaultConfig)); err != nil {
		return nil, fmt.Errorf("failed to read gitleaks config: %w", err)
	}

	var vc config.ViperConfig
	if err := v.Unmarshal(&vc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gitleaks config: %w", err)
	}

	cfg, err := vc.Translate()
	if err != nil {
		return nil, fmt.Errorf("failed to translate gitleaks config: %w", err)
	}

	return detect.NewDetector(cfg), nil
}

// Track registers a literal value, such as a token an extension sent in an
// http header, to be redacted wherever it appears later.
func (r *Redactor) Track(value string) {
	r.tracked.Track(value)
}

// Provider exposes the tracked-value registry.
func (r *Redactor) Provider() *Provider {
	return r.tracked
}

// ScrubString replaces tracked values, gitleaks findings and pattern
// matches in input.
func (r *Redactor) ScrubString(input string) string {
	if input == "" {
		return ""
	}

	result := input
	for _, v := range r.tracked.AllValues() {
		if strings.Contains(result, v) {
			result = strings.ReplaceAll(result, v, r.replacement(v))
		}
	}

	if r.gitleaksDetector != nil {
		for _, finding := range r.gitleaksDetector.Detect(detect.Fragment{Raw: result}) {
			if finding.Secret == "" {
				continue
			}
			result = strings.ReplaceAll(result, finding.Secret, r.replacement(finding.Secret))
		}
	}

	for _, re := range r.patterns {
		result = re.ReplaceAllStringFunc(result, r.replacement)
	}

	return result
}

func (r *Redactor) replacement(secret string) string {
	if r.hashMode {
		return r.hash(secret)
	}
	return marker
}

// Redact walks a decoded JSON-like value, scrubbing strings and fully
// redacting values under configured paths. Maps and slices are modified in
// place.
func (r *Redactor) Redact(data any) any {
	return r.walk(data, "")
}

// RedactJSON scrubs a JSON document. Input that does not decode is
// scrubbed as text.
func (r *Redactor) RedactJSON(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return raw
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return json.RawMessage(r.ScrubString(string(raw)))
	}
	out, err := json.Marshal(r.walk(v, ""))
	if err != nil {
		return json.RawMessage(r.ScrubString(string(raw)))
	}
	return out
}

// SafeError returns err with its message scrubbed. An error that needs no
// scrubbing is returned unchanged so its type survives.
func (r *Redactor) SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	scrubbed := r.ScrubString(msg)
	if scrubbed == msg {
		return err
	}
	return fmt.Errorf("%s", scrubbed)
}

func (r *Redactor) walk(data any, currentPath string) any {
	switch v := data.(type) {
	case string:
		if r.isPathMatch(currentPath) {
			return r.replacement(v)
		}
		return r.ScrubString(v)

	case map[string]any:
		for k, val := range v {
			nextPath := k
			if currentPath != "" {
				nextPath = currentPath + "." + k
			}
			v[k] = r.walk(val, nextPath)
		}
		return v

	case []any:
		// Array items share their parent's path.
		for i, val := range v {
			v[i] = r.walk(val, currentPath)
		}
		return v

	default:
		return v
	}
}

// isPathMatch matches exactly or on a dotted suffix, case-insensitively.
func (r *Redactor) isPathMatch(path string) bool {
	if path == "" {
		return false
	}
	lower := strings.ToLower(path)
	for _, p := range r.paths {
		p = strings.ToLower(p)
		if p == lower || strings.HasSuffix(lower, "."+p) {
			return true
		}
	}
	return false
}

// hash returns "[hmac:<16 hex chars>]" keyed by the salt, so equal secrets
// correlate without being recoverable.
func (r *Redactor) hash(secret string) string {
	mac := hmac.New(sha256.New, []byte(r.salt))
	mac.Write([]byte(secret))
	return fmt.Sprintf("[hmac:%s]", hex.EncodeToString(mac.Sum(nil))[:16])
}

// defaultPatterns cover high-confidence secret shapes when gitleaks is off.
var defaultPatterns = []string{
	// AWS access key id
	`\b((?:AKIA|ABIA|ACCA|ASIA)[0-9A-Z]{16})\b`,
	`-----BEGIN [A-Z ]+ PRIVATE KEY-----`,
	// GitHub token
	`gh[pousr]_[A-Za-z0-9_]{36,255}`,
	// Slack token
	`xox[baprs]-([0-9a-zA-Z]{10,48})?`,
	// Anthropic and OpenAI style API keys
	`sk-(?:ant-)?[A-Za-z0-9_-]{20,}`,
}
