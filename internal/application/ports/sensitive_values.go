package ports

// SensitiveValueProvider tracks values that must never reach an extension,
// a log line or the repair event store verbatim.
type SensitiveValueProvider interface {
	// Track registers a sensitive value to be redacted.
	Track(value string)

	// AllValues returns all tracked sensitive values.
	AllValues() []string
}

// SecretResolver resolves named secrets for hostcalls.
type SecretResolver interface {
	Resolve(name string) (string, error)
	// Expand replaces ${secret:NAME} placeholders in s.
	Expand(s string) (string, error)
}
