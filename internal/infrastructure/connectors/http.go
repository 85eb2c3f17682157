// Package connectors implements the outbound hostcall surfaces: HTTP and UI
// notifications.
package connectors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/reglet-dev/exthost/internal/application/errors"
	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/domain/capabilities"
	"github.com/reglet-dev/exthost/internal/domain/hostcall"
	"github.com/reglet-dev/exthost/internal/domain/values"
	"github.com/reglet-dev/exthost/internal/infrastructure/engine"
	"github.com/reglet-dev/exthost/internal/version"
)

const maxRedirects = 10

// GrantLookup returns the capabilities granted to an extension.
type GrantLookup interface {
	Granted(ext values.ExtensionID) []capabilities.Capability
}

// HTTPOptions tunes an HTTPConnector.
type HTTPOptions struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	// Retries is how many times a transient transport failure is retried.
	Retries int
	Backoff engine.BackoffType
	// InitialDelay and MaxDelay shape the retry backoff.
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// HTTPOption configures an HTTPConnector.
type HTTPOption func(*HTTPConnector)

// WithHTTPClient replaces the underlying client. Its CheckRedirect is
// overwritten so redirects stay within the extension's grants.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPConnector) { h.client = c }
}

// WithSecrets expands ${secret:NAME} placeholders in request headers.
func WithSecrets(r ports.SecretResolver) HTTPOption {
	return func(h *HTTPConnector) { h.secrets = r }
}

// WithSensitiveValues tracks credential headers for redaction.
func WithSensitiveValues(p ports.SensitiveValueProvider) HTTPOption {
	return func(h *HTTPConnector) { h.sensitive = p }
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTPConnector) { h.logger = l }
}

// HTTPConnector implements ports.HTTPConnector. Every request, and every
// redirect hop, must be covered by an http capability for its host.
type HTTPConnector struct {
	client    *http.Client
	grants    GrantLookup
	policy    *capabilities.Policy
	clock     ports.Clock
	secrets   ports.SecretResolver
	sensitive ports.SensitiveValueProvider
	opts      HTTPOptions
	logger    *slog.Logger
}

// NewHTTPConnector creates a connector.
func NewHTTPConnector(grants GrantLookup, clock ports.Clock, opts HTTPOptions, options ...HTTPOption) *HTTPConnector {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	if opts.Backoff == "" {
		opts.Backoff = engine.BackoffExponential
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 100 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 2 * time.Second
	}

	h := &HTTPConnector{
		client: &http.Client{},
		grants: grants,
		policy: capabilities.NewPolicy(),
		clock:  clock,
		opts:   opts,
		logger: slog.Default(),
	}
	for _, o := range options {
		o(h)
	}
	return h
}

type extensionKey struct{}

// Do performs req for ext.
func (h *HTTPConnector) Do(ctx context.Context, ext values.ExtensionID, req ports.HTTPRequest) (ports.HTTPResponse, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return ports.HTTPResponse{}, apperrors.NewHostcallError(hostcall.CodeInvalidRequest, fmt.Sprintf("Invalid http payload: bad url: %v", err), err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return ports.HTTPResponse{}, apperrors.NewHostcallError(hostcall.CodeInvalidRequest, fmt.Sprintf("Invalid http payload: unsupported scheme %q", target.Scheme), nil)
	}
	if err := h.checkHost(ext, target); err != nil {
		return ports.HTTPResponse{}, err
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	headers, err := h.headers(req.Headers)
	if err != nil {
		return ports.HTTPResponse{}, err
	}

	timeout := h.opts.Timeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx = context.WithValue(ctx, extensionKey{}, ext)

	client := *h.client
	client.CheckRedirect = h.checkRedirect

	var lastErr error
	for attempt := 0; attempt <= h.opts.Retries; attempt++ {
		if attempt > 0 {
			delay := engine.RetryConfig{Backoff: h.opts.Backoff, InitialDelay: h.opts.InitialDelay, MaxDelay: h.opts.MaxDelay}.Delay(attempt - 1)
			h.logger.Debug("retrying http request", "extension", ext.String(), "attempt", attempt, "delay", delay, "error", lastErr)
			if err := h.clock.Sleep(ctx, delay); err != nil {
				return ports.HTTPResponse{}, lastErr
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader([]byte(req.Body)))
		if err != nil {
			return ports.HTTPResponse{}, apperrors.NewHostcallError(hostcall.CodeInvalidRequest, fmt.Sprintf("Invalid http payload: %v", err), err)
		}
		httpReq.Header = headers.Clone()

		resp, err := client.Do(httpReq)
		if err != nil {
			lastErr = err
			var capErr *apperrors.CapabilityError
			if errors.As(err, &capErr) || !engine.IsTransientError(err) {
				break
			}
			continue
		}
		return h.read(resp)
	}

	var capErr *apperrors.CapabilityError
	if errors.As(lastErr, &capErr) {
		return ports.HTTPResponse{}, capErr
	}
	return ports.HTTPResponse{}, fmt.Errorf("http request failed: %w", lastErr)
}

func (h *HTTPConnector) checkHost(ext values.ExtensionID, u *url.URL) error {
	host := u.Hostname()
	required := capabilities.Capability{Kind: capabilities.KindHTTP, Pattern: host}
	if h.policy.IsGranted(required, h.grants.Granted(ext)) {
		return nil
	}
	h.logger.Warn("http request denied", "extension", ext.String(), "host", host)
	return apperrors.NewCapabilityError("Capability not granted: "+required.String(), []capabilities.Capability{required})
}

func (h *HTTPConnector) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	ext, ok := req.Context().Value(extensionKey{}).(values.ExtensionID)
	if !ok {
		return errors.New("redirect without extension context")
	}
	return h.checkHost(ext, req.URL)
}

// headers builds the outgoing header set. Secret placeholders are expanded
// and credential values are tracked so they never echo back verbatim.
func (h *HTTPConnector) headers(in map[string]string) (http.Header, error) {
	out := make(http.Header, len(in)+1)
	out.Set("User-Agent", version.Get().UserAgent())
	for k, v := range in {
		if h.secrets != nil {
			expanded, err := h.secrets.Expand(v)
			if err != nil {
				return nil, apperrors.NewHostcallError(hostcall.CodeInvalidRequest, fmt.Sprintf("Invalid http payload: header %s: %v", k, err), err)
			}
			v = expanded
		}
		if h.sensitive != nil && isCredentialHeader(k) {
			h.sensitive.Track(v)
		}
		out.Set(k, v)
	}
	return out, nil
}

func isCredentialHeader(name string) bool {
	switch strings.ToLower(name) {
	case "authorization", "proxy-authorization", "cookie", "x-api-key":
		return true
	}
	return false
}

func (h *HTTPConnector) read(resp *http.Response) (ports.HTTPResponse, error) {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.opts.MaxBodyBytes+1))
	if err != nil {
		return ports.HTTPResponse{}, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(body)) > h.opts.MaxBodyBytes {
		return ports.HTTPResponse{}, fmt.Errorf("response body exceeds %d bytes", h.opts.MaxBodyBytes)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[strings.ToLower(k)] = resp.Header.Get(k)
	}
	return ports.HTTPResponse{Status: resp.StatusCode, Headers: headers, Body: string(body)}, nil
}
