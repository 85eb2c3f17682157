package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/reglet-dev/exthost/internal/application/ports"
	"github.com/reglet-dev/exthost/internal/domain/capabilities"
	"github.com/reglet-dev/exthost/internal/domain/hostcall"
	"github.com/reglet-dev/exthost/internal/domain/values"
)

// Recover converts a handler panic into an internal outcome.
func Recover(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req hostcall.Request) (out hostcall.Outcome) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("hostcall handler panicked",
						"call_id", req.CallID.String(),
						"extension", req.ExtensionID.String(),
						"kind", req.Kind.String(),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					out = hostcall.Failuref(hostcall.CodeInternal, "Hostcall handler panicked: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// GrantLookup returns the capabilities granted to an extension.
type GrantLookup interface {
	Granted(ext values.ExtensionID) []capabilities.Capability
}

// RequireCapabilities denies hostcalls whose kind needs a capability the
// extension does not hold. HTTP is checked per destination by the connector.
func RequireCapabilities(grants GrantLookup, policy *capabilities.Policy) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req hostcall.Request) hostcall.Outcome {
			required, ok := hostcall.RequiredCapability(req.Kind)
			if ok && !policy.IsGranted(required, grants.Granted(req.ExtensionID)) {
				return hostcall.Failuref(hostcall.CodeDenied, "Capability not granted: %s", required)
			}
			return next(ctx, req)
		}
	}
}

// RedactOutcomes scrubs secrets from error messages and success values.
// A success value that no longer parses after scrubbing is replaced by an
// internal failure rather than delivered half-redacted.
func RedactOutcomes(r ports.Redactor) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req hostcall.Request) hostcall.Outcome {
			out := next(ctx, req)
			if !out.IsSuccess() {
				return out.WithMessage(r.ScrubString(out.Error().Message))
			}

			raw := out.Value()
			scrubbed := r.ScrubString(string(raw))
			if scrubbed == string(raw) {
				return out
			}
			if !json.Valid([]byte(scrubbed)) {
				return hostcall.Failure(hostcall.CodeInternal, "Serialize tool output: redaction produced invalid JSON")
			}
			return hostcall.Success(json.RawMessage(scrubbed))
		}
	}
}

// LogCalls logs each hostcall at debug level with its duration and code.
func LogCalls(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req hostcall.Request) hostcall.Outcome {
			start := time.Now()
			out := next(ctx, req)
			attrs := []any{
				"call_id", req.CallID.String(),
				"extension", req.ExtensionID.String(),
				"kind", req.Kind.String(),
				"duration", time.Since(start),
			}
			if !out.IsSuccess() {
				attrs = append(attrs, "code", out.Code())
			}
			logger.Debug("hostcall dispatched", attrs...)
			return out
		}
	}
}

// RecordStats counts each hostcall in stats.
func RecordStats(stats *HostcallStats) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req hostcall.Request) hostcall.Outcome {
			out := next(ctx, req)
			stats.Record(req.ExtensionID, req.Kind.Name(), out.Code())
			return out
		}
	}
}

