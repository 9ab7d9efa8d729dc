package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/calai/calai/internal/logging"
	"github.com/calai/calai/internal/nutrition"
)

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 30 * time.Second

// Fallback reasons logged when the placeholder payload is substituted.
const (
	FallbackUnconfigured = "unconfigured"
	FallbackProvider     = "provider"
	FallbackTimeout      = "timeout"
)

// Resilient wraps a Backend so Analyze never fails: missing credentials,
// provider errors and timeouts all yield the placeholder payload. Every
// substitution is logged with a fallback reason.
type Resilient struct {
	inner   Backend
	log     logrus.FieldLogger
	timeout time.Duration
}

// NewResilient wraps inner. A non-positive timeout uses DefaultTimeout and a
// nil logger discards output.
func NewResilient(inner Backend, log logrus.FieldLogger, timeout time.Duration) *Resilient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Resilient{inner: inner, log: log, timeout: timeout}
}

// Info reports the wrapped backend's metadata.
func (r *Resilient) Info() ModelInfo { return r.inner.Info() }

// Analyze returns the model's raw output, or the placeholder payload when no
// usable output could be obtained. The returned error is always nil.
func (r *Resilient) Analyze(ctx context.Context, prompt string) (string, error) {
	info := r.inner.Info()
	fields := logrus.Fields{"provider": info.Provider, "model": info.Model}

	if !info.Configured {
		r.log.WithFields(fields).WithField("fallback", FallbackUnconfigured).
			Warn("model credentials missing, using placeholder analysis")
		return nutrition.PlaceholderPayload(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	out, err := r.inner.Analyze(ctx, prompt)
	fields["elapsed"] = time.Since(start).Round(time.Millisecond).String()
	if err != nil {
		reason := FallbackProvider
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = FallbackTimeout
		}
		r.log.WithFields(fields).WithField("fallback", reason).WithError(err).
			Warn("model call failed, using placeholder analysis")
		return nutrition.PlaceholderPayload(), nil
	}

	r.log.WithFields(fields).WithField("bytes", len(out)).Debug("model call completed")
	return out, nil
}
