// Package expiry verifies registry expiry dates and grace-period availability.
package expiry

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/keenturbo/dropradar/internal/config"
	"github.com/keenturbo/dropradar/internal/logger"
	"github.com/keenturbo/dropradar/internal/metrics"
)

// ErrNoExpiry means the registry answered without a usable expiry date.
var ErrNoExpiry = errors.New("no expiry date in registry response")

// Lookup returns the registry expiry date of a domain.
type Lookup interface {
	Expiry(ctx context.Context, name string) (time.Time, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, name string) (time.Time, error)

func (f LookupFunc) Expiry(ctx context.Context, name string) (time.Time, error) {
	return f(ctx, name)
}

// Result is the outcome of one verification. When Error is set both booleans
// are false and the domain must be treated as unverified, not as live.
type Result struct {
	RealExpiry  *time.Time
	IsExpired   bool
	IsAvailable bool
	Error       string
}

// Config holds verifier settings.
type Config struct {
	GracePeriod time.Duration
	Delay       time.Duration
}

func ConfigFrom(c config.ExpiryConfig) Config {
	return Config{GracePeriod: c.GracePeriod, Delay: c.Delay}
}

// Verifier checks one domain at a time, paced by Delay.
type Verifier struct {
	lookup  Lookup
	cfg     Config
	limiter *rate.Limiter
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Verifier)

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func New(lookup Lookup, cfg Config, opts ...Option) *Verifier {
	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}
	v := &Verifier{
		lookup:  lookup,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify looks up name and evaluates it against the grace period. Lookup
// failures are reported in Result.Error, never returned.
func (v *Verifier) Verify(ctx context.Context, name string) Result {
	if err := v.limiter.Wait(ctx); err != nil {
		return Result{Error: err.Error()}
	}

	exp, err := v.lookup.Expiry(ctx, name)
	if err == nil && exp.IsZero() {
		err = ErrNoExpiry
	}
	if err != nil {
		v.metrics.WhoisLookup("error")
		logger.Debug("Expiry lookup for %s failed: %v", name, err)
		return Result{Error: err.Error()}
	}

	isExpired, isAvailable := Evaluate(exp, v.now(), v.cfg.GracePeriod)
	switch {
	case isAvailable:
		v.metrics.WhoisLookup("available")
	case isExpired:
		v.metrics.WhoisLookup("grace")
	default:
		v.metrics.WhoisLookup("active")
	}
	return Result{RealExpiry: &exp, IsExpired: isExpired, IsAvailable: isAvailable}
}

// Evaluate reports whether expiry has passed and whether the grace period
// after it has fully elapsed.
func Evaluate(expiry, now time.Time, grace time.Duration) (isExpired, isAvailable bool) {
	isExpired = expiry.Before(now)
	isAvailable = isExpired && now.Sub(expiry) > grace
	return isExpired, isAvailable
}
