// Package governor paces outbound provider requests. One gate per provider
// enforces a fixed minimum interval between consecutive requests and carries
// penalty deadlines imposed by rate-limit responses, so every harvest loop
// sharing a provider shares its budget.
package governor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/revharvest/revharvest/internal/apperr"
)

const (
	// defaultPenalty is applied when a rate-limit response carries no usable
	// Retry-After value.
	defaultPenalty = 5 * time.Second
	// maxPenalty caps the wait honoured from any single rate-limit response.
	maxPenalty = 60 * time.Second

	// transientBase is the backoff after the first transient failure; it
	// doubles per attempt up to transientCap.
	transientBase = 1 * time.Second
	transientCap  = 30 * time.Second
)

// gate is the pacing state for one provider. The limiter spaces regular
// requests; notBefore carries penalty deadlines, which stack on top of the
// limiter's own delay.
type gate struct {
	limiter *rate.Limiter

	mu        sync.Mutex
	notBefore time.Time
}

// Governor holds one gate per registered provider.
type Governor struct {
	logger *slog.Logger

	mu    sync.RWMutex
	gates map[string]*gate
}

// New creates an empty Governor.
func New(logger *slog.Logger) *Governor {
	return &Governor{
		logger: logger,
		gates:  make(map[string]*gate),
	}
}

// Register creates the gate for a provider at the given request rate. Burst
// is fixed at one so requests are evenly spaced, never bunched. Registering
// the same provider again replaces its gate.
func (g *Governor) Register(name string, rps float64) {
	if rps <= 0 {
		rps = 1
	}
	g.mu.Lock()
	g.gates[name] = &gate{limiter: rate.NewLimiter(rate.Limit(rps), 1)}
	g.mu.Unlock()
}

// Wait blocks until the named provider's next request is permitted. The wait
// is the longer of the limiter's spacing delay and any penalty deadline.
// Returns ctx.Err() if the context is cancelled before the permit is granted.
func (g *Governor) Wait(ctx context.Context, name string) error {
	gt, err := g.gate(name)
	if err != nil {
		return err
	}

	res := gt.limiter.Reserve()
	if !res.OK() {
		return ctx.Err()
	}
	delay := res.Delay()

	gt.mu.Lock()
	if until := time.Until(gt.notBefore); until > delay {
		delay = until
	}
	gt.mu.Unlock()

	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		res.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Penalize pushes the provider's next permit out by retryAfter, typically the
// value a 429 response carried. Non-positive values fall back to
// defaultPenalty and anything above maxPenalty is clamped. The effective
// penalty is returned so callers can surface the wait instead of going
// silent.
func (g *Governor) Penalize(name string, retryAfter time.Duration) time.Duration {
	if retryAfter <= 0 {
		retryAfter = defaultPenalty
	}
	retryAfter = min(retryAfter, maxPenalty)
	g.postpone(name, retryAfter)
	g.logger.Debug("provider penalized", "provider", name, "retry_after", retryAfter)
	return retryAfter
}

// PenalizeTransient applies exponential backoff after a transient failure.
// attempt counts failures so far for the current page, starting at zero.
func (g *Governor) PenalizeTransient(name string, attempt int) time.Duration {
	backoff := transientBase << min(max(attempt, 0), 10)
	backoff = min(backoff, transientCap)
	g.postpone(name, backoff)
	g.logger.Debug("provider backing off", "provider", name, "attempt", attempt, "backoff", backoff)
	return backoff
}

// NextPermit reports the provider's current penalty deadline. The zero time
// means no penalty is pending; the limiter's own spacing is not included.
func (g *Governor) NextPermit(name string) time.Time {
	gt, err := g.gate(name)
	if err != nil {
		return time.Time{}
	}
	gt.mu.Lock()
	defer gt.mu.Unlock()
	return gt.notBefore
}

// postpone moves the gate's penalty deadline forward, never backward.
func (g *Governor) postpone(name string, d time.Duration) {
	gt, err := g.gate(name)
	if err != nil {
		return
	}
	nb := time.Now().Add(d)
	gt.mu.Lock()
	if nb.After(gt.notBefore) {
		gt.notBefore = nb
	}
	gt.mu.Unlock()
}

func (g *Governor) gate(name string) (*gate, error) {
	g.mu.RLock()
	gt, ok := g.gates[name]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no gate registered for provider %q", apperr.ErrInvalidInput, name)
	}
	return gt, nil
}
