// Package breaker implements C4: a per-provider-key circuit breaker built
// on sony/gobreaker, matching the closed/open/half_open state machine and
// the admin force-open/reset operations of spec.md §4.4.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
	"github.com/bin2nlp/bin2nlp/pkg/config"
	"github.com/bin2nlp/bin2nlp/pkg/log"
	"github.com/bin2nlp/bin2nlp/pkg/models"
)

// Registry lazily materializes one gobreaker.CircuitBreaker per provider
// key the first time it sees traffic for that key, per spec.md §4.4 ("a
// breaker that has never seen traffic is not materialized").
type Registry struct {
	cfg config.CircuitBreakerConfig

	mu        sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
	openedAt  map[string]time.Time
	forced    map[string]bool
}

// NewRegistry builds an empty breaker registry tuned by cfg.
func NewRegistry(cfg config.CircuitBreakerConfig) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		openedAt: make(map[string]time.Time),
		forced:   make(map[string]bool),
	}
}

func (r *Registry) getOrCreate(key string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[key]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name: key,
		// gobreaker has no separate "consecutive successes required to
		// close" knob: MaxRequests caps how many probe requests are let
		// through while half-open, and a half-open breaker closes as soon
		// as any of those probes all succeed. With ProbeLimit=1 that means
		// one successful probe closes the breaker, not cfg.SuccessThreshold
		// consecutive successes. There's no gobreaker setting that encodes
		// SuccessThreshold directly.
		MaxRequests: r.cfg.ProbeLimit,
		Interval:    time.Duration(r.cfg.WindowSeconds) * time.Second,
		Timeout:     time.Duration(r.cfg.CoolDownSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.mu.Lock()
			if to == gobreaker.StateOpen {
				r.openedAt[name] = time.Now().UTC()
			} else if to == gobreaker.StateClosed {
				delete(r.openedAt, name)
				delete(r.forced, name)
			}
			r.mu.Unlock()
			log.WithProviderKey(name).Info().
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}
	cb := gobreaker.NewCircuitBreaker(settings)
	r.breakers[key] = cb
	return cb
}

// Execute runs fn through the breaker for key, translating gobreaker's
// open-circuit error into apperr.KindCircuitOpen so C6 can distinguish it
// from a genuine provider failure (spec §4.4/§7).
func (r *Registry) Execute(ctx context.Context, key string, fn func(context.Context) error) error {
	cb := r.getOrCreate(key)
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.New(apperr.KindCircuitOpen, "circuit open for "+key)
	}
	return err
}

// Snapshots returns the current observable state of every breaker that
// has been materialized, for the admin surface and the alert poller.
func (r *Registry) Snapshots() []*models.CircuitBreakerSnapshot {
	r.mu.Lock()
	keys := make([]string, 0, len(r.breakers))
	for key := range r.breakers {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	out := make([]*models.CircuitBreakerSnapshot, 0, len(keys))
	for _, key := range keys {
		if snap := r.Snapshot(key); snap != nil {
			out = append(out, snap)
		}
	}
	return out
}

// Snapshot returns the current observable state of the breaker for key,
// or nil if no breaker has been materialized for it yet.
func (r *Registry) Snapshot(key string) *models.CircuitBreakerSnapshot {
	r.mu.Lock()
	cb, ok := r.breakers[key]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	var opened *time.Time
	if t, ok := r.openedAt[key]; ok {
		tt := t
		opened = &tt
	}
	r.mu.Unlock()

	state, counts := cb.State(), cb.Counts()
	return &models.CircuitBreakerSnapshot{
		ProviderKey:          key,
		State:                toModelState(state),
		FailureCount:         counts.ConsecutiveFailures,
		SuccessCountHalfOpen: counts.ConsecutiveSuccesses,
		OpenedAt:             opened,
	}
}

// ForceOpen trips the named breaker immediately, or returns not_found if
// it has never seen traffic. Used by the admin surface (spec §4.4, §4.9).
func (r *Registry) ForceOpen(key string) error {
	r.mu.Lock()
	_, exists := r.breakers[key]
	r.mu.Unlock()
	if !exists {
		return apperr.New(apperr.KindNotFound, "breaker not found")
	}

	cb := r.getOrCreate(key)
	for i := uint32(0); i < r.cfg.FailureThreshold; i++ {
		cb.Execute(func() (interface{}, error) { return nil, errForced })
	}
	r.mu.Lock()
	r.forced[key] = true
	r.openedAt[key] = time.Now().UTC()
	r.mu.Unlock()
	return nil
}

// Reset forces the named breaker back to closed with cleared counters, or
// returns not_found if it has never seen traffic (spec §4.4).
func (r *Registry) Reset(key string) error {
	r.mu.Lock()
	cb, exists := r.breakers[key]
	r.mu.Unlock()
	if !exists {
		return apperr.New(apperr.KindNotFound, "breaker not found")
	}

	// gobreaker has no public reset; rebuild the breaker under the same key.
	r.mu.Lock()
	delete(r.breakers, key)
	delete(r.openedAt, key)
	delete(r.forced, key)
	r.mu.Unlock()
	r.getOrCreate(key)
	_ = cb
	return nil
}

// errForced is the synthetic failure used to trip a breaker administratively.
var errForced = errors.New("breaker: administratively forced open")

func toModelState(s gobreaker.State) models.BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return models.BreakerOpen
	case gobreaker.StateHalfOpen:
		return models.BreakerHalfOpen
	default:
		return models.BreakerClosed
	}
}
