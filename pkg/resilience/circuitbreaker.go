// Package resilience guards calls to external services. The diagnosis
// provider and the parts storefront both sit behind a circuit breaker
// so a dead upstream fails fast instead of tying up every turn.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/autologic-mx/obi2/pkg/fn"
)

// State is the breaker's position.
type State int

const (
	StateClosed   State = iota // calls flow normally
	StateOpen                  // calls are rejected until the cooldown passes
	StateHalfOpen              // a bounded number of probes may pass
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrCircuitOpen is returned in place of calling the upstream.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts tunes a Breaker.
type BreakerOpts struct {
	// FailThreshold is the consecutive-failure count that trips the breaker.
	FailThreshold int
	// Timeout is the cooldown before an open breaker admits probes again.
	Timeout time.Duration
	// HalfOpenMax bounds the probes in flight while half-open.
	HalfOpenMax int
}

// DefaultBreakerOpts suits slow external HTTP services.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	mu         sync.Mutex
	opts       BreakerOpts
	state      State
	consecFail int
	openUntil  time.Time
	probes     int
	now        func() time.Time
}

// NewBreaker builds a breaker, filling non-positive options from
// DefaultBreakerOpts.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State reports the breaker's position, applying the open-to-half-open
// transition when the cooldown has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tick()
}

// tick advances open to half-open once openUntil passes. Must hold mu.
func (b *Breaker) tick() State {
	if b.state == StateOpen && !b.now().Before(b.openUntil) {
		b.state = StateHalfOpen
		b.probes = 0
	}
	return b.state
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.tick() {
	case StateOpen:
		return false
	case StateHalfOpen:
		if b.probes >= b.opts.HalfOpenMax {
			return false
		}
		b.probes++
	}
	return true
}

func (b *Breaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case !failed:
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
		b.consecFail = 0
	default:
		b.consecFail++
		// Any probe failure reopens immediately.
		if b.state == StateHalfOpen || b.consecFail >= b.opts.FailThreshold {
			b.state = StateOpen
			b.openUntil = b.now().Add(b.opts.Timeout)
			b.consecFail = 0
			b.probes = 0
		}
	}
}

// Call runs f unless the breaker rejects it.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}
	err := f(ctx)
	b.record(err != nil)
	return err
}

// CallResult is Call for functions returning fn.Result.
func CallResult[T any](b *Breaker, ctx context.Context, f func(context.Context) fn.Result[T]) fn.Result[T] {
	if !b.admit() {
		return fn.Err[T](ErrCircuitOpen)
	}
	r := f(ctx)
	b.record(r.IsErr())
	return r
}
