package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the circuit breaker refuses a call.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State represents the current breaker state.
type State int

const (
	// Closed accepts all calls and tracks failures.
	Closed State = iota
	// Open rejects calls until the cool-off period expires.
	Open
	// HalfOpen lets a single probe through to test recovery.
	HalfOpen
)

var stateNames = [...]string{Closed: "closed", Open: "open", HalfOpen: "half_open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Snapshot is a point-in-time view of a breaker, for readiness and debugging.
type Snapshot struct {
	Target    string
	State     State
	Calls     int
	Failures  int
	OpenUntil time.Time
}

// Breaker guards one dependency, normally the document store. It keeps the
// outcomes of the most recent calls in a fixed ring and trips once at least
// minRequests are recorded and the failing share reaches failureRatio.
type Breaker struct {
	mu           sync.Mutex
	state        State
	ring         []bool // true marks a failure
	next         int
	filled       int
	failures     int
	probing      bool
	minRequests  int
	failureRatio float64
	openUntil    time.Time
	openFor      time.Duration
	target       string
	logger       zerolog.Logger
	now          func() time.Time
}

// NewBreaker constructs a breaker. The outcome ring holds twice minRequests
// calls, so old results age out as traffic continues.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	minRequests = max(minRequests, 1)
	switch {
	case failureRatio <= 0:
		failureRatio = 0.5
	case failureRatio > 1:
		failureRatio = 1
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		ring:         make([]bool, minRequests*2),
		minRequests:  minRequests,
		failureRatio: failureRatio,
		openFor:      openFor,
		target:       "default",
		logger:       zerolog.Nop(),
		now:          time.Now,
	}
}

// WithTarget names the guarded dependency in metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t := strings.TrimSpace(target); t != "" {
		b.target = t
	}
	BreakerState.WithLabelValues(b.target).Set(float64(b.state))
	return b
}

// WithLogger sets the fallback logger for transitions when the call context
// carries none.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

// WithClock overrides the time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now != nil {
		b.now = now
	}
	return b
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the current state and window counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Target:    b.target,
		State:     b.state,
		Calls:     b.filled,
		Failures:  b.failures,
		OpenUntil: b.openUntil,
	}
}

// Probe fails while the breaker is open and still cooling off. It fits a
// readiness check.
func (b *Breaker) Probe(context.Context) error {
	s := b.Snapshot()
	if s.State == Open && b.now().Before(s.OpenUntil) {
		return fmt.Errorf("%w: %s until %s", ErrOpenCircuit, s.Target, s.OpenUntil.Format(time.RFC3339))
	}
	return nil
}

// Allow reports whether a call may proceed. After the cool-off an open breaker
// moves to half-open and admits exactly one probe until that probe reports.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Before(b.openUntil) {
			return false
		}
		b.moveLocked(ctx, HalfOpen)
	case HalfOpen:
		if b.probing {
			return false
		}
	default:
		return true
	}
	b.probing = true
	return true
}

// Report records the outcome of an admitted call.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.probing = false
		if success {
			b.moveLocked(ctx, Closed)
		} else {
			b.moveLocked(ctx, Open)
		}
		return
	}

	if b.filled == len(b.ring) {
		if b.ring[b.next] {
			b.failures--
		}
	} else {
		b.filled++
	}
	b.ring[b.next] = !success
	if !success {
		b.failures++
	}
	b.next = (b.next + 1) % len(b.ring)

	if b.filled >= b.minRequests && float64(b.failures)/float64(b.filled) >= b.failureRatio {
		b.moveLocked(ctx, Open)
	}
}

// Do runs fn when the breaker allows it. isFailure decides which errors count
// against the dependency; nil means every non-nil error does.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error, isFailure func(error) bool) error {
	if !b.Allow(ctx) {
		return ErrOpenCircuit
	}
	err := fn(ctx)
	failed := err != nil
	if failed && isFailure != nil {
		failed = isFailure(err)
	}
	b.Report(ctx, !failed)
	return err
}

func (b *Breaker) moveLocked(ctx context.Context, to State) {
	from := b.state
	b.state = to
	b.openUntil = time.Time{}
	if to == Open {
		b.openUntil = b.now().Add(b.openFor)
	}
	clear(b.ring)
	b.next, b.filled, b.failures = 0, 0, 0

	BreakerState.WithLabelValues(b.target).Set(float64(to))
	if from == to {
		return
	}
	BreakerTransitions.WithLabelValues(b.target, from.String(), to.String()).Inc()
	if to == Open {
		BreakerOpenedTotal.WithLabelValues(b.target).Inc()
	}

	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &b.logger
	}
	evt := logger.Warn().Str("target", b.target).Str("from_state", from.String()).Str("to_state", to.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	if to == Open {
		evt = evt.Time("open_until", b.openUntil)
	}
	evt.Msg("breaker_transition")
}
