// Package waiter implements the bounded "act, then poll for a post-condition" retry loop
// used at every checkpoint of the order form.
package waiter

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Defaults used by the order pipeline.
const (
	DefaultRetries = 15
	DefaultTimeout = 1000 * time.Millisecond
)

// Outcome is the terminal classification of a wait.
type Outcome int

const (
	// OutcomeSuccess means the condition held within the retry budget.
	OutcomeSuccess Outcome = iota + 1
	// OutcomeTimeout means every attempt ran and the condition never held.
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// State is a step of the wait state machine.
type State int

const (
	StateAttempting State = iota + 1
	StateVerifying
	StateRetrying
	StateSuccess
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateVerifying:
		return "verifying"
	case StateRetrying:
		return "retrying"
	case StateSuccess:
		return "success"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Action performs the mutating step of an attempt, e.g. a button click.
// It may run once per attempt.
type Action func(ctx context.Context) error

// Condition reports whether the post-condition holds. ctx carries the
// per-attempt deadline; returning an error wrapping context.DeadlineExceeded
// counts as "not yet".
type Condition func(ctx context.Context) (bool, error)

// Config bounds a wait.
type Config struct {
	MaxAttempts       int
	PerAttemptTimeout time.Duration
	Interval          time.Duration // pause between a failed check and the next attempt
}

// DefaultConfig returns the pipeline defaults (15 attempts, 1s each).
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       DefaultRetries,
		PerAttemptTimeout: DefaultTimeout,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return &ConfigError{Message: "max attempts must be at least 1"}
	}
	if c.PerAttemptTimeout <= 0 {
		return &ConfigError{Message: "per-attempt timeout must be positive"}
	}
	if c.Interval < 0 {
		return &ConfigError{Message: "interval must be non-negative"}
	}
	return nil
}

// Result describes a finished wait.
type Result struct {
	Outcome  Outcome
	Attempts int
	Elapsed  time.Duration
}

// Succeeded reports whether the condition held.
func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// TransitionFunc observes state changes; attempt is the current attempt number.
type TransitionFunc func(state State, attempt int)

// Waiter runs bounded waits with a fixed configuration.
type Waiter struct {
	cfg          Config
	logger       *zap.Logger
	onTransition TransitionFunc
}

// Option customises a Waiter.
type Option func(*Waiter)

// WithTransitionHook registers fn to observe every state change.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(w *Waiter) {
		w.onTransition = fn
	}
}

// New creates a waiter. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Waiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Waiter{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Config returns the waiter configuration.
func (w *Waiter) Config() Config {
	return w.cfg
}

// Do runs action then checks cond, up to MaxAttempts times.
//
// Exhausting the budget is not an error: the Result carries OutcomeTimeout and
// the caller decides what to do. A failing action, a condition failing for any
// reason other than its deadline, or cancellation of ctx is returned as an error.
func (w *Waiter) Do(ctx context.Context, name string, action Action, cond Condition) (Result, error) {
	start := time.Now()
	state := StateAttempting
	attempt := 0

	for {
		w.transition(state, attempt)

		switch state {
		case StateAttempting:
			if err := ctx.Err(); err != nil {
				return w.result(0, attempt, start), err
			}
			attempt++
			if err := action(ctx); err != nil {
				return w.result(0, attempt, start), &ActionError{Name: name, Attempt: attempt, Cause: err}
			}
			state = StateVerifying

		case StateVerifying:
			ok, err := w.verify(ctx, cond)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return w.result(0, attempt, start), ctxErr
				}
				return w.result(0, attempt, start), &ConditionError{Name: name, Attempt: attempt, Cause: err}
			}
			switch {
			case ok:
				state = StateSuccess
			case attempt >= w.cfg.MaxAttempts:
				state = StateExhausted
			default:
				state = StateRetrying
			}

		case StateRetrying:
			w.logger.Warn("condition not met, retrying",
				zap.String("wait", name),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", w.cfg.MaxAttempts))
			if w.cfg.Interval > 0 {
				timer := time.NewTimer(w.cfg.Interval)
				select {
				case <-ctx.Done():
					timer.Stop()
					return w.result(0, attempt, start), ctx.Err()
				case <-timer.C:
				}
			}
			state = StateAttempting

		case StateSuccess:
			w.logger.Debug("condition met",
				zap.String("wait", name),
				zap.Int("attempts", attempt))
			return w.result(OutcomeSuccess, attempt, start), nil

		case StateExhausted:
			w.logger.Warn("retry budget exhausted",
				zap.String("wait", name),
				zap.Int("attempts", attempt))
			return w.result(OutcomeTimeout, attempt, start), nil
		}
	}
}

// verify evaluates cond under the per-attempt deadline.
func (w *Waiter) verify(ctx context.Context, cond Condition) (bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.PerAttemptTimeout)
	defer cancel()

	ok, err := cond(attemptCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

func (w *Waiter) transition(state State, attempt int) {
	if w.onTransition != nil {
		w.onTransition(state, attempt)
	}
}

func (w *Waiter) result(outcome Outcome, attempts int, start time.Time) Result {
	return Result{Outcome: outcome, Attempts: attempts, Elapsed: time.Since(start)}
}
