package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tagbridge/pkg/dispatch"
	"tagbridge/pkg/metrics"
	"tagbridge/pkg/source"
	"tagbridge/pkg/update"

	"github.com/cenkalti/backoff/v4"
)

// DefaultTimeout is the long-poll timeout used when Options.Timeout is unset.
const DefaultTimeout = 60 * time.Second

// DefaultDrainTimeout bounds how long a fetched batch may keep dispatching after
// shutdown has begun.
const DefaultDrainTimeout = 30 * time.Second

// Dispatcher consumes one fetched batch. It must return only after the whole batch has
// been handled.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch []update.Update) dispatch.Result
}

// CursorStore persists the cursor after every advance.
type CursorStore interface {
	Save(ctx context.Context, cursor int) error
}

// Options configures a Poller.
type Options struct {
	Timeout       time.Duration
	InitialCursor int
	// Store is optional; without it the cursor lives only in memory.
	Store CursorStore
	// Backoff spaces out consecutive hard failures. Nil retries immediately.
	Backoff backoff.BackOff
	// DrainTimeout bounds dispatch of a batch once ctx is cancelled. Zero means
	// DefaultDrainTimeout.
	DrainTimeout time.Duration
	Log          *slog.Logger
}

// Status is a point-in-time view of the poller for health reporting.
type Status struct {
	State       State
	Cursor      int
	LastOutcome Outcome
	LastOKAt    time.Time
	LastError   string
}

// Poller owns the poll cursor and drives the fetch -> dispatch -> advance loop.
// Only one fetch is ever outstanding.
type Poller struct {
	source     source.Source
	dispatcher Dispatcher
	timeout    time.Duration
	drain      time.Duration
	store      CursorStore
	backoff    backoff.BackOff
	log        *slog.Logger
	sleep      func(context.Context, time.Duration) error

	// cursor is written only by the goroutine running Poll.
	cursor int

	mu     sync.RWMutex
	status Status
}

// New validates dependencies and builds a poller starting at opts.InitialCursor.
func New(src source.Source, dispatcher Dispatcher, opts Options) (*Poller, error) {
	if src == nil {
		return nil, errors.New("source is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.InitialCursor < 0 {
		return nil, errors.New("initial cursor must be non-negative")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	drain := opts.DrainTimeout
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	metrics.Cursor.Set(float64(opts.InitialCursor))

	return &Poller{
		source:     src,
		dispatcher: dispatcher,
		timeout:    timeout,
		drain:      drain,
		store:      opts.Store,
		backoff:    opts.Backoff,
		log:        log.With("component", "poller", "source", src.Name()),
		sleep:      sleepContext,
		cursor:     opts.InitialCursor,
		status:     Status{State: Idle, Cursor: opts.InitialCursor},
	}, nil
}

// HardFailureBackoff returns an unbounded-duration exponential backoff between initial
// and maxInterval, used to space out consecutive hard failures.
func HardFailureBackoff(initial, maxInterval time.Duration) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.MaxInterval = maxInterval
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	exp.Reset()
	return exp
}

// Run polls until ctx is cancelled. Fetch and delivery failures never stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("Polling started", "cursor", p.cursor, "timeout", p.timeout)

	for {
		if ctx.Err() != nil {
			p.log.Info("Polling stopped", "cursor", p.cursor)
			return nil
		}

		switch p.Poll(ctx) {
		case OutcomeStopped:
			p.log.Info("Polling stopped", "cursor", p.cursor)
			return nil
		case OutcomeHardFailure:
			if p.backoff == nil {
				continue
			}
			delay := p.backoff.NextBackOff()
			if delay == backoff.Stop {
				continue
			}
			p.log.Info("Backing off after fetch failure", "delay", delay)
			if err := p.sleep(ctx, delay); err != nil {
				p.log.Info("Polling stopped", "cursor", p.cursor)
				return nil
			}
		case OutcomeBatch, OutcomeEmpty:
			if p.backoff != nil {
				p.backoff.Reset()
			}
		}
	}
}

// Poll performs one loop iteration: a single fetch and, for a non-empty batch, dispatch
// followed by cursor advancement.
func (p *Poller) Poll(ctx context.Context) Outcome {
	p.setState(Fetching)

	started := time.Now()
	batch, err := p.source.Fetch(ctx, p.cursor, p.timeout)
	metrics.FetchDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			p.finish(OutcomeStopped, nil)
			return OutcomeStopped
		}
		if source.IsTransport(err) {
			p.log.Debug("Transient fetch failure", "cursor", p.cursor, "error", err)
			p.finish(OutcomeSoftFailure, err)
			return OutcomeSoftFailure
		}

		p.log.Warn("Failed to fetch updates", "cursor", p.cursor, "error", err)
		p.finish(OutcomeHardFailure, err)
		return OutcomeHardFailure
	}

	maxID, ok := update.MaxID(batch)
	if !ok {
		p.finish(OutcomeEmpty, nil)
		return OutcomeEmpty
	}

	next := maxID + 1
	p.setState(Success)
	metrics.BatchSize.Observe(float64(len(batch)))
	p.log.Info("Received updates", "count", len(batch), "cursor", p.cursor, "next_cursor", next)

	// A fetched batch is dispatched in full even if shutdown starts meanwhile; the
	// cursor moves past it right after.
	dispatchCtx, cancel := p.dispatchContext(ctx)
	result := p.dispatcher.Dispatch(dispatchCtx, batch)
	cancel()
	p.log.Debug("Dispatched batch", "messages", result.Messages, "matched", result.Matched, "delivered", result.Delivered, "failed", result.Failed)

	p.advance(ctx, next)
	p.finish(OutcomeBatch, nil)
	return OutcomeBatch
}

// Cursor returns the smallest update id not yet consumed.
func (p *Poller) Cursor() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status.Cursor
}

// Status returns a snapshot for health reporting.
func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// dispatchContext outlives cancellation of ctx, but only for the drain timeout once
// ctx is done.
func (p *Poller) dispatchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(p.drain)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-dctx.Done():
		}
	})
	return dctx, func() {
		stop()
		cancel()
	}
}

// advance moves the cursor forward and persists it. The cursor never decreases.
func (p *Poller) advance(ctx context.Context, next int) {
	if next <= p.cursor {
		return
	}
	p.cursor = next
	metrics.Cursor.Set(float64(next))

	p.mu.Lock()
	p.status.Cursor = next
	p.mu.Unlock()

	if p.store == nil {
		return
	}
	// The batch was already dispatched; persist even if shutdown has begun.
	if err := p.store.Save(context.WithoutCancel(ctx), next); err != nil {
		p.log.Error("Failed to persist cursor", "cursor", next, "error", err)
	}
}

func (p *Poller) setState(state State) {
	p.mu.Lock()
	p.status.State = state
	p.mu.Unlock()
}

func (p *Poller) finish(outcome Outcome, err error) {
	if outcome != OutcomeStopped {
		metrics.FetchesTotal.WithLabelValues(outcome.String()).Inc()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.LastOutcome = outcome
	p.status.State = outcome.state()
	if err != nil {
		p.status.LastError = err.Error()
	} else if outcome == OutcomeBatch || outcome == OutcomeEmpty {
		p.status.LastError = ""
		p.status.LastOKAt = time.Now().UTC()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
