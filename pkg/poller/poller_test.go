package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tagbridge/pkg/dispatch"
	"tagbridge/pkg/metrics"
	"tagbridge/pkg/source"
	"tagbridge/pkg/update"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type step struct {
	ids []int
	err error
}

// scriptedSource replays steps and cancels the run once they are exhausted.
type scriptedSource struct {
	mu      sync.Mutex
	steps   []step
	cursors []int
	cancel  context.CancelFunc
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Fetch(ctx context.Context, cursor int, _ time.Duration) ([]update.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors = append(s.cursors, cursor)
	if len(s.steps) == 0 {
		if s.cancel != nil {
			s.cancel()
		}
		return nil, context.Canceled
	}

	next := s.steps[0]
	s.steps = s.steps[1:]
	if next.err != nil {
		return nil, next.err
	}

	batch := make([]update.Update, 0, len(next.ids))
	for _, id := range next.ids {
		batch = append(batch, update.Update{ID: id, Kind: update.KindOther})
	}
	return batch, nil
}

func (s *scriptedSource) fetchedCursors() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.cursors...)
}

type recordingDispatcher struct {
	poller         *Poller
	batches        [][]int
	cursorsAtStart []int
}

func (d *recordingDispatcher) Dispatch(_ context.Context, batch []update.Update) dispatch.Result {
	ids := make([]int, 0, len(batch))
	for _, u := range batch {
		ids = append(ids, u.ID)
	}
	d.batches = append(d.batches, ids)
	if d.poller != nil {
		d.cursorsAtStart = append(d.cursorsAtStart, d.poller.Cursor())
	}
	return dispatch.Result{Updates: len(batch)}
}

type recordingStore struct {
	saved []int
	err   error
}

func (s *recordingStore) Save(_ context.Context, cursor int) error {
	s.saved = append(s.saved, cursor)
	return s.err
}

type countingBackoff struct {
	delay  time.Duration
	next   int
	resets int
}

func (b *countingBackoff) NextBackOff() time.Duration {
	b.next++
	return b.delay
}

func (b *countingBackoff) Reset() { b.resets++ }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPoller(t *testing.T, src *scriptedSource, opts Options) (*Poller, *recordingDispatcher, *[]time.Duration) {
	t.Helper()

	d := &recordingDispatcher{}
	opts.Log = discardLogger()
	p, err := New(src, d, opts)
	require.NoError(t, err)
	d.poller = p

	var slept []time.Duration
	p.sleep = func(_ context.Context, delay time.Duration) error {
		slept = append(slept, delay)
		return nil
	}
	return p, d, &slept
}

func runScript(t *testing.T, p *Poller, src *scriptedSource) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.cancel = cancel

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after script finished")
	}
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(nil, &recordingDispatcher{}, Options{})
	require.Error(t, err)

	_, err = New(&scriptedSource{}, nil, Options{})
	require.Error(t, err)

	_, err = New(&scriptedSource{}, &recordingDispatcher{}, Options{InitialCursor: -1})
	require.Error(t, err)

	p, err := New(&scriptedSource{}, &recordingDispatcher{}, Options{InitialCursor: 7})
	require.NoError(t, err)
	require.Equal(t, DefaultTimeout, p.timeout)
	require.Equal(t, 7, p.Cursor())
}

func TestPollAdvancesCursorAfterDispatch(t *testing.T) {
	src := &scriptedSource{steps: []step{{ids: []int{3, 5, 4}}}}
	p, d, _ := newTestPoller(t, src, Options{})

	require.Equal(t, OutcomeBatch, p.Poll(context.Background()))

	require.Equal(t, 6, p.Cursor())
	require.Equal(t, [][]int{{3, 5, 4}}, d.batches)
	require.Equal(t, []int{0}, d.cursorsAtStart, "cursor must advance only after dispatch")
	require.Equal(t, float64(6), testutil.ToFloat64(metrics.Cursor))
}

func TestCursorIsMonotonicAcrossBatches(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{ids: []int{1, 2}},
		{ids: []int{3}},
		{ids: []int{10, 7}},
		{ids: []int{4}},
	}}
	p, d, _ := newTestPoller(t, src, Options{})

	runScript(t, p, src)

	require.Equal(t, []int{0, 3, 4, 11, 11}, src.fetchedCursors())
	require.Len(t, d.batches, 4)
	require.Equal(t, 11, p.Cursor(), "stale batch must not move the cursor back")
}

func TestEmptyBatchIsNoOp(t *testing.T) {
	src := &scriptedSource{steps: []step{{ids: nil}, {ids: []int{}}}}
	p, d, _ := newTestPoller(t, src, Options{InitialCursor: 9})

	require.Equal(t, OutcomeEmpty, p.Poll(context.Background()))
	require.Equal(t, OutcomeEmpty, p.Poll(context.Background()))

	require.Empty(t, d.batches)
	require.Equal(t, 9, p.Cursor())
	require.Equal(t, []int{9, 9}, src.fetchedCursors())
	require.False(t, p.Status().LastOKAt.IsZero())
}

func TestSoftFailureRetriesSameCursorWithoutDelay(t *testing.T) {
	softErr := source.NewTransportError(errors.New("connection refused"))
	src := &scriptedSource{steps: []step{
		{ids: []int{41}},
		{err: softErr},
		{err: softErr},
		{ids: []int{42}},
	}}
	b := &countingBackoff{delay: time.Second}
	p, d, slept := newTestPoller(t, src, Options{InitialCursor: 41, Backoff: b})

	before := testutil.ToFloat64(metrics.FetchesTotal.WithLabelValues(metrics.OutcomeSoftFailure))
	runScript(t, p, src)
	after := testutil.ToFloat64(metrics.FetchesTotal.WithLabelValues(metrics.OutcomeSoftFailure))

	require.Equal(t, []int{41, 42, 42, 42, 43}, src.fetchedCursors())
	require.Equal(t, [][]int{{41}, {42}}, d.batches)
	require.Empty(t, *slept, "soft failures must not add delay")
	require.Zero(t, b.next)
	require.Equal(t, float64(2), after-before)
}

func TestHardFailureKeepsCursorAndBacksOff(t *testing.T) {
	hardErr := source.NewProtocolError(errors.New("401 unauthorized"))
	src := &scriptedSource{steps: []step{
		{err: hardErr},
		{err: hardErr},
		{ids: []int{5}},
	}}
	b := &countingBackoff{delay: 250 * time.Millisecond}
	p, d, slept := newTestPoller(t, src, Options{Backoff: b})

	runScript(t, p, src)

	require.Equal(t, []int{0, 0, 0, 6}, src.fetchedCursors())
	require.Equal(t, [][]int{{5}}, d.batches)
	require.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, *slept)
	require.Equal(t, 1, b.resets, "backoff resets after a successful fetch")
}

func TestHardFailureWithoutBackoffRetriesImmediately(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{err: errors.New("malformed response")},
		{ids: []int{1}},
	}}
	p, _, slept := newTestPoller(t, src, Options{})

	runScript(t, p, src)

	require.Equal(t, []int{0, 0, 2}, src.fetchedCursors())
	require.Empty(t, *slept)
}

func TestStatusReportsLastFailure(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{err: source.NewProtocolError(errors.New("bad gateway"))},
		{ids: []int{1}},
	}}
	p, _, _ := newTestPoller(t, src, Options{})

	require.Equal(t, OutcomeHardFailure, p.Poll(context.Background()))
	status := p.Status()
	require.Equal(t, OutcomeHardFailure, status.LastOutcome)
	require.Contains(t, status.LastError, "bad gateway")
	require.True(t, status.LastOKAt.IsZero())
	require.Equal(t, HardFailure, status.State)

	require.Equal(t, OutcomeBatch, p.Poll(context.Background()))
	status = p.Status()
	require.Equal(t, Success, status.State)
	require.Empty(t, status.LastError)
	require.False(t, status.LastOKAt.IsZero())
}

func TestSoftFailureStateIsReported(t *testing.T) {
	src := &scriptedSource{steps: []step{{err: source.NewTransportError(errors.New("connection reset"))}}}
	p, _, _ := newTestPoller(t, src, Options{})

	require.Equal(t, OutcomeSoftFailure, p.Poll(context.Background()))
	require.Equal(t, SoftFailure, p.Status().State)
}

// shutdownDispatcher cancels the run context as soon as a batch arrives, then
// delivers with the context it was handed.
type shutdownDispatcher struct {
	cancel    context.CancelFunc
	wait      bool
	ctxErr    error
	delivered bool
}

func (d *shutdownDispatcher) Dispatch(ctx context.Context, batch []update.Update) dispatch.Result {
	d.cancel()
	if d.wait {
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
	}
	d.ctxErr = ctx.Err()
	d.delivered = d.ctxErr == nil
	return dispatch.Result{Updates: len(batch)}
}

func TestBatchDispatchCompletesDuringShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedSource{steps: []step{{ids: []int{10}}}}
	d := &shutdownDispatcher{cancel: cancel}
	store := &recordingStore{}
	p, err := New(src, d, Options{Store: store, Log: discardLogger()})
	require.NoError(t, err)

	require.Equal(t, OutcomeBatch, p.Poll(ctx))

	require.True(t, d.delivered, "dispatch must not see the cancelled run context")
	require.Equal(t, 11, p.Cursor())
	require.Equal(t, []int{11}, store.saved)
}

func TestBatchDispatchIsBoundedByDrainTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedSource{steps: []step{{ids: []int{3}}}}
	d := &shutdownDispatcher{cancel: cancel, wait: true}
	p, err := New(src, d, Options{DrainTimeout: 20 * time.Millisecond, Log: discardLogger()})
	require.NoError(t, err)

	started := time.Now()
	require.Equal(t, OutcomeBatch, p.Poll(ctx))

	require.ErrorIs(t, d.ctxErr, context.Canceled)
	require.Less(t, time.Since(started), time.Second)
}

func TestCursorIsPersistedAfterAdvance(t *testing.T) {
	src := &scriptedSource{steps: []step{{ids: []int{3}}, {ids: nil}, {ids: []int{8}}}}
	store := &recordingStore{}
	p, _, _ := newTestPoller(t, src, Options{Store: store})

	runScript(t, p, src)

	require.Equal(t, []int{4, 9}, store.saved)
}

func TestCursorPersistFailureDoesNotStopPolling(t *testing.T) {
	src := &scriptedSource{steps: []step{{ids: []int{3}}, {ids: []int{4}}}}
	store := &recordingStore{err: errors.New("disk full")}
	p, d, _ := newTestPoller(t, src, Options{Store: store})

	runScript(t, p, src)

	require.Len(t, d.batches, 2)
	require.Equal(t, 5, p.Cursor())
}

func TestPollReportsStoppedOnCancellation(t *testing.T) {
	src := &scriptedSource{}
	p, _, _ := newTestPoller(t, src, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	src.cancel = cancel

	require.Equal(t, OutcomeStopped, p.Poll(ctx))
	require.NoError(t, p.Run(ctx))
}

func TestHardFailureBackoffBounds(t *testing.T) {
	b := HardFailureBackoff(100*time.Millisecond, 400*time.Millisecond)
	for i := 0; i < 10; i++ {
		delay := b.NextBackOff()
		require.Greater(t, delay, time.Duration(0))
		// Randomization may push a single delay up to 1.5x the cap.
		require.LessOrEqual(t, delay, 600*time.Millisecond)
	}
}

func TestOutcomeAndStateStrings(t *testing.T) {
	require.Equal(t, "soft_failure", OutcomeSoftFailure.String())
	require.Equal(t, "hard_failure", OutcomeHardFailure.String())
	require.Equal(t, "stopped", OutcomeStopped.String())
	require.Equal(t, "fetching", Fetching.String())
	require.Equal(t, "idle", Idle.String())
	require.Equal(t, "success", Success.String())
	require.Equal(t, "hard_failure", HardFailure.String())
}
