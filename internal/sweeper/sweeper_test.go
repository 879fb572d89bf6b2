package sweeper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/memstore"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/sweeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *recorder) Notify(_ context.Context, userID, event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[userID+"/"+event]++
}

func (r *recorder) Count(userID, event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[userID+"/"+event]
}

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, true, nil
}

type failingLocker struct{}

func (failingLocker) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, errors.New("redis down")
}

type fixture struct {
	store  *memstore.Store
	orders *orders.Service
	sweep  *sweeper.Sweeper
	notes  *recorder
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := memstore.New()
	for _, id := range []string{"gig-1", "gig-2", "gig-3"} {
		st.AddGig(orders.Gig{ID: id, SellerID: "seller", Title: id, Price: 1000, DeliveryDays: 2})
	}
	f := &fixture{store: st, notes: &recorder{}, now: t0}
	clock := func() time.Time { return f.now }
	f.orders = &orders.Service{Store: st, Notifier: f.notes, Clock: clock}
	f.sweep = &sweeper.Sweeper{Store: st, Orders: f.orders, Locker: &memLocker{}, Clock: clock}
	return f
}

func (f *fixture) activate(t *testing.T, gigID string) *orders.Order {
	t.Helper()
	ctx := context.Background()
	o, err := f.orders.CreateFromGig(ctx, "buyer", gigID, "")
	require.NoError(t, err)
	o, err = f.orders.AcceptOrder(ctx, "seller", o.ID)
	require.NoError(t, err)
	return o
}

func TestSweepCancelsExpiredOrders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	expired := f.activate(t, "gig-1")
	pending, err := f.orders.CreateFromGig(ctx, "buyer", "gig-2", "")
	require.NoError(t, err)

	f.now = t0.Add(8 * 24 * time.Hour)
	fresh := f.activate(t, "gig-3")

	rep, err := f.sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{expired.ID}, rep.Cancelled)

	got, err := f.store.GetOrder(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, "payment deadline expired", got.CancellationReason)

	for _, id := range []string{pending.ID, fresh.ID} {
		got, err := f.store.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.NotEqual(t, orders.StatusCancelled, got.Status)
	}

	assert.Equal(t, 1, f.store.Counters("buyer").CancelledOrders)
	assert.Equal(t, 1, f.store.Counters("seller").CancelledOrders)
	assert.Equal(t, 1, f.notes.Count("buyer", orders.EventOrderExpired))
	assert.Equal(t, 1, f.notes.Count("seller", orders.EventOrderExpired))
}

func TestSweepIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	f.activate(t, "gig-1")
	f.activate(t, "gig-2")
	f.now = t0.Add(8 * 24 * time.Hour)

	first, err := f.sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, first.Cancelled, 2)

	second, err := f.sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Scanned)
	assert.Empty(t, second.Cancelled)

	assert.Equal(t, 2, f.store.Counters("buyer").CancelledOrders)
	assert.Equal(t, 2, f.store.Counters("seller").CancelledOrders)
}

func TestSweepRespectsExtendedDeadline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	o := f.activate(t, "gig-1")
	_, err := f.orders.ExtendPaymentDeadline(ctx, "seller", o.ID, 3)
	require.NoError(t, err)

	f.now = t0.Add(8 * 24 * time.Hour)
	rep, err := f.sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.Cancelled)

	f.now = t0.Add(11 * 24 * time.Hour)
	rep, err = f.sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{o.ID}, rep.Cancelled)
}

func TestSweepSkipsWhenLocked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	f.activate(t, "gig-1")
	f.now = t0.Add(8 * 24 * time.Hour)

	l := &memLocker{}
	release, ok, err := l.TryLock(ctx, "sweep:payment_deadline", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	f.sweep.Locker = l

	rep, err := f.sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)

	release()
	rep, err = f.sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, rep.Cancelled, 1)
}

func TestSweepRunsWhenLockUnavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.sweep.Locker = failingLocker{}

	o := f.activate(t, "gig-1")
	f.now = t0.Add(8 * 24 * time.Hour)

	rep, err := f.sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, rep.Skipped)
	assert.Equal(t, []string{o.ID}, rep.Cancelled)

	got, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
}

// listing wraps the store to inject ids and run a hook after listing.
type listing struct {
	orders.Store
	extra []string
	after func()
}

func (l *listing) ListExpiredActivated(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := l.Store.ListExpiredActivated(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	if l.after != nil {
		l.after()
	}
	return append(l.extra, ids...), nil
}

func TestSweepContinuesPastFailedOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	o := f.activate(t, "gig-1")
	f.now = t0.Add(8 * 24 * time.Hour)
	f.sweep.Store = &listing{Store: f.store, extra: []string{"missing-order"}}

	rep, err := f.sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Scanned)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, []string{o.ID}, rep.Cancelled)

	got, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
}

func TestSweepLosesRaceToConcurrentChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	raced := f.activate(t, "gig-1")
	expired := f.activate(t, "gig-2")
	f.now = t0.Add(8 * 24 * time.Hour)

	// the buyer cancels after the pass has listed the order
	f.sweep.Store = &listing{Store: f.store, after: func() {
		_, err := f.orders.CancelOrder(ctx, "buyer", raced.ID, "changed my mind")
		require.NoError(t, err)
	}}

	rep, err := f.sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Scanned)
	assert.Equal(t, 1, rep.Lost)
	assert.Equal(t, 0, rep.Failed)
	assert.Equal(t, []string{expired.ID}, rep.Cancelled)

	got, err := f.store.GetOrder(ctx, raced.ID)
	require.NoError(t, err)
	assert.Equal(t, "changed my mind", got.CancellationReason)
	assert.Equal(t, 1, f.notes.Count("buyer", orders.EventOrderExpired))
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.sweep.Interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sweep.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
