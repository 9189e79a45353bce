package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-datum/internal/domain"
	"github.com/seu-repo/ocpp-datum/internal/mocks"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestCoalescer_FlushesOnlyReadyUpdates(t *testing.T) {
	// Arrange
	store := &mocks.MockChargePointStatusRepository{}
	clock := &fakeClock{now: t0}
	c := NewCoalescer(store, clock, 5*time.Second, zap.NewNop())
	ctx := context.Background()

	// Act
	require.NoError(t, c.UpdateConnectionStatus(ctx, "owner-1", "CP-1", "node-a", "", t0, true))
	clock.Add(4 * time.Second)
	early := c.FlushReady(ctx)
	clock.Add(time.Second)
	late := c.FlushReady(ctx)

	// Assert
	assert.Equal(t, 0, early)
	assert.Equal(t, 1, late)
	writes := store.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "owner-1", writes[0].OwnerID)
	assert.Equal(t, "CP-1", writes[0].Identifier)
	assert.Equal(t, "node-a", writes[0].ConnectedTo)
	assert.True(t, writes[0].Connected)
	assert.Equal(t, 0, c.Pending())
}

func TestCoalescer_CoalescesToLatestPayload(t *testing.T) {
	// Arrange
	store := &mocks.MockChargePointStatusRepository{}
	clock := &fakeClock{now: t0}
	c := NewCoalescer(store, clock, 5*time.Second, zap.NewNop())
	ctx := context.Background()

	// Act
	require.NoError(t, c.UpdateConnectionStatus(ctx, "owner-1", "CP-1", "node-a", "", t0, true))
	clock.Add(time.Second)
	require.NoError(t, c.UpdateConnectionStatus(ctx, "owner-1", "CP-1", "", "", t0.Add(time.Second), false))
	assert.Equal(t, 1, c.Pending())
	clock.Add(10 * time.Second)
	n := c.FlushReady(ctx)

	// Assert
	assert.Equal(t, 1, n)
	writes := store.Writes()
	require.Len(t, writes, 1)
	assert.False(t, writes[0].Connected)
	assert.Equal(t, "", writes[0].ConnectedTo)
	assert.Equal(t, t0.Add(time.Second), writes[0].ConnectionDate)
}

func TestCoalescer_DeadlineAnchoredToFirstUpdate(t *testing.T) {
	store := &mocks.MockChargePointStatusRepository{}
	clock := &fakeClock{now: t0}
	c := NewCoalescer(store, clock, 5*time.Second, zap.NewNop())
	ctx := context.Background()

	// keep flapping every second; the write still happens five seconds after
	// the first event
	for i := 0; i < 5; i++ {
		require.NoError(t, c.UpdateConnectionStatus(ctx, "owner-1", "CP-1", "node-a", "", clock.Now(), i%2 == 0))
		clock.Add(time.Second)
	}

	assert.Equal(t, 1, c.FlushReady(ctx))
	writes := store.Writes()
	require.Len(t, writes, 1)
	assert.True(t, writes[0].Connected)
	assert.Equal(t, t0.Add(4*time.Second), writes[0].ConnectionDate)
}

func TestCoalescer_KeysAreIndependent(t *testing.T) {
	store := &mocks.MockChargePointStatusRepository{}
	clock := &fakeClock{now: t0}
	c := NewCoalescer(store, clock, 5*time.Second, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.UpdateConnectionStatus(ctx, "owner-1", "CP-2", "node-a", "", t0, true))
	clock.Add(time.Second)
	require.NoError(t, c.UpdateConnectionStatus(ctx, "owner-1", "CP-1", "node-a", "", t0, true))
	require.NoError(t, c.UpdateConnectionStatus(ctx, "owner-2", "CP-1", "node-b", "", t0, true))
	assert.Equal(t, 3, c.Pending())

	clock.Add(4 * time.Second)
	assert.Equal(t, 1, c.FlushReady(ctx))
	clock.Add(time.Second)
	assert.Equal(t, 2, c.FlushReady(ctx))

	writes := store.Writes()
	require.Len(t, writes, 3)
	assert.Equal(t, "CP-2", writes[0].Identifier)
}

func TestCoalescer_ConcurrentProducers(t *testing.T) {
	// Arrange
	store := &mocks.MockChargePointStatusRepository{}
	clock := &fakeClock{now: t0}
	c := NewCoalescer(store, clock, 5*time.Second, zap.NewNop())
	ctx := context.Background()
	const producers, shared, rounds = 16, 4, 50

	// Act
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			own := fmt.Sprintf("CP-own-%d", p)
			for i := 0; i < rounds; i++ {
				connected := i%2 == 0
				assert.NoError(t, c.UpdateConnectionStatus(ctx, "owner-1", fmt.Sprintf("CP-shared-%d", i%shared), "node-a", "", t0, connected))
				assert.NoError(t, c.UpdateConnectionStatus(ctx, "owner-1", own, "node-a", "", t0, connected))
			}
		}(p)
	}
	wg.Wait()
	require.Equal(t, producers+shared, c.Pending())
	clock.Add(5 * time.Second)
	n := c.FlushReady(ctx)

	// Assert
	assert.Equal(t, producers+shared, n)
	assert.Equal(t, 0, c.Pending())
	perKey := make(map[string]int)
	for _, w := range store.Writes() {
		perKey[w.OwnerID+"/"+w.Identifier]++
	}
	assert.Len(t, perKey, producers+shared)
	for key, count := range perKey {
		assert.Equal(t, 1, count, "writes for %s", key)
	}
}

func TestCoalescer_StoreFailureIsNotRetried(t *testing.T) {
	store := &mocks.MockChargePointStatusRepository{
		UpdateConnectionStatusFunc: func(ctx context.Context, ownerID, identifier, connectedTo, sessionID string, connectionDate time.Time, connected bool) error {
			return errors.New("db down")
		},
	}
	clock := &fakeClock{now: t0}
	c := NewCoalescer(store, clock, time.Second, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.UpdateConnectionStatus(ctx, "owner-1", "CP-1", "node-a", "", t0, true))
	clock.Add(time.Second)

	assert.Equal(t, 0, c.FlushReady(ctx))
	assert.Equal(t, 0, c.Pending())
	assert.Len(t, store.Writes(), 1)
}

func TestCoalescer_BackgroundLoopFlushes(t *testing.T) {
	store := &mocks.MockChargePointStatusRepository{}
	c := NewCoalescer(store, nil, 20*time.Millisecond, zap.NewNop())
	c.Start()
	defer c.Stop(context.Background(), false)
	ctx := context.Background()

	require.NoError(t, c.UpdateConnectionStatus(ctx, "owner-1", "CP-1", "node-a", "", time.Now(), true))
	require.NoError(t, c.UpdateConnectionStatus(ctx, "owner-1", "CP-1", "node-a", "", time.Now(), false))

	require.Eventually(t, func() bool {
		return len(store.Writes()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, store.Writes()[0].Connected)
}

func TestCoalescer_EarlierUpdateWakesLoop(t *testing.T) {
	store := &mocks.MockChargePointStatusRepository{}
	clock := &fakeClock{now: time.Now()}
	c := NewCoalescer(store, clock, time.Hour, zap.NewNop())
	c.Start()
	defer c.Stop(context.Background(), false)
	ctx := context.Background()

	require.NoError(t, c.UpdateConnectionStatus(ctx, "owner-1", "CP-1", "node-a", "", t0, true))
	// move past the first deadline; the next enqueue makes the loop
	// recompute its wait
	clock.Add(2 * time.Hour)
	require.NoError(t, c.UpdateConnectionStatus(ctx, "owner-1", "CP-2", "node-a", "", t0, true))

	require.Eventually(t, func() bool {
		return len(store.Writes()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "CP-1", store.Writes()[0].Identifier)
}

func TestCoalescer_StopWithDrain(t *testing.T) {
	store := &mocks.MockChargePointStatusRepository{}
	c := NewCoalescer(store, nil, time.Hour, zap.NewNop())
	c.Start()
	ctx := context.Background()

	require.NoError(t, c.UpdateConnectionStatus(ctx, "owner-1", "CP-1", "node-a", "", time.Now(), true))
	require.NoError(t, c.UpdateConnectionStatus(ctx, "owner-1", "CP-2", "node-a", "", time.Now(), true))

	require.NoError(t, c.Stop(ctx, true))
	assert.Len(t, store.Writes(), 2)

	err := c.UpdateConnectionStatus(ctx, "owner-1", "CP-3", "node-a", "", time.Now(), true)
	assert.ErrorIs(t, err, ErrCoalescerStopped)
	assert.NoError(t, c.Stop(ctx, true))
}

func TestCoalescer_StopWithoutDrainDiscards(t *testing.T) {
	store := &mocks.MockChargePointStatusRepository{}
	c := NewCoalescer(store, nil, time.Hour, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, c.UpdateConnectionStatus(ctx, "owner-1", "CP-1", "node-a", "", time.Now(), true))
	require.NoError(t, c.Stop(ctx, false))

	assert.Empty(t, store.Writes())
	assert.Equal(t, 0, c.Pending())
}

func TestDelayQueue_OrdersByReadyTime(t *testing.T) {
	q := newDelayQueue()
	for i, id := range []string{"c", "a", "b"} {
		q.Set(statusUpdate(id, t0.Add(time.Duration(3-i)*time.Second)))
	}

	_, ok := q.PopReady(t0)
	assert.False(t, ok)

	var order []string
	for _, u := range q.Drain() {
		order = append(order, u.Identifier)
	}
	assert.Equal(t, []string{"b", "a", "c"}, order)
	assert.Equal(t, 0, q.Len())
}

func TestDelayQueue_ReplaceKeepsReadyTime(t *testing.T) {
	q := newDelayQueue()
	assert.False(t, q.Set(statusUpdate("a", t0)))
	u := statusUpdate("a", t0.Add(time.Minute))
	u.ConnectedTo = "node-b"
	assert.True(t, q.Set(u))

	got, ok := q.PopReady(t0)
	require.True(t, ok)
	assert.Equal(t, "node-b", got.ConnectedTo)
	assert.Equal(t, t0, got.Ready)
}

func statusUpdate(identifier string, ready time.Time) domain.StatusUpdate {
	return domain.StatusUpdate{
		Arrived:    ready,
		OwnerID:    "owner-1",
		Identifier: identifier,
		Connected:  true,
		Ready:      ready,
	}
}
