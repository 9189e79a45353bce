package status

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-datum/internal/domain"
	"github.com/seu-repo/ocpp-datum/internal/observability/telemetry"
	"github.com/seu-repo/ocpp-datum/internal/ports"
)

// DefaultFlushDelay is used when the configured delay is not positive.
const DefaultFlushDelay = 2 * time.Second

var ErrCoalescerStopped = errors.New("status coalescer stopped")

// Coalescer batches connection status writes per charge point. Updates wait
// in a delay queue for the flush delay; an update for a charge point that is
// already pending replaces the pending payload without moving its deadline.
type Coalescer struct {
	store ports.ChargePointStatusRepository
	clock ports.Clock
	delay time.Duration
	log   *zap.Logger

	mu      sync.Mutex
	queue   *delayQueue
	started bool
	stopped bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func NewCoalescer(store ports.ChargePointStatusRepository, clock ports.Clock, delay time.Duration, log *zap.Logger) *Coalescer {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if delay <= 0 {
		delay = DefaultFlushDelay
	}
	return &Coalescer{
		store: store,
		clock: clock,
		delay: delay,
		log:   log,
		queue: newDelayQueue(),
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// UpdateConnectionStatus queues the update and returns without waiting for
// the store.
func (c *Coalescer) UpdateConnectionStatus(ctx context.Context, ownerID, identifier, connectedTo, sessionID string, connectionDate time.Time, connected bool) error {
	now := c.clock.Now()
	u := domain.StatusUpdate{
		Arrived:        now,
		OwnerID:        ownerID,
		Identifier:     identifier,
		ConnectedTo:    connectedTo,
		SessionID:      sessionID,
		ConnectionDate: connectionDate,
		Connected:      connected,
		Ready:          now.Add(c.delay),
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrCoalescerStopped
	}
	replaced := c.queue.Set(u)
	depth := c.queue.Len()
	c.mu.Unlock()

	telemetry.StatusUpdatesEnqueued.Inc()
	telemetry.StatusQueueDepth.Set(float64(depth))
	if replaced {
		telemetry.StatusUpdatesCoalesced.Inc()
		c.log.Debug("Coalesced status update",
			zap.String("owner_id", ownerID),
			zap.String("identifier", identifier),
			zap.Bool("connected", connected),
		)
		return nil
	}
	c.signal()
	return nil
}

func (c *Coalescer) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued updates.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// FlushReady writes every update whose ready time has passed and returns how
// many were written successfully.
func (c *Coalescer) FlushReady(ctx context.Context) int {
	written := 0
	for {
		c.mu.Lock()
		u, ok := c.queue.PopReady(c.clock.Now())
		depth := c.queue.Len()
		c.mu.Unlock()
		if !ok {
			return written
		}
		telemetry.StatusQueueDepth.Set(float64(depth))
		if c.apply(ctx, u) {
			written++
		}
	}
}

func (c *Coalescer) apply(ctx context.Context, u domain.StatusUpdate) bool {
	err := c.store.UpdateConnectionStatus(ctx, u.OwnerID, u.Identifier, u.ConnectedTo, u.SessionID, u.ConnectionDate, u.Connected)
	if err != nil {
		telemetry.StatusUpdatesFlushed.WithLabelValues("error").Inc()
		c.log.Error("Failed to update connection status",
			zap.String("owner_id", u.OwnerID),
			zap.String("identifier", u.Identifier),
			zap.Error(err),
		)
		return false
	}
	telemetry.StatusUpdatesFlushed.WithLabelValues("success").Inc()
	return true
}

// Start launches the background flush loop. Calling it more than once has no
// effect.
func (c *Coalescer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return
	}
	c.started = true
	go c.run()
	c.log.Info("Status coalescer started", zap.Duration("flush_delay", c.delay))
}

func (c *Coalescer) run() {
	defer close(c.done)
	ctx := context.Background()
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		c.mu.Lock()
		head, ok := c.queue.Peek()
		c.mu.Unlock()

		var timeout <-chan time.Time
		if ok {
			wait := head.Ready.Sub(c.clock.Now())
			if wait <= 0 {
				c.FlushReady(ctx)
				continue
			}
			timer.Reset(wait)
			timeout = timer.C
		}

		select {
		case <-c.quit:
			return
		case <-c.wake:
		case <-timeout:
			timeout = nil
			c.FlushReady(ctx)
		}
		if timeout != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// Stop refuses further updates and stops the flush loop. With drain set,
// pending updates are written before Stop returns, regardless of their ready
// time; otherwise they are discarded.
func (c *Coalescer) Stop(ctx context.Context, drain bool) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	started := c.started
	c.mu.Unlock()

	if started {
		close(c.quit)
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	pending := c.queue.Drain()
	c.mu.Unlock()
	telemetry.StatusQueueDepth.Set(0)

	if !drain {
		if len(pending) > 0 {
			c.log.Warn("Discarding pending status updates", zap.Int("count", len(pending)))
		}
		return nil
	}
	for _, u := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.apply(ctx, u)
	}
	c.log.Info("Status coalescer stopped", zap.Int("drained", len(pending)))
	return nil
}
