// Package reaper runs the periodic sweep described in spec §4.6: idle rooms
// past their backstop age are dropped as a safety net behind the Room
// Registry's own deferred per-room eviction timers. Per-session heartbeat
// liveness is enforced inline by each gateway session's read/write pumps
// (missed pongs expire the read deadline and tear the session down on the
// spot), so the reaper's own job is the slower, periodic backstop.
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/watchsync/engine/internal/logging"
	"github.com/watchsync/engine/internal/metrics"
)

const tickInterval = 60 * time.Second

// RoomSweeper is the slice of the room registry the reaper drives.
type RoomSweeper interface {
	SweepIdle() int
}

// Reaper ticks on a fixed interval and sweeps idle rooms.
type Reaper struct {
	rooms    RoomSweeper
	interval time.Duration
	done     chan struct{}
}

// New builds a Reaper bound to a room registry. rooms may be nil if a
// deployment hosts only the chat domain, in which case sweeps are no-ops.
func New(rooms RoomSweeper) *Reaper {
	return &Reaper{rooms: rooms, interval: tickInterval, done: make(chan struct{})}
}

// Start runs the sweep loop until ctx is cancelled. Call Wait afterward to
// block until the loop has actually exited, for an orderly shutdown.
func (r *Reaper) Start(ctx context.Context) {
	go r.run(ctx)
}

// Wait blocks until the sweep loop has exited after ctx cancellation.
func (r *Reaper) Wait() {
	<-r.done
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep(ctx)
		case <-ctx.Done():
			logging.Info(ctx, "reaper stopping")
			return
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	if r.rooms == nil {
		return
	}
	swept := r.rooms.SweepIdle()
	if swept > 0 {
		metrics.ReaperSweeps.WithLabelValues("room").Add(float64(swept))
		logging.Info(ctx, "reaper swept idle rooms", zap.Int("count", swept))
	}
}
