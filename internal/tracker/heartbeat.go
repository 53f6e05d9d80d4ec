package tracker

import (
	"context"
	"time"
)

// startHeartbeatLocked starts the periodic heartbeat unless one is running.
func (t *Tracker) startHeartbeatLocked() {
	if t.heartbeatStop != nil {
		return
	}

	ctx, cancel := context.WithCancel(t.ctx)
	t.heartbeatStop = cancel
	t.heartbeatGen++

	t.wg.Add(1)
	go t.runHeartbeat(ctx, t.heartbeatGen)
}

func (t *Tracker) stopHeartbeatLocked() {
	if t.heartbeatStop == nil {
		return
	}
	t.heartbeatStop()
	t.heartbeatStop = nil
}

// runHeartbeat emits a heartbeat per tick. Every tick re-checks, under the
// session lock, that this generation is still the live one and that playback
// is still on, so a tick racing a pause never emits.
func (t *Tracker) runHeartbeat(ctx context.Context, gen uint64) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.closed || !t.session.IsPlaying || gen != t.heartbeatGen || ctx.Err() != nil {
				t.mu.Unlock()
				return
			}
			t.emitLocked(t.eventLocked(EventHeartbeat))
			t.mu.Unlock()
		}
	}
}
