package tracker

// observeViewport (re)creates the viewport subscription. The observer may
// deliver its first entry synchronously from Observe.
func (t *Tracker) observeViewport() {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	if t.viewSub != nil {
		t.viewSub.Disconnect()
		t.viewSub = nil
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}

	thresholds := []float64{0, t.cfg.ViewportThreshold}
	t.viewSub = t.viewport.Observe(thresholds, t.handleIntersection)
}

// rewireViewport replaces the subscription after the manual-pause latch
// changed, matching an observer whose lifetime depends on that latch.
func (t *Tracker) rewireViewport() {
	if !t.cfg.autoplayEnabled() || t.viewport == nil {
		return
	}
	t.observeViewport()
}

func (t *Tracker) disconnectViewport() {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	if t.viewSub != nil {
		t.viewSub.Disconnect()
		t.viewSub = nil
	}
}

func (t *Tracker) handleIntersection(entry IntersectionEntry) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	var action AutoplayAction
	if entry.IsIntersecting && entry.IntersectionRatio >= t.cfg.ViewportThreshold {
		action = t.autoplay.Fire(ViewportEnter)
	} else {
		action = t.autoplay.Fire(ViewportLeave)
		if t.session.IsPlaying {
			t.pendingPause = InitiatorViewport
		}
	}
	t.mu.Unlock()

	switch action {
	case ActionPlay:
		t.startAutoplay()
	case ActionPause:
		t.commandPause(InitiatorViewport)
	}
}

// startAutoplay plays muted first, which platforms generally allow, then
// tries to unmute. Refusals are expected and leave the state unchanged.
func (t *Tracker) startAutoplay() {
	if err := t.player.SetMuted(true); err != nil {
		t.logger.Debug("mute before autoplay rejected", "error", err)
	}
	if err := t.player.Play(t.ctx); err != nil {
		t.logger.Debug("autoplay blocked", "error", err)
		return
	}
	if err := t.player.SetMuted(false); err != nil {
		t.logger.Debug("unmute after autoplay rejected", "error", err)
	}

	t.mu.Lock()
	if !t.closed {
		t.autoplay.Fire(AutoplayStarted)
	}
	t.mu.Unlock()
}

func (t *Tracker) commandPause(initiator Initiator) {
	if err := t.player.Pause(t.ctx); err != nil {
		t.logger.Debug("pause command rejected", "initiator", initiator, "error", err)

		t.mu.Lock()
		if t.pendingPause == initiator {
			t.pendingPause = ""
		}
		t.mu.Unlock()
	}
}
