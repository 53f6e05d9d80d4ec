package tracker

// AutoplayState is the viewport-driven playback state of a tracker.
type AutoplayState int

const (
	OutOfView AutoplayState = iota
	InViewPlaying
	InViewPausedByUser
)

func (s AutoplayState) String() string {
	switch s {
	case OutOfView:
		return "out_of_view"
	case InViewPlaying:
		return "in_view_playing"
	case InViewPausedByUser:
		return "in_view_paused_by_user"
	default:
		return "unknown"
	}
}

// AutoplayInput is something that happened to the player or the viewport.
type AutoplayInput int

const (
	// ViewportEnter means the container is intersecting at or above the
	// configured threshold.
	ViewportEnter AutoplayInput = iota
	// ViewportLeave means the container dropped below the threshold.
	ViewportLeave
	// AutoplayStarted means a play command issued for ViewportEnter succeeded.
	AutoplayStarted
	// Played means the player reported playback starting, whoever asked.
	Played
	// UserPause means the viewer paused through the player controls.
	UserPause
)

// AutoplayAction is the player command the machine asks for.
type AutoplayAction int

const (
	ActionNone AutoplayAction = iota
	ActionPlay
	ActionPause
)

// autoplayMachine decides play/pause commands from viewport changes without
// overriding a viewer who paused by hand. The userPaused latch is only set by
// UserPause and only cleared by Played.
type autoplayMachine struct {
	state      AutoplayState
	userPaused bool
}

func (m *autoplayMachine) Fire(in AutoplayInput) AutoplayAction {
	switch in {
	case ViewportEnter:
		if m.userPaused {
			m.state = InViewPausedByUser
			return ActionNone
		}
		if m.state == InViewPlaying {
			return ActionNone
		}
		// State only moves once the play command succeeds.
		return ActionPlay

	case ViewportLeave:
		m.state = OutOfView
		return ActionPause

	case AutoplayStarted:
		if !m.userPaused {
			m.state = InViewPlaying
		}

	case Played:
		m.userPaused = false
		if m.state == InViewPausedByUser {
			m.state = InViewPlaying
		}

	case UserPause:
		m.userPaused = true
		if m.state == InViewPlaying {
			m.state = InViewPausedByUser
		}
	}
	return ActionNone
}

func (m *autoplayMachine) State() AutoplayState {
	return m.state
}

func (m *autoplayMachine) UserPaused() bool {
	return m.userPaused
}
