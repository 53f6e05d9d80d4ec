package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Iseeumhmm/projectace-demo/internal/identity"
	"github.com/Iseeumhmm/projectace-demo/internal/tracker"
	"github.com/Iseeumhmm/projectace-demo/internal/utils"
	"github.com/hashicorp/go-hclog"
)

// Options configure a replay.
type Options struct {
	// Defaults are the tracker settings scripts start from; the zero value
	// means tracker.DefaultConfig. PlaybackID is taken from the script.
	Defaults tracker.Config
	Sink     tracker.Sink
	Identity tracker.IdentityStore
	Logger   hclog.Logger
	// Speed scales step offsets and waits: 10 runs ten times faster than
	// real time. Zero means real time. Heartbeats are not scaled.
	Speed float64
	NewID func() string
}

func (o *Options) normalize() {
	if o.Logger == nil {
		o.Logger = hclog.NewNullLogger()
	}
	if o.Speed <= 0 {
		o.Speed = 1
	}
	if o.Defaults == (tracker.Config{}) {
		o.Defaults = tracker.DefaultConfig("")
	}
}

// Result summarizes a finished replay.
type Result struct {
	Script    string                `json:"script"`
	SessionID string                `json:"session_id"`
	ViewerID  string                `json:"viewer_id"`
	Steps     int                   `json:"steps"`
	Autoplay  string                `json:"autoplay"`
	Session   tracker.Session       `json:"-"`
	Watched   tracker.WatchedRanges `json:"watched"`
	Elapsed   time.Duration         `json:"elapsed"`
}

// Run mounts a tracker on a scripted player and plays every step through
// it. The tracker is closed before Run returns. On cancellation the result
// covers the steps already applied.
func Run(ctx context.Context, script *Script, opts Options) (Result, error) {
	if err := script.Validate(); err != nil {
		return Result{}, err
	}
	opts.normalize()

	cfg := opts.Defaults
	cfg.PlaybackID = script.PlaybackID
	if script.AutoplayInViewport != nil {
		cfg.AutoplayInViewport = *script.AutoplayInViewport
	}
	if script.ViewportThreshold != nil {
		cfg.ViewportThreshold = *script.ViewportThreshold
	}
	if script.HeartbeatInterval != nil {
		cfg.HeartbeatInterval = *script.HeartbeatInterval
	}
	cfg.ReducedMotion = cfg.ReducedMotion || script.ReducedMotion

	player := NewPlayer()
	player.BlockPlay(script.BlockAutoplay)
	if script.Buffered > 0 {
		player.SetBuffered(script.Buffered)
	}
	viewport := NewViewport()
	page := NewPage()

	store := opts.Identity
	if script.Viewer != "" {
		seeded := identity.NewMemoryStore()
		_ = seeded.Set(tracker.ViewerIDKey, utils.GenerateNamespaceUUID(utils.NamespaceViewers, script.Viewer))
		store = seeded
	}

	logger := opts.Logger.Named("replay").With("script", script.Name)
	t, err := tracker.New(cfg, tracker.Dependencies{
		Player:   player,
		Viewport: viewport,
		Page:     page,
		Identity: store,
		Sink:     opts.Sink,
		Logger:   opts.Logger.Named("tracker"),
		NewID:    opts.NewID,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to mount tracker: %w", err)
	}
	player.Attach(t)
	defer t.Close()

	r := &runner{script: script, player: player, viewport: viewport, page: page, speed: opts.Speed}
	start := time.Now()
	applied := 0
	var runErr error
	for i, step := range script.Steps {
		if err := sleep(ctx, r.scale(step.At)-time.Since(start)); err != nil {
			runErr = err
			break
		}
		logger.Debug("step", "index", i, "action", step.Action, "value", step.Value)
		if err := r.apply(ctx, step); err != nil {
			runErr = err
			break
		}
		applied++
	}

	snap := t.Snapshot()
	res := Result{
		Script:    script.Name,
		SessionID: snap.SessionID,
		ViewerID:  snap.ViewerID,
		Steps:     applied,
		Autoplay:  t.AutoplayState().String(),
		Session:   snap,
		Watched:   snap.WatchedRanges,
		Elapsed:   time.Since(start),
	}
	if runErr != nil {
		logger.Warn("replay interrupted", "steps", applied, "error", runErr)
		return res, runErr
	}
	logger.Info("replay finished", "session_id", res.SessionID, "steps", applied, "coverage", snap.WatchedRanges.Coverage())
	return res, nil
}

// RunAll replays scripts concurrently on a pool of workers. Results keep the
// order of scripts; failures are joined.
func RunAll(ctx context.Context, scripts []*Script, opts Options, workers int) ([]Result, error) {
	pool := utils.NewWorkerPool(workers)
	pool.Start()
	defer pool.Stop()

	results := make([]Result, len(scripts))
	errs := make([]error, len(scripts))
	for i, s := range scripts {
		i, s := i, s
		err := pool.SubmitWait(ctx, func() {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("%s: replay panicked: %v", s.Name, r)
				}
			}()
			res, err := Run(ctx, s, opts)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Name, err)
			}
		})
		if err != nil {
			errs[i] = err
			break
		}
	}
	pool.Wait()
	return results, errors.Join(errs...)
}

type runner struct {
	script   *Script
	player   *Player
	viewport *Viewport
	page     *Page
	speed    float64
}

func (r *runner) scale(d time.Duration) time.Duration {
	return time.Duration(float64(d) / r.speed)
}

func (r *runner) apply(ctx context.Context, step Step) error {
	switch step.Action {
	case ActionMetadata:
		d := step.Value
		if d == 0 {
			d = r.script.Duration
		}
		r.player.LoadMetadata(d)
	case ActionPlay:
		r.player.UserPlay()
	case ActionPause:
		r.player.UserPause()
	case ActionSeek:
		r.player.Seek(step.Value)
	case ActionTime:
		r.player.Advance(step.Value)
	case ActionWait:
		return sleep(ctx, r.scale(time.Duration(step.Value*float64(time.Second))))
	case ActionWaiting:
		r.player.Stall()
	case ActionPlaying:
		r.player.Resume()
	case ActionEnd:
		r.player.End()
	case ActionError:
		r.player.Fail()
	case ActionHide:
		r.page.SetVisibility(tracker.Hidden)
	case ActionShow:
		r.page.SetVisibility(tracker.Visible)
	case ActionViewport:
		r.viewport.Set(step.Value)
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
