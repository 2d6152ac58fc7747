// Package scheduler runs the periodic frame loop: wait for permission, start
// the device once, then pull frames and hand them to a sink every period.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-oakview/pkg/device"
	"github.com/teslashibe/go-oakview/pkg/frame"
	"github.com/teslashibe/go-oakview/pkg/session"
)

// DefaultPeriod is the nominal tick period (~33 Hz).
const DefaultPeriod = 30 * time.Millisecond

// heartbeatTicks is how often a progress line is logged (~3s at 30ms).
const heartbeatTicks = 100

// retryLogEvery is how often a repeated start failure is logged.
const retryLogEvery = 100

// Config holds scheduler settings.
type Config struct {
	// Period between the end of one tick and the start of the next.
	Period time.Duration

	// Model is passed to the one-time start.
	Model device.ModelConfig

	// MaxStartAttempts caps failed start retries. 0 retries forever.
	MaxStartAttempts int

	Logger *slog.Logger
}

// Scheduler is a self-rescheduling frame loop. Ticks run one at a time on
// the goroutine that called Run.
//
// State machine: idle (waiting for permission) -> started (polling) ->
// stopped. Stopped is terminal; a stopped Scheduler never runs again.
type Scheduler struct {
	cfg    Config
	state  *session.State
	device Device
	sink   Sink
	logger *slog.Logger

	paused  atomic.Bool
	claimed atomic.Bool
	done    chan struct{}

	// Diagnostics
	ticks         atomic.Int64
	waitingTicks  atomic.Int64
	pausedTicks   atomic.Int64
	startAttempts atomic.Int64
	rendered      atomic.Int64
	gaveUp        atomic.Bool
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Ticks         int64 `json:"ticks"`
	WaitingTicks  int64 `json:"waiting_ticks"`
	PausedTicks   int64 `json:"paused_ticks"`
	StartAttempts int64 `json:"start_attempts"`
	Rendered      int64 `json:"rendered"`
	GaveUp        bool  `json:"gave_up"`
	Paused        bool  `json:"paused"`
}

// New creates a scheduler over state, pulling from dev and rendering to sink.
func New(state *session.State, dev Device, sink Sink, cfg Config) *Scheduler {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		state:  state,
		device: dev,
		sink:   sink,
		logger: cfg.Logger.With("component", "scheduler"),
		done:   make(chan struct{}),
	}
}

// Run executes ticks until the session stops running or ctx is cancelled.
// The first tick runs immediately. Only the first call to Run has an effect.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.claimed.CompareAndSwap(false, true) {
		return
	}
	defer close(s.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler cancelled", "ticks", s.ticks.Load())
			return
		case <-timer.C:
		}

		if !s.tick() {
			return
		}
		timer.Reset(s.cfg.Period)
	}
}

// Done is closed when Run returns.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Pause makes ticks skip all device work until Resume. Stop requests are
// still honoured while paused.
func (s *Scheduler) Pause() {
	if !s.paused.Swap(true) {
		s.logger.Debug("scheduler paused")
	}
}

// Resume undoes Pause.
func (s *Scheduler) Resume() {
	if s.paused.Swap(false) {
		s.logger.Debug("scheduler resumed")
	}
}

// Period returns the tick period.
func (s *Scheduler) Period() time.Duration {
	return s.cfg.Period
}

// Stats returns the current counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:         s.ticks.Load(),
		WaitingTicks:  s.waitingTicks.Load(),
		PausedTicks:   s.pausedTicks.Load(),
		StartAttempts: s.startAttempts.Load(),
		Rendered:      s.rendered.Load(),
		GaveUp:        s.gaveUp.Load(),
		Paused:        s.paused.Load(),
	}
}

// tick executes one cycle and reports whether the loop should continue.
func (s *Scheduler) tick() bool {
	snap := s.state.Snapshot()
	if !snap.Running {
		s.logger.Info("scheduler stopped",
			"ticks", s.ticks.Load(), "rendered", s.rendered.Load(), "start_attempts", s.startAttempts.Load())
		return false
	}

	n := s.ticks.Add(1)
	if n%heartbeatTicks == 0 {
		s.heartbeat(snap)
	}

	if s.paused.Load() {
		s.pausedTicks.Add(1)
		return true
	}
	if !snap.PermissionGranted {
		s.waitingTicks.Add(1)
		return true
	}

	// A restored session may claim started while this process has no
	// live pipeline; the device is the authority.
	if !snap.Started || !s.device.Started() {
		if !s.start() {
			return true
		}
	}

	for _, p := range frame.Products {
		f, ok := s.device.Pull(p)
		if !ok {
			continue
		}
		s.sink.Render(f)
		s.rendered.Add(1)
	}
	return true
}

// start makes one start attempt and reports whether the pipeline is live.
func (s *Scheduler) start() bool {
	if s.gaveUp.Load() {
		return false
	}
	if limit := s.cfg.MaxStartAttempts; limit > 0 && s.startAttempts.Load() >= int64(limit) {
		s.gaveUp.Store(true)
		s.logger.Error("giving up on device start", "attempts", s.startAttempts.Load())
		return false
	}

	attempt := s.startAttempts.Add(1)
	ok := s.device.Start(s.cfg.Model)
	if !s.state.MarkStarted(ok) {
		return false
	}
	if !ok {
		if attempt == 1 || attempt%retryLogEvery == 0 {
			s.logger.Warn("device start failed, retrying next tick", "attempt", attempt, "model", s.cfg.Model.String())
		}
		return false
	}
	s.logger.Info("session started", "attempt", attempt, "model", s.cfg.Model.String())
	return true
}

func (s *Scheduler) heartbeat(snap session.Snapshot) {
	s.logger.Debug("scheduler heartbeat",
		"ticks", s.ticks.Load(),
		"rendered", s.rendered.Load(),
		"start_attempts", s.startAttempts.Load(),
		"permission", snap.PermissionGranted,
		"started", snap.Started,
		"paused", s.paused.Load())
}
