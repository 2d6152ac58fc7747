// Package lifecycle maps host view events onto the permission subscription
// and the frame scheduler.
//
//	Activate -> connect once, start the scheduler
//	Resume   -> subscribe to permission notifications
//	Pause    -> unsubscribe (the scheduler keeps running unless PauseOnHidden)
//	Destroy  -> running=false, started=false; the next tick ends the loop
//
// A Coordinator is one-shot: after Destroy it cannot be activated again and
// the host builds a new one.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-oakview/pkg/device"
	"github.com/teslashibe/go-oakview/pkg/permission"
	"github.com/teslashibe/go-oakview/pkg/scheduler"
	"github.com/teslashibe/go-oakview/pkg/session"
)

// Sentinel errors for lifecycle misuse.
var (
	// ErrDestroyed is returned when activating a torn-down coordinator.
	ErrDestroyed = errors.New("lifecycle: session destroyed")

	// ErrAlreadyActive is returned by a second Activate.
	ErrAlreadyActive = errors.New("lifecycle: already active")

	// ErrNotActive is returned when an operation needs an activated session.
	ErrNotActive = errors.New("lifecycle: not active")
)

// Device is the device session surface the coordinator needs.
type Device interface {
	scheduler.Device
	Connect() bool
}

// Options configures a Coordinator.
type Options struct {
	Model            device.ModelConfig
	Period           time.Duration
	MaxStartAttempts int

	// PauseOnHidden pauses the scheduler while the view is hidden.
	// By default only the permission subscription follows visibility.
	PauseOnHidden bool

	Logger *slog.Logger
}

// Coordinator owns the SessionState of one host view.
type Coordinator struct {
	id     string
	opts   Options
	dev    Device
	source permission.Source
	sink   scheduler.Sink
	gate   *permission.Gate
	logger *slog.Logger

	mu        sync.Mutex
	state     *session.State
	sched     *scheduler.Scheduler
	unbind    func()
	visible   bool
	destroyed bool
}

// New creates a coordinator. source delivers permission notifications and
// sink receives frames.
func New(dev Device, source permission.Source, sink scheduler.Sink, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Model.Path == "" {
		opts.Model = device.DefaultModel()
	}
	id := uuid.NewString()
	return &Coordinator{
		id:     id,
		opts:   opts,
		dev:    dev,
		source: source,
		sink:   sink,
		gate:   permission.NewGate(),
		logger: opts.Logger.With("component", "lifecycle", "session", id),
	}
}

// ID returns the session identifier used in logs.
func (c *Coordinator) ID() string {
	return c.id
}

// Gate returns the permission gate.
func (c *Coordinator) Gate() *permission.Gate {
	return c.gate
}

// Activate creates the session state, restoring saved flags when given,
// attempts one device connection to seed the permission flag and starts
// the frame scheduler. The scheduler stops when ctx is cancelled or after
// Destroy.
func (c *Coordinator) Activate(ctx context.Context, saved *session.Flags) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if c.state != nil {
		c.mu.Unlock()
		return ErrAlreadyActive
	}

	if saved != nil {
		c.state = session.Restore(c.gate, *saved)
		c.logger.Info("session restored", "running", saved.Running, "started", saved.Started)
	} else {
		c.state = session.New(c.gate)
		c.logger.Info("session created")
	}
	c.sched = scheduler.New(c.state, c.dev, c.sink, scheduler.Config{
		Period:           c.opts.Period,
		Model:            c.opts.Model,
		MaxStartAttempts: c.opts.MaxStartAttempts,
		Logger:           c.logger,
	})
	if c.opts.PauseOnHidden && !c.visible {
		c.sched.Pause()
	}
	sched := c.sched
	c.mu.Unlock()

	// Connect runs before the loop so the two never touch the device at
	// the same time.
	if c.dev.Connect() {
		c.gate.Grant()
	}
	c.logger.Info("initial permission", "granted", c.gate.Granted())

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		sched.Run(runCtx)
	}()
	return nil
}

// ActivateFrom loads saved flags from store and activates with them.
// A store error is logged and the session starts with defaults.
func (c *Coordinator) ActivateFrom(ctx context.Context, store session.Store) error {
	flags, ok, err := store.Load()
	if err != nil {
		c.logger.Warn("ignoring saved state", "error", err)
		ok = false
	}
	if !ok {
		return c.Activate(ctx, nil)
	}
	return c.Activate(ctx, &flags)
}

// Resume subscribes to permission notifications.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return
	}
	c.visible = true
	if c.unbind == nil {
		c.unbind = c.gate.Bind(c.source)
	}
	if c.opts.PauseOnHidden && c.sched != nil {
		c.sched.Resume()
	}
	c.logger.Debug("view resumed")
}

// Pause unsubscribes from permission notifications. The scheduler keeps
// running unless PauseOnHidden is set.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.visible = false
	c.unbindLocked()
	if c.opts.PauseOnHidden && c.sched != nil {
		c.sched.Pause()
	}
	c.logger.Debug("view paused")
}

// Destroy tears the session down. The scheduler observes it on its next
// tick and exits; an in-flight tick is not interrupted.
func (c *Coordinator) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return
	}
	c.destroyed = true
	c.unbindLocked()
	if c.state != nil {
		c.state.Stop()
	}
	c.logger.Info("session destroyed")
}

// Flags returns the persistable flags. A destroyed session has nothing
// left to persist.
func (c *Coordinator) Flags() (session.Flags, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return session.Flags{}, ErrDestroyed
	}
	if c.state == nil {
		return session.Flags{}, ErrNotActive
	}
	return c.state.Flags(), nil
}

// SaveState writes the persistable flags to store.
func (c *Coordinator) SaveState(store session.Store) error {
	flags, err := c.Flags()
	if err != nil {
		return err
	}
	if err := store.Save(flags); err != nil {
		return fmt.Errorf("lifecycle: save state: %w", err)
	}
	c.logger.Debug("state saved", "running", flags.Running, "started", flags.Started)
	return nil
}

// Snapshot returns the current session flags.
func (c *Coordinator) Snapshot() session.Snapshot {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == nil {
		return session.Snapshot{PermissionGranted: c.gate.Granted()}
	}
	return state.Snapshot()
}

// Stats returns the scheduler counters.
func (c *Coordinator) Stats() scheduler.Stats {
	c.mu.Lock()
	sched := c.sched
	c.mu.Unlock()
	if sched == nil {
		return scheduler.Stats{}
	}
	return sched.Stats()
}

// Visible reports whether the view is currently resumed.
func (c *Coordinator) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// Done is closed when the scheduler exits. It is nil before Activate.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sched == nil {
		return nil
	}
	return c.sched.Done()
}

// Wait blocks until the scheduler exits or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := c.Done()
	if done == nil {
		return ErrNotActive
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) unbindLocked() {
	if c.unbind != nil {
		c.unbind()
		c.unbind = nil
	}
}
