package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-oakview/internal/config"
	"github.com/teslashibe/go-oakview/internal/log"
	"github.com/teslashibe/go-oakview/pkg/device"
	"github.com/teslashibe/go-oakview/pkg/device/cv"
	"github.com/teslashibe/go-oakview/pkg/lifecycle"
	"github.com/teslashibe/go-oakview/pkg/permission"
	"github.com/teslashibe/go-oakview/pkg/scheduler"
	"github.com/teslashibe/go-oakview/pkg/session"
)

// shutdownTimeout bounds the wait for the scheduler after Destroy.
const shutdownTimeout = 2 * time.Second

// runtime is the device side shared by both hosts.
type runtime struct {
	cfg     *config.Config
	model   device.ModelConfig
	backend device.Backend
	dev     *device.Session
	bus     *permission.Broadcaster
	watcher *permission.Watcher
	store   session.Store
	logger  *slog.Logger
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	model, err := cfg.ModelConfig()
	if err != nil {
		return nil, err
	}
	logger := log.L()

	rt := &runtime{
		cfg:    cfg,
		model:  model,
		store:  session.NewFileStore(cfg.Lifecycle.StateFile),
		logger: logger,
	}

	depth := cfg.DepthResolution()
	switch cfg.Device.Backend {
	case config.BackendMock:
		rt.backend = device.NewMock(model, depth.Width, depth.Height)
	case config.BackendCV:
		rt.backend = cv.New(cv.Config{
			Camera:           cfg.Device.Camera,
			DepthModel:       cfg.Device.DepthModel,
			Depth:            depth,
			ConfidenceThresh: cfg.Device.Confidence,
			NMSThresh:        cfg.Device.NMS,
			Logger:           logger,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Device.Backend)
	}
	rt.dev = device.NewSession(rt.backend, depth, logger)

	if cfg.Device.Node != "" {
		w, err := permission.NewWatcher(cfg.Device.Node, logger)
		if err != nil {
			return nil, err
		}
		rt.watcher = w
		rt.bus = w.Broadcaster
	} else {
		rt.bus = permission.NewBroadcaster()
	}

	logger.Info("runtime ready",
		"backend", cfg.Device.Backend,
		"model", model.String(),
		"depth", depth.String(),
		"node", cfg.Device.Node)
	return rt, nil
}

// coordinator builds the lifecycle coordinator rendering into sink.
func (rt *runtime) coordinator(sink scheduler.Sink) *lifecycle.Coordinator {
	return lifecycle.New(rt.dev, rt.bus, sink, lifecycle.Options{
		Model:            rt.model,
		Period:           rt.cfg.Scheduler.Period,
		MaxStartAttempts: rt.cfg.Scheduler.MaxStartAttempts,
		PauseOnHidden:    rt.cfg.Lifecycle.PauseOnHidden,
		Logger:           rt.logger,
	})
}

// watch runs the device node watcher until ctx is done.
func (rt *runtime) watch(ctx context.Context) {
	if rt.watcher == nil {
		return
	}
	go rt.watcher.Run(ctx)
}

// teardown saves the flags, destroys the session and waits for the loop.
func (rt *runtime) teardown(coord *lifecycle.Coordinator) {
	err := coord.SaveState(rt.store)
	if err != nil && !errors.Is(err, lifecycle.ErrNotActive) && !errors.Is(err, lifecycle.ErrDestroyed) {
		rt.logger.Warn("save session state", "error", err)
	}
	coord.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := coord.Wait(ctx); err != nil && !errors.Is(err, lifecycle.ErrNotActive) {
		rt.logger.Warn("scheduler did not stop", "error", err)
	}
}

// Close releases the device, its backend and the watcher.
func (rt *runtime) Close() error {
	var errs []error
	if rt.watcher != nil {
		errs = append(errs, rt.watcher.Close())
	}
	errs = append(errs, rt.dev.Close())
	return errors.Join(errs...)
}

// hostSession is the coordinator as seen by a host. Resume re-checks the
// watched device node so a view that subscribes late still learns the
// current permission.
type hostSession struct {
	*lifecycle.Coordinator
	watcher *permission.Watcher
}

func (rt *runtime) hostSession(coord *lifecycle.Coordinator) *hostSession {
	return &hostSession{Coordinator: coord, watcher: rt.watcher}
}

// Resume subscribes to permission notifications.
func (h *hostSession) Resume() {
	h.Coordinator.Resume()
	if h.watcher != nil {
		h.watcher.Check()
	}
}
