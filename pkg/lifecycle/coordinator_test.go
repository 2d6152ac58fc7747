package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-oakview/internal/log"
	"github.com/teslashibe/go-oakview/pkg/device"
	"github.com/teslashibe/go-oakview/pkg/frame"
	"github.com/teslashibe/go-oakview/pkg/permission"
	"github.com/teslashibe/go-oakview/pkg/scheduler"
	"github.com/teslashibe/go-oakview/pkg/session"
)

var testModel = device.ModelConfig{Name: "test", Path: "test.blob", Width: 64, Height: 64}

type countingSink struct {
	n atomic.Int64
}

func (s *countingSink) Render(frame.Frame) { s.n.Add(1) }

type harness struct {
	mock  *device.Mock
	dev   *device.Session
	bus   *permission.Broadcaster
	sink  *countingSink
	coord *Coordinator
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	mock := device.NewMock(testModel, 80, 50)
	mock.ConnectFunc = func() bool { return false }
	dev := device.NewSession(mock, frame.Resolution{Width: 80, Height: 50}, log.Discard())
	bus := permission.NewBroadcaster()
	sink := &countingSink{}

	opts.Model = testModel
	if opts.Period == 0 {
		opts.Period = 2 * time.Millisecond
	}
	opts.Logger = log.Discard()

	h := &harness{mock: mock, dev: dev, bus: bus, sink: sink, coord: New(dev, bus, sink, opts)}
	t.Cleanup(h.coord.Destroy)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestActivate_ConnectSeedsPermission(t *testing.T) {
	h := newHarness(t, Options{})
	h.mock.ConnectFunc = func() bool { return true }

	if err := h.coord.Activate(context.Background(), nil); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !h.coord.Gate().Granted() {
		t.Error("successful connect should grant permission")
	}
	waitFor(t, "frames", func() bool { return h.sink.n.Load() >= 3 })

	if got := h.mock.CallCount("Start"); got != 1 {
		t.Errorf("Start calls: got %d, want 1", got)
	}
}

func TestActivate_WaitsForNotification(t *testing.T) {
	h := newHarness(t, Options{})
	if err := h.coord.Activate(context.Background(), nil); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	h.coord.Resume()

	waitFor(t, "idle ticks", func() bool { return h.coord.Stats().WaitingTicks >= 5 })
	if h.mock.CallCount("Start") != 0 || h.sink.n.Load() != 0 {
		t.Fatal("nothing should happen before permission")
	}

	// the user plugs the device in and grants access
	h.mock.ConnectFunc = func() bool { return true }
	if n := h.bus.Send(permission.ActionUSBPermission); n != 1 {
		t.Fatalf("expected one subscriber, got %d", n)
	}
	waitFor(t, "start", func() bool { return h.coord.Snapshot().Started })
	waitFor(t, "frames", func() bool { return h.sink.n.Load() > 0 })
}

func TestActivate_DevicePluggedInLater(t *testing.T) {
	h := newHarness(t, Options{})

	// like a capture backend, Start only works on a live connection
	var plugged, live atomic.Bool
	h.mock.ConnectFunc = func() bool {
		ok := plugged.Load()
		live.Store(ok)
		return ok
	}
	h.mock.StartFunc = func(string, int, int) bool { return live.Load() }

	if err := h.coord.Activate(context.Background(), nil); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	h.coord.Resume()
	if h.coord.Gate().Granted() {
		t.Fatal("nothing is plugged in yet")
	}

	h.bus.Send(permission.ActionUSBPermission)
	waitFor(t, "reconnect attempts", func() bool { return h.mock.CallCount("Connect") >= 3 })
	if h.mock.CallCount("Start") != 0 || h.coord.Snapshot().Started {
		t.Fatal("start should wait for a connection")
	}

	plugged.Store(true)
	waitFor(t, "start", func() bool { return h.coord.Snapshot().Started })
	waitFor(t, "frames", func() bool { return h.sink.n.Load() > 0 })

	if got := h.mock.CallCount("Start"); got != 1 {
		t.Errorf("Start calls: got %d, want 1", got)
	}
	if !h.dev.Connected() {
		t.Error("session should report the new connection")
	}
}

func TestActivate_RestoredNotRunning(t *testing.T) {
	h := newHarness(t, Options{})
	h.mock.ConnectFunc = func() bool { return true }

	if err := h.coord.Activate(context.Background(), &session.Flags{Running: false}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	select {
	case <-h.coord.Done():
	case <-time.After(time.Second):
		t.Fatal("a session restored as stopped should end on its first tick")
	}

	if got := h.mock.CallCount("Start"); got != 0 {
		t.Errorf("Start calls: got %d, want 0", got)
	}
	for _, pull := range []string{"ColorFrame", "DetectionFrame", "DepthFrame"} {
		if got := h.mock.CallCount(pull); got != 0 {
			t.Errorf("%s calls: got %d, want 0", pull, got)
		}
	}
	if h.sink.n.Load() != 0 {
		t.Error("nothing should render")
	}
}

func TestPause_UnsubscribesButKeepsRunning(t *testing.T) {
	h := newHarness(t, Options{})
	h.coord.Activate(context.Background(), nil)
	h.coord.Resume()
	h.coord.Pause()

	if n := h.bus.Send(permission.ActionUSBPermission); n != 0 {
		t.Errorf("paused view should not be subscribed, %d handlers called", n)
	}
	if h.coord.Gate().Granted() {
		t.Error("notification while paused should be ignored")
	}

	before := h.coord.Stats().Ticks
	waitFor(t, "ticks while hidden", func() bool { return h.coord.Stats().Ticks > before+3 })

	h.coord.Resume()
	if n := h.bus.Send(permission.ActionUSBPermission); n != 1 {
		t.Errorf("resumed view should be subscribed once, got %d", n)
	}
}

func TestResume_Idempotent(t *testing.T) {
	h := newHarness(t, Options{})
	h.coord.Resume()
	h.coord.Resume()

	if got := h.bus.Subscribers(permission.ActionUSBPermission); got != 1 {
		t.Errorf("subscribers: got %d, want 1", got)
	}
	if !h.coord.Visible() {
		t.Error("expected visible")
	}
}

func TestPauseOnHidden(t *testing.T) {
	h := newHarness(t, Options{PauseOnHidden: true})
	h.mock.ConnectFunc = func() bool { return true }

	h.coord.Activate(context.Background(), nil)
	waitFor(t, "paused ticks", func() bool { return h.coord.Stats().PausedTicks >= 3 })
	if h.mock.CallCount("Start") != 0 {
		t.Fatal("hidden view with PauseOnHidden should not start the device")
	}

	h.coord.Resume()
	waitFor(t, "frames", func() bool { return h.sink.n.Load() > 0 })

	h.coord.Pause()
	time.Sleep(10 * time.Millisecond)
	rendered := h.sink.n.Load()
	time.Sleep(20 * time.Millisecond)
	if h.sink.n.Load() != rendered {
		t.Error("frames rendered while paused")
	}
}

func TestDestroy_StopsScheduler(t *testing.T) {
	h := newHarness(t, Options{})
	h.mock.ConnectFunc = func() bool { return true }
	h.coord.Activate(context.Background(), nil)
	h.coord.Resume()
	waitFor(t, "frames", func() bool { return h.sink.n.Load() > 0 })

	h.coord.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.coord.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	snap := h.coord.Snapshot()
	if snap.Running || snap.Started {
		t.Errorf("after destroy: %+v", snap)
	}
	if !snap.PermissionGranted {
		t.Error("destroy must not clear permission")
	}
	if h.bus.Subscribers(permission.ActionUSBPermission) != 0 {
		t.Error("destroy should unsubscribe")
	}

	calls := len(h.mock.Calls())
	time.Sleep(20 * time.Millisecond)
	if len(h.mock.Calls()) != calls {
		t.Error("device touched after destroy")
	}
}

func TestActivate_AfterDestroy(t *testing.T) {
	h := newHarness(t, Options{})
	h.coord.Destroy()

	if err := h.coord.Activate(context.Background(), nil); !errors.Is(err, ErrDestroyed) {
		t.Errorf("expected ErrDestroyed, got %v", err)
	}
}

func TestActivate_Twice(t *testing.T) {
	h := newHarness(t, Options{})
	h.coord.Activate(context.Background(), nil)

	if err := h.coord.Activate(context.Background(), nil); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("expected ErrAlreadyActive, got %v", err)
	}
	if got := h.mock.CallCount("Connect"); got != 1 {
		t.Errorf("Connect calls: got %d, want 1", got)
	}
}

func TestSaveRestore_SameProcess(t *testing.T) {
	h := newHarness(t, Options{})
	h.mock.ConnectFunc = func() bool { return true }
	h.coord.Activate(context.Background(), nil)
	waitFor(t, "start", func() bool { return h.coord.Snapshot().Started })

	var store session.MemoryStore
	if err := h.coord.SaveState(&store); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	h.coord.Destroy()
	h.coord.Wait(context.Background())

	// the view is recreated over the same live device session
	next := New(h.dev, h.bus, h.sink, Options{Model: testModel, Period: 2 * time.Millisecond, Logger: log.Discard()})
	defer next.Destroy()
	if err := next.ActivateFrom(context.Background(), &store); err != nil {
		t.Fatalf("ActivateFrom: %v", err)
	}
	before := h.sink.n.Load()
	waitFor(t, "frames after restore", func() bool { return h.sink.n.Load() > before })

	if got := h.mock.CallCount("Start"); got != 1 {
		t.Errorf("restore should not restart the pipeline, Start calls: %d", got)
	}
	if got := next.Stats().StartAttempts; got != 0 {
		t.Errorf("restored StartAttempts: got %d, want 0", got)
	}
}

func TestSaveRestore_FreshProcess(t *testing.T) {
	var store session.MemoryStore
	store.Save(session.Flags{Running: true, Started: true})

	h := newHarness(t, Options{})
	h.mock.ConnectFunc = func() bool { return true }
	if err := h.coord.ActivateFrom(context.Background(), &store); err != nil {
		t.Fatalf("ActivateFrom: %v", err)
	}

	waitFor(t, "frames", func() bool { return h.sink.n.Load() > 0 })
	if got := h.mock.CallCount("Start"); got != 1 {
		t.Errorf("fresh pipeline should start exactly once, got %d", got)
	}
}

func TestSaveState_NotActive(t *testing.T) {
	h := newHarness(t, Options{})
	var store session.MemoryStore
	if err := h.coord.SaveState(&store); !errors.Is(err, ErrNotActive) {
		t.Errorf("expected ErrNotActive, got %v", err)
	}
}

func TestSaveState_AfterDestroy(t *testing.T) {
	h := newHarness(t, Options{})
	h.coord.Activate(context.Background(), nil)
	h.coord.Destroy()

	var store session.MemoryStore
	if err := h.coord.SaveState(&store); !errors.Is(err, ErrDestroyed) {
		t.Errorf("expected ErrDestroyed, got %v", err)
	}
	if _, ok, _ := store.Load(); ok {
		t.Error("torn-down flags must not overwrite saved state")
	}
}

func TestID_Unique(t *testing.T) {
	a := newHarness(t, Options{})
	b := newHarness(t, Options{})
	if a.coord.ID() == "" || a.coord.ID() == b.coord.ID() {
		t.Errorf("ids: %q %q", a.coord.ID(), b.coord.ID())
	}
}

var _ scheduler.Sink = (*countingSink)(nil)
