package desktop

import (
	"context"
	"errors"
	"strings"
	"testing"

	"fyne.io/fyne/v2/test"

	"github.com/teslashibe/go-oakview/internal/log"
	"github.com/teslashibe/go-oakview/pkg/device"
	"github.com/teslashibe/go-oakview/pkg/frame"
	"github.com/teslashibe/go-oakview/pkg/scheduler"
	"github.com/teslashibe/go-oakview/pkg/session"
)

type fakeController struct {
	calls     []string
	activated session.Store
	saveErr   error
}

func (f *fakeController) ActivateFrom(_ context.Context, store session.Store) error {
	f.calls = append(f.calls, "ActivateFrom")
	f.activated = store
	return nil
}
func (f *fakeController) Resume() { f.calls = append(f.calls, "Resume") }
func (f *fakeController) Pause() { f.calls = append(f.calls, "Pause") }
func (f *fakeController) Destroy() { f.calls = append(f.calls, "Destroy") }
func (f *fakeController) SaveState(session.Store) error {
	f.calls = append(f.calls, "SaveState")
	return f.saveErr
}
func (f *fakeController) Snapshot() session.Snapshot { return session.Snapshot{} }
func (f *fakeController) Stats() scheduler.Stats { return scheduler.Stats{} }

func newTestView(t *testing.T) *View {
	t.Helper()
	test.NewTempApp(t)
	v := NewView(Options{Logger: log.Discard()})
	v.do = func(fn func()) { fn() }
	return v
}

func TestLifecycleHooks(t *testing.T) {
	v := newTestView(t)
	ctrl := &fakeController{}
	store := &session.MemoryStore{}
	v.Attach(context.Background(), ctrl, store)

	v.Started()
	v.EnteredForeground()
	v.ExitedForeground()
	v.Stopped()

	want := []string{"ActivateFrom", "Resume", "Pause", "SaveState", "Destroy"}
	if strings.Join(ctrl.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls: got %v, want %v", ctrl.calls, want)
	}
	if ctrl.activated != store {
		t.Error("activate should receive the attached store")
	}
}

func TestStopped_SaveErrorStillDestroys(t *testing.T) {
	v := newTestView(t)
	ctrl := &fakeController{saveErr: errors.New("disk full")}
	v.Attach(context.Background(), ctrl, &session.MemoryStore{})

	v.Stopped()
	if n := len(ctrl.calls); n != 2 || ctrl.calls[1] != "Destroy" {
		t.Errorf("calls: %v", ctrl.calls)
	}
}

func TestHooks_Unattached(t *testing.T) {
	v := newTestView(t)
	// must not panic
	v.Started()
	v.EnteredForeground()
	v.ExitedForeground()
	v.Stopped()
}

func TestRender_RoutesBySurface(t *testing.T) {
	v := newTestView(t)
	res := frame.Resolution{Width: 4, Height: 2}

	v.Render(frame.New(frame.Detection, device.Solid(res.Pixels(), 0xFFFF0000), res))
	if v.Surface(frame.SurfaceRGB) == nil {
		t.Fatal("detection frame should land on the rgb surface")
	}
	if v.Surface(frame.SurfaceDepth) != nil {
		t.Error("depth surface should still be empty")
	}

	v.Render(frame.New(frame.Depth, device.Solid(res.Pixels(), 0xFF0000FF), res))
	if b := v.Surface(frame.SurfaceDepth).Bounds(); b.Dx() != 4 || b.Dy() != 2 {
		t.Errorf("depth bounds: %v", b)
	}
}

func TestStatusText(t *testing.T) {
	cases := []struct {
		snap  session.Snapshot
		stats scheduler.Stats
		want  string
	}{
		{session.Snapshot{}, scheduler.Stats{}, "stopped"},
		{session.Snapshot{Running: true}, scheduler.Stats{Paused: true}, "paused"},
		{session.Snapshot{Running: true}, scheduler.Stats{}, "waiting for device permission"},
		{session.Snapshot{Running: true, PermissionGranted: true}, scheduler.Stats{StartAttempts: 2}, "starting device (attempt 2)"},
		{session.Snapshot{Running: true, PermissionGranted: true, Started: true}, scheduler.Stats{Rendered: 9, Ticks: 3}, "streaming, 9 frames over 3 ticks"},
	}
	for _, tc := range cases {
		if got := StatusText(tc.snap, tc.stats); got != tc.want {
			t.Errorf("StatusText(%+v, %+v) = %q, want %q", tc.snap, tc.stats, got, tc.want)
		}
	}
}
