package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image/jpeg"
	"io"
	"net"
	"net/http/httptest"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-oakview/internal/log"
	"github.com/teslashibe/go-oakview/pkg/device"
	"github.com/teslashibe/go-oakview/pkg/frame"
	"github.com/teslashibe/go-oakview/pkg/permission"
	"github.com/teslashibe/go-oakview/pkg/scheduler"
	"github.com/teslashibe/go-oakview/pkg/session"
)

type fakeController struct {
	resumes atomic.Int64
	pauses  atomic.Int64
	visible atomic.Bool
}

func (f *fakeController) ID() string { return "session-1" }

func (f *fakeController) Resume() {
	f.resumes.Add(1)
	f.visible.Store(true)
}

func (f *fakeController) Pause() {
	f.pauses.Add(1)
	f.visible.Store(false)
}

func (f *fakeController) Visible() bool {
	return f.visible.Load()
}
func (f *fakeController) Snapshot() session.Snapshot {
	return session.Snapshot{Running: true, Started: true, PermissionGranted: true}
}
func (f *fakeController) Stats() scheduler.Stats {
	return scheduler.Stats{Ticks: 42, Rendered: 7}
}

var _ Controller = (*fakeController)(nil)

func newTestServer() (*Server, *permission.Broadcaster) {
	bus := permission.NewBroadcaster()
	s := NewServer(Config{Model: device.YOLOv5Model(), Logger: log.Discard()}, bus)
	return s, bus
}

func decode(t *testing.T, body io.Reader, v any) {
	t.Helper()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHandleSession_NoController(t *testing.T) {
	s, _ := newTestServer()
	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/session", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 503 {
		t.Errorf("status: got %d, want 503", resp.StatusCode)
	}
}

func TestHandleSession(t *testing.T) {
	s, _ := newTestServer()
	s.SetController(&fakeController{})

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/session", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d", resp.StatusCode)
	}

	var st Status
	decode(t, resp.Body, &st)
	if st.ID != "session-1" || !st.State.Started || st.Stats.Ticks != 42 {
		t.Errorf("unexpected status: %+v", st)
	}
	if st.Model.Path != device.YOLOv5Model().Path {
		t.Errorf("model: got %q", st.Model.Path)
	}
}

func TestHandlePermission(t *testing.T) {
	s, bus := newTestServer()
	gate := permission.NewGate()
	unbind := gate.Bind(bus)
	defer unbind()

	resp, err := s.App().Test(httptest.NewRequest("POST", "/api/permission/grant", nil))
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Action    string `json:"action"`
		Delivered int    `json:"delivered"`
	}
	decode(t, resp.Body, &body)
	if body.Action != permission.ActionUSBPermission || body.Delivered != 1 {
		t.Errorf("grant response: %+v", body)
	}
	if !gate.Granted() {
		t.Error("gate should be granted")
	}

	if _, err := s.App().Test(httptest.NewRequest("POST", "/api/permission/revoke", nil)); err != nil {
		t.Fatal(err)
	}
	if gate.Granted() {
		t.Error("gate should be revoked")
	}

	resp, _ = s.App().Test(httptest.NewRequest("POST", "/api/permission/bogus", nil))
	if resp.StatusCode != 404 {
		t.Errorf("unknown action status: got %d", resp.StatusCode)
	}
}

func TestHandleView(t *testing.T) {
	s, _ := newTestServer()
	ctrl := &fakeController{}
	s.SetController(ctrl)

	s.App().Test(httptest.NewRequest("POST", "/api/view/resume", nil))
	if ctrl.resumes.Load() != 1 || !ctrl.Visible() {
		t.Error("resume not forwarded")
	}
	s.App().Test(httptest.NewRequest("POST", "/api/view/pause", nil))
	if ctrl.pauses.Load() != 1 || ctrl.Visible() {
		t.Error("pause not forwarded")
	}
}

func TestHandleModels(t *testing.T) {
	s, _ := newTestServer()
	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/models", nil))
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Active  device.ModelConfig            `json:"active"`
		Presets map[string]device.ModelConfig `json:"presets"`
	}
	decode(t, resp.Body, &body)
	if len(body.Presets) != len(device.Presets()) {
		t.Errorf("presets: got %d", len(body.Presets))
	}
	if body.Active.Name != device.YOLOv5Model().Name {
		t.Errorf("active: %+v", body.Active)
	}
}

func TestIndex(t *testing.T) {
	s, _ := newTestServer()
	resp, err := s.App().Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(b, []byte("/ws/rgb")) {
		t.Error("index should reference the rgb feed")
	}
}

func TestRender_NoViewersSkipsEncode(t *testing.T) {
	s, _ := newTestServer()
	s.Render(frame.New(frame.Color, device.Solid(4, 0xFF00FF00), frame.Resolution{Width: 2, Height: 2}))
	if s.rgbHub.Latest() != nil {
		t.Error("frame encoded with no viewers")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestViewerPresenceAndFrames(t *testing.T) {
	s, _ := newTestServer()
	ctrl := &fakeController{}
	s.SetController(ctrl)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Serve(ctx, ln)

	url := "ws://" + ln.Addr().String() + "/ws/rgb"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	waitFor(t, "resume", func() bool { return ctrl.resumes.Load() == 1 })
	if s.Viewers() != 1 {
		t.Errorf("viewers: got %d, want 1", s.Viewers())
	}

	res := frame.Resolution{Width: 8, Height: 8}
	s.Render(frame.New(frame.Detection, device.Solid(res.Pixels(), 0xFFFF0000), res))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.BinaryMessage {
		t.Errorf("message type: got %d", typ)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("jpeg: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 8 {
		t.Errorf("bounds: %v", b)
	}

	conn.Close()
	waitFor(t, "pause", func() bool { return ctrl.pauses.Load() == 1 })
	if s.Viewers() != 0 {
		t.Errorf("viewers after close: %d", s.Viewers())
	}
}

// orderedController records resume/pause in call order and yields before
// each one so racing callers interleave.
type orderedController struct {
	fakeController

	mu     sync.Mutex
	events []string
}

func (o *orderedController) Resume() {
	runtime.Gosched()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "resume")
	o.fakeController.Resume()
}

func (o *orderedController) Pause() {
	runtime.Gosched()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "pause")
	o.fakeController.Pause()
}

func TestViewerCount_ConcurrentHubsStayOrdered(t *testing.T) {
	for i := 0; i < 200; i++ {
		s, _ := newTestServer()
		ctrl := &orderedController{}
		s.SetController(ctrl)

		rgb, depth := s.viewerCount("rgb"), s.viewerCount("depth")
		var wg sync.WaitGroup
		for _, report := range []func(int){rgb, depth} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				report(1)
				report(0)
			}()
		}
		wg.Wait()

		if ctrl.Visible() {
			t.Fatalf("iteration %d: visible with no viewers, events %v", i, ctrl.events)
		}
		for j, ev := range ctrl.events {
			want := "resume"
			if j%2 == 1 {
				want = "pause"
			}
			if ev != want {
				t.Fatalf("iteration %d: events out of order: %v", i, ctrl.events)
			}
		}
	}
}
