package device

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-oakview/pkg/frame"
)

// Session owns the connection to one device and exposes the connect, start
// and pull operations. It knows nothing about the host or the display.
//
// Pulls before a successful Start return nothing. Start is forwarded to the
// backend at most once per live connection.
type Session struct {
	backend Backend
	depth   frame.Resolution
	logger  *slog.Logger

	// call serialises backend access
	call sync.Mutex

	connected atomic.Bool
	started   atomic.Bool
	model     atomic.Pointer[ModelConfig]

	connectCalls atomic.Int64
	startCalls   atomic.Int64
	dropped      atomic.Int64

	// consecutive failures and the last one logged, guarded by call
	failures    int
	lastFailure string
}

// failureLogEvery bounds how often an unchanged start failure is logged.
const failureLogEvery = 100

// NewSession wraps a backend. depth is the declared disparity resolution;
// a zero value selects DefaultDepth.
func NewSession(backend Backend, depth frame.Resolution, logger *slog.Logger) *Session {
	if depth.Width == 0 || depth.Height == 0 {
		depth = DefaultDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		backend: backend,
		depth:   depth,
		logger:  logger.With("component", "device"),
	}
}

// Connect attempts to reach the device and reports whether a usable
// connection exists.
func (s *Session) Connect() bool {
	s.call.Lock()
	defer s.call.Unlock()
	return s.connect()
}

func (s *Session) connect() bool {
	s.connectCalls.Add(1)
	ok := s.backend.Connect()
	s.connected.Store(ok)
	if ok {
		s.failures, s.lastFailure = 0, ""
		s.logger.Info("device connected")
	} else {
		s.failed("device not reachable", s.backendErr(ErrNotConnected))
	}
	return ok
}

// Start loads the model and begins the capture/inference pipeline.
// A second call after a successful start returns true without touching
// the backend. Without a live connection Start reconnects first, so a
// device plugged in after the first Connect is picked up.
func (s *Session) Start(model ModelConfig) bool {
	if err := model.Validate(); err != nil {
		s.logger.Error("refusing to start", "model", model.String(), "error", err)
		return false
	}

	s.call.Lock()
	defer s.call.Unlock()

	if s.started.Load() {
		return true
	}

	if !s.connected.Load() && !s.connect() {
		return false
	}

	s.startCalls.Add(1)
	if !s.backend.Start(model.Path, model.Width, model.Height) {
		s.failed("device start failed", s.backendErr(nil), "model", model.String())
		return false
	}

	s.failures, s.lastFailure = 0, ""
	s.model.Store(&model)
	s.started.Store(true)
	s.logger.Info("device started", "model", model.String(), "depth", s.depth.String())
	return true
}

// failed logs the first failure in a run, every failureLogEvery-th repeat
// and any failure that differs from the last one logged. The rest go to
// Debug. Callers hold call.
func (s *Session) failed(msg string, err error, args ...any) {
	s.failures++
	key := msg + ": " + fmt.Sprint(err)
	args = append(args, "failures", s.failures, "error", err)
	if s.failures != 1 && s.failures%failureLogEvery != 0 && key == s.lastFailure {
		s.logger.Debug(msg, args...)
		return
	}
	s.lastFailure = key
	s.logger.Warn(msg, args...)
}

// Started reports whether the pipeline is running.
func (s *Session) Started() bool {
	return s.started.Load()
}

// Connected reports the result of the last Connect.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Model returns the model the session was started with.
func (s *Session) Model() (ModelConfig, bool) {
	m := s.model.Load()
	if m == nil {
		return ModelConfig{}, false
	}
	return *m, true
}

// Resolution returns the declared resolution of a product. ok is false
// until the session has started.
func (s *Session) Resolution(p frame.Product) (frame.Resolution, bool) {
	if p == frame.Depth {
		return s.depth, true
	}
	m := s.model.Load()
	if m == nil {
		return frame.Resolution{}, false
	}
	return m.Resolution(), true
}

// Pull reads the latest buffer of a product. ok is false when nothing is
// ready, when the session has not started, or when the buffer does not match
// the declared resolution.
func (s *Session) Pull(p frame.Product) (frame.Frame, bool) {
	if !s.started.Load() {
		return frame.Frame{}, false
	}
	res, ok := s.Resolution(p)
	if !ok {
		return frame.Frame{}, false
	}

	s.call.Lock()
	var pixels []uint32
	switch p {
	case frame.Color:
		pixels = s.backend.ColorFrame()
	case frame.Detection:
		pixels = s.backend.DetectionFrame()
	case frame.Depth:
		pixels = s.backend.DepthFrame()
	}
	s.call.Unlock()

	if len(pixels) == 0 {
		return frame.Frame{}, false
	}

	f := frame.New(p, pixels, res)
	if !f.Valid() {
		n := s.dropped.Add(1)
		err := &BufferError{Product: p.String(), Got: len(pixels), Want: res.Pixels()}
		s.logger.Warn("dropping frame", "error", err, "dropped", n)
		return frame.Frame{}, false
	}
	return f, true
}

// PullColorFrame pulls the raw colour frame.
func (s *Session) PullColorFrame() (frame.Frame, bool) { return s.Pull(frame.Color) }

// PullDetectionFrame pulls the detection overlay frame.
func (s *Session) PullDetectionFrame() (frame.Frame, bool) { return s.Pull(frame.Detection) }

// PullDepthFrame pulls the depth frame.
func (s *Session) PullDepthFrame() (frame.Frame, bool) { return s.Pull(frame.Depth) }

// Stats returns call counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		ConnectCalls:  s.connectCalls.Load(),
		StartCalls:    s.startCalls.Load(),
		DroppedFrames: s.dropped.Load(),
	}
}

// SessionStats holds session call counters.
type SessionStats struct {
	ConnectCalls  int64 `json:"connect_calls"`
	StartCalls    int64 `json:"start_calls"`
	DroppedFrames int64 `json:"dropped_frames"`
}

// Close releases the backend if it holds resources.
func (s *Session) Close() error {
	s.call.Lock()
	defer s.call.Unlock()

	s.started.Store(false)
	s.connected.Store(false)
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Session) backendErr(fallback error) error {
	if r, ok := s.backend.(ErrorReporter); ok {
		if err := r.Err(); err != nil {
			return err
		}
	}
	return fallback
}
