// Package web serves the oakview dashboard. It is both a display sink for
// the frame scheduler and a host view: the first connected frame viewer
// resumes the session and the last one leaving pauses it.
package web

import (
	"bytes"
	"context"
	_ "embed"
	"image/jpeg"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-oakview/pkg/device"
	"github.com/teslashibe/go-oakview/pkg/frame"
	"github.com/teslashibe/go-oakview/pkg/hub"
	"github.com/teslashibe/go-oakview/pkg/permission"
	"github.com/teslashibe/go-oakview/pkg/scheduler"
	"github.com/teslashibe/go-oakview/pkg/session"
)

//go:embed static/index.html
var indexHTML []byte

// Controller is the lifecycle surface the dashboard drives.
type Controller interface {
	ID() string
	Resume()
	Pause()
	Visible() bool
	Snapshot() session.Snapshot
	Stats() scheduler.Stats
}

// Status is the payload of GET /api/session and the status websocket.
type Status struct {
	ID      string             `json:"id"`
	State   session.Snapshot   `json:"state"`
	Stats   scheduler.Stats    `json:"stats"`
	Visible bool               `json:"visible"`
	Viewers int                `json:"viewers"`
	Model   device.ModelConfig `json:"model"`
}

// Config holds dashboard settings.
type Config struct {
	Port           string
	JPEGQuality    int
	StatusInterval time.Duration
	Model          device.ModelConfig
	Logger         *slog.Logger
}

// Server is the web dashboard.
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger
	bus    *permission.Broadcaster

	rgbHub    *hub.Hub
	depthHub  *hub.Hub
	statusHub *hub.Hub

	// presence orders resume/pause calls, see viewerCount
	presence sync.Mutex

	mu      sync.Mutex
	ctrl    Controller
	viewers map[string]int
}

var _ scheduler.Sink = (*Server)(nil)

// NewServer creates the dashboard. Permission notifications posted to the
// API are published on bus.
func NewServer(cfg Config, bus *permission.Broadcaster) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 80
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Second
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	s := &Server{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "web"),
		bus:       bus,
		rgbHub:    hub.New(string(frame.SurfaceRGB), cfg.Logger),
		depthHub:  hub.New(string(frame.SurfaceDepth), cfg.Logger),
		statusHub: hub.New("status", cfg.Logger),
		viewers:   make(map[string]int),
	}
	s.rgbHub.OnCountChange = s.viewerCount(s.rgbHub.Name())
	s.depthHub.OnCountChange = s.viewerCount(s.depthHub.Name())

	app := fiber.New(fiber.Config{
		AppName:               "oakview",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	app.Get("/", s.handleIndex)

	api := app.Group("/api")
	api.Get("/session", s.handleSession)
	api.Get("/models", s.handleModels)
	api.Post("/permission/:action", s.handlePermission)
	api.Post("/view/:event", s.handleView)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/rgb", websocket.New(s.serveHub(s.rgbHub)))
	app.Get("/ws/depth", websocket.New(s.serveHub(s.depthHub)))
	app.Get("/ws/status", websocket.New(s.serveHub(s.statusHub)))

	s.app = app
	return s
}

// SetController attaches the lifecycle coordinator. The server is built
// first because it is also the coordinator's sink.
func (s *Server) SetController(ctrl Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl = ctrl
}

func (s *Server) controller() Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Render implements scheduler.Sink. Frames are JPEG-encoded only while the
// surface has viewers.
func (s *Server) Render(f frame.Frame) {
	h := s.rgbHub
	if f.Product.Surface() == frame.SurfaceDepth {
		h = s.depthHub
	}
	if h.ClientCount() == 0 {
		return
	}

	img := f.Image()
	if img == nil {
		return
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.cfg.JPEGQuality}); err != nil {
		s.logger.Warn("encode frame", "product", f.Product.String(), "error", err)
		return
	}
	h.BroadcastBinary(buf.Bytes())
}

// Status builds the current status payload.
func (s *Server) Status() Status {
	st := Status{Model: s.cfg.Model, Viewers: s.Viewers()}
	if ctrl := s.controller(); ctrl != nil {
		st.ID = ctrl.ID()
		st.State = ctrl.Snapshot()
		st.Stats = ctrl.Stats()
		st.Visible = ctrl.Visible()
	}
	return st
}

// Viewers returns the number of connected frame viewers.
func (s *Server) Viewers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.viewers {
		total += n
	}
	return total
}

// Serve runs the hubs and serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.rgbHub.Run(ctx)
	go s.depthHub.Run(ctx)
	go s.statusHub.Run(ctx)
	go s.statusLoop(ctx)

	go func() {
		<-ctx.Done()
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			s.logger.Warn("shutdown", "error", err)
		}
	}()

	s.logger.Info("dashboard listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// ListenAndServe listens on the configured port.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.statusHub.ClientCount() == 0 {
				continue
			}
			if err := s.statusHub.BroadcastJSON(s.Status()); err != nil {
				s.logger.Warn("encode status", "error", err)
			}
		}
	}
}

// viewerCount tracks viewers per frame hub and turns the overall count into
// resume/pause events. Hubs report from their own goroutines, so presence
// is held across the count and the controller call to keep events in
// count order.
func (s *Server) viewerCount(name string) func(int) {
	return func(n int) {
		s.presence.Lock()
		defer s.presence.Unlock()

		s.mu.Lock()
		before := 0
		for _, v := range s.viewers {
			before += v
		}
		s.viewers[name] = n
		after := 0
		for _, v := range s.viewers {
			after += v
		}
		ctrl := s.ctrl
		s.mu.Unlock()

		if ctrl == nil {
			return
		}
		switch {
		case before == 0 && after > 0:
			s.logger.Info("first viewer connected, resuming")
			ctrl.Resume()
		case before > 0 && after == 0:
			s.logger.Info("last viewer left, pausing")
			ctrl.Pause()
		}
	}
}

func (s *Server) serveHub(h *hub.Hub) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		client, ok := hub.NewClient(h, conn)
		if !ok {
			conn.Close()
			return
		}
		client.Run()
	}
}
