// Package desktop shows the rgb and depth surfaces in a fyne window and maps
// the fyne application lifecycle onto a session coordinator.
package desktop

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"github.com/teslashibe/go-oakview/pkg/frame"
	"github.com/teslashibe/go-oakview/pkg/scheduler"
	"github.com/teslashibe/go-oakview/pkg/session"
)

// Controller is the coordinator surface driven by the window lifecycle.
type Controller interface {
	ActivateFrom(ctx context.Context, store session.Store) error
	Resume()
	Pause()
	SaveState(store session.Store) error
	Destroy()
	Snapshot() session.Snapshot
	Stats() scheduler.Stats
}

// Options configures the window.
type Options struct {
	Title      string
	Fullscreen bool
	Size       fyne.Size
	Logger     *slog.Logger
}

// View is the desktop display sink.
type View struct {
	opts   Options
	logger *slog.Logger

	rgb    *canvas.Image
	depth  *canvas.Image
	status *widget.Label

	// do runs fn on the fyne main goroutine.
	do func(fn func())

	mu    sync.Mutex
	ctrl  Controller
	store session.Store
	ctx   context.Context
}

var _ scheduler.Sink = (*View)(nil)

// NewView creates the canvas objects. They are attached to a window by Show.
func NewView(opts Options) *View {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Title == "" {
		opts.Title = "oakview"
	}
	if opts.Size.Width == 0 || opts.Size.Height == 0 {
		opts.Size = fyne.NewSize(1280, 480)
	}

	newImage := func() *canvas.Image {
		img := canvas.NewImageFromImage(nil)
		img.FillMode = canvas.ImageFillContain
		img.ScaleMode = canvas.ImageScaleFastest
		img.SetMinSize(fyne.NewSize(320, 240))
		return img
	}

	return &View{
		opts:   opts,
		logger: opts.Logger.With("component", "desktop"),
		rgb:    newImage(),
		depth:  newImage(),
		status: widget.NewLabel("waiting for device permission"),
		do:     fyne.Do,
	}
}

// Render implements scheduler.Sink.
func (v *View) Render(f frame.Frame) {
	img := f.Image()
	if img == nil {
		return
	}
	target := v.rgb
	if f.Product.Surface() == frame.SurfaceDepth {
		target = v.depth
	}
	v.do(func() {
		target.Image = img
		target.Refresh()
	})
}

// Surface returns the image currently shown on s.
func (v *View) Surface(s frame.Surface) image.Image {
	if s == frame.SurfaceDepth {
		return v.depth.Image
	}
	return v.rgb.Image
}

// Attach binds the coordinator and the state store used by the lifecycle
// hooks. ctx bounds the scheduler.
func (v *View) Attach(ctx context.Context, ctrl Controller, store session.Store) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ctx = ctx
	v.ctrl = ctrl
	v.store = store
}

func (v *View) attached() (context.Context, Controller, session.Store) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ctx, v.ctrl, v.store
}

// Started activates the session, restoring saved flags.
func (v *View) Started() {
	ctx, ctrl, store := v.attached()
	if ctrl == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctrl.ActivateFrom(ctx, store); err != nil {
		v.logger.Error("activate session", "error", err)
	}
}

// EnteredForeground resumes the view.
func (v *View) EnteredForeground() {
	if _, ctrl, _ := v.attached(); ctrl != nil {
		ctrl.Resume()
	}
}

// ExitedForeground pauses the view.
func (v *View) ExitedForeground() {
	if _, ctrl, _ := v.attached(); ctrl != nil {
		ctrl.Pause()
	}
}

// Stopped saves the session flags and destroys the session.
func (v *View) Stopped() {
	_, ctrl, store := v.attached()
	if ctrl == nil {
		return
	}
	if store != nil {
		if err := ctrl.SaveState(store); err != nil {
			v.logger.Warn("save session state", "error", err)
		}
	}
	ctrl.Destroy()
}

// StatusText formats the status line.
func StatusText(snap session.Snapshot, stats scheduler.Stats) string {
	switch {
	case !snap.Running:
		return "stopped"
	case stats.Paused:
		return "paused"
	case !snap.PermissionGranted:
		return "waiting for device permission"
	case !snap.Started:
		return fmt.Sprintf("starting device (attempt %d)", stats.StartAttempts)
	}
	return fmt.Sprintf("streaming, %d frames over %d ticks", stats.Rendered, stats.Ticks)
}

// Show builds the window on a, wires the lifecycle hooks and blocks in the
// fyne event loop until the window closes.
func (v *View) Show(a fyne.App) {
	lc := a.Lifecycle()
	lc.SetOnStarted(v.Started)
	lc.SetOnEnteredForeground(v.EnteredForeground)
	lc.SetOnExitedForeground(v.ExitedForeground)
	lc.SetOnStopped(v.Stopped)

	w := a.NewWindow(v.opts.Title)
	w.SetContent(container.NewBorder(nil, v.status, nil, nil,
		container.NewGridWithColumns(2, v.rgb, v.depth)))
	w.Resize(v.opts.Size)
	w.SetFullScreen(v.opts.Fullscreen)
	w.SetMaster()

	done := make(chan struct{})
	defer close(done)
	go v.statusLoop(done)

	v.logger.Info("window open", "title", v.opts.Title, "fullscreen", v.opts.Fullscreen)
	w.ShowAndRun()
}

func (v *View) statusLoop(done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_, ctrl, _ := v.attached()
			if ctrl == nil {
				continue
			}
			text := StatusText(ctrl.Snapshot(), ctrl.Stats())
			v.do(func() { v.status.SetText(text) })
		}
	}
}
