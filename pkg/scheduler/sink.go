package scheduler

import (
	"github.com/teslashibe/go-oakview/pkg/device"
	"github.com/teslashibe/go-oakview/pkg/frame"
)

// Sink renders frames to a visible surface. It is called on the scheduler
// goroutine at up to 1/period per product and must not block for long.
type Sink interface {
	Render(f frame.Frame)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(f frame.Frame)

// Render implements Sink.
func (fn SinkFunc) Render(f frame.Frame) {
	fn(f)
}

// Device is the part of a device session driven by the scheduler.
type Device interface {
	Start(model device.ModelConfig) bool
	Started() bool
	Pull(p frame.Product) (frame.Frame, bool)
}
