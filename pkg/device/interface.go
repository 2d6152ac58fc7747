// Package device binds the external stereo-camera/inference library to the
// rest of oakview.
//
// The library boundary is split into small interfaces so fakes and adapters
// only implement what they need. Session wraps a Backend with the call rules
// the frame scheduler relies on.
package device

import "io"

// Connector reaches the physical device.
type Connector interface {
	// Connect reports whether a usable connection exists.
	Connect() bool
}

// Starter loads a model and starts the capture/inference pipeline.
type Starter interface {
	Start(modelPath string, width, height int) bool
}

// FrameReader pulls the latest frame products. Each call is non-blocking and
// returns an empty slice when nothing new is ready.
type FrameReader interface {
	ColorFrame() []uint32
	DetectionFrame() []uint32
	DepthFrame() []uint32
}

// Backend is the full external library surface.
type Backend interface {
	Connector
	Starter
	FrameReader
}

// ErrorReporter is implemented by backends that keep the cause of the last
// failed Connect or Start.
type ErrorReporter interface {
	Err() error
}

var (
	_ Backend       = (*Mock)(nil)
	_ ErrorReporter = (*Mock)(nil)
	_ io.Closer     = (*Session)(nil)
)
