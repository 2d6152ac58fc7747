package device

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-oakview/pkg/frame"
)

// ModelConfig selects the network blob and the colour resolution it runs at.
// It is chosen once before the session starts and never changed afterwards.
type ModelConfig struct {
	Name   string `json:"name" yaml:"name" mapstructure:"name"`
	Path   string `json:"path" yaml:"path" mapstructure:"path"`
	Width  int    `json:"width" yaml:"width" mapstructure:"width"`
	Height int    `json:"height" yaml:"height" mapstructure:"height"`
}

// Input limits accepted by the on-device network runtime.
const (
	MinInputSize = 32
	MaxInputSize = 4096
)

// DefaultDepth is the disparity resolution of the reference stereo pair.
var DefaultDepth = frame.Resolution{Width: 640, Height: 400}

// DefaultModel returns the YOLOv5s preset at 416x416.
func DefaultModel() ModelConfig {
	return YOLOv5Model()
}

// Resolution returns the colour/detection resolution.
func (m ModelConfig) Resolution() frame.Resolution {
	return frame.Resolution{Width: m.Width, Height: m.Height}
}

// Validate checks the config. The returned error wraps ErrInvalidModel and
// lists every problem found.
func (m ModelConfig) Validate() error {
	var errs []error

	if m.Path == "" {
		errs = append(errs, errors.New("path is required"))
	}
	if m.Width < MinInputSize || m.Width > MaxInputSize {
		errs = append(errs, fmt.Errorf("width must be between %d and %d", MinInputSize, MaxInputSize))
	}
	if m.Height < MinInputSize || m.Height > MaxInputSize {
		errs = append(errs, fmt.Errorf("height must be between %d and %d", MinInputSize, MaxInputSize))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidModel, errors.Join(errs...))
}

// String returns a short description for logs.
func (m ModelConfig) String() string {
	if m.Name != "" {
		return fmt.Sprintf("%s(%s @ %dx%d)", m.Name, m.Path, m.Width, m.Height)
	}
	return fmt.Sprintf("%s @ %dx%d", m.Path, m.Width, m.Height)
}
