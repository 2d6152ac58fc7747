package device

import (
	"errors"
	"fmt"
)

// Sentinel errors for device conditions.
var (
	// ErrInvalidModel is returned when a model configuration fails validation.
	ErrInvalidModel = errors.New("device: invalid model config")

	// ErrModelNotFound is returned when the model file cannot be read.
	ErrModelNotFound = errors.New("device: model file not found")

	// ErrNotConnected is returned when no device could be reached.
	ErrNotConnected = errors.New("device: not connected")

	// ErrDeviceBusy is returned when the device is held by another process.
	ErrDeviceBusy = errors.New("device: busy")

	// ErrBufferSize is returned when a pulled buffer does not match its
	// declared resolution.
	ErrBufferSize = errors.New("device: buffer size mismatch")
)

// BufferError describes a dropped frame buffer.
type BufferError struct {
	Product string
	Got     int
	Want    int
}

// Error implements the error interface.
func (e *BufferError) Error() string {
	return fmt.Sprintf("device [%s]: buffer has %d pixels, want %d", e.Product, e.Got, e.Want)
}

// Unwrap returns ErrBufferSize.
func (e *BufferError) Unwrap() error {
	return ErrBufferSize
}
