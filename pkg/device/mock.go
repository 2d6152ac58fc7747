package device

import (
	"sync"
	"time"
)

// Mock implements Backend for testing.
type Mock struct {
	// ConnectFunc is called when Connect is invoked.
	ConnectFunc func() bool

	// StartFunc is called when Start is invoked.
	StartFunc func(modelPath string, width, height int) bool

	// ColorFunc, DetectionFunc and DepthFunc produce frame buffers.
	ColorFunc     func() []uint32
	DetectionFunc func() []uint32
	DepthFunc     func() []uint32

	// ErrValue is returned by Err.
	ErrValue error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Time   time.Time
}

// NewMock creates a mock that connects, starts and returns solid frames
// at the given resolutions.
func NewMock(model ModelConfig, depthWidth, depthHeight int) *Mock {
	rgb := model.Width * model.Height
	depth := depthWidth * depthHeight
	return &Mock{
		ConnectFunc:   func() bool { return true },
		StartFunc:     func(string, int, int) bool { return true },
		ColorFunc:     func() []uint32 { return Solid(rgb, 0xFF2060A0) },
		DetectionFunc: func() []uint32 { return Solid(rgb, 0xFFA06020) },
		DepthFunc:     func() []uint32 { return Solid(depth, 0xFF101010) },
	}
}

// Solid returns n pixels of one colour.
func Solid(n int, argb uint32) []uint32 {
	buf := make([]uint32, n)
	for i := range buf {
		buf[i] = argb
	}
	return buf
}

// Connect calls ConnectFunc and records the call.
func (m *Mock) Connect() bool {
	m.record("Connect")
	if m.ConnectFunc != nil {
		return m.ConnectFunc()
	}
	return false
}

// Start calls StartFunc and records the call.
func (m *Mock) Start(modelPath string, width, height int) bool {
	m.record("Start")
	if m.StartFunc != nil {
		return m.StartFunc(modelPath, width, height)
	}
	return false
}

// ColorFrame calls ColorFunc and records the call.
func (m *Mock) ColorFrame() []uint32 {
	m.record("ColorFrame")
	if m.ColorFunc != nil {
		return m.ColorFunc()
	}
	return nil
}

// DetectionFrame calls DetectionFunc and records the call.
func (m *Mock) DetectionFrame() []uint32 {
	m.record("DetectionFrame")
	if m.DetectionFunc != nil {
		return m.DetectionFunc()
	}
	return nil
}

// DepthFrame calls DepthFunc and records the call.
func (m *Mock) DepthFrame() []uint32 {
	m.record("DepthFrame")
	if m.DepthFunc != nil {
		return m.DepthFunc()
	}
	return nil
}

// Err returns ErrValue.
func (m *Mock) Err() error {
	return m.ErrValue
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount returns the number of calls to a method.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *Mock) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Time: time.Now()})
}
