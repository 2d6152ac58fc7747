// Package cv is the OpenCV backend for a device session. A video capture
// stands in for the colour camera, a DNN detector renders the detection
// product and an optional monocular depth network renders the disparity
// product.
package cv

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-oakview/pkg/device"
	"github.com/teslashibe/go-oakview/pkg/frame"
)

// Config holds backend settings.
type Config struct {
	// Camera is a capture device index or a video file/stream URL.
	Camera string

	// DepthModel is an optional ONNX monocular depth network. Without it
	// the depth product stays empty.
	DepthModel string

	// Depth is the output disparity resolution.
	Depth frame.Resolution

	ConfidenceThresh float32
	NMSThresh        float32

	Logger *slog.Logger
}

// DefaultConfig returns defaults for the first capture device.
func DefaultConfig() Config {
	return Config{
		Camera:           "0",
		Depth:            device.DefaultDepth,
		ConfidenceThresh: 0.5,
		NMSThresh:        0.45,
	}
}

// Backend implements device.Backend on top of gocv.
type Backend struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	capture  *gocv.VideoCapture
	detector *Detector
	depth    *DepthEstimator
	input    image.Point
	err      error
	stop     chan struct{}
	stopped  chan struct{}

	// latest products, consumed by the pulls
	color     []uint32
	detection []uint32
	disparity []uint32
}

var (
	_ device.Backend       = (*Backend)(nil)
	_ device.ErrorReporter = (*Backend)(nil)
)

// New creates an unconnected backend.
func New(cfg Config) *Backend {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Depth.Width == 0 || cfg.Depth.Height == 0 {
		cfg.Depth = device.DefaultDepth
	}
	if cfg.ConfidenceThresh <= 0 {
		cfg.ConfidenceThresh = 0.5
	}
	if cfg.NMSThresh <= 0 {
		cfg.NMSThresh = 0.45
	}
	return &Backend{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "cv"),
	}
}

// Connect opens the capture device. An open device counts as connected.
func (b *Backend) Connect() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.capture != nil && b.capture.IsOpened() {
		return true
	}

	capture, err := gocv.OpenVideoCapture(captureSource(b.cfg.Camera))
	if err != nil {
		b.err = fmt.Errorf("%w: open %q: %v", device.ErrNotConnected, b.cfg.Camera, err)
		return false
	}
	if !capture.IsOpened() {
		capture.Close()
		b.err = fmt.Errorf("%w: %q not opened", device.ErrNotConnected, b.cfg.Camera)
		return false
	}
	b.capture = capture
	b.err = nil
	b.logger.Info("capture opened", "camera", b.cfg.Camera)
	return true
}

// Start loads the detection network and begins grabbing frames.
func (b *Backend) Start(modelPath string, width, height int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stop != nil {
		return true
	}
	if b.capture == nil {
		b.err = device.ErrNotConnected
		return false
	}
	if _, err := os.Stat(modelPath); err != nil {
		b.err = fmt.Errorf("%w: %s", device.ErrModelNotFound, modelPath)
		return false
	}

	det, err := NewDetector(DetectorConfig{
		ModelPath:        modelPath,
		InputWidth:       width,
		InputHeight:      height,
		ConfidenceThresh: b.cfg.ConfidenceThresh,
		NMSThresh:        b.cfg.NMSThresh,
	})
	if err != nil {
		b.err = err
		return false
	}

	if b.cfg.DepthModel != "" {
		depth, err := NewDepthEstimator(b.cfg.DepthModel, b.cfg.Depth)
		if err != nil {
			det.Close()
			b.err = err
			return false
		}
		b.depth = depth
	}

	b.detector = det
	b.input = image.Pt(width, height)
	b.stop = make(chan struct{})
	b.stopped = make(chan struct{})
	b.err = nil

	go b.grab(b.capture, b.stop, b.stopped)
	b.logger.Info("pipeline started", "model", modelPath, "input", b.input.String(), "depth", b.depth != nil)
	return true
}

// ColorFrame returns the newest colour frame, or nil if none arrived since
// the last call.
func (b *Backend) ColorFrame() []uint32 {
	return b.take(&b.color)
}

// DetectionFrame returns the newest annotated frame.
func (b *Backend) DetectionFrame() []uint32 {
	return b.take(&b.detection)
}

// DepthFrame returns the newest disparity frame.
func (b *Backend) DepthFrame() []uint32 {
	return b.take(&b.disparity)
}

// Err returns the cause of the last failed Connect or Start.
func (b *Backend) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Close stops the grab loop and releases OpenCV resources.
func (b *Backend) Close() error {
	b.mu.Lock()
	stop, stopped := b.stop, b.stopped
	b.stop = nil
	b.mu.Unlock()

	if stop != nil {
		close(stop)
		<-stopped
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	if b.detector != nil {
		errs = append(errs, b.detector.Close())
		b.detector = nil
	}
	if b.depth != nil {
		errs = append(errs, b.depth.Close())
		b.depth = nil
	}
	if b.capture != nil {
		errs = append(errs, b.capture.Close())
		b.capture = nil
	}
	return errors.Join(errs...)
}

func (b *Backend) take(slot *[]uint32) []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := *slot
	*slot = nil
	return buf
}

// grab reads the capture until stop is closed. Products are overwritten
// when the puller falls behind.
// Read retry bounds. A failing capture is polled at readRetryMin, doubling
// up to readRetryMax until a frame arrives.
const (
	readRetryMin = 10 * time.Millisecond
	readRetryMax = time.Second
)

// source is the part of *gocv.VideoCapture the grab loop reads from.
type source interface {
	Read(m *gocv.Mat) bool
}

func nextRetry(d time.Duration) time.Duration {
	if d < readRetryMin {
		return readRetryMin
	}
	if d *= 2; d > readRetryMax {
		return readRetryMax
	}
	return d
}

func (b *Backend) grab(capture source, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	raw := gocv.NewMat()
	defer raw.Close()
	resized := gocv.NewMat()
	defer resized.Close()

	misses := 0
	retry := readRetryMin
	for {
		select {
		case <-stop:
			return
		default:
		}

		if !capture.Read(&raw) || raw.Empty() {
			if misses == 0 {
				b.logger.Warn("capture read failed, backing off")
			}
			misses++
			select {
			case <-stop:
				return
			case <-time.After(retry):
			}
			retry = nextRetry(retry)
			continue
		}
		if misses > 0 {
			b.logger.Info("capture recovered", "misses", misses)
			misses, retry = 0, readRetryMin
		}

		b.mu.Lock()
		det, depth, input := b.detector, b.depth, b.input
		b.mu.Unlock()
		if det == nil {
			return
		}

		gocv.Resize(raw, &resized, input, 0, 0, gocv.InterpolationLinear)
		color := Pack(resized)

		annotated := resized.Clone()
		if _, err := det.Annotate(&annotated); err != nil {
			b.logger.Debug("detection failed", "error", err)
		}
		detection := Pack(annotated)
		annotated.Close()

		var disparity []uint32
		if depth != nil {
			disparity = depth.Estimate(raw)
		}

		b.mu.Lock()
		b.color, b.detection = color, detection
		if disparity != nil {
			b.disparity = disparity
		}
		b.mu.Unlock()
	}
}

// captureSource turns a numeric camera string into a device index.
func captureSource(camera string) any {
	var id int
	if _, err := fmt.Sscanf(camera, "%d", &id); err == nil && fmt.Sprint(id) == camera {
		return id
	}
	return camera
}

// Pack converts a BGR or grayscale Mat into packed 0xAARRGGBB pixels.
func Pack(m gocv.Mat) []uint32 {
	if m.Empty() {
		return nil
	}
	data := m.ToBytes()
	ch := m.Channels()
	n := m.Rows() * m.Cols()
	if len(data) < n*ch {
		return nil
	}

	out := make([]uint32, n)
	for i := range out {
		o := i * ch
		var r, g, bl byte
		if ch >= 3 {
			bl, g, r = data[o], data[o+1], data[o+2]
		} else {
			r, g, bl = data[o], data[o], data[o]
		}
		out[i] = 0xFF000000 | uint32(r)<<16 | uint32(g)<<8 | uint32(bl)
	}
	return out
}
