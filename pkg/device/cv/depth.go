package cv

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-oakview/pkg/device"
	"github.com/teslashibe/go-oakview/pkg/frame"
)

// depthInput is the square input of MiDaS-small style networks.
const depthInput = 256

// DepthEstimator turns a colour frame into a colour-mapped disparity image
// using a monocular depth network.
type DepthEstimator struct {
	net gocv.Net
	out frame.Resolution
	mu  sync.Mutex
}

// NewDepthEstimator loads an ONNX depth network.
func NewDepthEstimator(path string, out frame.Resolution) (*DepthEstimator, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", device.ErrModelNotFound, path)
	}
	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("%w: cannot load depth model %s", device.ErrInvalidModel, path)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	return &DepthEstimator{net: net, out: out}, nil
}

// Estimate returns packed disparity pixels at the output resolution, or nil
// if inference fails.
func (e *DepthEstimator) Estimate(img gocv.Mat) []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if img.Empty() {
		return nil
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(depthInput, depthInput), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	e.net.SetInput(blob, "")
	output := e.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) < 2 {
		return nil
	}
	rows := dims[len(dims)-2]
	plane := output.Reshape(1, rows)
	defer plane.Close()

	return Colorize(plane, e.out)
}

// Close releases the network.
func (e *DepthEstimator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.net.Close()
}

// Colorize normalises a single-channel depth map, applies a jet colour map
// and resizes it to out.
func Colorize(depthMap gocv.Mat, out frame.Resolution) []uint32 {
	if depthMap.Empty() {
		return nil
	}

	norm := gocv.NewMat()
	defer norm.Close()
	gocv.Normalize(depthMap, &norm, 0, 255, gocv.NormMinMax)

	gray := gocv.NewMat()
	defer gray.Close()
	norm.ConvertTo(&gray, gocv.MatTypeCV8U)

	colored := gocv.NewMat()
	defer colored.Close()
	gocv.ApplyColorMap(gray, &colored, gocv.ColormapJet)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(colored, &resized, image.Pt(out.Width, out.Height), 0, 0, gocv.InterpolationLinear)

	return Pack(resized)
}
