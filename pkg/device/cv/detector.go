package cv

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-oakview/pkg/device"
)

// Detection is one object found in a frame, in pixel coordinates of the
// annotated image.
type Detection struct {
	Box        image.Rectangle
	ClassID    int
	ClassName  string
	Confidence float32
}

// DetectorConfig holds detector settings.
type DetectorConfig struct {
	ModelPath        string
	ConfidenceThresh float32
	NMSThresh        float32
	InputWidth       int
	InputHeight      int
}

// Detector runs a YOLO or SSD network over frames.
type Detector struct {
	net       gocv.Net
	config    DetectorConfig
	mu        sync.Mutex
	inputSize image.Point
	classes   []string
}

var boxColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

// NewDetector loads the network at cfg.ModelPath.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %s", device.ErrModelNotFound, cfg.ModelPath)
	}

	var net gocv.Net
	if strings.EqualFold(filepath.Ext(cfg.ModelPath), ".onnx") {
		net = gocv.ReadNetFromONNX(cfg.ModelPath)
	} else {
		net = gocv.ReadNet(cfg.ModelPath, "")
	}
	if net.Empty() {
		return nil, fmt.Errorf("%w: cannot load %s", device.ErrInvalidModel, cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	classes := COCOClasses
	if strings.Contains(strings.ToLower(filepath.Base(cfg.ModelPath)), "mobilenet") {
		classes = VOCClasses
	}

	return &Detector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
		classes:   classes,
	}, nil
}

// Detect runs the network over img.
func (d *Detector) Detect(img gocv.Mat) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	return d.parse(output, float32(img.Cols()), float32(img.Rows()))
}

// Annotate draws detections onto img and returns them.
func (d *Detector) Annotate(img *gocv.Mat) ([]Detection, error) {
	dets, err := d.Detect(*img)
	if err != nil {
		return nil, err
	}
	for _, det := range dets {
		gocv.Rectangle(img, det.Box, boxColor, 2)
		label := fmt.Sprintf("%s %.0f%%", det.ClassName, det.Confidence*100)
		gocv.PutText(img, label, det.Box.Min.Add(image.Pt(0, -4)), gocv.FontHersheySimplex, 0.4, boxColor, 1)
	}
	return dets, nil
}

// Close releases the network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

func (d *Detector) parse(output gocv.Mat, imgW, imgH float32) ([]Detection, error) {
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	dims := output.Size()

	var cand candidates
	switch {
	case len(dims) == 4 && dims[3] == 7:
		// SSD: [1, 1, N, 7] of (image, class, conf, x1, y1, x2, y2) in 0..1
		cand = d.parseSSD(data, dims[2], imgW, imgH)
	case len(dims) == 3 && dims[1] < dims[2]:
		// YOLOv8: [1, 4+classes, N], no objectness
		cand = d.parseYOLO(data, dims[2], dims[1], true, imgW, imgH)
	case len(dims) == 3:
		// YOLOv3-v5: [1, N, 5+classes]
		cand = d.parseYOLO(data, dims[1], dims[2], false, imgW, imgH)
	default:
		return nil, fmt.Errorf("unsupported output shape %v", dims)
	}
	if len(cand.boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(cand.boxes, cand.scores, d.config.ConfidenceThresh, d.config.NMSThresh)
	dets := make([]Detection, 0, len(indices))
	for _, idx := range indices {
		dets = append(dets, Detection{
			Box:        cand.boxes[idx],
			ClassID:    cand.classes[idx],
			ClassName:  d.className(cand.classes[idx]),
			Confidence: cand.scores[idx],
		})
	}
	return dets, nil
}

type candidates struct {
	boxes   []image.Rectangle
	scores  []float32
	classes []int
}

func (c *candidates) add(box image.Rectangle, score float32, class int) {
	c.boxes = append(c.boxes, box)
	c.scores = append(c.scores, score)
	c.classes = append(c.classes, class)
}

// parseYOLO reads n detections of attrs values. transposed outputs store
// each attribute contiguously.
func (d *Detector) parseYOLO(data []float32, n, attrs int, transposed bool, imgW, imgH float32) candidates {
	at := func(i, a int) float32 {
		if transposed {
			return data[a*n+i]
		}
		return data[i*attrs+a]
	}
	first := 5
	if transposed {
		first = 4
	}
	sx := imgW / float32(d.config.InputWidth)
	sy := imgH / float32(d.config.InputHeight)

	var c candidates
	for i := 0; i < n; i++ {
		objectness := float32(1)
		if !transposed {
			objectness = at(i, 4)
			if objectness < d.config.ConfidenceThresh {
				continue
			}
		}

		best, bestID := float32(0), 0
		for a := first; a < attrs; a++ {
			if s := at(i, a); s > best {
				best, bestID = s, a-first
			}
		}
		score := best * objectness
		if score < d.config.ConfidenceThresh {
			continue
		}

		cx, cy, w, h := at(i, 0), at(i, 1), at(i, 2), at(i, 3)
		c.add(image.Rect(
			int((cx-w/2)*sx), int((cy-h/2)*sy),
			int((cx+w/2)*sx), int((cy+h/2)*sy),
		), score, bestID)
	}
	return c
}

func (d *Detector) parseSSD(data []float32, n int, imgW, imgH float32) candidates {
	var c candidates
	for i := 0; i < n; i++ {
		row := data[i*7 : i*7+7]
		score := row[2]
		if score < d.config.ConfidenceThresh {
			continue
		}
		c.add(image.Rect(
			int(row[3]*imgW), int(row[4]*imgH),
			int(row[5]*imgW), int(row[6]*imgH),
		), score, int(row[1]))
	}
	return c
}

func (d *Detector) className(id int) string {
	if id >= 0 && id < len(d.classes) {
		return d.classes[id]
	}
	return fmt.Sprintf("class %d", id)
}

// COCOClasses contains the 80 COCO class names.
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// VOCClasses are the MobileNet-SSD labels; index 0 is background.
var VOCClasses = []string{
	"background", "aeroplane", "bicycle", "bird", "boat", "bottle", "bus", "car", "cat",
	"chair", "cow", "diningtable", "dog", "horse", "motorbike", "person", "pottedplant",
	"sheep", "sofa", "train", "tvmonitor",
}
