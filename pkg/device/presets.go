package device

import "sort"

// Preset names for the bundled model blobs.
const (
	PresetYOLOv3    = "yolov3"
	PresetYOLOv4    = "yolov4"
	PresetYOLOv5    = "yolov5"
	PresetMobileNet = "mobilenet"
)

// Presets returns all bundled model configurations.
func Presets() map[string]ModelConfig {
	return map[string]ModelConfig{
		PresetYOLOv3:    YOLOv3Model(),
		PresetYOLOv4:    YOLOv4Model(),
		PresetYOLOv5:    YOLOv5Model(),
		PresetMobileNet: MobileNetModel(),
	}
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, 4)
	for name := range Presets() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPreset returns a preset by name, or nil if not found.
func GetPreset(name string) *ModelConfig {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}

// YOLOv3Model returns the tiny YOLOv3 TensorFlow export.
func YOLOv3Model() ModelConfig {
	return ModelConfig{Name: PresetYOLOv3, Path: "yolo-v3-tiny-tf.blob", Width: 416, Height: 416}
}

// YOLOv4Model returns tiny YOLOv4 compiled for 6 shaves.
func YOLOv4Model() ModelConfig {
	return ModelConfig{Name: PresetYOLOv4, Path: "yolov4_tiny_coco_416x416_6shave.blob", Width: 416, Height: 416}
}

// YOLOv5Model returns YOLOv5s compiled for 6 shaves.
// This is the default detector.
func YOLOv5Model() ModelConfig {
	return ModelConfig{Name: PresetYOLOv5, Path: "yolov5s_416_6shave.blob", Width: 416, Height: 416}
}

// MobileNetModel returns MobileNet-SSD, which takes 300x300 input.
func MobileNetModel() ModelConfig {
	return ModelConfig{Name: PresetMobileNet, Path: "mobilenet-ssd.blob", Width: 300, Height: 300}
}
