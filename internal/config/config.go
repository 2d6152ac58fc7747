// Package config loads oakview settings from defaults, an optional YAML
// file and OAKVIEW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/teslashibe/go-oakview/pkg/device"
	"github.com/teslashibe/go-oakview/pkg/frame"
	"github.com/teslashibe/go-oakview/pkg/session"
)

// EnvPrefix prefixes every environment override, e.g. OAKVIEW_WEB_PORT.
const EnvPrefix = "OAKVIEW"

// Backends selectable through device.backend.
const (
	BackendCV   = "cv"
	BackendMock = "mock"
)

// Config is the complete oakview configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Model     ModelConfig     `mapstructure:"model"`
	Depth     DepthConfig     `mapstructure:"depth"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Device    DeviceConfig    `mapstructure:"device"`
	Web       WebConfig       `mapstructure:"web"`
}

// LogConfig controls logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
}

// ModelConfig selects the detection model.
type ModelConfig struct {
	// Preset names a built-in model (yolov3, yolov4, yolov5, mobilenet).
	Preset string `mapstructure:"preset"`
	// Path overrides the preset's model file when set.
	Path string `mapstructure:"path"`
	// Width and Height override the preset input size when non-zero.
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// DepthConfig is the disparity output resolution.
type DepthConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// SchedulerConfig controls the frame loop.
type SchedulerConfig struct {
	Period time.Duration `mapstructure:"period"`
	// MaxStartAttempts caps failed starts; 0 retries forever.
	MaxStartAttempts int `mapstructure:"max_start_attempts"`
}

// LifecycleConfig controls host view behaviour.
type LifecycleConfig struct {
	PauseOnHidden bool   `mapstructure:"pause_on_hidden"`
	StateFile     string `mapstructure:"state_file"`
}

// DeviceConfig selects and tunes the device backend.
type DeviceConfig struct {
	Backend    string  `mapstructure:"backend"`
	Camera     string  `mapstructure:"camera"`
	DepthModel string  `mapstructure:"depth_model"`
	// Node is a device node watched for permission changes. Empty means
	// permission only comes from the initial connect.
	Node       string  `mapstructure:"node"`
	Confidence float32 `mapstructure:"confidence"`
	NMS        float32 `mapstructure:"nms"`
}

// WebConfig controls the dashboard.
type WebConfig struct {
	Port string `mapstructure:"port"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log:   LogConfig{Level: "info"},
		Model: ModelConfig{Preset: device.PresetYOLOv5},
		Depth: DepthConfig{
			Width:  device.DefaultDepth.Width,
			Height: device.DefaultDepth.Height,
		},
		Scheduler: SchedulerConfig{Period: 30 * time.Millisecond},
		Lifecycle: LifecycleConfig{StateFile: session.DefaultStatePath()},
		Device: DeviceConfig{
			Backend:    BackendCV,
			Camera:     "0",
			Confidence: 0.5,
			NMS:        0.45,
		},
		Web: WebConfig{Port: "8080"},
	}
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("model.preset", d.Model.Preset)
	v.SetDefault("model.path", d.Model.Path)
	v.SetDefault("model.width", d.Model.Width)
	v.SetDefault("model.height", d.Model.Height)

	v.SetDefault("depth.width", d.Depth.Width)
	v.SetDefault("depth.height", d.Depth.Height)

	v.SetDefault("scheduler.period", d.Scheduler.Period)
	v.SetDefault("scheduler.max_start_attempts", d.Scheduler.MaxStartAttempts)

	v.SetDefault("lifecycle.pause_on_hidden", d.Lifecycle.PauseOnHidden)
	v.SetDefault("lifecycle.state_file", d.Lifecycle.StateFile)

	v.SetDefault("device.backend", d.Device.Backend)
	v.SetDefault("device.camera", d.Device.Camera)
	v.SetDefault("device.depth_model", d.Device.DepthModel)
	v.SetDefault("device.node", d.Device.Node)
	v.SetDefault("device.confidence", d.Device.Confidence)
	v.SetDefault("device.nms", d.Device.NMS)

	v.SetDefault("web.port", d.Web.Port)
}

// New returns a viper instance with defaults and environment binding. When
// file is set it is read as YAML; otherwise oakview.yaml is looked up in the
// config directory and the working directory, and a missing file is fine.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("oakview")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}
	return v, nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigDir returns $XDG_CONFIG_HOME/oakview or ~/.config/oakview.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "oakview")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "oakview"
	}
	return filepath.Join(home, ".config", "oakview")
}

// ModelConfig resolves the preset and overrides into a device model.
func (c *Config) ModelConfig() (device.ModelConfig, error) {
	preset := device.GetPreset(c.Model.Preset)
	if preset == nil {
		return device.ModelConfig{}, fmt.Errorf("%w: unknown preset %q", device.ErrInvalidModel, c.Model.Preset)
	}
	model := *preset
	if c.Model.Path != "" {
		model.Path = c.Model.Path
	}
	if c.Model.Width > 0 {
		model.Width = c.Model.Width
	}
	if c.Model.Height > 0 {
		model.Height = c.Model.Height
	}
	return model, model.Validate()
}

// DepthResolution returns the configured disparity resolution.
func (c *Config) DepthResolution() frame.Resolution {
	return frame.Resolution{Width: c.Depth.Width, Height: c.Depth.Height}
}
