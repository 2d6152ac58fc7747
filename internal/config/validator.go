package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/teslashibe/go-oakview/pkg/device"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid setting.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return "config: " + e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "config: %d validation errors:", len(e))
	for _, err := range e {
		sb.WriteString("\n  ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the accepted log levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidBackends returns the accepted device backends.
func ValidBackends() []string {
	return []string{BackendCV, BackendMock}
}

// Validate checks every setting and returns ValidationErrors, or nil.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Log.Level)) {
		add("log.level", c.Log.Level, "must be one of "+strings.Join(ValidLogLevels(), ", "))
	}
	if device.GetPreset(c.Model.Preset) == nil {
		add("model.preset", c.Model.Preset, "must be one of "+strings.Join(device.PresetNames(), ", "))
	}
	for field, v := range map[string]int{"model.width": c.Model.Width, "model.height": c.Model.Height} {
		if v != 0 && (v < device.MinInputSize || v > device.MaxInputSize) {
			add(field, v, fmt.Sprintf("must be 0 or between %d and %d", device.MinInputSize, device.MaxInputSize))
		}
	}
	if c.Depth.Width <= 0 || c.Depth.Height <= 0 {
		add("depth", fmt.Sprintf("%dx%d", c.Depth.Width, c.Depth.Height), "must be positive")
	}
	if c.Scheduler.Period <= 0 {
		add("scheduler.period", c.Scheduler.Period, "must be positive")
	}
	if c.Scheduler.MaxStartAttempts < 0 {
		add("scheduler.max_start_attempts", c.Scheduler.MaxStartAttempts, "must be >= 0")
	}
	if !slices.Contains(ValidBackends(), c.Device.Backend) {
		add("device.backend", c.Device.Backend, "must be one of "+strings.Join(ValidBackends(), ", "))
	}
	if c.Device.Confidence <= 0 || c.Device.Confidence > 1 {
		add("device.confidence", c.Device.Confidence, "must be in (0, 1]")
	}
	if c.Device.NMS <= 0 || c.Device.NMS > 1 {
		add("device.nms", c.Device.NMS, "must be in (0, 1]")
	}
	if c.Web.Port == "" {
		add("web.port", c.Web.Port, "must be set")
	}

	if len(errs) == 0 {
		return nil
	}
	slices.SortFunc(errs, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errs
}
