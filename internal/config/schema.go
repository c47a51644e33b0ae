package config

import (
	"fmt"
	"strings"
)

// Field describes one configuration key.
type Field struct {
	Key         string
	Type        string
	Description string
	value       func(Config) any
}

// Default renders the field's built-in default.
func (f Field) Default() string { return fmt.Sprint(f.value(Default())) }

// Env returns the environment variable overriding the field.
func (f Field) Env() string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(f.Key, ".", "_"))
}

// Schema enumerates every configuration key with its type, default and
// description.
var Schema = []Field{
	{"addr", "string", "HTTP listen address for the control API", func(c Config) any { return c.Addr }},
	{"data_root", "string", "Root directory for session folders and the catalog", func(c Config) any { return c.DataRoot }},
	{"log_level", "string", "Log level: debug|info|warn|error", func(c Config) any { return c.LogLevel }},
	{"log_format", "string", "Log output: console|json", func(c Config) any { return c.LogFormat }},
	{"threshold", "float", "Distance to target [m] that ends an episode", func(c Config) any { return c.Threshold }},
	{"train_probability", "float", "Probability an episode is written to the train split", func(c Config) any { return c.TrainProbability }},
	{"sample_stride", "int", "Capture every Nth frame of an episode", func(c Config) any { return c.SampleStride }},
	{"victim_alarm_distance", "float", "victim/detected distance [m] that forces an immediate capture", func(c Config) any { return c.VictimAlarmDistance }},
	{"timestep", "float", "Simulation step [s]", func(c Config) any { return c.Timestep }},
	{"depth_width", "int", "Depth image width [px]", func(c Config) any { return c.DepthWidth }},
	{"depth_height", "int", "Depth image height [px]", func(c Config) any { return c.DepthHeight }},
	{"seed", "int", "PRNG seed for splits and scenes (0 = random)", func(c Config) any { return c.Seed }},
	{"catalog", "bool", "Index saved archives in <data_root>/catalog.db", func(c Config) any { return c.Catalog }},
	{"shutdown_timeout_seconds", "int", "Max wait for in-flight saves on shutdown", func(c Config) any { return c.ShutdownTimeoutSeconds }},
	{"cors_origins", "[]string", "Allowed CORS origins for the control API (empty = CORS off)", func(c Config) any { return c.CORSOrigins }},
	{"scene.area_size", "float", "Area size [m]", func(c Config) any { return c.Scene.AreaSize }},
	{"scene.num_trees", "int", "Number of trees", func(c Config) any { return c.Scene.NumTrees }},
	{"scene.fraction_standing", "float", "Fraction of standing trees", func(c Config) any { return c.Scene.FractionStanding }},
	{"scene.num_rocks", "int", "Number of rocks", func(c Config) any { return c.Scene.NumRocks }},
	{"scene.clear_zone_radius", "float", "Clear zone radius [m]", func(c Config) any { return c.Scene.ClearZoneRadius }},
	{"scene.move_step", "float", "Drone move step [m]", func(c Config) any { return c.Scene.MoveStep }},
	{"scene.rotate_step_deg", "float", "Drone rotate step [deg]", func(c Config) any { return c.Scene.RotateStepDeg }},
	{"scene.verbose", "bool", "Verbose scene creation", func(c Config) any { return c.Scene.Verbose }},
}

// Validate checks ranges and enumerations. All problems are reported at once.
func (c Config) Validate() error {
	var errs ValidationErrors
	if strings.TrimSpace(c.DataRoot) == "" {
		errs.Add("data_root", "is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs.AddWithValue("log_level", "must be debug|info|warn|error", c.LogLevel)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs.AddWithValue("log_format", "must be console|json", c.LogFormat)
	}
	if c.Threshold <= 0 {
		errs.AddWithValue("threshold", "must be > 0", c.Threshold)
	}
	if c.TrainProbability < 0 || c.TrainProbability > 1 {
		errs.AddWithValue("train_probability", "must be within [0,1]", c.TrainProbability)
	}
	if c.SampleStride < 1 {
		errs.AddWithValue("sample_stride", "must be >= 1", c.SampleStride)
	}
	if c.VictimAlarmDistance < 0 {
		errs.AddWithValue("victim_alarm_distance", "must be >= 0", c.VictimAlarmDistance)
	}
	if c.Timestep <= 0 {
		errs.AddWithValue("timestep", "must be > 0", c.Timestep)
	}
	if c.DepthWidth < 1 || c.DepthHeight < 1 {
		errs.Add("depth_width/depth_height", "must be >= 1")
	}
	if c.ShutdownTimeoutSeconds < 0 {
		errs.AddWithValue("shutdown_timeout_seconds", "must be >= 0", c.ShutdownTimeoutSeconds)
	}
	if c.Scene.AreaSize <= 0 {
		errs.AddWithValue("scene.area_size", "must be > 0", c.Scene.AreaSize)
	}
	if c.Scene.FractionStanding < 0 || c.Scene.FractionStanding > 1 {
		errs.AddWithValue("scene.fraction_standing", "must be within [0,1]", c.Scene.FractionStanding)
	}
	if c.Scene.NumTrees < 0 || c.Scene.NumRocks < 0 {
		errs.Add("scene.num_trees/num_rocks", "must be >= 0")
	}
	if c.Scene.MoveStep <= 0 {
		errs.AddWithValue("scene.move_step", "must be > 0", c.Scene.MoveStep)
	}
	if len(errs.Errors) == 0 {
		return nil
	}
	return &errs
}

// ValidationError represents a single validation failure.
type ValidationError struct {
	Path    string
	Message string
	Value   any
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("%s: %s (got %v)", e.Path, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d validation errors:\n  - %s", len(e.Errors), strings.Join(msgs, "\n  - "))
}

// Add adds a validation error.
func (e *ValidationErrors) Add(path, message string) {
	e.Errors = append(e.Errors, &ValidationError{Path: path, Message: message})
}

// AddWithValue adds a validation error carrying the invalid value.
func (e *ValidationErrors) AddWithValue(path, message string, value any) {
	e.Errors = append(e.Errors, &ValidationError{Path: path, Message: message, Value: value})
}
