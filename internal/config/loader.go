package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"episoded/internal/common/fsutil"
)

// SceneConfig is the scene-generation configuration handed to the scene
// collaborator. The episode manager retains it verbatim to restart scenes.
type SceneConfig struct {
	AreaSize         float64 `json:"area_size" yaml:"area_size" toml:"area_size" env:"AREA_SIZE"`
	NumTrees         int     `json:"num_trees" yaml:"num_trees" toml:"num_trees" env:"NUM_TREES"`
	FractionStanding float64 `json:"fraction_standing" yaml:"fraction_standing" toml:"fraction_standing" env:"FRACTION_STANDING"`
	NumRocks         int     `json:"num_rocks" yaml:"num_rocks" toml:"num_rocks" env:"NUM_ROCKS"`
	ClearZoneRadius  float64 `json:"clear_zone_radius" yaml:"clear_zone_radius" toml:"clear_zone_radius" env:"CLEAR_ZONE_RADIUS"`
	MoveStep         float64 `json:"move_step" yaml:"move_step" toml:"move_step" env:"MOVE_STEP"`
	RotateStepDeg    float64 `json:"rotate_step_deg" yaml:"rotate_step_deg" toml:"rotate_step_deg" env:"ROTATE_STEP_DEG"`
	Verbose          bool    `json:"verbose" yaml:"verbose" toml:"verbose" env:"VERBOSE"`
}

// Config holds runtime parameters for the service.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr" env:"ADDR"`
	DataRoot  string `json:"data_root" yaml:"data_root" toml:"data_root" env:"DATA_ROOT"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format" env:"LOG_FORMAT"`

	Threshold           float64 `json:"threshold" yaml:"threshold" toml:"threshold" env:"THRESHOLD"`
	TrainProbability    float64 `json:"train_probability" yaml:"train_probability" toml:"train_probability" env:"TRAIN_PROBABILITY"`
	SampleStride        int     `json:"sample_stride" yaml:"sample_stride" toml:"sample_stride" env:"SAMPLE_STRIDE"`
	VictimAlarmDistance float64 `json:"victim_alarm_distance" yaml:"victim_alarm_distance" toml:"victim_alarm_distance" env:"VICTIM_ALARM_DISTANCE"`

	Timestep    float64 `json:"timestep" yaml:"timestep" toml:"timestep" env:"TIMESTEP"`
	DepthWidth  int     `json:"depth_width" yaml:"depth_width" toml:"depth_width" env:"DEPTH_WIDTH"`
	DepthHeight int     `json:"depth_height" yaml:"depth_height" toml:"depth_height" env:"DEPTH_HEIGHT"`
	Seed        int64   `json:"seed" yaml:"seed" toml:"seed" env:"SEED"`

	Catalog                bool     `json:"catalog" yaml:"catalog" toml:"catalog" env:"CATALOG"`
	ShutdownTimeoutSeconds int      `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds" env:"SHUTDOWN_TIMEOUT_SECONDS"`
	CORSOrigins            []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`

	Scene SceneConfig `json:"scene" yaml:"scene" toml:"scene" envPrefix:"SCENE_"`
}

// EnvPrefix prefixes every environment override, e.g. EPISODED_THRESHOLD.
const EnvPrefix = "EPISODED_"

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:                   ":8090",
		DataRoot:               "data/episodes",
		LogLevel:               "info",
		LogFormat:              "console",
		Threshold:              0.5,
		TrainProbability:       0.9,
		SampleStride:           1,
		VictimAlarmDistance:    1.0,
		Timestep:               0.05,
		DepthWidth:             64,
		DepthHeight:            48,
		Catalog:                true,
		ShutdownTimeoutSeconds: 10,
		Scene: SceneConfig{
			AreaSize:         10.0,
			NumTrees:         125,
			FractionStanding: 0.85,
			NumRocks:         55,
			ClearZoneRadius:  0.5,
			MoveStep:         0.2,
			RotateStepDeg:    10.0,
		},
	}
}

// Load reads a configuration file based on its extension on top of Default.
// Supports: .yaml/.yml, .json, .toml. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode yaml: %w", err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode json: %w", err)
		}
	case ".toml":
		if err := toml.NewDecoder(bytes.NewReader(b)).DisallowUnknownFields().Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode toml: %w", err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg fields from EPISODED_* environment variables.
// Unset variables leave the current value untouched.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Resolve builds the effective configuration: defaults, then the optional
// file, then the environment. The result is normalized and validated.
func Resolve(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return cfg, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	root, err := fsutil.ExpandHome(cfg.DataRoot)
	if err != nil {
		return cfg, err
	}
	cfg.DataRoot = root
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
