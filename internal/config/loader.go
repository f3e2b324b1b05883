package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"inferd/internal/modelinstance"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr     string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
	// ModelsDir is scanned for <name>/<version>/ trees when Models is empty.
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	// SequenceCleanerInterval is a Go duration; "0" disables idle eviction.
	SequenceCleanerInterval string `json:"sequence_cleaner_interval" yaml:"sequence_cleaner_interval" toml:"sequence_cleaner_interval"`
	MaxQueueDepth           int    `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWait                 string `json:"max_wait" yaml:"max_wait" toml:"max_wait"`
	WaitForLoaded           string `json:"wait_for_loaded" yaml:"wait_for_loaded" toml:"wait_for_loaded"`
	DrainTimeout            string `json:"drain_timeout" yaml:"drain_timeout" toml:"drain_timeout"`
	InferTimeout            string `json:"infer_timeout" yaml:"infer_timeout" toml:"infer_timeout"`
	MaxBodyBytes            int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	CORS   CORSConfig    `json:"cors" yaml:"cors" toml:"cors"`
	Models []ModelConfig `json:"models" yaml:"models" toml:"models"`
}

// CORSConfig is applied by the HTTP layer when Enabled is set.
type CORSConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
}

// ModelConfig describes one served model. Every numeric sub-directory of
// BasePath is loaded as a version.
type ModelConfig struct {
	Name         string `json:"name" yaml:"name" toml:"name"`
	BasePath     string `json:"base_path" yaml:"base_path" toml:"base_path"`
	TargetDevice string `json:"target_device" yaml:"target_device" toml:"target_device"`
	Nireq        int    `json:"nireq" yaml:"nireq" toml:"nireq"`
	// BatchSize is empty, "auto" or a positive integer.
	BatchSize string `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	// Shape maps input names to "auto" or a shape such as "(1,3,-1,10:20)".
	Shape             map[string]string `json:"shape" yaml:"shape" toml:"shape"`
	PluginConfig      map[string]string `json:"plugin_config" yaml:"plugin_config" toml:"plugin_config"`
	Stateful          bool              `json:"stateful" yaml:"stateful" toml:"stateful"`
	MaxSequenceNumber int               `json:"max_sequence_number" yaml:"max_sequence_number" toml:"max_sequence_number"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Duration parses s, returning def when s is empty.
func Duration(s string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q: negative", s)
	}
	return d, nil
}

// Template converts mc into an instance configuration without a version.
func (mc ModelConfig) Template() (modelinstance.Config, error) {
	batch, err := modelinstance.ParseBatchSize(mc.BatchSize)
	if err != nil {
		return modelinstance.Config{}, fmt.Errorf("model %q: %w", mc.Name, err)
	}
	cfg := modelinstance.Config{
		Name:              mc.Name,
		BasePath:          mc.BasePath,
		TargetDevice:      mc.TargetDevice,
		Nireq:             mc.Nireq,
		Batch:             batch,
		PluginConfig:      mc.PluginConfig,
		Stateful:          mc.Stateful,
		MaxSequenceNumber: mc.MaxSequenceNumber,
	}
	if cfg.TargetDevice == "" {
		cfg.TargetDevice = "CPU"
	}
	if len(mc.Shape) > 0 {
		cfg.Shapes = make(map[string]modelinstance.ShapeSpec, len(mc.Shape))
		for input, s := range mc.Shape {
			spec, err := modelinstance.ParseShapeSpec(s)
			if err != nil {
				return modelinstance.Config{}, fmt.Errorf("model %q input %q: %w", mc.Name, input, err)
			}
			cfg.Shapes[input] = spec
		}
	}
	return cfg, nil
}

// Templates converts every model entry. Names must be unique.
func (c Config) Templates() ([]modelinstance.Config, error) {
	seen := map[string]bool{}
	out := make([]modelinstance.Config, 0, len(c.Models))
	for _, mc := range c.Models {
		if mc.Name == "" {
			return nil, fmt.Errorf("model entry without a name")
		}
		if seen[mc.Name] {
			return nil, fmt.Errorf("model %q configured twice", mc.Name)
		}
		seen[mc.Name] = true
		cfg, err := mc.Template()
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}
