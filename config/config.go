// Package config - YAML configuration of the recognition service.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/nvr-ai/go-recognize/inference"
	"github.com/nvr-ai/go-recognize/inference/providers"
	"github.com/nvr-ai/go-recognize/logging"
	"github.com/nvr-ai/go-recognize/models"
	"github.com/nvr-ai/go-recognize/models/labels"
	"github.com/nvr-ai/go-recognize/models/model"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of the recognize command.
type Config struct {
	Engine Engine             `json:"engine" yaml:"engine"`
	Model  model.NewModelArgs `json:"model" yaml:"model"`
	Labels Labels             `json:"labels" yaml:"labels"`
	Camera Camera             `json:"camera" yaml:"camera"`
	Server Server             `json:"server" yaml:"server"`
	Log    Log                `json:"log" yaml:"log"`
	Stats  Stats              `json:"stats" yaml:"stats"`
}

// Engine selects the inference backend.
type Engine struct {
	// Type is onnx or tflite.
	Type inference.EngineType `json:"type" yaml:"type"`
	// ModelPath is the model file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// Threads is the interpreter thread count for tflite. Zero means one per CPU.
	Threads int `json:"threads" yaml:"threads"`
	// SharedLibraryPath locates the onnxruntime library.
	SharedLibraryPath string `json:"shared_library_path" yaml:"shared_library_path"`
	// Provider configures the onnx execution provider.
	Provider providers.Config `json:"provider" yaml:"provider"`
	// Pipelines is the number of pipelines recognizing in parallel.
	Pipelines int `json:"pipelines" yaml:"pipelines"`
}

// Labels names the label source: a file path or a built-in table.
type Labels struct {
	Path    string `json:"path" yaml:"path"`
	Builtin string `json:"builtin" yaml:"builtin"`
}

// Camera configures frame capture.
type Camera struct {
	// Source is a device id, a video file or a stream URL.
	Source string `json:"source" yaml:"source"`
}

// Server configures the HTTP result server.
type Server struct {
	Address string `json:"address" yaml:"address"`
	// StaticDir is served at the root when set.
	StaticDir string `json:"static_dir" yaml:"static_dir"`
}

// Log configures logging.
type Log struct {
	Level string `json:"level" yaml:"level"`
	JSON  bool   `json:"json" yaml:"json"`
}

// Stats configures per stage timing statistics.
type Stats struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Window  int  `json:"window" yaml:"window"`
}

// Default returns the configuration of a COCO SSD detector on the first camera.
func Default() Config {
	return Config{
		Engine: Engine{
			Type:      inference.EngineTFLite,
			ModelPath: "models/ssd_mobilenet_v1_coco.tflite",
			Pipelines: 1,
		},
		Model: model.NewModelArgs{
			Name:   model.ModelNameDetector,
			Config: model.DefaultDetectorConfig(),
		},
		Labels: Labels{Builtin: "coco"},
		Camera: Camera{Source: "0"},
		Server: Server{Address: ":8080"},
		Log:    Log{Level: "info"},
		Stats:  Stats{Window: inference.DefaultStatWindow},
	}
}

// Load reads a YAML file over the defaults.
//
// Arguments:
//   - path: The configuration file.
//
// Returns:
//   - Config: The validated configuration.
//   - error: When the file cannot be read or is invalid.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "opening configuration")
	}
	defer f.Close()
	return Read(f)
}

// Read decodes YAML over the defaults and validates the result. Unknown keys are errors.
func Read(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, errors.Wrap(err, "reading configuration")
	}

	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		// The model family decides the decoding defaults and a label path replaces the
		// built-in table, so both are resolved first.
		var family struct {
			Model struct {
				Name model.Name `yaml:"name"`
			} `yaml:"model"`
			Labels struct {
				Path    *string `yaml:"path"`
				Builtin *string `yaml:"builtin"`
			} `yaml:"labels"`
		}
		if err := yaml.Unmarshal(data, &family); err != nil {
			return Config{}, errors.Wrap(err, "decoding configuration")
		}
		if family.Model.Name != "" && family.Model.Name != cfg.Model.Name {
			defaults, err := models.DefaultConfig(family.Model.Name)
			if err != nil {
				return Config{}, err
			}
			cfg.Model = model.NewModelArgs{Name: family.Model.Name, Config: defaults}
		}
		if family.Labels.Path != nil && family.Labels.Builtin == nil {
			cfg.Labels.Builtin = ""
		}

		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, errors.Wrap(err, "decoding configuration")
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem of the configuration at once.
func (c Config) Validate() error {
	var err error
	if _, perr := inference.ParseEngineType(string(c.Engine.Type)); perr != nil {
		err = multierr.Append(err, perr)
	}
	if c.Engine.ModelPath == "" {
		err = multierr.Append(err, errors.New("engine.model_path is required"))
	}
	if c.Engine.Pipelines < 1 {
		err = multierr.Append(err, errors.Errorf("engine.pipelines must be at least 1, got %d", c.Engine.Pipelines))
	}
	if perr := c.Engine.Provider.Validate(); perr != nil {
		err = multierr.Append(err, perr)
	}
	if _, merr := models.DefaultConfig(c.Model.Name); merr != nil {
		err = multierr.Append(err, merr)
	}
	if c.Model.Config.TopK < 0 || c.Model.Config.MaxDetections < 0 {
		err = multierr.Append(err, errors.New("model.config.top_k and max_detections must not be negative"))
	}
	if t := c.Model.Config.ConfidenceThreshold; t < 0 || t > 1 {
		err = multierr.Append(err, errors.Errorf("model.config.confidence_threshold must be within [0, 1], got %v", t))
	}
	if (c.Labels.Path == "") == (c.Labels.Builtin == "") {
		err = multierr.Append(err, errors.New("exactly one of labels.path and labels.builtin is required"))
	} else if c.Labels.Builtin != "" {
		if _, ok := labels.Builtin(c.Labels.Builtin); !ok {
			err = multierr.Append(err, errors.Errorf("unknown built-in labels %q", c.Labels.Builtin))
		}
	}
	if _, lerr := logging.ParseLevel(c.Log.Level); lerr != nil {
		err = multierr.Append(err, lerr)
	}
	return err
}

// LoadLabels opens the configured label source.
func (l Labels) LoadLabels() (*labels.Table, error) {
	if l.Builtin != "" {
		if t, ok := labels.Builtin(l.Builtin); ok {
			return t, nil
		}
		return nil, errors.Wrapf(labels.ErrSourceUnavailable, "unknown built-in labels %q", l.Builtin)
	}
	return labels.Load(l.Path)
}
