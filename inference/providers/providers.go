// Package providers - ONNX Runtime execution providers and session options.
package providers

import (
	"fmt"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers
type ProviderBackend string

const (
	// CPUProviderBackend uses the default CPU execution provider.
	CPUProviderBackend ProviderBackend = "cpu"
)

// Backends lists the supported execution providers.
var Backends = []ProviderBackend{CPUProviderBackend, CoreMLProviderBackend, CUDAProviderBackend, OpenVINOProviderBackend}

// GraphOptimization names an ONNX Runtime graph optimization level.
type GraphOptimization string

// Graph optimization levels, from none to all.
const (
	GraphOptimizationNone     GraphOptimization = "none"
	GraphOptimizationBasic    GraphOptimization = "basic"
	GraphOptimizationExtended GraphOptimization = "extended"
	GraphOptimizationAll      GraphOptimization = "all"
)

// Config selects the execution provider and threading of an ONNX Runtime session.
type Config struct {
	// Backend is the execution provider. Empty means cpu.
	Backend ProviderBackend `json:"backend" yaml:"backend"`
	// IntraOpThreads parallelizes single operators. Zero lets the runtime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	// InterOpThreads parallelizes independent operators. Zero lets the runtime decide.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`
	// GraphOptimization is the graph rewrite level. Empty means extended.
	GraphOptimization GraphOptimization `json:"graph_optimization" yaml:"graph_optimization"`

	CoreML   *CoreMLOptions   `json:"coreml,omitempty" yaml:"coreml,omitempty"`
	CUDA     *CUDAOptions     `json:"cuda,omitempty" yaml:"cuda,omitempty"`
	OpenVINO *OpenVINOOptions `json:"openvino,omitempty" yaml:"openvino,omitempty"`
}

// Validate checks the backend name, optimization level and thread counts.
func (c Config) Validate() error {
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if _, err := c.graphOptimizationLevel(); err != nil {
		return err
	}
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return fmt.Errorf("thread counts must not be negative, got %d and %d", c.IntraOpThreads, c.InterOpThreads)
	}
	return nil
}

// ParseBackend resolves an execution provider name. Empty means cpu.
func ParseBackend(name string) (ProviderBackend, error) {
	if name == "" {
		return CPUProviderBackend, nil
	}
	for _, b := range Backends {
		if strings.EqualFold(name, string(b)) {
			return b, nil
		}
	}
	return "", fmt.Errorf("unsupported execution provider %q, expected one of %v", name, Backends)
}

func (c Config) graphOptimizationLevel() (ort.GraphOptimizationLevel, error) {
	switch GraphOptimization(strings.ToLower(string(c.GraphOptimization))) {
	case GraphOptimizationNone:
		return ort.GraphOptimizationLevelDisableAll, nil
	case GraphOptimizationBasic:
		return ort.GraphOptimizationLevelEnableBasic, nil
	case "", GraphOptimizationExtended:
		return ort.GraphOptimizationLevelEnableExtended, nil
	case GraphOptimizationAll:
		return ort.GraphOptimizationLevelEnableAll, nil
	default:
		return 0, fmt.Errorf("unsupported graph optimization %q", c.GraphOptimization)
	}
}

// SessionOptions creates ONNX Runtime session options for the configuration. The
// environment must be initialized.
//
// Arguments:
//   - c: The provider configuration.
//
// Returns:
//   - *ort.SessionOptions: Options the caller must Destroy once the session exists.
//   - error: When the configuration is invalid or the provider cannot be enabled.
//
// @example
// options, err := SessionOptions(Config{Backend: CoreMLProviderBackend})
//
//	if err != nil {
//	    return err
//	}
//
// defer options.Destroy()
func SessionOptions(c Config) (*ort.SessionOptions, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	level, _ := c.graphOptimizationLevel()
	backend, _ := ParseBackend(string(c.Backend))

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating ORT session options: %w", err)
	}
	if err := configure(options, c, level, backend); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func configure(options *ort.SessionOptions, c Config, level ort.GraphOptimizationLevel, backend ProviderBackend) error {
	if err := options.SetIntraOpNumThreads(c.IntraOpThreads); err != nil {
		return fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(c.InterOpThreads); err != nil {
		return fmt.Errorf("error setting inter-op threads: %w", err)
	}
	if err := options.SetGraphOptimizationLevel(level); err != nil {
		return fmt.Errorf("error setting graph optimization: %w", err)
	}

	switch backend {
	case CoreMLProviderBackend:
		var opts CoreMLOptions
		if c.CoreML != nil {
			opts = *c.CoreML
		}
		if err := options.AppendExecutionProviderCoreML(opts.Flags()); err != nil {
			return fmt.Errorf("error enabling CoreML: %w", err)
		}
	case CUDAProviderBackend:
		var opts CUDAOptions
		if c.CUDA != nil {
			opts = *c.CUDA
		}
		cuda, err := opts.ToNativeProviderOptions()
		if err != nil {
			return fmt.Errorf("error converting CUDA options: %w", err)
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return fmt.Errorf("error enabling CUDA: %w", err)
		}
	case OpenVINOProviderBackend:
		var opts OpenVINOOptions
		if c.OpenVINO != nil {
			opts = *c.OpenVINO
		}
		if err := options.AppendExecutionProviderOpenVINO(opts.Map()); err != nil {
			return fmt.Errorf("error enabling OpenVINO: %w", err)
		}
	}
	return nil
}
