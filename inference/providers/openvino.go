package providers

import "strconv"

const (
	// OpenVINOProviderBackend uses Intel OpenVINO for inference optimization.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// OpenVINOOptions contains arguments for the OpenVINO provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type OpenVINOOptions struct {
	// Overrides the accelerator hardware type (CPU, GPU, NPU) at runtime.
	DeviceType string `json:"device_type" yaml:"device_type"`
	// Supported precisions for HW {CPU:FP32, GPU:[FP32, FP16, ACCURACY], NPU:FP16}.
	Precision string `json:"precision" yaml:"precision"`
	// Overrides the accelerator default value of number of threads with this value at runtime.
	NumOfThreads int `json:"num_of_threads" yaml:"num_of_threads"`
	// Overrides the accelerator default streams with this value at runtime.
	NumStreams int `json:"num_streams" yaml:"num_streams"`
	// This option enables rewriting dynamic shaped models to static shape at runtime and execute.
	DisableDynamicShapes bool `json:"disable_dynamic_shapes" yaml:"disable_dynamic_shapes"`
	// Directory where compiled blobs are cached between runs.
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`
}

// Map returns the provider option keys understood by ONNX Runtime, omitting unset values.
func (o OpenVINOOptions) Map() map[string]string {
	m := map[string]string{}
	if o.DeviceType != "" {
		m["device_type"] = o.DeviceType
	}
	if o.Precision != "" {
		m["precision"] = o.Precision
	}
	if o.NumOfThreads > 0 {
		m["num_of_threads"] = strconv.Itoa(o.NumOfThreads)
	}
	if o.NumStreams > 0 {
		m["num_streams"] = strconv.Itoa(o.NumStreams)
	}
	if o.DisableDynamicShapes {
		m["disable_dynamic_shapes"] = "true"
	}
	if o.CacheDir != "" {
		m["cache_dir"] = o.CacheDir
	}
	return m
}
