package providers

import (
	"strconv"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CUDAProviderBackend uses NVIDIA CUDA for inference optimization.
	CUDAProviderBackend ProviderBackend = "cuda"
)

// CUDAOptions contains arguments for the CUDA provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"device_id" yaml:"device_id"`
	// The size limit of the device memory arena in bytes. Zero keeps the runtime default.
	GPUMemLimit int64 `json:"gpu_mem_limit" yaml:"gpu_mem_limit"`
	// The strategy for extending the device memory arena: kNextPowerOfTwo or kSameAsRequested.
	ArenaExtendStrategy string `json:"arena_extend_strategy" yaml:"arena_extend_strategy"`
	// The type of search done for cuDNN convolution algorithms: EXHAUSTIVE, HEURISTIC or DEFAULT.
	CudnnConvAlgoSearch string `json:"cudnn_conv_algo_search" yaml:"cudnn_conv_algo_search"`
	// Whether to do copies in the default stream or use separate streams.
	DoCopyInDefaultStream bool `json:"do_copy_in_default_stream" yaml:"do_copy_in_default_stream"`
	// If this option is enabled, the execution provider prefers NHWC operators over NCHW.
	PreferNHWC bool `json:"prefer_nhwc" yaml:"prefer_nhwc"`
	// Allow TensorFloat-32 math on Ampere and later.
	UseTF32 bool `json:"use_tf32" yaml:"use_tf32"`
}

// Map returns the provider option keys understood by ONNX Runtime. Unset values are left
// to the runtime defaults.
func (o CUDAOptions) Map() map[string]string {
	flag := func(b bool) string {
		if b {
			return "1"
		}
		return "0"
	}
	m := map[string]string{
		"device_id":                 strconv.Itoa(o.DeviceID),
		"do_copy_in_default_stream": flag(o.DoCopyInDefaultStream),
		"prefer_nhwc":               flag(o.PreferNHWC),
		"use_tf32":                  flag(o.UseTF32),
	}
	if o.GPUMemLimit > 0 {
		m["gpu_mem_limit"] = strconv.FormatInt(o.GPUMemLimit, 10)
	}
	if o.ArenaExtendStrategy != "" {
		m["arena_extend_strategy"] = o.ArenaExtendStrategy
	}
	if o.CudnnConvAlgoSearch != "" {
		m["cudnn_conv_algo_search"] = o.CudnnConvAlgoSearch
	}
	return m
}

// ToNativeProviderOptions converts the CUDA options to a CUDA provider options.
// This is used to pass the options to the CUDA provider. The caller destroys the result.
func (o CUDAOptions) ToNativeProviderOptions() (*ort.CUDAProviderOptions, error) {
	opts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, err
	}
	if err := opts.Update(o.Map()); err != nil {
		opts.Destroy()
		return nil, err
	}
	return opts, nil
}
