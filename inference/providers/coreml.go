package providers

const (
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
)

// CoreML provider flags, as defined by coreml_provider_factory.h.
const (
	coreMLFlagUseCPUOnly                 uint32 = 0x001
	coreMLFlagEnableOnSubgraph           uint32 = 0x002
	coreMLFlagOnlyEnableDeviceWithANE    uint32 = 0x004
	coreMLFlagOnlyAllowStaticInputShapes uint32 = 0x008
	coreMLFlagCreateMLProgram            uint32 = 0x010
)

// CoreMLOptions contains arguments for the CoreML provider.
// See: https://onnxruntime.ai/docs/execution-providers/CoreML-ExecutionProvider.html
type CoreMLOptions struct {
	// Create an MLProgram format model. Requires Core ML 5 or later (iOS 15+ or macOS 12+).
	// Default: NeuralNetwork
	MLProgram bool `json:"ml_program" yaml:"ml_program"`
	// MLComputeUnits limits the devices CoreML may use: CPUOnly, CPUAndNeuralEngine or ALL.
	// Default: ALL
	MLComputeUnits string `json:"ml_compute_units" yaml:"ml_compute_units"`
	// Only allow the CoreML EP to take nodes with inputs that have static shapes.
	RequireStaticInputShapes bool `json:"require_static_input_shapes" yaml:"require_static_input_shapes"`
	// Enable CoreML EP to run on a subgraph in the body of a control flow operator (i.e. a Loop,
	// Scan or If operator).
	EnableOnSubgraphs bool `json:"enable_on_subgraphs" yaml:"enable_on_subgraphs"`
}

// Flags converts the options to the flag word of the CoreML provider.
func (o CoreMLOptions) Flags() uint32 {
	var flags uint32
	switch o.MLComputeUnits {
	case "CPUOnly":
		flags |= coreMLFlagUseCPUOnly
	case "CPUAndNeuralEngine":
		flags |= coreMLFlagOnlyEnableDeviceWithANE
	}
	if o.EnableOnSubgraphs {
		flags |= coreMLFlagEnableOnSubgraph
	}
	if o.RequireStaticInputShapes {
		flags |= coreMLFlagOnlyAllowStaticInputShapes
	}
	if o.MLProgram {
		flags |= coreMLFlagCreateMLProgram
	}
	return flags
}
