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
	// Overrides the accelerator hardware type (CPU, GPU, NPU). Empty uses the build default.
	DeviceType string `json:"device_type" yaml:"device_type"`
	// Overrides the accelerator default number of threads. Zero uses the build default.
	NumOfThreads int `json:"num_of_threads" yaml:"num_of_threads"`
	// This option enables rewriting dynamic shaped models to static shape at runtime and execute.
	DisableDynamicShapes bool `json:"disable_dynamic_shapes" yaml:"disable_dynamic_shapes"`
}

// ToMap returns the provider option keys understood by ONNX Runtime.
//
// Arguments:
//   - deviceID: The accelerator ordinal, used only when a device type is set.
//
// Returns:
//   - map[string]string: The option map.
func (o OpenVINOOptions) ToMap(deviceID int) map[string]string {
	m := map[string]string{
		"disable_dynamic_shapes": strconv.FormatBool(o.DisableDynamicShapes),
	}
	if o.DeviceType != "" {
		m["device_type"] = o.DeviceType
		if deviceID > 0 {
			m["device_type"] = o.DeviceType + "." + strconv.Itoa(deviceID)
		}
	}
	if o.NumOfThreads > 0 {
		m["num_of_threads"] = strconv.Itoa(o.NumOfThreads)
	}
	return m
}
