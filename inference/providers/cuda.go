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
	// The size limit of the device memory arena in bytes. Zero leaves the runtime default.
	GPUMemLimit int64 `json:"gpu_mem_limit" yaml:"gpu_mem_limit"`
	// The type of search done for cuDNN convolution algorithms.
	// 0: EXHAUSTIVE, 1: HEURISTIC, 2: DEFAULT
	CudnnConvAlgoSearch int `json:"cudnn_conv_algo_search" yaml:"cudnn_conv_algo_search"`
	// Whether to do copies in the default stream or use separate streams.
	DoCopyInDefaultStream bool `json:"do_copy_in_default_stream" yaml:"do_copy_in_default_stream"`
}

// ToMap returns the provider option keys understood by ONNX Runtime.
//
// Arguments:
//   - deviceID: The GPU ordinal.
//
// Returns:
//   - map[string]string: The option map.
func (o CUDAOptions) ToMap(deviceID int) map[string]string {
	m := map[string]string{
		"device_id":                 strconv.Itoa(deviceID),
		"do_copy_in_default_stream": strconv.FormatBool(o.DoCopyInDefaultStream),
	}
	if o.GPUMemLimit > 0 {
		m["gpu_mem_limit"] = strconv.FormatInt(o.GPUMemLimit, 10)
	}
	switch o.CudnnConvAlgoSearch {
	case 1:
		m["cudnn_conv_algo_search"] = "HEURISTIC"
	case 2:
		m["cudnn_conv_algo_search"] = "DEFAULT"
	default:
		m["cudnn_conv_algo_search"] = "EXHAUSTIVE"
	}
	return m
}

// ToNativeProviderOptions converts the CUDA options to native CUDA provider options.
//
// **The caller must Destroy the returned options.**
func (o CUDAOptions) ToNativeProviderOptions(deviceID int) (*ort.CUDAProviderOptions, error) {
	opts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, err
	}
	if err := opts.Update(o.ToMap(deviceID)); err != nil {
		opts.Destroy()
		return nil, err
	}
	return opts, nil
}
