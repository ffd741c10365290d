// Package config - Run configuration: defaults, YAML loading and validation.
package config

import (
	"bytes"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/nvr-ai/facecrop/images"
	"github.com/nvr-ai/facecrop/inference"
	"github.com/nvr-ai/facecrop/inference/providers"
	"github.com/nvr-ai/facecrop/models/postprocess"
	"github.com/nvr-ai/facecrop/pipeline"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration of a face-crop run.
type Config struct {
	// InputDir is the directory scanned for images.
	InputDir string `json:"input_dir" yaml:"input_dir"`
	// OutputDir receives the face crops. It is created if missing.
	OutputDir string `json:"output_dir" yaml:"output_dir"`
	// ModelPath is the path to the ONNX face detector.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// BatchSize is the number of images per inference call.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// ConfidenceThreshold is the minimum detection confidence to keep.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// IoUThreshold is the NMS overlap at which a box is suppressed.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// BrightnessJitter is the brightness jitter range in 8-bit levels. Zero disables it.
	BrightnessJitter int `json:"brightness_jitter" yaml:"brightness_jitter"`
	// NoRecursive limits discovery to the top level of InputDir.
	NoRecursive bool `json:"no_recursive" yaml:"no_recursive"`
	// Workers bounds concurrent batches. Zero selects the number of CPUs.
	Workers int `json:"workers" yaml:"workers"`
	// ModelSize is the square model input edge length.
	ModelSize int `json:"model_size" yaml:"model_size"`
	// CropSize is the edge length of the saved crops.
	CropSize int `json:"crop_size" yaml:"crop_size"`
	// AutoOrient applies EXIF orientation when decoding.
	AutoOrient bool `json:"auto_orient" yaml:"auto_orient"`
	// JPEGQuality is the encoder quality for JPEG outputs.
	JPEGQuality int `json:"jpeg_quality" yaml:"jpeg_quality"`
	// Seed makes flips and jitter reproducible. Zero uses the global generator.
	Seed int64 `json:"seed" yaml:"seed"`
	// Engine selects the inference engine: onnx or opencv.
	Engine inference.EngineType `json:"engine" yaml:"engine"`
	// OutputLayout is the detector output layout: channels_first or rows.
	OutputLayout string `json:"output_layout" yaml:"output_layout"`
	// ReportInterval is how often progress is logged during a run. Zero disables it.
	ReportInterval time.Duration `json:"report_interval" yaml:"report_interval"`
	// LogLevel is a logrus level name. Empty defers to the FACECROP_LOG environment variable.
	LogLevel string `json:"log_level" yaml:"log_level"`
	// Provider selects and tunes the ONNX Runtime execution provider.
	Provider providers.Config `json:"provider" yaml:"provider"`
}

// Default returns the configuration used when neither a file nor flags override a value.
//
// Returns:
//   - Config: The default configuration.
func Default() Config {
	return Config{
		BatchSize:           4,
		ConfidenceThreshold: 0.5,
		IoUThreshold:        postprocess.DefaultIoUThreshold,
		BrightnessJitter:    20,
		ModelSize:           inference.DefaultInputSize,
		CropSize:            images.DefaultCropSize,
		JPEGQuality:         images.DefaultJPEGQuality,
		Engine:              inference.EngineONNX,
		OutputLayout:        string(inference.LayoutChannelsFirst),
		ReportInterval:      pipeline.DefaultReportInterval,
		Provider:            providers.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values; unknown keys are rejected.
//
// Arguments:
//   - path: The YAML file.
//
// Returns:
//   - Config: The merged configuration.
//   - error: An error if the file cannot be read or parsed.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Validate checks every field needed for a batch run over InputDir.
func (c Config) Validate() error {
	if c.InputDir == "" {
		return errors.New("input directory is required")
	}
	if c.OutputDir == "" {
		return errors.New("output directory is required")
	}
	return c.ValidateModel()
}

// ValidateModel checks the model and processing fields, ignoring the input and
// output directories.
func (c Config) ValidateModel() error {
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if c.BatchSize < 1 {
		return errors.Errorf("batch_size must be at least 1, got %d", c.BatchSize)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.Errorf("confidence_threshold must be in [0, 1], got %g", c.ConfidenceThreshold)
	}
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return errors.Errorf("iou_threshold must be in [0, 1], got %g", c.IoUThreshold)
	}
	if c.BrightnessJitter < 0 {
		return errors.Errorf("brightness_jitter must not be negative, got %d", c.BrightnessJitter)
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.ReportInterval < 0 {
		return errors.Errorf("report_interval must not be negative, got %s", c.ReportInterval)
	}
	if c.ModelSize < 1 {
		return errors.Errorf("model_size must be positive, got %d", c.ModelSize)
	}
	if c.CropSize < 1 {
		return errors.Errorf("crop_size must be positive, got %d", c.CropSize)
	}
	if c.JPEGQuality != 0 && (c.JPEGQuality < 1 || c.JPEGQuality > 100) {
		return errors.Errorf("jpeg_quality must be in [1, 100], got %d", c.JPEGQuality)
	}
	switch c.Engine {
	case "", inference.EngineONNX, inference.EngineOpenCV:
	default:
		return errors.Errorf("unknown engine %q", c.Engine)
	}
	if _, err := inference.ParseLayout(c.OutputLayout); err != nil {
		return err
	}
	if _, err := providers.ParseBackend(string(c.Provider.Backend)); err != nil {
		return err
	}
	return nil
}

// Pipeline returns the subset of the configuration consumed by the batch processor.
func (c Config) Pipeline() pipeline.Config {
	workers := c.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	return pipeline.Config{
		OutputDir:           c.OutputDir,
		BatchSize:           c.BatchSize,
		ConfidenceThreshold: c.ConfidenceThreshold,
		IoUThreshold:        c.IoUThreshold,
		BrightnessJitter:    c.BrightnessJitter,
		ModelSize:           c.ModelSize,
		Workers:             workers,
	}
}

// RandomSource returns the crop transform's random source for Seed.
func (c Config) RandomSource() images.RandomSource {
	if c.Seed == 0 {
		return images.DefaultRandomSource()
	}
	return images.NewRandomSource(c.Seed)
}

// PathFromArgs finds the value of -c/--config in a raw argument list so the
// file can be loaded before flags are parsed. It returns "" when absent.
func PathFromArgs(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "-c" || arg == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(arg, "--config="):
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return ""
}
