// Command facecrop detects faces in a directory of images and writes
// augmented 128×128 crops suitable for training a face classifier.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/nvr-ai/facecrop/config"
	"github.com/nvr-ai/facecrop/images"
	"github.com/nvr-ai/facecrop/inference"
	"github.com/nvr-ai/facecrop/inference/providers"
	"github.com/nvr-ai/facecrop/pipeline"
	"github.com/nvr-ai/facecrop/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func main() {
	os.Exit(run(os.Args))
}

// parseFlags applies command-line flags on top of cfg. Flag defaults are the
// values already in cfg, so a flag only changes what it is given.
func parseFlags(args []string, cfg config.Config) (config.Config, error) {
	parser := argparse.NewParser("facecrop", "Crop faces from images into a training dataset")

	parser.String("c", "config", &argparse.Options{Help: "YAML configuration file"})
	inputDir := parser.String("i", "input-dir", &argparse.Options{Help: "Directory of input images", Default: cfg.InputDir})
	outputDir := parser.String("o", "output-dir", &argparse.Options{Help: "Directory for face crops", Default: cfg.OutputDir})
	model := parser.String("m", "model", &argparse.Options{Help: "Path to the ONNX face detector", Default: cfg.ModelPath})
	batchSize := parser.Int("", "batch-size", &argparse.Options{Help: "Images per inference call", Default: cfg.BatchSize})
	conf := parser.Float("", "conf-threshold", &argparse.Options{Help: "Minimum detection confidence", Default: float64(cfg.ConfidenceThreshold)})
	iou := parser.Float("", "iou-threshold", &argparse.Options{Help: "NMS IoU threshold", Default: float64(cfg.IoUThreshold)})
	jitter := parser.Int("", "brightness-jitter", &argparse.Options{Help: "Brightness jitter in 8-bit levels, 0 disables", Default: cfg.BrightnessJitter})
	noRecursive := parser.Flag("", "no-recursive", &argparse.Options{Help: "Only scan the top level of the input directory", Default: cfg.NoRecursive})
	workers := parser.Int("", "workers", &argparse.Options{Help: "Concurrent batches, 0 for one per CPU", Default: cfg.Workers})
	autoOrient := parser.Flag("", "auto-orient", &argparse.Options{Help: "Apply EXIF orientation when decoding", Default: cfg.AutoOrient})
	seed := parser.Int("", "seed", &argparse.Options{Help: "Seed for flips and jitter, 0 for random", Default: int(cfg.Seed)})
	engine := parser.String("", "engine", &argparse.Options{Help: "Inference engine: onnx or opencv", Default: string(cfg.Engine)})
	backend := parser.String("", "backend", &argparse.Options{Help: "Execution provider: cpu, cuda, coreml or openvino", Default: string(cfg.Provider.Backend)})
	lib := parser.String("", "onnxruntime-lib", &argparse.Options{
		Help:    "Path to the onnxruntime shared library (default $" + providers.SharedLibraryEnv + ")",
		Default: cfg.Provider.SharedLibraryPath,
	})
	logLevel := parser.String("", "log-level", &argparse.Options{Help: "Log level (default $" + util.LogLevelEnv + " or info)", Default: cfg.LogLevel})

	if err := parser.Parse(args); err != nil {
		return cfg, errors.New(parser.Usage(err))
	}

	cfg.InputDir = *inputDir
	cfg.OutputDir = *outputDir
	cfg.ModelPath = *model
	cfg.BatchSize = *batchSize
	cfg.ConfidenceThreshold = float32(*conf)
	cfg.IoUThreshold = float32(*iou)
	cfg.BrightnessJitter = *jitter
	cfg.NoRecursive = *noRecursive
	cfg.Workers = *workers
	cfg.AutoOrient = *autoOrient
	cfg.Seed = int64(*seed)
	cfg.Engine = inference.EngineType(*engine)
	cfg.Provider.Backend = providers.ProviderBackend(*backend)
	cfg.Provider.SharedLibraryPath = *lib
	cfg.LogLevel = *logLevel
	return cfg, nil
}

// run executes one crop run and returns the process exit code.
func run(args []string) int {
	cfg := config.Default()
	if path := config.PathFromArgs(args); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "facecrop: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	cfg, err := parseFlags(args, cfg)
	if err != nil {
		fmt.Fprint(os.Stderr, err)
		return 1
	}

	logger, err := util.NewLogger(cfg.LogLevel, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "facecrop: %v\n", err)
		return 1
	}

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Error("Invalid configuration")
		return 1
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		logger.WithError(err).Errorf("Failed to create output directory %s", cfg.OutputDir)
		return 1
	}

	session, err := inference.NewSessionBuilder().
		WithEngine(cfg.Engine).
		WithProvider(cfg.Provider).
		WithLayout(cfg.OutputLayout).
		WithModel(cfg.ModelPath).
		Build()
	if err != nil {
		logger.WithError(err).Errorf("Failed to load model %s", cfg.ModelPath)
		logger.Debugf("%+v", err)
		return 1
	}
	defer session.Close()

	if sized, ok := session.(interface{ InputSize() int }); ok {
		if n := sized.InputSize(); n > 0 && n != cfg.ModelSize {
			logger.Warnf("Model declares a %dx%d input but model_size is %d", n, n, cfg.ModelSize)
		}
	}

	paths, err := util.FindImageFiles(cfg.InputDir, !cfg.NoRecursive)
	if err != nil {
		logger.WithError(err).Errorf("Failed to scan %s", cfg.InputDir)
		return 1
	}
	if len(paths) == 0 {
		logger.Warnf("No images found in %s", cfg.InputDir)
		return 0
	}
	logger.WithFields(logrus.Fields{
		"images":     len(paths),
		"batch_size": cfg.BatchSize,
		"engine":     cfg.Engine,
		"backend":    cfg.Provider.Backend,
	}).Infof("Found %d images in %s", len(paths), cfg.InputDir)

	codec := images.NewFileCodec(cfg.AutoOrient, cfg.JPEGQuality)
	proc, err := pipeline.NewProcessor(session, codec, codec, cfg.Pipeline(),
		pipeline.WithLogger(logger),
		pipeline.WithAugmenter(images.NewAugmenter(cfg.CropSize, cfg.RandomSource())),
	)
	if err != nil {
		logger.WithError(err).Error("Failed to create processor")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reporter *pipeline.Reporter
	if cfg.ReportInterval > 0 {
		reporter = pipeline.NewReporter(proc.Metrics(), logger, cfg.ReportInterval)
		reporter.Start(ctx)
	}

	total, err := proc.Run(ctx, paths)
	if reporter != nil {
		reporter.Stop()
	}
	summary := logger.WithFields(proc.Metrics().Snapshot().Fields())
	if err != nil {
		summary.WithError(err).Errorf("Aborted after cropping %d faces", total)
		logger.Debugf("%+v", err)
		return 1
	}

	summary.Infof("Finished. Total faces cropped: %d", total)
	return 0
}
