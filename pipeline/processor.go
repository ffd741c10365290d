// Package pipeline - Batch glue from image files to saved face crops.
package pipeline

import (
	"context"
	"image"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/nvr-ai/facecrop/images"
	"github.com/nvr-ai/facecrop/inference"
	"github.com/nvr-ai/facecrop/models/postprocess"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"
)

// ImageLoader decodes the image stored at a path.
type ImageLoader interface {
	Load(path string) (image.Image, error)
}

// ImageWriter encodes an image to a path.
type ImageWriter interface {
	Save(img image.Image, path string) error
}

// Config holds the per-run settings consumed by the processor.
type Config struct {
	// OutputDir receives the face crops.
	OutputDir string
	// BatchSize is the number of images sent to the model at once.
	BatchSize int
	// ConfidenceThreshold is the minimum detection confidence to keep.
	ConfidenceThreshold float32
	// IoUThreshold is the NMS overlap at which a box is suppressed.
	IoUThreshold float32
	// BrightnessJitter is the brightness jitter range in 8-bit levels. Zero disables it.
	BrightnessJitter int
	// ModelSize is the square model input edge length.
	ModelSize int
	// Workers bounds how many batches run concurrently. Zero selects runtime.NumCPU.
	Workers int
}

// Validate checks that the configuration can drive a run.
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return errors.Errorf("batch size must be at least 1, got %d", c.BatchSize)
	}
	if c.ModelSize < 1 {
		return errors.Errorf("model size must be positive, got %d", c.ModelSize)
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// Processor runs the preprocess, inference, suppression and crop stages over
// batches of image files.
type Processor struct {
	cfg       Config
	session   inference.Session
	loader    ImageLoader
	writer    ImageWriter
	augmenter *images.Augmenter
	logger    logrus.FieldLogger
	metrics   *Metrics
}

// Option customises a Processor.
type Option func(*Processor)

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithAugmenter sets the crop transform. The default produces 128×128 crops
// with the global random source.
func WithAugmenter(a *images.Augmenter) Option {
	return func(p *Processor) { p.augmenter = a }
}

// WithMetrics shares a metrics collector across processors.
func WithMetrics(m *Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// NewProcessor creates a processor.
//
// Arguments:
//   - session: The detector session, shared by all batches.
//   - loader: Decodes input images.
//   - writer: Encodes face crops.
//   - cfg: The run configuration.
//   - opts: Optional overrides.
//
// Returns:
//   - *Processor: The processor.
//   - error: An error if a dependency is missing or cfg is invalid.
func NewProcessor(
	session inference.Session,
	loader ImageLoader,
	writer ImageWriter,
	cfg Config,
	opts ...Option,
) (*Processor, error) {
	if session == nil || loader == nil || writer == nil {
		return nil, errors.New("session, loader and writer are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Processor{
		cfg:     cfg,
		session: session,
		loader:  loader,
		writer:  writer,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.augmenter == nil {
		p.augmenter = images.NewAugmenter(images.DefaultCropSize, nil)
	}
	if p.logger == nil {
		p.logger = logrus.StandardLogger()
	}
	if p.metrics == nil {
		p.metrics = NewMetrics()
	}
	return p, nil
}

// Metrics returns the processor's metrics collector.
func (p *Processor) Metrics() *Metrics {
	return p.metrics
}

// batchEntry ties a decoded image to its batch index.
type batchEntry struct {
	path   string
	img    image.Image
	width  int
	height int
}

// Run processes every path in batches of Config.BatchSize, running up to
// Config.Workers batches concurrently.
//
// A fatal error in one batch cancels the batches that have not started and is
// returned once the running ones finish. Per-image problems are logged and
// skipped.
//
// Arguments:
//   - ctx: The context for the run.
//   - paths: The image files to process.
//
// Returns:
//   - int: The number of crops saved, including those saved before a fatal error.
//   - error: The first fatal error, if any.
func (p *Processor) Run(ctx context.Context, paths []string) (int, error) {
	p.metrics.AddFound(len(paths))

	workers := p.cfg.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var total atomic.Int64
	for _, chunk := range Chunk(paths, p.cfg.BatchSize) {
		chunk := chunk
		g.Go(func() error {
			n, err := p.ProcessBatch(ctx, chunk)
			total.Add(int64(n))
			return err
		})
	}

	err := g.Wait()
	return int(total.Load()), err
}

// ProcessBatch runs one batch end to end and returns how many crops were saved.
//
// Order of operations:
//  1. Decode and preprocess each image. Failures are logged and skipped.
//  2. Stack the surviving tensors and run the model once.
//  3. Split the output per image, score, and suppress overlaps.
//  4. Crop, augment and save each kept face as {stem}_{index}.{ext}.
//
// Arguments:
//   - ctx: The context. A cancelled context stops the batch before any work.
//   - paths: The image files in this batch.
//
// Returns:
//   - int: The number of crops saved.
//   - error: A fatal inference or output shape error.
func (p *Processor) ProcessBatch(ctx context.Context, paths []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	entries := make([]batchEntry, 0, len(paths))
	tensors := make([]*tensor.Dense, 0, len(paths))
	for _, path := range paths {
		img, err := p.loader.Load(path)
		if err != nil {
			p.logger.WithField("path", path).WithError(err).Warnf("Failed to open image %s. Skipping.", path)
			p.metrics.imagesSkipped.Add(1)
			continue
		}

		input, err := inference.Preprocess(img, p.cfg.ModelSize)
		if err != nil {
			p.logger.WithField("path", path).WithError(err).Warnf("Failed to preprocess image %s. Skipping.", path)
			p.metrics.imagesSkipped.Add(1)
			continue
		}

		b := img.Bounds()
		entries = append(entries, batchEntry{path: path, img: img, width: b.Dx(), height: b.Dy()})
		tensors = append(tensors, input)
	}
	p.metrics.imagesDecoded.Add(int64(len(entries)))

	batch, err := inference.Stack(tensors)
	if errors.Is(err, inference.ErrEmptyBatch) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "stack batch")
	}

	start := time.Now()
	out, err := p.session.Run(ctx, batch)
	p.metrics.inferenceNanos.Add(int64(time.Since(start)))
	p.metrics.batches.Add(1)
	if err != nil {
		return 0, errors.Wrap(err, "model inference failed")
	}

	perImage, err := postprocess.Decode(out.Data, out.Shape, len(entries))
	if err != nil {
		return 0, err
	}

	saved := 0
	for i, entry := range entries {
		saved += p.cropFaces(entry, perImage[i])
	}
	return saved, nil
}

func (p *Processor) cropFaces(entry batchEntry, rows []postprocess.Row) int {
	log := p.logger.WithField("path", entry.path)

	candidates := postprocess.Score(rows, entry.width, entry.height, p.cfg.ConfidenceThreshold, p.cfg.ModelSize)
	if len(candidates) == 0 {
		log.Warnf("No faces detected in %s. Skipping.", entry.path)
		p.metrics.imagesNoFaces.Add(1)
		return 0
	}

	faces := postprocess.ApplyGreedyNMS(candidates, &postprocess.NMSConfig{IoUThreshold: p.cfg.IoUThreshold})
	p.metrics.facesDetected.Add(int64(len(faces)))

	saved := 0
	for idx, face := range faces {
		faceLog := log.WithFields(logrus.Fields{
			"face":       idx,
			"box":        face.Box.String(),
			"confidence": face.Score,
		})

		crop, err := p.augmenter.Transform(entry.img, face.Box, p.cfg.BrightnessJitter)
		if errors.Is(err, images.ErrDegenerateBox) {
			p.metrics.degenerateBoxes.Add(1)
			faceLog.WithError(err).Warnf("Degenerate box for %s face %d. Skipping.", entry.path, idx)
			continue
		}
		if err != nil {
			faceLog.WithError(err).Errorf("Failed to crop face %d from %s", idx, entry.path)
			continue
		}

		outPath := filepath.Join(p.cfg.OutputDir, OutputName(entry.path, idx))
		if err := p.writer.Save(crop, outPath); err != nil {
			faceLog.WithField("output", outPath).WithError(err).Errorf("Failed to save %s", outPath)
			p.metrics.writeFailures.Add(1)
			continue
		}

		faceLog.WithField("output", outPath).Infof(
			"Saved face #%d from %s, conf %.2f -> %s (%dx%d)",
			idx, entry.path, face.Score, outPath, p.augmenter.Size, p.augmenter.Size,
		)
		saved++
	}
	p.metrics.facesSaved.Add(int64(saved))
	return saved
}
