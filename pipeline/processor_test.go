package pipeline

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/nvr-ai/facecrop/images"
	"github.com/nvr-ai/facecrop/inference"
	"github.com/nvr-ai/facecrop/models/postprocess"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

const testModelSize = 64

// stubSession returns a canned output for every batch and records the batch sizes it saw.
type stubSession struct {
	mu         sync.Mutex
	batchSizes []int
	respond    func(batchSize int) (*inference.Output, error)
}

func (s *stubSession) Run(_ context.Context, batch *tensor.Dense) (*inference.Output, error) {
	b := batch.Shape()[0]
	s.mu.Lock()
	s.batchSizes = append(s.batchSizes, b)
	s.mu.Unlock()
	return s.respond(b)
}

func (s *stubSession) Close() error { return nil }

func (s *stubSession) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batchSizes)
}

// sameRows gives every image in the batch the same raw rows, laid out as [B*R, 5].
func sameRows(rows ...postprocess.Row) func(int) (*inference.Output, error) {
	return func(b int) (*inference.Output, error) {
		data := make([]float32, 0, b*len(rows)*5)
		for i := 0; i < b; i++ {
			for _, r := range rows {
				data = append(data, r[:]...)
			}
		}
		return &inference.Output{Data: data, Shape: []int{b * len(rows), 5}}, nil
	}
}

// memoryStore is an in-memory ImageLoader and ImageWriter.
type memoryStore struct {
	mu       sync.Mutex
	inputs   map[string]image.Image
	corrupt  map[string]bool
	saved    map[string]image.Image
	failSave bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		inputs:  map[string]image.Image{},
		corrupt: map[string]bool{},
		saved:   map[string]image.Image{},
	}
}

func (m *memoryStore) add(path string, w, h int) {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	m.inputs[path] = img
}

func (m *memoryStore) Load(path string) (image.Image, error) {
	if m.corrupt[path] {
		return nil, errors.Wrapf(images.ErrUnsupportedContent, "load %s", path)
	}
	img, ok := m.inputs[path]
	if !ok {
		return nil, errors.Wrap(os.ErrNotExist, path)
	}
	return img, nil
}

func (m *memoryStore) Save(img image.Image, path string) error {
	if m.failSave {
		return errors.New("disk full")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[path] = img
	return nil
}

func (m *memoryStore) savedNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.saved))
	for p := range m.saved {
		names = append(names, filepath.Base(p))
	}
	sort.Strings(names)
	return names
}

func testConfig() Config {
	return Config{
		OutputDir:           "out",
		BatchSize:           4,
		ConfidenceThreshold: 0.5,
		IoUThreshold:        0.7,
		BrightnessJitter:    20,
		ModelSize:           testModelSize,
		Workers:             2,
	}
}

func newTestProcessor(t *testing.T, session inference.Session, store *memoryStore, cfg Config) (*Processor, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	p, err := NewProcessor(session, store, store, cfg,
		WithLogger(logger),
		WithAugmenter(images.NewAugmenter(images.DefaultCropSize, images.NewRandomSource(1))),
	)
	require.NoError(t, err, "processor should be created")
	return p, hook
}

func messages(hook *logtest.Hook, level logrus.Level) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

// TestProcessBatchSuppressesOverlappingFaces validates that two boxes with IoU of
// about 0.9 produce exactly one crop.
func TestProcessBatchSuppressesOverlappingFaces(t *testing.T) {
	store := newMemoryStore()
	store.add("photos/portrait.jpg", 1000, 800)

	// Model-space boxes (10,10)-(30,30) and (11,10)-(31,30): IoU 380/420.
	session := &stubSession{respond: sameRows(
		postprocess.Row{20, 20, 20, 20, 0.8},
		postprocess.Row{21, 20, 20, 20, 0.95},
	)}
	p, _ := newTestProcessor(t, session, store, testConfig())

	saved, err := p.ProcessBatch(context.Background(), []string{"photos/portrait.jpg"})
	require.NoError(t, err, "batch should succeed")
	assert.Equal(t, 1, saved, "overlapping boxes should yield a single crop")
	assert.Equal(t, []string{"portrait_0.jpg"}, store.savedNames())

	crop := store.saved[filepath.Join("out", "portrait_0.jpg")]
	require.NotNil(t, crop)
	assert.Equal(t, image.Rect(0, 0, 128, 128), crop.Bounds(), "crops should be 128×128")
}

// TestProcessBatchNoFacesAboveThreshold validates the skip path when every row is below threshold.
func TestProcessBatchNoFacesAboveThreshold(t *testing.T) {
	store := newMemoryStore()
	store.add("img/empty.png", 320, 240)

	session := &stubSession{respond: sameRows(
		postprocess.Row{20, 20, 10, 10, 0.5},
		postprocess.Row{40, 40, 10, 10, 0.89},
	)}
	cfg := testConfig()
	cfg.ConfidenceThreshold = 0.9
	p, hook := newTestProcessor(t, session, store, cfg)

	saved, err := p.ProcessBatch(context.Background(), []string{"img/empty.png"})
	require.NoError(t, err, "no detections is not an error")
	assert.Equal(t, 0, saved)
	assert.Empty(t, store.savedNames())
	assert.Contains(t, messages(hook, logrus.WarnLevel), "No faces detected in img/empty.png. Skipping.")
	assert.Equal(t, int64(1), p.Metrics().Snapshot().ImagesNoFaces)
}

// TestProcessBatchSkipsCorruptFile validates that one unreadable file does not affect the others.
func TestProcessBatchSkipsCorruptFile(t *testing.T) {
	store := newMemoryStore()
	paths := []string{"a.jpg", "broken.jpg", "c.jpg", "d.jpg"}
	for _, path := range paths {
		store.add(path, 200, 150)
	}
	store.corrupt["broken.jpg"] = true

	session := &stubSession{respond: sameRows(postprocess.Row{32, 32, 20, 20, 0.9})}
	p, hook := newTestProcessor(t, session, store, testConfig())

	saved, err := p.ProcessBatch(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, 3, saved, "the three readable images should each yield a crop")
	assert.Equal(t, []string{"a_0.jpg", "c_0.jpg", "d_0.jpg"}, store.savedNames())
	assert.Equal(t, []int{3}, session.batchSizes, "only decoded images should be batched")

	warns := messages(hook, logrus.WarnLevel)
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0], "broken.jpg", "the skip should name the corrupt file")
}

// TestProcessBatchAllImagesUnreadable validates that inference is skipped for an empty batch.
func TestProcessBatchAllImagesUnreadable(t *testing.T) {
	store := newMemoryStore()
	session := &stubSession{respond: sameRows(postprocess.Row{32, 32, 20, 20, 0.9})}
	p, _ := newTestProcessor(t, session, store, testConfig())

	saved, err := p.ProcessBatch(context.Background(), []string{"missing-1.jpg", "missing-2.jpg"})
	require.NoError(t, err)
	assert.Equal(t, 0, saved)
	assert.Equal(t, 0, session.calls(), "no zero-sized batch should reach the model")
}

// TestProcessBatchDegenerateBox validates that a box outside the image is skipped
// without renumbering later faces.
func TestProcessBatchDegenerateBox(t *testing.T) {
	store := newMemoryStore()
	store.add("group.jpg", 640, 640)

	session := &stubSession{respond: sameRows(
		postprocess.Row{-20, 30, 10, 10, 0.99}, // entirely left of the image
		postprocess.Row{32, 32, 16, 16, 0.9},
	)}
	p, hook := newTestProcessor(t, session, store, testConfig())

	saved, err := p.ProcessBatch(context.Background(), []string{"group.jpg"})
	require.NoError(t, err)
	assert.Equal(t, 1, saved)
	assert.Equal(t, []string{"group_1.jpg"}, store.savedNames(), "face indices count skipped boxes")

	warns := messages(hook, logrus.WarnLevel)
	require.Len(t, warns, 1)
	assert.True(t, strings.HasPrefix(warns[0], "Degenerate box for group.jpg face 0"))
	assert.Equal(t, int64(1), p.Metrics().Snapshot().DegenerateBoxes)
}

// TestProcessBatchWriteFailure validates that failed writes are logged and not counted.
func TestProcessBatchWriteFailure(t *testing.T) {
	store := newMemoryStore()
	store.add("x.bmp", 100, 100)
	store.failSave = true

	session := &stubSession{respond: sameRows(postprocess.Row{32, 32, 20, 20, 0.9})}
	p, hook := newTestProcessor(t, session, store, testConfig())

	saved, err := p.ProcessBatch(context.Background(), []string{"x.bmp"})
	require.NoError(t, err, "write failures are not fatal")
	assert.Equal(t, 0, saved)
	require.Len(t, messages(hook, logrus.ErrorLevel), 1)
	assert.Equal(t, int64(1), p.Metrics().Snapshot().WriteFailures)
}

// TestProcessBatchFatalErrors validates that inference and shape errors abort the batch.
func TestProcessBatchFatalErrors(t *testing.T) {
	modelErr := errors.New("device lost")

	tests := []struct {
		name    string
		respond func(int) (*inference.Output, error)
		target  error
	}{
		{
			name:    "inference failure",
			respond: func(int) (*inference.Output, error) { return nil, modelErr },
			target:  modelErr,
		},
		{
			name: "unexpected shape",
			respond: func(b int) (*inference.Output, error) {
				return &inference.Output{Data: make([]float32, b*6*3), Shape: []int{b * 3, 6}}, nil
			},
			target: postprocess.ErrUnexpectedShape,
		},
		{
			name: "rows not divisible by batch",
			respond: func(b int) (*inference.Output, error) {
				n := b*2 + 1
				return &inference.Output{Data: make([]float32, n*5), Shape: []int{n, 5}}, nil
			},
			target: postprocess.ErrUnexpectedShape,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			store.add("1.jpg", 50, 50)
			store.add("2.jpg", 50, 50)
			p, _ := newTestProcessor(t, &stubSession{respond: tt.respond}, store, testConfig())

			saved, err := p.ProcessBatch(context.Background(), []string{"1.jpg", "2.jpg"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "error should wrap %v", tt.target)
			assert.Equal(t, 0, saved)
			assert.Empty(t, store.savedNames())
		})
	}
}

// TestRunProcessesAllBatches validates chunking, the worker pool and the total count.
func TestRunProcessesAllBatches(t *testing.T) {
	store := newMemoryStore()
	var paths []string
	for i := 0; i < 10; i++ {
		path := filepath.Join("in", string(rune('a'+i))+".png")
		store.add(path, 80, 60)
		paths = append(paths, path)
	}

	session := &stubSession{respond: sameRows(
		postprocess.Row{16, 16, 12, 12, 0.9},
		postprocess.Row{48, 48, 12, 12, 0.8},
	)}
	cfg := testConfig()
	cfg.BatchSize = 3
	cfg.Workers = 2
	p, _ := newTestProcessor(t, session, store, cfg)

	total, err := p.Run(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, 20, total, "two faces per image")
	assert.Len(t, store.savedNames(), 20)

	sizes := append([]int(nil), session.batchSizes...)
	sort.Ints(sizes)
	assert.Equal(t, []int{1, 3, 3, 3}, sizes, "the final short batch is not padded")

	snap := p.Metrics().Snapshot()
	assert.Equal(t, int64(10), snap.ImagesFound)
	assert.Equal(t, int64(10), snap.ImagesDecoded)
	assert.Equal(t, int64(20), snap.FacesSaved)
	assert.Equal(t, int64(4), snap.Batches)
}

// TestRunStopsAfterFatalError validates that batches not yet started are cancelled.
func TestRunStopsAfterFatalError(t *testing.T) {
	store := newMemoryStore()
	var paths []string
	for i := 0; i < 6; i++ {
		path := string(rune('a'+i)) + ".jpg"
		store.add(path, 40, 40)
		paths = append(paths, path)
	}

	modelErr := errors.New("model crashed")
	session := &stubSession{respond: func(int) (*inference.Output, error) { return nil, modelErr }}
	cfg := testConfig()
	cfg.BatchSize = 2
	cfg.Workers = 1
	p, _ := newTestProcessor(t, session, store, cfg)

	total, err := p.Run(context.Background(), paths)
	require.Error(t, err)
	assert.True(t, errors.Is(err, modelErr), "the first fatal error should be returned")
	assert.Equal(t, 0, total)
	assert.Equal(t, 1, session.calls(), "later batches should not reach the model")
}

// TestNewProcessorValidation validates constructor checks.
func TestNewProcessorValidation(t *testing.T) {
	store := newMemoryStore()
	session := &stubSession{respond: sameRows()}

	_, err := NewProcessor(nil, store, store, testConfig())
	assert.Error(t, err, "a session is required")

	cfg := testConfig()
	cfg.BatchSize = 0
	_, err = NewProcessor(session, store, store, cfg)
	assert.Error(t, err, "batch size must be positive")

	cfg = testConfig()
	cfg.ModelSize = 0
	_, err = NewProcessor(session, store, store, cfg)
	assert.Error(t, err, "model size must be positive")
}
