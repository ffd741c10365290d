package images

import (
	"image"
	"image/color"
	"math/rand"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// DefaultCropSize is the edge length of every face crop written to the dataset.
const DefaultCropSize = 128

// ErrDegenerateBox is returned when a box collapses to zero width or height
// after being clamped to the image.
var ErrDegenerateBox = errors.New("degenerate box")

// RandomSource supplies the random decisions taken by the crop transform.
//
// The flip decision and the brightness jitter are drawn independently so
// tests can pin either one.
type RandomSource interface {
	// Flip reports whether the crop should be mirrored horizontally.
	Flip() bool
	// Jitter returns an integer drawn uniformly from [-limit, limit].
	Jitter(limit int) int
}

type globalSource struct{}

func (globalSource) Flip() bool { return rand.Intn(2) == 1 }

func (globalSource) Jitter(limit int) int {
	if limit <= 0 {
		return 0
	}
	return rand.Intn(2*limit+1) - limit
}

// DefaultRandomSource returns a source backed by the global math/rand generator.
func DefaultRandomSource() RandomSource {
	return globalSource{}
}

type seededSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSource returns a goroutine-safe source seeded with seed.
//
// Arguments:
//   - seed: The seed for the underlying generator.
//
// Returns:
//   - RandomSource: A deterministic random source.
func NewRandomSource(seed int64) RandomSource {
	return &seededSource{rng: rand.New(rand.NewSource(seed))}
}

func (s *seededSource) Flip() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(2) == 1
}

func (s *seededSource) Jitter(limit int) int {
	if limit <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(2*limit+1) - limit
}

// Augmenter turns a detected face box into a fixed-size training image.
type Augmenter struct {
	// Size is the edge length of the output image.
	Size int
	// Filter is the resampling filter for the final resize.
	Filter imaging.ResampleFilter
	// Random decides the flip and brightness jitter.
	Random RandomSource
}

// NewAugmenter creates an augmenter producing size×size crops with a
// Catmull-Rom resize, the same cubic kernel used for model preprocessing.
//
// Arguments:
//   - size: The output edge length. Zero or negative selects DefaultCropSize.
//   - random: The random source. Nil selects DefaultRandomSource.
//
// Returns:
//   - *Augmenter: The configured augmenter.
func NewAugmenter(size int, random RandomSource) *Augmenter {
	if size <= 0 {
		size = DefaultCropSize
	}
	if random == nil {
		random = DefaultRandomSource()
	}
	return &Augmenter{
		Size:   size,
		Filter: imaging.CatmullRom,
		Random: random,
	}
}

// Transform crops a face out of img and returns a Size×Size augmented copy.
//
// The steps run in a fixed order:
//  1. Clamp the box to the image and round to integer pixels.
//  2. Crop to the clamped rectangle.
//  3. Flip horizontally when Random.Flip reports true.
//  4. When jitter is non-zero, add an offset drawn from [-|jitter|, +|jitter|]
//     to each 8-bit R, G and B channel, clamped to [0, 255]. Alpha is kept.
//  5. Resize to Size×Size, ignoring the aspect ratio.
//
// The source image is never modified.
//
// Arguments:
//   - img: The original, full-size image.
//   - box: The face box in original-image pixel coordinates.
//   - jitter: The brightness jitter range in 8-bit levels. Zero disables jitter.
//
// Returns:
//   - *image.NRGBA: The augmented crop.
//   - error: ErrDegenerateBox (wrapped) if the clamped box is empty.
func (a *Augmenter) Transform(img image.Image, box Rect, jitter int) (*image.NRGBA, error) {
	bounds := img.Bounds()
	rect, ok := ClampToPixels(box, bounds.Dx(), bounds.Dy())
	if !ok {
		return nil, errors.Wrapf(ErrDegenerateBox, "box %s clamps to %v", box, rect)
	}

	face := imaging.Crop(img, rect.Add(bounds.Min))

	if a.Random.Flip() {
		face = imaging.FlipH(face)
	}

	if jitter != 0 {
		limit := jitter
		if limit < 0 {
			limit = -limit
		}
		if shift := a.Random.Jitter(limit); shift != 0 {
			face = Brighten(face, shift)
		}
	}

	return imaging.Resize(face, a.Size, a.Size, a.Filter), nil
}

// Brighten adds shift to every R, G and B value of img, saturating at 0 and 255.
func Brighten(img image.Image, shift int) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		c.R = addLevel(c.R, shift)
		c.G = addLevel(c.G, shift)
		c.B = addLevel(c.B, shift)
		return c
	})
}

func addLevel(v uint8, shift int) uint8 {
	return uint8(max(0, min(255, int(v)+shift)))
}
