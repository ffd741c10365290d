package postprocess

import (
	"math/rand"
	"testing"

	"github.com/nvr-ai/facecrop/images"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(x1, y1, x2, y2, score float32) Result {
	return Result{Box: images.Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}, Score: score}
}

func randomResults(rng *rand.Rand, n int) []Result {
	out := make([]Result, n)
	for i := range out {
		x := rng.Float32() * 500
		y := rng.Float32() * 500
		out[i] = box(x, y, x+10+rng.Float32()*150, y+10+rng.Float32()*150, rng.Float32())
	}
	return out
}

// TestApplyGreedyNMSProperties validates subset, ordering and pairwise IoU on random inputs.
func TestApplyGreedyNMSProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	for _, threshold := range []float32{0.3, 0.5, 0.7, 0.9} {
		for trial := 0; trial < 25; trial++ {
			input := randomResults(rng, 40)
			kept := ApplyGreedyNMS(input, &NMSConfig{IoUThreshold: threshold})

			require.NotEmpty(t, kept, "at least one box survives")
			for i, k := range kept {
				assert.Contains(t, input, k, "kept boxes must come from the input")
				if i > 0 {
					assert.GreaterOrEqual(t, kept[i-1].Score, k.Score, "output must be score-descending")
				}
				for _, other := range kept[i+1:] {
					assert.Less(t, images.CalculateIoU(k.Box, other.Box), threshold,
						"kept boxes must overlap less than the threshold")
				}
			}
		}
	}
}

// TestApplyGreedyNMSOverlappingPair validates that the lower-scored duplicate is dropped.
func TestApplyGreedyNMSOverlappingPair(t *testing.T) {
	a := box(0, 0, 200, 200, 0.8)
	b := box(10, 0, 210, 200, 0.95)
	require.Greater(t, images.CalculateIoU(a.Box, b.Box), float32(0.9))

	kept := ApplyGreedyNMS([]Result{a, b}, &NMSConfig{IoUThreshold: 0.7})
	require.Len(t, kept, 1)
	assert.Equal(t, b, kept[0], "the higher-scored box should survive")
}

// TestApplyGreedyNMSThresholdIsInclusive validates suppression at exactly the threshold.
func TestApplyGreedyNMSThresholdIsInclusive(t *testing.T) {
	a := box(0, 0, 10, 10, 0.9)
	b := box(0, 0, 10, 5, 0.8)
	require.InDelta(t, 0.5, images.CalculateIoU(a.Box, b.Box), 1e-6)

	assert.Len(t, ApplyGreedyNMS([]Result{a, b}, &NMSConfig{IoUThreshold: 0.5}), 1, "IoU equal to the threshold suppresses")
	assert.Len(t, ApplyGreedyNMS([]Result{a, b}, &NMSConfig{IoUThreshold: 0.51}), 2, "IoU below the threshold keeps both")
}

// TestApplyGreedyNMSExtremeThresholds validates the 0.0 and 1.0 thresholds.
func TestApplyGreedyNMSExtremeThresholds(t *testing.T) {
	clusterA := []Result{box(0, 0, 100, 100, 0.9), box(20, 20, 120, 120, 0.8), box(50, 50, 150, 150, 0.7)}
	clusterB := []Result{box(500, 500, 600, 600, 0.6), box(510, 510, 590, 590, 0.95)}
	input := append(append([]Result{}, clusterA...), clusterB...)

	all := ApplyGreedyNMS(input, &NMSConfig{IoUThreshold: 1.0})
	assert.Len(t, all, len(input), "threshold 1.0 keeps every distinct box")

	strict := ApplyGreedyNMS(input, &NMSConfig{IoUThreshold: 0.0})
	inA, inB := 0, 0
	for _, k := range strict {
		if k.Box.X1 < 400 {
			inA++
		} else {
			inB++
		}
	}
	assert.LessOrEqual(t, inA, 1, "threshold 0.0 keeps at most one box per cluster")
	assert.LessOrEqual(t, inB, 1, "threshold 0.0 keeps at most one box per cluster")
	assert.Equal(t, float32(0.95), strict[0].Score, "the best box overall is kept first")
}

// TestApplyGreedyNMSStableTies validates that equal scores keep their input order.
func TestApplyGreedyNMSStableTies(t *testing.T) {
	input := []Result{
		box(0, 0, 10, 10, 0.5),
		box(100, 100, 110, 110, 0.5),
		box(200, 200, 210, 210, 0.9),
		box(300, 300, 310, 310, 0.5),
	}

	kept := ApplyGreedyNMS(input, &NMSConfig{IoUThreshold: 0.5})
	require.Len(t, kept, 4)
	assert.Equal(t, input[2], kept[0])
	assert.Equal(t, input[0], kept[1])
	assert.Equal(t, input[1], kept[2])
	assert.Equal(t, input[3], kept[3])
}

// TestApplyGreedyNMSInputUntouched validates that the caller's slice is not reordered.
func TestApplyGreedyNMSInputUntouched(t *testing.T) {
	input := []Result{box(0, 0, 10, 10, 0.1), box(50, 50, 60, 60, 0.9)}
	before := append([]Result(nil), input...)

	ApplyGreedyNMS(input, nil)
	assert.Equal(t, before, input)
	assert.Nil(t, ApplyGreedyNMS(nil, nil), "empty input returns nil")
}
