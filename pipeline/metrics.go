package pipeline

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Metrics counts what happened during a run. All methods are safe for concurrent use.
type Metrics struct {
	started         time.Time
	imagesFound     atomic.Int64
	imagesDecoded   atomic.Int64
	imagesSkipped   atomic.Int64
	imagesNoFaces   atomic.Int64
	batches         atomic.Int64
	facesDetected   atomic.Int64
	facesSaved      atomic.Int64
	degenerateBoxes atomic.Int64
	writeFailures   atomic.Int64
	inferenceNanos  atomic.Int64
}

// NewMetrics creates a metrics collector whose clock starts now.
func NewMetrics() *Metrics {
	return &Metrics{started: time.Now()}
}

// AddFound records n images queued for processing outside Run.
func (m *Metrics) AddFound(n int) {
	m.imagesFound.Add(int64(n))
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes     uint64 `json:"alloc_bytes"`
	SysBytes       uint64 `json:"sys_bytes"`
	NumGC          uint32 `json:"num_gc"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
}

// Snapshot is a point-in-time copy of the run metrics.
type Snapshot struct {
	ImagesFound       int64         `json:"images_found"`
	ImagesDecoded     int64         `json:"images_decoded"`
	ImagesSkipped     int64         `json:"images_skipped"`
	ImagesNoFaces     int64         `json:"images_no_faces"`
	Batches           int64         `json:"batches"`
	FacesDetected     int64         `json:"faces_detected"`
	FacesSaved        int64         `json:"faces_saved"`
	DegenerateBoxes   int64         `json:"degenerate_boxes"`
	WriteFailures     int64         `json:"write_failures"`
	InferenceDuration time.Duration `json:"inference_duration"`
	TotalDuration     time.Duration `json:"total_duration"`
	ImagesPerSecond   float64       `json:"images_per_second"`
	Memory            MemoryMetrics `json:"memory"`
}

// Snapshot returns the current counter values and process memory statistics.
func (m *Metrics) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s := Snapshot{
		ImagesFound:       m.imagesFound.Load(),
		ImagesDecoded:     m.imagesDecoded.Load(),
		ImagesSkipped:     m.imagesSkipped.Load(),
		ImagesNoFaces:     m.imagesNoFaces.Load(),
		Batches:           m.batches.Load(),
		FacesDetected:     m.facesDetected.Load(),
		FacesSaved:        m.facesSaved.Load(),
		DegenerateBoxes:   m.degenerateBoxes.Load(),
		WriteFailures:     m.writeFailures.Load(),
		InferenceDuration: time.Duration(m.inferenceNanos.Load()),
		TotalDuration:     time.Since(m.started),
		Memory: MemoryMetrics{
			AllocBytes:     mem.Alloc,
			SysBytes:       mem.Sys,
			NumGC:          mem.NumGC,
			HeapAllocBytes: mem.HeapAlloc,
		},
	}
	if secs := s.TotalDuration.Seconds(); secs > 0 {
		s.ImagesPerSecond = float64(s.ImagesDecoded) / secs
	}
	return s
}

// Fields returns the snapshot as structured log fields.
func (s Snapshot) Fields() logrus.Fields {
	return logrus.Fields{
		"images_found":     s.ImagesFound,
		"images_decoded":   s.ImagesDecoded,
		"images_skipped":   s.ImagesSkipped,
		"images_no_faces":  s.ImagesNoFaces,
		"batches":          s.Batches,
		"faces_detected":   s.FacesDetected,
		"faces_saved":      s.FacesSaved,
		"degenerate_boxes": s.DegenerateBoxes,
		"write_failures":   s.WriteFailures,
		"inference":        s.InferenceDuration.Round(time.Millisecond).String(),
		"elapsed":          s.TotalDuration.Round(time.Millisecond).String(),
		"images_per_sec":   s.ImagesPerSecond,
	}
}
