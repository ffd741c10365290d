package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultReportInterval is how often a Reporter logs progress when no interval is given.
const DefaultReportInterval = 10 * time.Second

// Reporter periodically logs a metrics snapshot while a run is in progress.
//
// Start and Stop are safe to call more than once.
type Reporter struct {
	metrics  *Metrics
	logger   logrus.FieldLogger
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewReporter creates a progress reporter.
//
// Arguments:
//   - metrics: The collector to report on.
//   - logger: The destination for progress entries.
//   - interval: The time between reports. Zero or negative selects DefaultReportInterval.
//
// Returns:
//   - *Reporter: The reporter, not yet started.
func NewReporter(metrics *Metrics, logger logrus.FieldLogger, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	return &Reporter{metrics: metrics, logger: logger, interval: interval}
}

// Start begins reporting in a background goroutine until ctx ends or Stop is called.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.report()
			}
		}
	}()
}

// Stop halts reporting and waits for the background goroutine to exit.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

func (r *Reporter) report() {
	s := r.metrics.Snapshot()
	done := s.ImagesDecoded + s.ImagesSkipped
	r.logger.WithFields(s.Fields()).Infof(
		"Progress: %d/%d images, %d faces saved", done, s.ImagesFound, s.FacesSaved,
	)
}
