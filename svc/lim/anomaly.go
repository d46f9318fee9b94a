package lim

import (
	"sync"
	"time"

	"zerobin/metrics"
	"zerobin/svc/util"
)

const (
	anomalyBuckets     = 5
	anomalyMinRequests = 10
	anomalyErrorPct    = 5.0
)

// AnomalyDetector keeps a rolling per-minute window of request and error
// counts and calls onAnomaly when the error rate crosses the threshold.
type AnomalyDetector struct {
	mu           sync.Mutex
	window       []bucket
	currentIndex int
	minRequests  int64
	thresholdPct float64
	onAnomaly    func()
	done         chan struct{}
	stopOnce     sync.Once
}
type bucket struct {
	requests int64
	errors   int64
}

func NewAnomalyDetector(onAnomaly func()) *AnomalyDetector {
	return &AnomalyDetector{
		window:       make([]bucket, anomalyBuckets),
		minRequests:  anomalyMinRequests,
		thresholdPct: anomalyErrorPct,
		onAnomaly:    onAnomaly,
		done:         make(chan struct{}),
	}
}
func (d *AnomalyDetector) Start() {
	ticker := time.NewTicker(1 * time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.AdvanceWindow()
			case <-d.done:
				return
			}
		}
	}()
}
func (d *AnomalyDetector) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}
func (d *AnomalyDetector) RecordRequest() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window[d.currentIndex].requests++
}
func (d *AnomalyDetector) RecordError() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window[d.currentIndex].errors++
}

// ErrorRate is the error percentage over the whole window.
func (d *AnomalyDetector) ErrorRate() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	rate, _, _ := d.rate()
	return rate
}

func (d *AnomalyDetector) rate() (float64, int64, int64) {
	var totalReqs, totalErrs int64
	for _, b := range d.window {
		totalReqs += b.requests
		totalErrs += b.errors
	}
	if totalReqs == 0 {
		return 0, 0, totalErrs
	}
	return float64(totalErrs) / float64(totalReqs) * 100.0, totalReqs, totalErrs
}

func (d *AnomalyDetector) AdvanceWindow() {
	d.mu.Lock()
	errorRate, totalReqs, totalErrs := d.rate()
	d.currentIndex = (d.currentIndex + 1) % len(d.window)
	d.window[d.currentIndex] = bucket{}
	d.mu.Unlock()

	metrics.RecentErrorRatePercent.Set(errorRate)
	if totalReqs > d.minRequests && errorRate > d.thresholdPct {
		util.Warn().
			Float64("error_rate", errorRate).
			Int64("total_reqs", totalReqs).
			Int64("total_errs", totalErrs).
			Msg("anomaly detected: high error rate, triggering adaptive rate limit")
		if d.onAnomaly != nil {
			d.onAnomaly()
		}
	}
}
