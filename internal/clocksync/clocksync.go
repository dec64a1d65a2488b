// Package clocksync estimates the offset between the coordinator's wall
// clock and the client's local monotonic clock via a simple NTP-lite
// ping/pong exchange (spec §4.6), so the scheduler can map a coordinator
// wall time to a point on the local audio clock.
package clocksync

import (
	"context"
	"sort"
	"sync"
	"time"
)

// PingInterval is how often the client samples the round trip (spec §4.6
// step 1).
const PingInterval = 5 * time.Second

// windowSize is the number of recent samples kept for the rolling median
// (spec §4.6 step 3).
const windowSize = 8

// hysteresis is the minimum shift in the estimated offset required before
// it is adopted, to avoid audio drift from noisy individual samples (spec
// §4.6 step 4).
const hysteresis = 5 * time.Millisecond

// Estimator tracks the offset between the coordinator's wall clock and this
// client's monotonic clock. Safe for concurrent use.
type Estimator struct {
	start time.Time // monotonic reference point; PerfNowMs() counts from here

	mu      sync.Mutex
	samples []time.Duration // sampleOffset history, oldest first, capped at windowSize
	offset  time.Duration
}

// NewEstimator returns an Estimator anchored to the current instant.
func NewEstimator() *Estimator {
	return &Estimator{start: time.Now()}
}

// PerfNowMs returns milliseconds elapsed since the Estimator was created —
// the local analogue of a browser's performance.now(), used as the
// client-side timestamp in ping/pong exchanges.
func (e *Estimator) PerfNowMs() uint64 {
	return uint64(time.Since(e.start).Milliseconds())
}

// Offset returns the current estimated coordinator-wall-minus-client-perf
// offset.
func (e *Estimator) Offset() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offset
}

// CoordinatorNowMs estimates the coordinator's current wall-clock time in
// milliseconds, for mapping into the scheduler's wall-time horizon.
func (e *Estimator) CoordinatorNowMs() int64 {
	return int64(e.PerfNowMs()) + e.Offset().Milliseconds()
}

// OnPong folds one ping/pong round trip into the sliding window and updates
// the offset if the new median shifts by more than the hysteresis band
// (spec §4.6 steps 2-4).
func (e *Estimator) OnPong(clientTimeMs, serverTimeMs uint64) {
	nowPerf := e.PerfNowMs()
	rtt := int64(nowPerf) - int64(clientTimeMs)
	if rtt < 0 {
		rtt = 0
	}
	estServerNowMs := float64(serverTimeMs) + float64(rtt)/2
	sampleOffset := time.Duration(estServerNowMs-float64(nowPerf)) * time.Millisecond

	e.mu.Lock()
	defer e.mu.Unlock()

	e.samples = append(e.samples, sampleOffset)
	if len(e.samples) > windowSize {
		e.samples = e.samples[len(e.samples)-windowSize:]
	}
	median := medianDuration(e.samples)

	shift := median - e.offset
	if shift < 0 {
		shift = -shift
	}
	if shift > hysteresis {
		e.offset = median
	}
}

func medianDuration(samples []time.Duration) time.Duration {
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Syncer drives the periodic ping side of the protocol: every PingInterval
// it invokes send with the current local timestamp. Pong responses are fed
// back in via the Estimator's OnPong, normally wired from the transport's
// inbound envelope callback.
type Syncer struct {
	Estimator *Estimator
	Send      func(clientTimeMs uint64)
}

// NewSyncer returns a Syncer over a fresh Estimator.
func NewSyncer(send func(clientTimeMs uint64)) *Syncer {
	return &Syncer{Estimator: NewEstimator(), Send: send}
}

// Run blocks, sending a ping every PingInterval until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Send != nil {
				s.Send(s.Estimator.PerfNowMs())
			}
		}
	}
}
