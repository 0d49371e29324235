package main

import (
	"log"
	"sync/atomic"
	"time"
)

// batcherDrainInterval is the polling interval for draining the inbound
// sample channel between batch ticks. Short enough to keep ingestion latency
// low without busy-spinning.
const batcherDrainInterval = 100 * time.Microsecond

// BatcherStats are the batcher worker's counters, collected at join.
type BatcherStats struct {
	BatchesEmitted  uint64
	SamplesBatched  uint64
	TriggersEmitted uint64
}

// TimeDomainBatcher groups inbound samples into fixed-interval batches for
// display and emits the same grouping, tagged with the batch id, as a
// spectral-analysis trigger. Batch ids start at 0 and increase without gaps
// for the lifetime of one pipeline run.
type TimeDomainBatcher struct {
	in       <-chan Sample
	batches  chan<- Batch
	triggers chan<- SpectralTrigger
	info     StreamInfo
	interval time.Duration
	running  *atomic.Bool
	metrics  *PrometheusMetrics
}

// NewTimeDomainBatcher creates a batcher with the given tick interval.
func NewTimeDomainBatcher(in <-chan Sample, batches chan<- Batch, triggers chan<- SpectralTrigger,
	info StreamInfo, interval time.Duration, running *atomic.Bool, metrics *PrometheusMetrics) *TimeDomainBatcher {
	return &TimeDomainBatcher{
		in:       in,
		batches:  batches,
		triggers: triggers,
		info:     info,
		interval: interval,
		running:  running,
		metrics:  metrics,
	}
}

// Run loops until the shutdown flag is cleared or the inbound channel
// closes. On exit any partial accumulator is flushed as a final tagged
// batch/trigger pair so no samples are silently dropped at stop, and the
// output channels are closed.
func (b *TimeDomainBatcher) Run() BatcherStats {
	log.Printf("Batcher: started (%v interval)", b.interval)

	var stats BatcherStats
	var accumulator []Sample
	var batchID uint64

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	emit := func(final bool) {
		if final && len(accumulator) == 0 {
			return
		}
		samples := make([]Sample, len(accumulator))
		copy(samples, accumulator)

		b.batches <- Batch{
			Samples:      samples,
			BatchID:      batchID,
			ChannelCount: b.info.ChannelCount,
			SampleRate:   b.info.SampleRate,
		}
		if len(samples) > 0 {
			b.triggers <- SpectralTrigger{BatchID: batchID, Samples: samples}
			stats.TriggersEmitted++
		}

		stats.BatchesEmitted++
		stats.SamplesBatched += uint64(len(samples))
		if b.metrics != nil {
			b.metrics.batchesEmitted.Inc()
		}
		if batchID%30 == 0 && batchID > 0 {
			log.Printf("Batcher: batch #%d: %d samples", batchID, len(samples))
		}

		accumulator = accumulator[:0]
		batchID++
	}

	defer func() {
		close(b.batches)
		close(b.triggers)
		log.Printf("Batcher: stopped - %d batches, %d samples", stats.BatchesEmitted, stats.SamplesBatched)
	}()

	for {
		select {
		case <-ticker.C:
			if !b.running.Load() {
				emit(true)
				log.Printf("Batcher: stopping")
				return stats
			}
			emit(false)

		case <-time.After(batcherDrainInterval):
			// Drain whatever is currently available without blocking
			// until the next tick.
			for {
				select {
				case sample, open := <-b.in:
					if !open {
						emit(true)
						log.Printf("Batcher: source disconnected")
						return stats
					}
					accumulator = append(accumulator, sample)
					continue
				default:
				}
				break
			}
		}
	}
}
