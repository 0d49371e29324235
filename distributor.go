package main

import (
	"log"
	"sync/atomic"
	"time"
)

// distributorPollInterval bounds how long the distributor blocks before
// re-checking the shutdown flag.
const distributorPollInterval = 100 * time.Millisecond

// ConsumerOutlet is one dedicated per-consumer channel fed by the
// Distributor. Sends are non-blocking; a full or abandoned channel counts
// as a delivery failure for that consumer only.
type ConsumerOutlet struct {
	Name     string
	Ch       chan Sample
	failures uint64
}

// Failures returns the number of failed deliveries to this consumer.
func (o *ConsumerOutlet) Failures() uint64 { return o.failures }

// DistributorStats are the distributor worker's counters, collected at join.
type DistributorStats struct {
	SamplesDistributed uint64
	DeliveryFailures   uint64
}

// Distributor fans every inbound sample out to all consumer outlets, cloning
// once per consumer so downstream workers never share sample memory. A slow
// consumer loses samples on its own outlet; it never blocks the producer or
// the other consumers.
type Distributor struct {
	in      <-chan Sample
	outlets []*ConsumerOutlet
	running *atomic.Bool
	metrics *PrometheusMetrics

	distributed atomic.Uint64
}

// Distributed returns the number of samples fanned out so far. Safe to call
// while the worker runs; status reporting reads it live.
func (d *Distributor) Distributed() uint64 { return d.distributed.Load() }

// NewDistributor creates a distributor reading from in.
func NewDistributor(in <-chan Sample, outlets []*ConsumerOutlet, running *atomic.Bool, metrics *PrometheusMetrics) *Distributor {
	return &Distributor{in: in, outlets: outlets, running: running, metrics: metrics}
}

// Run loops until the source channel closes, the shutdown flag is cleared,
// or every consumer has recorded at least one delivery failure. The outlet
// channels are closed on exit so downstream workers drain and stop.
func (d *Distributor) Run() DistributorStats {
	log.Printf("Distributor: started (%d consumers)", len(d.outlets))

	var stats DistributorStats
	lastStats := time.Now()
	lastDistributed := uint64(0)

	defer func() {
		for _, o := range d.outlets {
			close(o.Ch)
		}
		log.Printf("Distributor: stopped - distributed %d, failures %d",
			stats.SamplesDistributed, stats.DeliveryFailures)
	}()

	for {
		var sample Sample
		var open bool

		select {
		case sample, open = <-d.in:
			if !open {
				log.Printf("Distributor: source disconnected")
				return stats
			}
		case <-time.After(distributorPollInterval):
			if !d.running.Load() {
				log.Printf("Distributor: stopping")
				return stats
			}
			continue
		}

		stats.SamplesDistributed++
		d.distributed.Add(1)
		allFailed := true
		for _, o := range d.outlets {
			select {
			case o.Ch <- sample.Clone():
				if d.metrics != nil {
					d.metrics.samplesDelivered.WithLabelValues(o.Name).Inc()
				}
			default:
				o.failures++
				stats.DeliveryFailures++
				if d.metrics != nil {
					d.metrics.deliveryFailures.WithLabelValues(o.Name).Inc()
				}
				if o.failures <= 5 {
					log.Printf("Distributor: %s outlet dropped sample (failure #%d)", o.Name, o.failures)
				}
			}
			if o.failures == 0 {
				allFailed = false
			}
		}

		if allFailed {
			log.Printf("Distributor: all consumers disconnected, stopping")
			return stats
		}

		if time.Since(lastStats) >= time.Second {
			log.Printf("Distributor: %dHz distributed, failures: %d",
				stats.SamplesDistributed-lastDistributed, stats.DeliveryFailures)
			lastDistributed = stats.SamplesDistributed
			lastStats = time.Now()
		}
	}
}
