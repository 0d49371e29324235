package main

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// sourceIdleSleep is how long the source reader sleeps when the stream has
// no sample ready.
const sourceIdleSleep = time.Millisecond

// sourceReaderStats are the source reader worker's counters.
type sourceReaderStats struct {
	SamplesReceived uint64
	SamplesDropped  uint64
	PullErrors      uint64
}

// Pipeline owns the whole processing graph for one connected stream: source
// reader, distributor, recorder, batcher, spectral analyzer and frame
// synchronizer, one persistent goroutine each, communicating through
// dedicated channels. The running flag is the only piece of shared control
// state: set once at Start, cleared exactly once at Stop, read
// non-blockingly by every worker.
type Pipeline struct {
	cfg      *Config
	info     StreamInfo
	source   StreamSource
	sink     FrameSink
	metrics  *PrometheusMetrics
	recorder *Recorder

	running atomic.Bool
	wg      sync.WaitGroup

	mu             sync.Mutex
	workersSpawned int
	distributor    *Distributor
	synchronizer   *FrameSynchronizer
	sourceStats    sourceReaderStats
	distStats      DistributorStats
	recStats       RecorderStats
	batchStats     BatcherStats
	specStats      SpectralStats
	syncStats      FrameSyncStats
}

// NewPipeline wires a pipeline for an established stream connection.
func NewPipeline(cfg *Config, source StreamSource, info StreamInfo, sink FrameSink, metrics *PrometheusMetrics) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		info:     info,
		source:   source,
		sink:     sink,
		metrics:  metrics,
		recorder: NewRecorder(info, cfg.Recording, metrics),
	}
}

// Recorder exposes the recording session controls.
func (p *Pipeline) Recorder() *Recorder { return p.recorder }

// Running reports whether the pipeline workers are live.
func (p *Pipeline) Running() bool { return p.running.Load() }

// Status returns a point-in-time connection status snapshot. The frame and
// delivery counters are read live from the workers; the per-worker stats
// structs are only populated at join.
func (p *Pipeline) Status() ConnectionStatus {
	active, file := p.recorder.Active()
	info := p.info
	p.mu.Lock()
	defer p.mu.Unlock()
	status := ConnectionStatus{
		StreamConnected: info.Connected,
		PipelineRunning: p.running.Load(),
		RecordingActive: active,
		CurrentStream:   &info,
		RecordingFile:   file,
	}
	if p.synchronizer != nil {
		status.FramesPublished = p.synchronizer.Published()
	}
	if p.distributor != nil {
		status.SamplesDelivered = p.distributor.Distributed()
	}
	return status
}

func (p *Pipeline) spawn(name string, work func()) {
	p.workersSpawned++
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		work()
	}()
	log.Printf("Pipeline: worker %s spawned", name)
}

// Start spawns every worker. Starting an already-running pipeline is
// rejected synchronously before anything is spawned.
func (p *Pipeline) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	capacity := p.cfg.Pipeline.ChannelCapacity
	interval := time.Duration(p.cfg.Pipeline.BatchIntervalMs) * time.Millisecond

	samples := make(chan Sample, capacity)
	recording := make(chan Sample, capacity)
	timeDomain := make(chan Sample, capacity)
	batches := make(chan Batch, capacity)
	triggers := make(chan SpectralTrigger, capacity)
	groups := make(chan SpectralGroup, capacity)

	outlets := []*ConsumerOutlet{
		{Name: "recording", Ch: recording},
		{Name: "timedomain", Ch: timeDomain},
	}

	distributor := NewDistributor(samples, outlets, &p.running, p.metrics)
	batcher := NewTimeDomainBatcher(timeDomain, batches, triggers, p.info, interval, &p.running, p.metrics)
	analyzer := NewSpectralAnalyzer(triggers, groups, p.info, p.cfg.Pipeline, &p.running, p.metrics)
	synchronizer := NewFrameSynchronizer(batches, groups, p.sink, p.info, p.cfg.Pipeline, &p.running, p.metrics)

	p.mu.Lock()
	p.distributor = distributor
	p.synchronizer = synchronizer
	p.mu.Unlock()

	p.spawn("source", func() {
		stats := p.runSourceReader(samples)
		p.mu.Lock()
		p.sourceStats = stats
		p.mu.Unlock()
	})
	p.spawn("distributor", func() {
		stats := distributor.Run()
		p.mu.Lock()
		p.distStats = stats
		p.mu.Unlock()
	})
	p.spawn("recorder", func() {
		stats := p.recorder.Run(recording, &p.running)
		p.mu.Lock()
		p.recStats = stats
		p.mu.Unlock()
	})
	p.spawn("batcher", func() {
		stats := batcher.Run()
		p.mu.Lock()
		p.batchStats = stats
		p.mu.Unlock()
	})
	p.spawn("spectral", func() {
		stats := analyzer.Run()
		p.mu.Lock()
		p.specStats = stats
		p.mu.Unlock()
	})
	p.spawn("framesync", func() {
		stats := synchronizer.Run()
		p.mu.Lock()
		p.syncStats = stats
		p.mu.Unlock()
	})

	log.Printf("Pipeline: started for %s (%gHz, %d channels)",
		p.info.Name, p.info.SampleRate, p.info.ChannelCount)
	return nil
}

// runSourceReader pulls samples from the stream, assigns monotonically
// increasing sample ids and forwards them to the distributor. The output
// channel is closed on exit.
func (p *Pipeline) runSourceReader(out chan Sample) sourceReaderStats {
	log.Printf("Source: reader started")

	var stats sourceReaderStats
	defer func() {
		close(out)
		log.Printf("Source: reader stopped - received %d, dropped %d, errors %d",
			stats.SamplesReceived, stats.SamplesDropped, stats.PullErrors)
	}()

	for p.running.Load() {
		timestamp, values, ok, err := p.source.Pull()
		if err != nil {
			stats.PullErrors++
			if stats.PullErrors <= 10 {
				log.Printf("Source: pull error: %v", err)
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if !ok {
			time.Sleep(sourceIdleSleep)
			continue
		}

		sample := Sample{
			Timestamp: timestamp,
			Channels:  values,
			SampleID:  stats.SamplesReceived,
		}
		select {
		case out <- sample:
			stats.SamplesReceived++
			if p.metrics != nil {
				p.metrics.samplesReceived.Inc()
			}
			if stats.SamplesReceived%1000 == 0 {
				log.Printf("Source: %d samples received", stats.SamplesReceived)
			}
		default:
			// The distributor has fallen impossibly far behind or has
			// exited; losing the sample here beats blocking the pull
			// loop forever.
			stats.SamplesDropped++
		}
	}
	return stats
}

// Stop clears the running flag, joins every worker in spawn order, closes
// any open recording session and returns the aggregated stop-time report.
// A recording finalize failure is returned alongside the stats.
func (p *Pipeline) Stop() (*PipelineStats, error) {
	if !p.running.CompareAndSwap(true, false) {
		return nil, ErrNotConnected
	}

	log.Printf("Pipeline: stopping")
	p.wg.Wait()

	recStats, recErr := p.recorder.StopSession()

	p.mu.Lock()
	stats := &PipelineStats{
		Stream:           p.info,
		SamplesReceived:  p.sourceStats.SamplesReceived,
		SamplesDelivered: p.distStats.SamplesDistributed,
		DeliveryFailures: p.distStats.DeliveryFailures,
		SamplesRecorded:  p.recStats.SamplesRecorded,
		BatchesEmitted:   p.batchStats.BatchesEmitted,
		SpectraComputed:  p.specStats.SpectraComputed,
		FramesPublished:  p.syncStats.FramesPublished,
		WorkersSpawned:   p.workersSpawned,
		Recording:        recStats,
	}
	p.mu.Unlock()

	log.Printf("Pipeline: stopped - %d workers joined", stats.WorkersSpawned)
	log.Printf("Pipeline:   stream: %s (%gHz, %d channels)", stats.Stream.Name, stats.Stream.SampleRate, stats.Stream.ChannelCount)
	log.Printf("Pipeline:   samples: received %d, delivered %d, recorded %d",
		stats.SamplesReceived, stats.SamplesDelivered, stats.SamplesRecorded)
	log.Printf("Pipeline:   batches %d, spectra %d, frames %d",
		stats.BatchesEmitted, stats.SpectraComputed, stats.FramesPublished)
	if recStats != nil {
		log.Printf("Pipeline:   recording: %s (%.2fs, %d samples)",
			recStats.Filename, recStats.DurationSecs, recStats.SamplesWritten)
	}

	return stats, recErr
}
