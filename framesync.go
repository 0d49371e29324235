package main

import (
	"log"
	"sync/atomic"
	"time"
)

// FrameSink consumes finished display frames. Publishing is fire-and-forget:
// the synchronizer never learns whether anyone was listening.
type FrameSink interface {
	Publish(frame DisplayFrame)
}

// FrameSinkFunc adapts a function to the FrameSink interface.
type FrameSinkFunc func(frame DisplayFrame)

// Publish calls f.
func (f FrameSinkFunc) Publish(frame DisplayFrame) { f(frame) }

// FrameSyncStats are the synchronizer worker's counters, collected at join.
type FrameSyncStats struct {
	FramesPublished uint64
	MatchedFrames   uint64
	TimeOnlyFrames  uint64
	EmptyFrames     uint64
}

// FrameSynchronizer correlates time-domain batches and spectral-frame
// groups sharing a batch id into display frames at a fixed cadence. Emitted
// batch ids are non-decreasing and never repeated; if the spectral leg lags
// indefinitely the time leg keeps flowing with placeholder spectra.
type FrameSynchronizer struct {
	batches    <-chan Batch
	groups     <-chan SpectralGroup
	sink       FrameSink
	info       StreamInfo
	interval   time.Duration
	evictDepth uint64
	freqMin    int
	freqMax    int
	running    *atomic.Bool
	metrics    *PrometheusMetrics

	timeBuf      map[uint64]Batch
	freqBuf      map[uint64][]SpectralFrame
	nextExpected uint64
	stats        FrameSyncStats
	published    atomic.Uint64
}

// Published returns the number of display frames published so far. Safe to
// call while the worker runs; status reporting reads it live.
func (fs *FrameSynchronizer) Published() uint64 { return fs.published.Load() }

// NewFrameSynchronizer creates a synchronizer publishing to sink.
func NewFrameSynchronizer(batches <-chan Batch, groups <-chan SpectralGroup, sink FrameSink,
	info StreamInfo, cfg PipelineConfig, running *atomic.Bool, metrics *PrometheusMetrics) *FrameSynchronizer {
	return &FrameSynchronizer{
		batches:    batches,
		groups:     groups,
		sink:       sink,
		info:       info,
		interval:   time.Duration(cfg.BatchIntervalMs) * time.Millisecond,
		evictDepth: uint64(cfg.SyncEvictionDepth),
		freqMin:    cfg.FreqMinHz,
		freqMax:    cfg.FreqMaxHz,
		running:    running,
		metrics:    metrics,
		timeBuf:    make(map[uint64]Batch),
		freqBuf:    make(map[uint64][]SpectralFrame),
	}
}

// drain moves everything currently buffered on the input channels into the
// id-keyed buffers. A later arrival for an id overwrites the earlier one.
// Returns false once both inputs have closed.
func (fs *FrameSynchronizer) drain() bool {
	batchesOpen, groupsOpen := fs.batches != nil, fs.groups != nil
	for fs.batches != nil {
		select {
		case batch, open := <-fs.batches:
			if !open {
				fs.batches = nil
				batchesOpen = false
				continue
			}
			fs.timeBuf[batch.BatchID] = batch
			continue
		default:
		}
		break
	}
	for fs.groups != nil {
		select {
		case group, open := <-fs.groups:
			if !open {
				fs.groups = nil
				groupsOpen = false
				continue
			}
			fs.freqBuf[group.BatchID] = group.Frames
			continue
		default:
		}
		break
	}
	return batchesOpen || groupsOpen
}

// tick performs one synchronization step: drain inputs, emit at most one
// real frame (or an empty placeholder to keep the cadence), then evict
// stale buffer entries. Returns false once both inputs are closed and the
// buffers are exhausted.
func (fs *FrameSynchronizer) tick() bool {
	inputsOpen := fs.drain()

	sent := false
	if batch, ok := fs.timeBuf[fs.nextExpected]; ok {
		delete(fs.timeBuf, fs.nextExpected)

		frames, matched := fs.freqBuf[fs.nextExpected]
		if matched {
			delete(fs.freqBuf, fs.nextExpected)
			fs.stats.MatchedFrames++
		} else {
			frames = emptySpectralFrames(fs.info.ChannelCount, fs.freqMin, fs.freqMax, batch.BatchID)
			fs.stats.TimeOnlyFrames++
		}

		fs.publish(DisplayFrame{TimeDomain: batch, FrequencyDomain: frames})
		fs.nextExpected++
		sent = true
	}

	if !sent {
		// Keep a steady cadence for the display sink without advancing
		// the expected id.
		fs.publish(DisplayFrame{
			TimeDomain: Batch{
				BatchID:      fs.stats.FramesPublished,
				ChannelCount: fs.info.ChannelCount,
				SampleRate:   fs.info.SampleRate,
			},
			FrequencyDomain: emptySpectralFrames(fs.info.ChannelCount, fs.freqMin, fs.freqMax, fs.stats.FramesPublished),
		})
		fs.stats.EmptyFrames++
	}

	// Bound buffer memory: entries that fell behind the matching frontier
	// by more than the eviction depth can never be emitted.
	if fs.nextExpected > fs.evictDepth {
		threshold := fs.nextExpected - fs.evictDepth
		for id := range fs.timeBuf {
			if id < threshold {
				delete(fs.timeBuf, id)
			}
		}
		for id := range fs.freqBuf {
			if id < threshold {
				delete(fs.freqBuf, id)
			}
		}
	}

	return inputsOpen || len(fs.timeBuf) > 0
}

func (fs *FrameSynchronizer) publish(frame DisplayFrame) {
	fs.sink.Publish(frame)
	fs.stats.FramesPublished++
	fs.published.Add(1)
	if fs.metrics != nil {
		fs.metrics.framesPublished.Inc()
	}
	if fs.stats.FramesPublished%300 == 0 {
		log.Printf("FrameSync: buffers time=%d freq=%d next_expected=%d",
			len(fs.timeBuf), len(fs.freqBuf), fs.nextExpected)
	}
}

// Run loops on the display cadence until the shutdown flag is cleared or
// both inputs have closed and every buffered batch has been emitted.
func (fs *FrameSynchronizer) Run() FrameSyncStats {
	log.Printf("FrameSync: started (%v cadence, eviction depth %d)", fs.interval, fs.evictDepth)

	ticker := time.NewTicker(fs.interval)
	defer ticker.Stop()

	for range ticker.C {
		if !fs.running.Load() {
			log.Printf("FrameSync: stopping")
			break
		}
		if !fs.tick() {
			log.Printf("FrameSync: inputs drained")
			break
		}
	}

	log.Printf("FrameSync: stopped - published %d (matched %d, time-only %d, empty %d)",
		fs.stats.FramesPublished, fs.stats.MatchedFrames, fs.stats.TimeOnlyFrames, fs.stats.EmptyFrames)
	return fs.stats
}
