package main

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectBatches(batches <-chan Batch, triggers <-chan SpectralTrigger) ([]Batch, []SpectralTrigger) {
	var gotBatches []Batch
	var gotTriggers []SpectralTrigger
	for batches != nil || triggers != nil {
		select {
		case batch, open := <-batches:
			if !open {
				batches = nil
				continue
			}
			gotBatches = append(gotBatches, batch)
		case trigger, open := <-triggers:
			if !open {
				triggers = nil
				continue
			}
			gotTriggers = append(gotTriggers, trigger)
		}
	}
	return gotBatches, gotTriggers
}

func TestBatcherPreservesAllSamplesAcrossBatches(t *testing.T) {
	info := testStreamInfo(2, 250)
	in := make(chan Sample, 256)
	batches := make(chan Batch, 256)
	triggers := make(chan SpectralTrigger, 256)

	for _, sample := range makeSamples(200, 2) {
		in <- sample
	}
	close(in)

	var running atomic.Bool
	running.Store(true)
	b := NewTimeDomainBatcher(in, batches, triggers, info, 10*time.Millisecond, &running, nil)

	statsCh := make(chan BatcherStats, 1)
	go func() { statsCh <- b.Run() }()

	gotBatches, gotTriggers := collectBatches(batches, triggers)
	stats := <-statsCh

	assert.Equal(t, uint64(200), stats.SamplesBatched)

	// Concatenating batches in id order recovers the exact input sequence.
	require.NotEmpty(t, gotBatches)
	var sampleID uint64
	for i, batch := range gotBatches {
		assert.Equal(t, uint64(i), batch.BatchID, "batch ids must be gapless from 0")
		assert.Equal(t, 2, batch.ChannelCount)
		assert.Equal(t, 250.0, batch.SampleRate)
		for _, sample := range batch.Samples {
			assert.Equal(t, sampleID, sample.SampleID)
			sampleID++
		}
	}
	assert.Equal(t, uint64(200), sampleID)

	// Every non-empty batch has a trigger twin with the same id and samples.
	byID := make(map[uint64]SpectralTrigger, len(gotTriggers))
	for _, trigger := range gotTriggers {
		byID[trigger.BatchID] = trigger
	}
	for _, batch := range gotBatches {
		if len(batch.Samples) == 0 {
			assert.NotContains(t, byID, batch.BatchID)
			continue
		}
		trigger, ok := byID[batch.BatchID]
		require.True(t, ok, "batch #%d has no trigger", batch.BatchID)
		assert.Equal(t, batch.Samples, trigger.Samples)
	}
}

func TestBatcherEmitsEmptyBatchesOnIdleTicks(t *testing.T) {
	info := testStreamInfo(1, 250)
	in := make(chan Sample)
	batches := make(chan Batch, 64)
	triggers := make(chan SpectralTrigger, 64)

	var running atomic.Bool
	running.Store(true)
	b := NewTimeDomainBatcher(in, batches, triggers, info, 5*time.Millisecond, &running, nil)

	statsCh := make(chan BatcherStats, 1)
	go func() { statsCh <- b.Run() }()

	time.Sleep(40 * time.Millisecond)
	running.Store(false)
	close(in)

	gotBatches, gotTriggers := collectBatches(batches, triggers)
	stats := <-statsCh

	assert.NotEmpty(t, gotBatches, "idle ticks still produce empty batches")
	for _, batch := range gotBatches {
		assert.Empty(t, batch.Samples)
	}
	assert.Empty(t, gotTriggers, "empty batches must not trigger analysis")
	assert.Zero(t, stats.SamplesBatched)
	assert.Zero(t, stats.TriggersEmitted)
}

func TestBatcherFlushesPartialBatchOnStop(t *testing.T) {
	info := testStreamInfo(1, 250)
	in := make(chan Sample, 16)
	batches := make(chan Batch, 16)
	triggers := make(chan SpectralTrigger, 16)

	var running atomic.Bool
	running.Store(true)
	b := NewTimeDomainBatcher(in, batches, triggers, info, time.Hour, &running, nil)

	statsCh := make(chan BatcherStats, 1)
	go func() { statsCh <- b.Run() }()

	for _, sample := range makeSamples(7, 1) {
		in <- sample
	}
	// Let the drain loop pick the samples up, then close the source. The
	// hour-long ticker guarantees the flush came from shutdown, not a tick.
	time.Sleep(20 * time.Millisecond)
	close(in)

	gotBatches, gotTriggers := collectBatches(batches, triggers)
	stats := <-statsCh

	require.Len(t, gotBatches, 1)
	assert.Len(t, gotBatches[0].Samples, 7)
	assert.Equal(t, uint64(0), gotBatches[0].BatchID)
	require.Len(t, gotTriggers, 1)
	assert.Equal(t, uint64(7), stats.SamplesBatched)
}
