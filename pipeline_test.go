package main

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/eegstream/edf"
)

// scriptedSource hands out a fixed set of samples as fast as the reader
// pulls, then reports idle forever.
type scriptedSource struct {
	desc   StreamDescriptor
	values [][]float64
	next   int
}

func (s *scriptedSource) Info() StreamDescriptor { return s.desc }

func (s *scriptedSource) Pull() (float64, []float64, bool, error) {
	if s.next >= len(s.values) {
		return 0, nil, false, nil
	}
	ts := float64(s.next) / s.desc.SampleRate
	values := s.values[s.next]
	s.next++
	return ts, values, true, nil
}

func (s *scriptedSource) Close() error { return nil }

type lockedSink struct {
	mu     sync.Mutex
	frames []DisplayFrame
}

func (s *lockedSink) Publish(frame DisplayFrame) {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
}

func (s *lockedSink) snapshot() []DisplayFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DisplayFrame(nil), s.frames...)
}

func TestPipelineEndToEnd(t *testing.T) {
	const (
		channels = 4
		rate     = 250.0
		total    = 500
	)

	values := make([][]float64, total)
	for i := range values {
		row := make([]float64, channels)
		for ch := range row {
			row[ch] = float64(ch + 1)
		}
		values[i] = row
	}
	source := &scriptedSource{
		desc: StreamDescriptor{
			Name: "ScriptedEEG", Type: "EEG",
			ChannelCount: channels, SampleRate: rate, SourceID: "test_0",
		},
		values: values,
	}
	info := StreamInfo{
		Name: "ScriptedEEG", Type: "EEG",
		ChannelCount: channels, SampleRate: rate, Connected: true,
	}

	cfg := DefaultConfig()
	cfg.Pipeline.BatchIntervalMs = 10

	sink := &lockedSink{}
	p := NewPipeline(cfg, source, info, sink, nil)

	// The scripted source floods every sample the moment the workers spawn,
	// so the session must be open before Start.
	path := filepath.Join(t.TempDir(), "scripted.edf")
	require.NoError(t, p.Recorder().StartSession(path))
	require.NoError(t, p.Start())
	assert.ErrorIs(t, p.Start(), ErrAlreadyRunning)

	// 500 samples at 250 Hz cover 2 s of signal but arrive immediately;
	// wait until every sample has surfaced at the display sink.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		published := 0
		for _, frame := range sink.snapshot() {
			published += len(frame.TimeDomain.Samples)
		}
		if published >= total {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	stats, err := p.Stop()
	require.NoError(t, err)
	_, err = p.Stop()
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.Equal(t, uint64(total), stats.SamplesReceived)
	assert.Equal(t, uint64(total), stats.SamplesDelivered)
	assert.Zero(t, stats.DeliveryFailures)
	assert.Equal(t, uint64(total), stats.SamplesRecorded)
	assert.Equal(t, 6, stats.WorkersSpawned)
	assert.NotZero(t, stats.BatchesEmitted)
	assert.NotZero(t, stats.SpectraComputed, "500 samples fill the 256-sample window")
	assert.NotZero(t, stats.FramesPublished)

	// Recording stats and the finalized EDF file agree: 500 samples at
	// 250 Hz and 1 s records make exactly two full records.
	require.NotNil(t, stats.Recording)
	assert.Equal(t, uint64(total), stats.Recording.SamplesWritten)
	assert.InDelta(t, 2.0, stats.Recording.DurationSecs, 1e-9)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(edf.HeaderBytes(channels)+2*channels*250*2), fi.Size())

	// Display frames carry gapless real batch ids; the constant signal
	// reaches the sink unchanged.
	var lastReal uint64
	sawReal := false
	for _, frame := range sink.snapshot() {
		if len(frame.TimeDomain.Samples) == 0 {
			continue
		}
		if sawReal {
			assert.Equal(t, lastReal+1, frame.TimeDomain.BatchID)
		}
		lastReal = frame.TimeDomain.BatchID
		sawReal = true
		assert.Equal(t, []float64{1, 2, 3, 4}, frame.TimeDomain.Samples[0].Channels)
		require.Len(t, frame.FrequencyDomain, channels)
	}
	assert.True(t, sawReal, "at least one real frame must reach the sink")
}

func TestPipelineStatusReportsLiveCounters(t *testing.T) {
	const total = 100
	values := make([][]float64, total)
	for i := range values {
		values[i] = []float64{1, 2}
	}
	source := &scriptedSource{
		desc: StreamDescriptor{
			Name: "LiveEEG", Type: "EEG", ChannelCount: 2, SampleRate: 250,
		},
		values: values,
	}
	info := StreamInfo{Name: "LiveEEG", Type: "EEG", ChannelCount: 2, SampleRate: 250, Connected: true}

	cfg := DefaultConfig()
	cfg.Pipeline.BatchIntervalMs = 10

	sink := &lockedSink{}
	p := NewPipeline(cfg, source, info, sink, nil)
	require.NoError(t, p.Start())

	// Let the synchronizer publish a handful of frames, then read the
	// status while the pipeline is still running.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && len(sink.snapshot()) < 10 {
		time.Sleep(10 * time.Millisecond)
	}
	published := len(sink.snapshot())
	require.GreaterOrEqual(t, published, 10)

	status := p.Status()
	assert.True(t, status.PipelineRunning)
	assert.GreaterOrEqual(t, status.FramesPublished, uint64(published-1),
		"status must track frames already published")
	assert.Equal(t, uint64(total), status.SamplesDelivered,
		"status must track samples already fanned out")

	_, err := p.Stop()
	require.NoError(t, err)
}

func TestPipelineStatusReflectsRecorder(t *testing.T) {
	source := &scriptedSource{desc: StreamDescriptor{
		Name: "Idle", Type: "EEG", ChannelCount: 2, SampleRate: 250,
	}}
	info := StreamInfo{Name: "Idle", Type: "EEG", ChannelCount: 2, SampleRate: 250, Connected: true}

	p := NewPipeline(DefaultConfig(), source, info, FrameSinkFunc(func(DisplayFrame) {}), nil)
	require.NoError(t, p.Start())

	status := p.Status()
	assert.True(t, status.PipelineRunning)
	assert.True(t, status.StreamConnected)
	assert.False(t, status.RecordingActive)

	path := filepath.Join(t.TempDir(), "idle.edf")
	require.NoError(t, p.Recorder().StartSession(path))
	status = p.Status()
	assert.True(t, status.RecordingActive)
	assert.Equal(t, path, status.RecordingFile)

	_, err := p.Stop()
	require.NoError(t, err)
	assert.False(t, p.Running())
}
