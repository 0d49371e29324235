package main

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/eegstream/edf"
)

func testStreamInfo(channels int, rate float64) StreamInfo {
	return StreamInfo{
		Name:         "TestEEG",
		Type:         "EEG",
		ChannelCount: channels,
		SampleRate:   rate,
		Connected:    true,
		SourceID:     "test_device",
	}
}

func TestSessionFlushesFixedSizeRecords(t *testing.T) {
	const (
		channels = 4
		rate     = 250.0
		written  = 625 // 2 full records plus a partial one
	)
	path := filepath.Join(t.TempDir(), "rec.edf")

	session, err := openSession(path, testStreamInfo(channels, rate), RecordingConfig{RecordDuration: 1.0})
	require.NoError(t, err)
	assert.Equal(t, 250, session.samplesPerRecord)

	for _, s := range makeSamples(written, channels) {
		require.NoError(t, session.writeSample(s))
	}
	assert.Equal(t, 2, session.writer.Records(), "full records flush the instant buffers fill")

	stats, err := session.close()
	require.NoError(t, err)
	assert.Equal(t, uint64(written), stats.SamplesWritten)
	assert.Equal(t, 625.0/250.0, stats.DurationSecs, "duration is samples/rate exactly")
	assert.Equal(t, channels, stats.ChannelCount)
	assert.Equal(t, rate, stats.SampleRate)

	// ceil(625/250) = 3 records, the last zero-padded to full length.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, edf.HeaderBytes(channels)+3*channels*250*2, len(data))
}

func TestSessionRoundsSamplesPerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.edf")
	session, err := openSession(path, testStreamInfo(2, 512.5), RecordingConfig{RecordDuration: 1.0})
	require.NoError(t, err)
	assert.Equal(t, 513, session.samplesPerRecord)
	_, err = session.close()
	require.NoError(t, err)
}

func TestOpenSessionRejectsInvalidStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.edf")
	_, err := openSession(path, testStreamInfo(0, 250), RecordingConfig{RecordDuration: 1.0})
	assert.Error(t, err)
}

func TestRecorderSessionLifecycle(t *testing.T) {
	dir := t.TempDir()
	recorder := NewRecorder(testStreamInfo(2, 100), RecordingConfig{RecordDuration: 1.0}, nil)

	stats, err := recorder.StopSession()
	require.NoError(t, err)
	assert.Nil(t, stats, "stopping with no session is a no-op")

	require.NoError(t, recorder.StartSession(filepath.Join(dir, "a.edf")))
	active, file := recorder.Active()
	assert.True(t, active)
	assert.Equal(t, filepath.Join(dir, "a.edf"), file)

	err = recorder.StartSession(filepath.Join(dir, "b.edf"))
	assert.ErrorIs(t, err, ErrRecordingActive)

	stats, err = recorder.StopSession()
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, uint64(0), stats.SamplesWritten)

	active, _ = recorder.Active()
	assert.False(t, active)
}

func TestRecorderWorkerSkipsWithoutSession(t *testing.T) {
	recorder := NewRecorder(testStreamInfo(2, 100), RecordingConfig{RecordDuration: 1.0}, nil)

	in := make(chan Sample, 10)
	for _, s := range makeSamples(10, 2) {
		in <- s
	}
	close(in)

	var running atomic.Bool
	running.Store(true)

	stats := recorder.Run(in, &running)
	assert.Equal(t, uint64(10), stats.SamplesSkipped)
	assert.Equal(t, uint64(0), stats.SamplesRecorded)
}

func TestRecorderWorkerWritesIntoSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.edf")
	recorder := NewRecorder(testStreamInfo(2, 100), RecordingConfig{RecordDuration: 1.0}, nil)
	require.NoError(t, recorder.StartSession(path))

	in := make(chan Sample, 250)
	for _, s := range makeSamples(250, 2) {
		in <- s
	}
	close(in)

	var running atomic.Bool
	running.Store(true)

	stats := recorder.Run(in, &running)
	assert.Equal(t, uint64(250), stats.SamplesRecorded)

	recStats, err := recorder.StopSession()
	require.NoError(t, err)
	assert.Equal(t, uint64(250), recStats.SamplesWritten)
	assert.InDelta(t, 2.5, recStats.DurationSecs, 1e-12)
}
