package main

import "time"

// StreamDescriptor describes a discoverable EEG stream as reported by the
// discovery protocol, before any connection is made.
type StreamDescriptor struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	ChannelCount int     `json:"channel_count"`
	SampleRate   float64 `json:"sample_rate"`
	SourceID     string  `json:"source_id"`
	Hostname     string  `json:"hostname"`
}

// StreamInfo describes a connected stream.
type StreamInfo struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	ChannelCount int     `json:"channel_count"`
	SampleRate   float64 `json:"sample_rate"`
	Connected    bool    `json:"is_connected"`
	SourceID     string  `json:"source_id"`
}

// Sample is one timestamped multi-channel measurement. Samples are immutable
// once produced; the distributor clones them once per consumer.
type Sample struct {
	Timestamp float64   `json:"timestamp"`
	Channels  []float64 `json:"channels"`
	SampleID  uint64    `json:"sample_id"`
}

// Clone returns a deep copy so consumers can never observe each other's
// mutations.
func (s Sample) Clone() Sample {
	channels := make([]float64, len(s.Channels))
	copy(channels, s.Channels)
	return Sample{
		Timestamp: s.Timestamp,
		Channels:  channels,
		SampleID:  s.SampleID,
	}
}

// Batch groups the samples that arrived during one batch interval. Batch ids
// are strictly increasing with no gaps within a pipeline run. A batch may be
// empty if no samples arrived during the interval.
type Batch struct {
	Samples      []Sample `json:"samples"`
	BatchID      uint64   `json:"batch_id"`
	ChannelCount int      `json:"channels_count"`
	SampleRate   float64  `json:"sample_rate"`
}

// SpectralFrame is the magnitude spectrum of one channel's sliding window
// over the fixed 1-50 Hz band, tagged with the batch id that triggered it.
type SpectralFrame struct {
	ChannelIndex  int       `json:"channel_index"`
	Spectrum      []float64 `json:"spectrum"`
	FrequencyBins []float64 `json:"frequency_bins"`
	BatchID       uint64    `json:"batch_id"`
}

// SpectralGroup carries one SpectralFrame per channel, all computed from the
// same trigger batch.
type SpectralGroup struct {
	BatchID uint64
	Frames  []SpectralFrame
}

// SpectralTrigger is the batcher's signal to the spectral analyzer: the
// samples of one non-empty batch together with its id.
type SpectralTrigger struct {
	BatchID uint64
	Samples []Sample
}

// DisplayFrame pairs a time-domain batch with the spectral frames (real or
// zero-filled placeholders) for the same batch id.
type DisplayFrame struct {
	TimeDomain      Batch           `json:"time_domain"`
	FrequencyDomain []SpectralFrame `json:"frequency_domain"`
}

// ConnectionStatus summarizes the pipeline state for status consumers.
type ConnectionStatus struct {
	StreamConnected  bool        `json:"is_stream_connected"`
	PipelineRunning  bool        `json:"is_pipeline_running"`
	RecordingActive  bool        `json:"is_recording_active"`
	CurrentStream    *StreamInfo `json:"current_stream,omitempty"`
	RecordingFile    string      `json:"recording_file,omitempty"`
	FramesPublished  uint64      `json:"frames_published"`
	SamplesDelivered uint64      `json:"samples_delivered"`
}

// RecordingStats is returned when a recording session is closed.
type RecordingStats struct {
	Filename       string    `json:"filename"`
	DurationSecs   float64   `json:"duration_seconds"`
	SamplesWritten uint64    `json:"samples_written"`
	ChannelCount   int       `json:"channels_count"`
	SampleRate     float64   `json:"sample_rate"`
	StartTime      time.Time `json:"start_time"`
	FlushErrors    uint64    `json:"flush_errors"`
}

// PipelineStats aggregates per-worker counters collected when the pipeline
// is stopped and every worker has been joined.
type PipelineStats struct {
	Stream            StreamInfo      `json:"stream"`
	SamplesReceived   uint64          `json:"samples_received"`
	SamplesDelivered  uint64          `json:"samples_delivered"`
	DeliveryFailures  uint64          `json:"delivery_failures"`
	SamplesRecorded   uint64          `json:"samples_recorded"`
	BatchesEmitted    uint64          `json:"batches_emitted"`
	SpectraComputed   uint64          `json:"spectra_computed"`
	FramesPublished   uint64          `json:"frames_published"`
	WorkersSpawned    int             `json:"workers_spawned"`
	Recording         *RecordingStats `json:"recording,omitempty"`
}
