package main

import (
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cwsl/eegstream/edf"
)

// recorderPollInterval bounds how long the recorder blocks before
// re-checking the shutdown flag.
const recorderPollInterval = 100 * time.Millisecond

// RecordingSession is one open EDF file plus its per-channel staging
// buffers. It is created on record-start, mutated only under the Recorder's
// mutex, and consumed by close.
type RecordingSession struct {
	writer           *edf.Writer
	filename         string
	sessionID        string
	info             StreamInfo
	buffers          [][]float64
	samplesPerRecord int
	samplesWritten   uint64
	flushErrors      uint64
	startTime        time.Time
}

// openSession creates the EDF file and registers one signal per channel.
func openSession(path string, info StreamInfo, cfg RecordingConfig) (*RecordingSession, error) {
	if info.ChannelCount <= 0 {
		return nil, fmt.Errorf("recording: invalid channel count %d", info.ChannelCount)
	}

	samplesPerRecord := int(math.Round(info.SampleRate * cfg.RecordDuration))
	if samplesPerRecord <= 0 {
		return nil, fmt.Errorf("recording: sample rate %g with record duration %gs yields empty records",
			info.SampleRate, cfg.RecordDuration)
	}

	writer, err := edf.Create(path)
	if err != nil {
		return nil, &RecordingError{Op: "create", Err: err}
	}

	startTime := time.Now().UTC()
	writer.SetStartTime(startTime)
	writer.SetRecordDuration(time.Duration(cfg.RecordDuration * float64(time.Second)))
	if cfg.PatientID != "" {
		writer.SetPatientID(cfg.PatientID)
	}
	recordingInfo := cfg.RecordingInfo
	if recordingInfo == "" {
		recordingInfo = fmt.Sprintf("EEG recording from %s", info.SourceID)
	}
	writer.SetRecordingID(recordingInfo)

	for ch := 0; ch < info.ChannelCount; ch++ {
		err := writer.AddSignal(edf.Signal{
			Label:             fmt.Sprintf("EEG Ch%02d", ch+1),
			TransducerType:    "AgAgCl electrodes",
			PhysicalDimension: "uV",
			PhysicalMin:       -100.0,
			PhysicalMax:       100.0,
			DigitalMin:        -32768,
			DigitalMax:        32767,
			Prefiltering:      "HP:0.1Hz LP:70Hz",
			SamplesPerRecord:  samplesPerRecord,
		})
		if err != nil {
			return nil, &RecordingError{Op: "add signal", Err: err}
		}
	}

	buffers := make([][]float64, info.ChannelCount)
	for ch := range buffers {
		buffers[ch] = make([]float64, 0, samplesPerRecord)
	}

	return &RecordingSession{
		writer:           writer,
		filename:         path,
		sessionID:        uuid.NewString(),
		info:             info,
		buffers:          buffers,
		samplesPerRecord: samplesPerRecord,
		startTime:        startTime,
	}, nil
}

// writeSample appends one value per channel. When every channel buffer holds
// a full record the session flushes synchronously. A flush failure loses
// that record but not the session.
func (s *RecordingSession) writeSample(sample Sample) error {
	for ch := range s.buffers {
		v := 0.0
		if ch < len(sample.Channels) {
			v = sample.Channels[ch]
		}
		s.buffers[ch] = append(s.buffers[ch], v)
	}
	s.samplesWritten++

	if len(s.buffers[0]) >= s.samplesPerRecord {
		return s.flush()
	}
	return nil
}

// flush writes one data record of exactly samplesPerRecord values per
// channel and clears the buffers. The buffers are cleared even on failure:
// a failed record is lost, the session continues.
func (s *RecordingSession) flush() error {
	record := make([][]float64, len(s.buffers))
	for ch := range s.buffers {
		record[ch] = s.buffers[ch][:s.samplesPerRecord]
	}

	err := s.writer.WriteRecord(record)

	for ch := range s.buffers {
		s.buffers[ch] = s.buffers[ch][:0]
	}

	if err != nil {
		s.flushErrors++
		return &RecordingError{Op: "flush", Err: err, Recoverable: true}
	}
	return nil
}

// close zero-pads any partial record, performs a final flush, finalizes the
// file trailer and returns the session statistics. A finalize failure is
// fatal and consumes the session.
func (s *RecordingSession) close() (*RecordingStats, error) {
	stats := &RecordingStats{
		Filename:       s.filename,
		DurationSecs:   float64(s.samplesWritten) / s.info.SampleRate,
		SamplesWritten: s.samplesWritten,
		ChannelCount:   s.info.ChannelCount,
		SampleRate:     s.info.SampleRate,
		StartTime:      s.startTime,
	}

	if len(s.buffers[0]) > 0 {
		log.Printf("Recorder: flushing remaining %d samples before close", len(s.buffers[0]))
		for ch := range s.buffers {
			for len(s.buffers[ch]) < s.samplesPerRecord {
				s.buffers[ch] = append(s.buffers[ch], 0.0)
			}
		}
		if err := s.flush(); err != nil {
			log.Printf("Recorder: final flush failed: %v", err)
		}
	}
	stats.FlushErrors = s.flushErrors

	if err := s.writer.Finalize(); err != nil {
		return nil, &RecordingError{Op: "finalize", Err: err}
	}

	log.Printf("Recorder: session %s closed - %s, %.2fs, %d samples, %d channels",
		s.sessionID[:8], stats.Filename, stats.DurationSecs, stats.SamplesWritten, stats.ChannelCount)
	return stats, nil
}

// RecorderStats are the recorder worker's counters, collected at join.
type RecorderStats struct {
	SamplesRecorded uint64
	SamplesSkipped  uint64
	WriteErrors     uint64
}

// Recorder consumes its dedicated sample outlet and writes to the optional
// active session. Sessions can be opened and closed while samples flow;
// samples arriving with no open session are counted, not recorded.
type Recorder struct {
	mu      sync.Mutex
	session *RecordingSession
	info    StreamInfo
	cfg     RecordingConfig
	metrics *PrometheusMetrics
}

// NewRecorder creates a recorder for a connected stream.
func NewRecorder(info StreamInfo, cfg RecordingConfig, metrics *PrometheusMetrics) *Recorder {
	return &Recorder{info: info, cfg: cfg, metrics: metrics}
}

// StartSession opens a recording session. Only one session may be active.
func (r *Recorder) StartSession(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return ErrRecordingActive
	}
	session, err := openSession(path, r.info, r.cfg)
	if err != nil {
		return err
	}
	r.session = session
	if r.metrics != nil {
		r.metrics.recordingActive.Set(1)
	}
	log.Printf("Recorder: recording started: %s (%d samples/record)", path, session.samplesPerRecord)
	return nil
}

// StopSession finalizes the active session and returns its statistics.
// Returns nil stats when no session is open.
func (r *Recorder) StopSession() (*RecordingStats, error) {
	r.mu.Lock()
	session := r.session
	r.session = nil
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.recordingActive.Set(0)
	}
	if session == nil {
		return nil, nil
	}
	return session.close()
}

// Active reports whether a session is open and its filename.
func (r *Recorder) Active() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return false, ""
	}
	return true, r.session.filename
}

// Run is the recorder worker loop. It exits when the inbound channel closes
// or the shutdown flag is cleared; the active session (if any) is left open
// for the supervisor to close during stop-time aggregation.
func (r *Recorder) Run(in <-chan Sample, running *atomic.Bool) RecorderStats {
	log.Printf("Recorder: started (dedicated channel)")

	var stats RecorderStats
	lastReport := time.Now()

	for {
		var sample Sample
		var open bool

		select {
		case sample, open = <-in:
			if !open {
				log.Printf("Recorder: distributor disconnected")
				log.Printf("Recorder: stopped - recorded %d, skipped %d, errors %d",
					stats.SamplesRecorded, stats.SamplesSkipped, stats.WriteErrors)
				return stats
			}
		case <-time.After(recorderPollInterval):
			if !running.Load() {
				log.Printf("Recorder: stopping")
				return stats
			}
			continue
		}

		r.mu.Lock()
		session := r.session
		var err error
		if session != nil {
			err = session.writeSample(sample)
		}
		r.mu.Unlock()

		switch {
		case session == nil:
			stats.SamplesSkipped++
		case err != nil:
			stats.WriteErrors++
			if r.metrics != nil {
				r.metrics.recordingErrors.Inc()
			}
			if stats.WriteErrors <= 10 {
				log.Printf("Recorder: write error #%d: %v", stats.WriteErrors, err)
			}
		default:
			stats.SamplesRecorded++
			if r.metrics != nil {
				r.metrics.samplesRecorded.Inc()
			}
		}

		if time.Since(lastReport) >= time.Second {
			log.Printf("Recorder: %d samples recorded (errors: %d)", stats.SamplesRecorded, stats.WriteErrors)
			lastReport = time.Now()
		}

		// Observe shutdown after finishing the in-flight sample so a
		// stop request never truncates mid-sample.
		if !running.Load() {
			log.Printf("Recorder: stopping after current sample")
			return stats
		}
	}
}
