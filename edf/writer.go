package edf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"
)

// Offset of the "number of data records" header field, patched on Finalize.
const dataRecordsOffset = 236

var (
	// ErrHeaderWritten is returned when adding a signal after the first
	// data record has been written.
	ErrHeaderWritten = errors.New("edf: header already written")

	// ErrFinalized is returned when using a writer after Finalize.
	ErrFinalized = errors.New("edf: writer already finalized")

	// ErrNoSignals is returned when writing a record to a file with no
	// registered signals.
	ErrNoSignals = errors.New("edf: no signals registered")
)

// Writer streams an EDF file to disk. Signals are registered first, then
// complete data records are appended; Finalize patches the record count into
// the header and closes the file. The record count is written as -1 until
// Finalize so that a crashed recording is still recognizably truncated.
type Writer struct {
	f             *os.File
	header        Header
	headerWritten bool
	finalized     bool
	records       int
	scratch       []byte
}

// Create opens path for writing and returns a Writer with an empty header.
// The start time defaults to now and the record duration to one second.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("edf: create %s: %w", path, err)
	}
	return &Writer{
		f: f,
		header: Header{
			StartTime:          time.Now(),
			DataRecordDuration: time.Second,
			DataRecords:        -1,
		},
	}, nil
}

// SetPatientID sets the patient identification header field.
func (w *Writer) SetPatientID(id string) { w.header.PatientID = id }

// SetRecordingID sets the recording identification header field.
func (w *Writer) SetRecordingID(id string) { w.header.RecordingID = id }

// SetStartTime sets the recording start date and time.
func (w *Writer) SetStartTime(t time.Time) { w.header.StartTime = t }

// SetRecordDuration sets the duration of one data record.
func (w *Writer) SetRecordDuration(d time.Duration) { w.header.DataRecordDuration = d }

// AddSignal registers one signal. All signals must be registered before the
// first data record is written.
func (w *Writer) AddSignal(sig Signal) error {
	if w.finalized {
		return ErrFinalized
	}
	if w.headerWritten {
		return ErrHeaderWritten
	}
	if sig.SamplesPerRecord <= 0 {
		return fmt.Errorf("edf: signal %q: samples per record must be positive", sig.Label)
	}
	if sig.PhysicalMax <= sig.PhysicalMin || sig.DigitalMax <= sig.DigitalMin {
		return fmt.Errorf("edf: signal %q: invalid physical or digital range", sig.Label)
	}
	w.header.Signals = append(w.header.Signals, sig)
	return nil
}

// WriteRecord appends one data record. The outer slice must have one entry
// per registered signal, each of exactly that signal's SamplesPerRecord
// physical values. Values outside the physical range are clamped.
func (w *Writer) WriteRecord(record [][]float64) error {
	if w.finalized {
		return ErrFinalized
	}
	if len(w.header.Signals) == 0 {
		return ErrNoSignals
	}
	if len(record) != len(w.header.Signals) {
		return fmt.Errorf("edf: record has %d signals, file has %d", len(record), len(w.header.Signals))
	}
	for i, sig := range w.header.Signals {
		if len(record[i]) != sig.SamplesPerRecord {
			return fmt.Errorf("edf: signal %q: record has %d samples, expected %d",
				sig.Label, len(record[i]), sig.SamplesPerRecord)
		}
	}

	if !w.headerWritten {
		if err := w.writeHeader(); err != nil {
			return err
		}
		w.headerWritten = true
	}

	total := 0
	for _, sig := range w.header.Signals {
		total += sig.SamplesPerRecord * 2
	}
	if cap(w.scratch) < total {
		w.scratch = make([]byte, total)
	}
	buf := w.scratch[:total]

	off := 0
	for i, sig := range w.header.Signals {
		gain := float64(sig.DigitalMax-sig.DigitalMin) / (sig.PhysicalMax - sig.PhysicalMin)
		for _, v := range record[i] {
			d := int(math.Round((v-sig.PhysicalMin)*gain)) + sig.DigitalMin
			if d > sig.DigitalMax {
				d = sig.DigitalMax
			} else if d < sig.DigitalMin {
				d = sig.DigitalMin
			}
			binary.LittleEndian.PutUint16(buf[off:], uint16(int16(d)))
			off += 2
		}
	}

	if _, err := w.f.Write(buf); err != nil {
		return fmt.Errorf("edf: write record: %w", err)
	}
	w.records++
	return nil
}

// Records returns the number of data records written so far.
func (w *Writer) Records() int { return w.records }

// Finalize patches the data record count into the header and closes the
// file. The writer is unusable afterwards.
func (w *Writer) Finalize() error {
	if w.finalized {
		return ErrFinalized
	}
	w.finalized = true

	if !w.headerWritten {
		// Zero-record file still gets a valid header.
		if err := w.writeHeader(); err != nil {
			w.f.Close()
			return err
		}
	}

	if _, err := w.f.WriteAt(field(strconv.Itoa(w.records), 8), dataRecordsOffset); err != nil {
		w.f.Close()
		return fmt.Errorf("edf: patch record count: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("edf: close: %w", err)
	}
	return nil
}

func (w *Writer) writeHeader() error {
	ns := len(w.header.Signals)
	buf := make([]byte, 0, HeaderBytes(ns))

	buf = append(buf, field(Version, 8)...)
	buf = append(buf, field(w.header.PatientID, 80)...)
	buf = append(buf, field(w.header.RecordingID, 80)...)
	buf = append(buf, field(w.header.StartTime.Format("02.01.06"), 8)...)
	buf = append(buf, field(w.header.StartTime.Format("15.04.05"), 8)...)
	buf = append(buf, field(strconv.Itoa(HeaderBytes(ns)), 8)...)
	buf = append(buf, field("", 44)...) // reserved
	buf = append(buf, field("-1", 8)...)
	buf = append(buf, field(formatDuration(w.header.DataRecordDuration), 8)...)
	buf = append(buf, field(strconv.Itoa(ns), 4)...)

	// Per-signal fields are grouped: all labels, then all transducers, etc.
	appendEach := func(width int, get func(Signal) string) {
		for _, sig := range w.header.Signals {
			buf = append(buf, field(get(sig), width)...)
		}
	}
	appendEach(16, func(s Signal) string { return s.Label })
	appendEach(80, func(s Signal) string { return s.TransducerType })
	appendEach(8, func(s Signal) string { return s.PhysicalDimension })
	appendEach(8, func(s Signal) string { return formatFloat(s.PhysicalMin) })
	appendEach(8, func(s Signal) string { return formatFloat(s.PhysicalMax) })
	appendEach(8, func(s Signal) string { return strconv.Itoa(s.DigitalMin) })
	appendEach(8, func(s Signal) string { return strconv.Itoa(s.DigitalMax) })
	appendEach(80, func(s Signal) string { return s.Prefiltering })
	appendEach(8, func(s Signal) string { return strconv.Itoa(s.SamplesPerRecord) })
	appendEach(32, func(Signal) string { return "" }) // reserved

	if _, err := w.f.Write(buf); err != nil {
		return fmt.Errorf("edf: write header: %w", err)
	}
	return nil
}

// field renders an ASCII header field, space-padded and truncated to width.
func field(s string, width int) []byte {
	b := make([]byte, width)
	for i := range b {
		b[i] = ' '
	}
	if len(s) > width {
		s = s[:width]
	}
	copy(b, s)
	return b
}

// formatFloat renders a float compactly enough for an 8-byte header field.
func formatFloat(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e7 {
		return strconv.Itoa(int(v))
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// formatDuration renders the record duration in seconds.
func formatDuration(d time.Duration) string {
	secs := d.Seconds()
	if secs == math.Trunc(secs) {
		return strconv.Itoa(int(secs))
	}
	return strconv.FormatFloat(secs, 'g', 6, 64)
}
