// Package edf writes European Data Format (EDF) files, the clinical binary
// recording format used for physiological signal captures. An EDF file is a
// fixed-size ASCII header followed by data records; each record holds a
// fixed number of little-endian 16-bit samples per signal.
package edf

import "time"

// Version is the EDF standard version field (always "0").
const Version = "0"

// Signal describes one channel of the recording.
type Signal struct {
	Label             string  // Label of the signal (e.g. "EEG Ch01")
	TransducerType    string  // Type of transducer used
	PhysicalDimension string  // Physical dimension (e.g. uV)
	PhysicalMin       float64 // Minimum physical value
	PhysicalMax       float64 // Maximum physical value
	DigitalMin        int     // Minimum digital value
	DigitalMax        int     // Maximum digital value
	Prefiltering      string  // Pre-filtering information
	SamplesPerRecord  int     // Samples per data record for this signal
}

// Header holds the file-level EDF header fields.
type Header struct {
	PatientID          string
	RecordingID        string
	StartTime          time.Time
	DataRecordDuration time.Duration
	DataRecords        int // -1 while the file is open
	Signals            []Signal
}

// HeaderBytes returns the total header size for ns signals: a 256-byte file
// header plus 256 bytes per signal.
func HeaderBytes(ns int) int {
	return 256 + ns*256
}
