package main

import (
	"errors"
	"fmt"
)

// Sentinel errors for synchronous rejections.
var (
	// ErrNotConnected is returned when an operation requires a connected
	// stream and there is none.
	ErrNotConnected = errors.New("stream not connected")

	// ErrAlreadyRunning is returned when starting a pipeline that is
	// already running.
	ErrAlreadyRunning = errors.New("pipeline already running")

	// ErrRecordingActive is returned when opening a recording session
	// while one is already open.
	ErrRecordingActive = errors.New("recording session already active")
)

// ConnectionError reports a failed stream resolve or connect. It is fatal to
// the connect call and surfaced synchronously to the caller.
type ConnectionError struct {
	Stream string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream %q: %v", e.Stream, e.Err)
	}
	return fmt.Sprintf("stream %q not found", e.Stream)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ChannelError reports that a pipeline channel peer has gone away. The
// affected worker exits its loop gracefully; the pipeline keeps running.
type ChannelError struct {
	Channel string
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %q disconnected", e.Channel)
}

// RecordingError wraps a clinical writer failure. Flush failures are
// recoverable: the record is lost, the session continues. Finalize failures
// are not and consume the session.
type RecordingError struct {
	Op          string
	Err         error
	Recoverable bool
}

func (e *RecordingError) Error() string {
	return fmt.Sprintf("recording %s: %v", e.Op, e.Err)
}

func (e *RecordingError) Unwrap() error { return e.Err }
