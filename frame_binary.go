package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Binary Display Frame Format
// ===========================
//
// The capture path stores samples interleaved by time (one record per
// sample, values per channel); the wire format groups values by channel so
// display clients can hand each channel array straight to a plot. All
// fields are fixed-width little-endian.
//
// HEADER (32 bytes):
// ------------------
// Offset | Size | Type    | Description
// -------|------|---------|--------------------------------------------
// 0      | 8    | uint64  | Batch id
// 8      | 8    | float64 | Batch timestamp (first sample, 0 if empty)
// 16     | 4    | uint32  | Channel count
// 20     | 4    | uint32  | Samples per channel
// 24     | 8    | float64 | Sample rate in Hz
//
// CHANNEL BLOCKS (one per channel):
// ---------------------------------
// 0      | 4    | uint32  | Channel index
// 4      | 4×N  | float32 | N = samples-per-channel values
//
// COMPRESSION:
// ------------
// Clients may request zstd compression; the entire packet is then
// compressed and must be decompressed before parsing the header.

// FrameHeaderSize is the fixed display frame header length in bytes.
const FrameHeaderSize = 32

// frameEncoderPool provides reusable zstd encoders for frame compression.
var frameEncoderPool = sync.Pool{
	New: func() interface{} {
		encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return encoder
	},
}

// EncodeDisplayFrame reshapes a display frame's batch into the channel-major
// binary layout documented above.
func EncodeDisplayFrame(frame DisplayFrame) []byte {
	batch := frame.TimeDomain
	channels := batch.ChannelCount
	samplesPerChannel := len(batch.Samples)

	timestamp := 0.0
	if samplesPerChannel > 0 {
		timestamp = batch.Samples[0].Timestamp
	}

	size := FrameHeaderSize + channels*(4+4*samplesPerChannel)
	buf := make([]byte, size)

	binary.LittleEndian.PutUint64(buf[0:], batch.BatchID)
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(timestamp))
	binary.LittleEndian.PutUint32(buf[16:], uint32(channels))
	binary.LittleEndian.PutUint32(buf[20:], uint32(samplesPerChannel))
	binary.LittleEndian.PutUint64(buf[24:], math.Float64bits(batch.SampleRate))

	off := FrameHeaderSize
	for ch := 0; ch < channels; ch++ {
		binary.LittleEndian.PutUint32(buf[off:], uint32(ch))
		off += 4
		for _, sample := range batch.Samples {
			v := float32(0)
			if ch < len(sample.Channels) {
				v = float32(sample.Channels[ch])
			}
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
			off += 4
		}
	}
	return buf
}

// DecodedFrame is the client-side view of an encoded display frame.
type DecodedFrame struct {
	BatchID           uint64
	Timestamp         float64
	ChannelCount      int
	SamplesPerChannel int
	SampleRate        float64
	Channels          [][]float32
}

// DecodeDisplayFrame parses the channel-major binary layout.
func DecodeDisplayFrame(data []byte) (*DecodedFrame, error) {
	if len(data) < FrameHeaderSize {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	frame := &DecodedFrame{
		BatchID:           binary.LittleEndian.Uint64(data[0:]),
		Timestamp:         math.Float64frombits(binary.LittleEndian.Uint64(data[8:])),
		ChannelCount:      int(binary.LittleEndian.Uint32(data[16:])),
		SamplesPerChannel: int(binary.LittleEndian.Uint32(data[20:])),
		SampleRate:        math.Float64frombits(binary.LittleEndian.Uint64(data[24:])),
	}

	// Bound both counts by the payload before computing the expected size:
	// a hostile header can otherwise wrap the product past the length check
	// and panic the block loop. Every channel block costs at least 4 bytes,
	// as does every sample.
	payload := len(data) - FrameHeaderSize
	if frame.ChannelCount > payload/4 || frame.SamplesPerChannel > payload/4 {
		return nil, fmt.Errorf("frame header implies %d channels of %d samples, only %d payload bytes",
			frame.ChannelCount, frame.SamplesPerChannel, payload)
	}

	want := FrameHeaderSize + frame.ChannelCount*(4+4*frame.SamplesPerChannel)
	if len(data) != want {
		return nil, fmt.Errorf("frame length %d does not match header (want %d)", len(data), want)
	}

	frame.Channels = make([][]float32, frame.ChannelCount)
	off := FrameHeaderSize
	for ch := 0; ch < frame.ChannelCount; ch++ {
		index := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		if index != ch {
			return nil, fmt.Errorf("channel block %d carries index %d", ch, index)
		}
		values := make([]float32, frame.SamplesPerChannel)
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		frame.Channels[ch] = values
	}
	return frame, nil
}

// compressFrame zstd-compresses an encoded frame for clients that requested
// compression.
func compressFrame(packet []byte) []byte {
	encoder := frameEncoderPool.Get().(*zstd.Encoder)
	defer frameEncoderPool.Put(encoder)
	return encoder.EncodeAll(packet, make([]byte, 0, len(packet)/2))
}
