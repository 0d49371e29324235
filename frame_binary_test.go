package main

import (
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDisplayFrameLayout(t *testing.T) {
	batch := testBatch(9, 2, 3)
	for i := range batch.Samples {
		batch.Samples[i].Channels[0] = float64(i) + 0.5
		batch.Samples[i].Channels[1] = -float64(i)
	}
	packet := EncodeDisplayFrame(DisplayFrame{TimeDomain: batch})

	require.Len(t, packet, FrameHeaderSize+2*(4+4*3))
	assert.Equal(t, uint64(9), binary.LittleEndian.Uint64(packet[0:]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(packet[16:]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(packet[20:]))

	decoded, err := DecodeDisplayFrame(packet)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), decoded.BatchID)
	assert.Equal(t, batch.Samples[0].Timestamp, decoded.Timestamp)
	assert.Equal(t, 250.0, decoded.SampleRate)
	require.Len(t, decoded.Channels, 2)
	assert.Equal(t, []float32{0.5, 1.5, 2.5}, decoded.Channels[0])
	assert.Equal(t, []float32{0, -1, -2}, decoded.Channels[1])
}

func TestEncodeDisplayFrameEmptyBatch(t *testing.T) {
	frame := DisplayFrame{TimeDomain: Batch{BatchID: 3, ChannelCount: 4, SampleRate: 250}}
	packet := EncodeDisplayFrame(frame)

	// Empty batches still carry one index-only block per channel.
	require.Len(t, packet, FrameHeaderSize+4*4)

	decoded, err := DecodeDisplayFrame(packet)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), decoded.BatchID)
	assert.Zero(t, decoded.Timestamp)
	assert.Equal(t, 4, decoded.ChannelCount)
	assert.Zero(t, decoded.SamplesPerChannel)
	for _, values := range decoded.Channels {
		assert.Empty(t, values)
	}
}

func TestDecodeDisplayFrameRejectsMalformedPackets(t *testing.T) {
	_, err := DecodeDisplayFrame(make([]byte, FrameHeaderSize-1))
	assert.Error(t, err)

	packet := EncodeDisplayFrame(DisplayFrame{TimeDomain: testBatch(0, 1, 2)})

	_, err = DecodeDisplayFrame(packet[:len(packet)-1])
	assert.Error(t, err)

	// Corrupt the first channel block's index.
	binary.LittleEndian.PutUint32(packet[FrameHeaderSize:], 7)
	_, err = DecodeDisplayFrame(packet)
	assert.Error(t, err)
}

func TestDecodeDisplayFrameRejectsOversizedHeaderCounts(t *testing.T) {
	// Counts chosen so channels*(4+4*samples) wraps to 0 mod 2^64: the
	// header-only packet must fail the bounds check, not pass the length
	// check and panic.
	header := make([]byte, FrameHeaderSize)
	binary.LittleEndian.PutUint32(header[16:], 1<<31)
	binary.LittleEndian.PutUint32(header[20:], 1<<31-1)

	_, err := DecodeDisplayFrame(header)
	assert.Error(t, err)

	// Plausible counts that still exceed the actual payload are rejected
	// too.
	packet := EncodeDisplayFrame(DisplayFrame{TimeDomain: testBatch(0, 2, 4)})
	binary.LittleEndian.PutUint32(packet[20:], 1<<20)
	_, err = DecodeDisplayFrame(packet)
	assert.Error(t, err)
}

func TestCompressFrameRoundTrip(t *testing.T) {
	packet := EncodeDisplayFrame(DisplayFrame{TimeDomain: testBatch(1, 4, 32)})
	compressed := compressFrame(packet)

	reader, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer reader.Close()

	restored, err := reader.DecodeAll(compressed, nil)
	require.NoError(t, err)
	assert.Equal(t, packet, restored)
}
