package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_FreshestRespectsAgeLimit(t *testing.T) {
	b := New(10)
	now := time.Now()

	b.Ingest(Frame{DeviceID: "cam1", Data: []byte("old"), CaptureTs: now.Add(-4 * time.Second)})
	b.Ingest(Frame{DeviceID: "cam1", Data: []byte("fresh"), CaptureTs: now.Add(-300 * time.Millisecond)})

	f, ok := b.Freshest(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, "fresh", string(f.Data))

	_, ok = b.Freshest(100 * time.Millisecond)
	assert.False(t, ok, "no frame should qualify under a 100ms age limit")
}

func TestBuffer_EvictsOldestWhenOverCapacity(t *testing.T) {
	b := New(2)
	now := time.Now()
	b.Ingest(Frame{DeviceID: "d", Data: []byte("1"), CaptureTs: now})
	b.Ingest(Frame{DeviceID: "d", Data: []byte("2"), CaptureTs: now})
	b.Ingest(Frame{DeviceID: "d", Data: []byte("3"), CaptureTs: now})

	assert.Equal(t, 2, b.Len())
	f, ok := b.Freshest(time.Hour)
	require.True(t, ok)
	assert.Equal(t, "3", string(f.Data))
}

func TestBuffer_PerDeviceLatest(t *testing.T) {
	b := New(10)
	now := time.Now()
	b.Ingest(Frame{DeviceID: "front", Data: []byte("f1"), CaptureTs: now})
	b.Ingest(Frame{DeviceID: "rear", Data: []byte("r1"), CaptureTs: now})
	b.Ingest(Frame{DeviceID: "front", Data: []byte("f2"), CaptureTs: now.Add(time.Second)})

	latest := b.PerDeviceLatest()
	require.Len(t, latest, 2)
	assert.Equal(t, "f2", string(latest["front"].Data))
	assert.Equal(t, "r1", string(latest["rear"].Data))
}

func TestFrame_MarshalRoundTrip(t *testing.T) {
	original := Frame{DeviceID: "cam-42", Data: []byte{1, 2, 3, 4, 5}, CaptureTs: time.Now()}
	data, err := original.MarshalBinary()
	require.NoError(t, err)

	var restored Frame
	require.NoError(t, restored.UnmarshalBinary(data))

	assert.Equal(t, original.DeviceID, restored.DeviceID)
	assert.Equal(t, original.Data, restored.Data)
	assert.WithinDuration(t, original.CaptureTs, restored.CaptureTs, time.Microsecond)
}

func TestBuffer_DrainYieldsMirroredFrames(t *testing.T) {
	b := New(10)
	now := time.Now()
	b.Ingest(Frame{DeviceID: "d", Data: []byte("a"), CaptureTs: now})
	b.Ingest(Frame{DeviceID: "d", Data: []byte("b"), CaptureTs: now.Add(time.Millisecond)})

	drained := b.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "a", string(drained[0].Data))
	assert.Equal(t, "b", string(drained[1].Data))
}
