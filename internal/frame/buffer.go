// Package frame implements the per-session ring of recent camera frames
// described in component design §4.3: bounded storage across devices, with
// age and freshness queries used by the brain router and image-injection
// protocol.
package frame

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"
)

// Frame is one still image captured from a client device's camera.
type Frame struct {
	DeviceID  string
	Data      []byte // base64 JPEG payload as received from the client
	CaptureTs time.Time
}

// MarshalBinary encodes a Frame as captureTs(8) + deviceIDLen(2) + deviceID + dataLen(4) + data,
// following the length-prefixed convention used elsewhere in this codebase
// for binary ring-buffer payloads.
func (f Frame) MarshalBinary() ([]byte, error) {
	devID := []byte(f.DeviceID)
	buf := make([]byte, 8+2+len(devID)+4+len(f.Data))
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], uint64(f.CaptureTs.UnixNano()))
	off += 8
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(devID)))
	off += 2
	copy(buf[off:], devID)
	off += len(devID)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(f.Data)))
	off += 4
	copy(buf[off:], f.Data)
	return buf, nil
}

// UnmarshalBinary is the inverse of MarshalBinary.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < 8+2+4 {
		return errors.New("frame: truncated payload")
	}
	off := 0
	f.CaptureTs = time.Unix(0, int64(binary.LittleEndian.Uint64(data[off:])))
	off += 8
	devLen := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2
	if len(data[off:]) < devLen+4 {
		return errors.New("frame: truncated device id")
	}
	f.DeviceID = string(data[off : off+devLen])
	off += devLen
	dataLen := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	if len(data[off:]) < dataLen {
		return errors.New("frame: truncated image data")
	}
	f.Data = make([]byte, dataLen)
	copy(f.Data, data[off:off+dataLen])
	return nil
}

const defaultCapacity = 10

// Buffer holds the last N frames across one session's devices, plus a
// per-device "most recent" index for multi-angle aggregation. The
// insertion-ordered entries are also mirrored into a byte-ring backed by
// smallnest/ringbuffer using the length-prefixed binary convention, giving
// callers a Drain path that yields the mirrored frames in capture order.
// Drain holds the buffer's lock for the whole scan.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	entries  []Frame // bounded to capacity, oldest first
	latest   map[string]Frame
	byteRing *ringbuffer.RingBuffer
}

// New creates a frame Buffer bounded to the last N=capacity frames. If
// capacity <= 0, the spec default of 10 is used.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		latest:   make(map[string]Frame),
		// Sized generously for JPEG thumbnails; a single over-capacity
		// frame still degrades gracefully via the entries slice.
		byteRing: ringbuffer.New(capacity * 256 * 1024).SetBlocking(false),
	}
}

// Ingest stores a new frame, evicting the oldest entry if the buffer is at
// capacity.
func (b *Buffer) Ingest(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) >= b.capacity {
		b.entries = b.entries[1:]
	}
	b.entries = append(b.entries, f)
	b.latest[f.DeviceID] = f

	b.mirrorToRing(f)
}

// mirrorToRing pushes the frame into the byte ring, evicting the oldest
// ring-resident frame if there isn't room. Best-effort: a mirror failure
// never blocks ingestion of the authoritative entries slice.
func (b *Buffer) mirrorToRing(f Frame) {
	data, err := f.MarshalBinary()
	if err != nil {
		return
	}
	required := len(data) + 4
	if required > b.byteRing.Capacity() {
		return
	}
	for b.byteRing.Free() < required {
		if !b.dropOldestRingFrame() {
			b.byteRing.Reset()
			break
		}
	}
	sizeBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBytes, uint32(len(data)))
	if _, err := b.byteRing.Write(sizeBytes); err != nil {
		return
	}
	_, _ = b.byteRing.Write(data)
}

func (b *Buffer) dropOldestRingFrame() bool {
	if b.byteRing.IsEmpty() {
		return false
	}
	sizeBytes := make([]byte, 4)
	n, err := b.byteRing.Read(sizeBytes)
	if err != nil || n != 4 {
		return false
	}
	size := int(binary.LittleEndian.Uint32(sizeBytes))
	if size == 0 {
		return true
	}
	skip := make([]byte, size)
	n, err = b.byteRing.Read(skip)
	return err == nil && n == size
}

// Drain dequeues every frame currently mirrored in the byte ring, in
// capture order, without touching the authoritative entries slice.
func (b *Buffer) Drain() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Frame
	for !b.byteRing.IsEmpty() {
		sizeBytes := make([]byte, 4)
		n, err := b.byteRing.Read(sizeBytes)
		if err != nil || n != 4 {
			break
		}
		size := int(binary.LittleEndian.Uint32(sizeBytes))
		data := make([]byte, size)
		n, err = b.byteRing.Read(data)
		if err != nil || n != size {
			break
		}
		var f Frame
		if err := f.UnmarshalBinary(data); err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Freshest returns the newest frame whose age is within ageLimit, and true
// if one exists.
func (b *Buffer) Freshest(ageLimit time.Duration) (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for i := len(b.entries) - 1; i >= 0; i-- {
		if now.Sub(b.entries[i].CaptureTs) <= ageLimit {
			return b.entries[i], true
		}
	}
	return Frame{}, false
}

// PerDeviceLatest returns one frame per device: the most recent frame seen
// from each contributing device, for multi-angle aggregation.
func (b *Buffer) PerDeviceLatest() map[string]Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]Frame, len(b.latest))
	for k, v := range b.latest {
		out[k] = v
	}
	return out
}

// Len reports the number of frames currently held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
