package audio

import (
	"sync"
)

// FrameBuffer re-chunks captured sample buffers into fixed-size frames.
// It is a thread-safe ring: writes beyond its capacity are dropped.
type FrameBuffer struct {
	buffer    []int16
	size      int
	frameSize int
	read      int
	write     int
	mu        sync.Mutex
}

// NewFrameBuffer creates a buffer holding up to capacity samples, handed out
// frameSize samples at a time
func NewFrameBuffer(capacity, frameSize int) *FrameBuffer {
	if frameSize <= 0 {
		frameSize = 1
	}
	if capacity < frameSize {
		capacity = frameSize
	}
	// one slot stays free to tell full from empty
	return &FrameBuffer{
		buffer:    make([]int16, capacity+1),
		size:      capacity + 1,
		frameSize: frameSize,
	}
}

// Write appends samples and returns how many fit
func (fb *FrameBuffer) Write(samples []int16) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	written := 0
	for _, s := range samples {
		if (fb.write+1)%fb.size == fb.read {
			break // Buffer full
		}
		fb.buffer[fb.write] = s
		fb.write = (fb.write + 1) % fb.size
		written++
	}
	return written
}

// Next returns the next complete frame, or false when less than a frame is buffered
func (fb *FrameBuffer) Next() ([]int16, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.available() < fb.frameSize {
		return nil, false
	}
	frame := make([]int16, fb.frameSize)
	for i := range frame {
		frame[i] = fb.buffer[fb.read]
		fb.read = (fb.read + 1) % fb.size
	}
	return frame, true
}

// Available returns the number of buffered samples
func (fb *FrameBuffer) Available() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.available()
}

func (fb *FrameBuffer) available() int {
	if fb.write >= fb.read {
		return fb.write - fb.read
	}
	return fb.size - fb.read + fb.write
}
