package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog/log"
)

const framesPerBuffer = 1024

// ErrNoInputDevice is returned when the host has no microphone
var ErrNoInputDevice = errors.New("no audio input device")

// Init initializes PortAudio. Call Terminate when done.
func Init() error {
	return portaudio.Initialize()
}

// Terminate releases PortAudio
func Terminate() {
	if err := portaudio.Terminate(); err != nil {
		log.Warn().Err(err).Msg("Error terminating PortAudio")
	}
}

// HasInputDevice reports whether a default microphone is available.
// PortAudio must be initialized.
func HasInputDevice() bool {
	dev, err := portaudio.DefaultInputDevice()
	return err == nil && dev != nil && dev.MaxInputChannels > 0
}

// Microphone captures mono 16-bit audio from the default input device
type Microphone struct {
	sampleRate int

	mu     sync.Mutex
	stream *portaudio.Stream
	buffer []int16
}

// NewMicrophone creates a microphone capturing at sampleRate
func NewMicrophone(sampleRate int) *Microphone {
	return &Microphone{sampleRate: sampleRate}
}

// SampleRate returns the capture rate
func (m *Microphone) SampleRate() int {
	return m.sampleRate
}

// Open starts capturing
func (m *Microphone) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil {
		return nil
	}
	m.buffer = make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), len(m.buffer), &m.buffer)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start input stream: %w", err)
	}
	m.stream = stream
	log.Debug().Int("sample_rate", m.sampleRate).Msg("Microphone opened")
	return nil
}

// Read blocks until the next buffer of samples is captured
func (m *Microphone) Read() ([]int16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return nil, errors.New("microphone is not open")
	}
	if err := m.stream.Read(); err != nil {
		return nil, fmt.Errorf("read input stream: %w", err)
	}
	frame := make([]int16, len(m.buffer))
	copy(frame, m.buffer)
	return frame, nil
}

// Close stops capturing. It is safe to call more than once.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return nil
	}
	_ = m.stream.Stop()
	err := m.stream.Close()
	m.stream = nil
	return err
}

// Source is anything that yields captured sample buffers
type Source interface {
	Open() error
	Read() ([]int16, error)
	Close() error
}

// Record captures from src for up to d, or until ctx is done
func Record(ctx context.Context, src Source, d time.Duration) ([]int16, error) {
	if err := src.Open(); err != nil {
		return nil, err
	}
	defer src.Close()

	deadline := time.Now().Add(d)
	var samples []int16
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			break
		}
		frame, err := src.Read()
		if err != nil {
			return samples, err
		}
		samples = append(samples, frame...)
	}
	return samples, nil
}
