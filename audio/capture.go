package audio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Recorder captures microphone audio as 16-bit PCM and hands chunks to
// a callback, ready for streaming over the realtime channel.
type Recorder struct {
	sampleRate int
	frames     int
	onChunk    func([]byte)

	mu        sync.Mutex
	stream    *portaudio.Stream
	recording bool
}

// NewRecorder creates a Recorder delivering chunks of frames samples
// at the given rate. onChunk is called from the audio callback; it
// must not block.
func NewRecorder(sampleRate, frames int, onChunk func([]byte)) *Recorder {
	if frames <= 0 {
		frames = 512
	}
	return &Recorder{
		sampleRate: sampleRate,
		frames:     frames,
		onChunk:    onChunk,
	}
}

// Start opens the default input device and begins capture.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != nil {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("init audio input: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(
		1, // mono input
		0,
		float64(r.sampleRate),
		r.frames,
		func(in []int16) {
			r.mu.Lock()
			active := r.recording
			r.mu.Unlock()
			if !active || r.onChunk == nil {
				return
			}
			chunk := make([]byte, len(in)*2)
			for i, sample := range in {
				binary.LittleEndian.PutUint16(chunk[i*2:], uint16(sample))
			}
			r.onChunk(chunk)
		},
	)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("open microphone: %w", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("start microphone: %w", err)
	}

	r.stream = stream
	r.recording = true
	return nil
}

// Stop ends capture and releases the device.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	stream := r.stream
	r.stream = nil
	r.recording = false
	r.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Stop(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("stop microphone: %w", err)
	}
	if err := stream.Close(); err != nil {
		_ = portaudio.Terminate()
		return err
	}
	return portaudio.Terminate()
}
