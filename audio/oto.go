package audio

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// otoSink drives the system output device through oto. The oto context
// is created once, on the first playback, and reused for the sink's
// lifetime.
type otoSink struct {
	sampleRate int

	initOnce sync.Once
	initErr  error
	ctx      *oto.Context
}

func newOtoSink(sampleRate int) *otoSink {
	return &otoSink{sampleRate: sampleRate}
}

func (s *otoSink) ensureContext() (*oto.Context, error) {
	s.initOnce.Do(func() {
		otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   s.sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			s.initErr = fmt.Errorf("init audio output: %w", err)
			return
		}
		<-ready
		s.ctx = otoCtx
	})
	return s.ctx, s.initErr
}

// Play blocks until the buffer finishes or ctx is cancelled.
func (s *otoSink) Play(ctx context.Context, pcm []byte) error {
	otoCtx, err := s.ensureContext()
	if err != nil {
		return err
	}

	// The context suspends when the OS reclaims the device; resume
	// before every playback.
	_ = otoCtx.Resume()

	player := otoCtx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (s *otoSink) Close() error {
	if s.ctx != nil {
		return s.ctx.Suspend()
	}
	return nil
}
