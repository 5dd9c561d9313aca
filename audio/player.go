// Package audio implements the voice side of a SympAI consultation:
// a FIFO playback pipeline for inbound assistant audio and a
// microphone recorder for outbound chunks.
package audio

import (
	"context"
	"log/slog"
	"sync"
)

// Sink plays one decoded PCM buffer, blocking until playback finishes
// or ctx is cancelled. The oto-backed sink is the default; tests
// substitute fakes.
type Sink interface {
	Play(ctx context.Context, pcm []byte) error
	Close() error
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithSink overrides the output device.
func WithSink(sink Sink) PlayerOption {
	return func(p *Player) { p.sink = sink }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) PlayerOption {
	return func(p *Player) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithSampleRate sets the playback sample rate used for raw PCM
// chunks. Defaults to 24000.
func WithSampleRate(rate int) PlayerOption {
	return func(p *Player) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// Player queues decoded audio buffers and plays them back strictly in
// order, one at a time, on a single worker goroutine. A failed decode
// or a failed playback never stalls the queue.
type Player struct {
	sampleRate int
	sink       Sink
	logger     *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    [][]byte
	speaking bool
	closed   bool
	cancel   context.CancelFunc // cancels the in-flight playback, if any

	done chan struct{}
}

// NewPlayer constructs a Player and starts its playback worker. The
// underlying output device is created lazily on first playback.
func NewPlayer(opts ...PlayerOption) *Player {
	p := &Player{
		sampleRate: 24000,
		logger:     slog.Default(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sink == nil {
		p.sink = newOtoSink(p.sampleRate)
	}
	p.cond = sync.NewCond(&p.mu)
	go p.playLoop()
	return p
}

// Enqueue decodes a binary chunk and appends it to the playback queue.
// Decode failures are logged and skipped.
func (p *Player) Enqueue(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	pcm, err := Decode(chunk)
	if err != nil {
		p.logger.Warn("skipping undecodable audio chunk", "size", len(chunk), "err", err)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, pcm)
	p.mu.Unlock()
	p.cond.Signal()
}

// Reset stops the current playback and discards the queue.
func (p *Player) Reset() {
	p.mu.Lock()
	p.queue = nil
	p.speaking = false
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	p.cond.Signal()
}

// Speaking reports whether a buffer is actively playing.
func (p *Player) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

// QueueLen returns the number of buffers waiting behind the one that
// is playing.
func (p *Player) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close stops the worker and releases the output device.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.queue = nil
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	p.cond.Broadcast()

	<-p.done
	return p.sink.Close()
}

// playLoop is the single scheduler for playback: it pops the queue
// head, plays it to completion and moves on. Playback failures log and
// advance.
func (p *Player) playLoop() {
	defer close(p.done)

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		pcm := p.queue[0]
		p.queue = p.queue[1:]

		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		p.speaking = true
		p.mu.Unlock()

		err := p.sink.Play(ctx, pcm)

		p.mu.Lock()
		p.speaking = false
		p.cancel = nil
		p.mu.Unlock()
		cancel()

		if err != nil && ctx.Err() == nil {
			p.logger.Warn("audio playback failed", "err", err)
		}
	}
}
