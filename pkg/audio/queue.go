package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Output plays a single buffer. Play must block until the buffer has been
// played or ctx is cancelled, and must return promptly on cancellation.
type Output interface {
	Play(ctx context.Context, samples []float32) error
}

// Queue is a FIFO of inbound agent audio. Exactly one buffer plays at a
// time and the next starts as soon as the previous finishes.
type Queue struct {
	out    Output
	logger *slog.Logger

	mu       sync.Mutex
	idle     *sync.Cond
	pending  [][]float32
	playing  bool
	cancel   context.CancelFunc
	closed   bool
	wake     chan struct{}
	done     chan struct{}
	played   uint64
	flushed  uint64
	startOne sync.Once

	// Callbacks
	OnPlaybackStart func()
	OnPlaybackEnd   func()
}

// NewQueue creates a queue feeding out.
func NewQueue(out Output, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		out:    out,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Start launches the drain loop. It returns immediately; the loop exits
// when ctx is cancelled or Close is called.
func (q *Queue) Start(ctx context.Context) {
	q.startOne.Do(func() {
		go q.run(ctx)
	})
}

// Push appends a buffer. Empty buffers are ignored.
func (q *Queue) Push(samples []float32) {
	if len(samples) == 0 {
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, samples)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Flush drops every queued buffer and halts the one in flight. It returns
// once the output has stopped, so no stale audio plays after Flush.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.flushed += uint64(len(q.pending))
	q.pending = nil
	if q.cancel != nil {
		q.cancel()
	}
	for q.playing {
		q.idle.Wait()
	}
}

// Len returns the number of buffers waiting to play.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// IsPlaying reports whether a buffer is currently in flight.
func (q *Queue) IsPlaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Stats returns how many buffers played to completion and how many were
// dropped by Flush.
func (q *Queue) Stats() (played, flushed uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.played, q.flushed
}

// Close flushes the queue and stops the drain loop.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.Flush()
	close(q.done)
}

func (q *Queue) run(ctx context.Context) {
	for {
		buf, playCtx, ok := q.next(ctx)
		if !ok {
			select {
			case <-ctx.Done():
				q.Flush()
				return
			case <-q.done:
				return
			case <-q.wake:
				continue
			}
		}

		if q.OnPlaybackStart != nil {
			q.OnPlaybackStart()
		}

		err := q.out.Play(playCtx, buf)

		q.mu.Lock()
		interrupted := playCtx.Err() != nil
		q.cancel()
		q.cancel = nil
		q.playing = false
		if err == nil && !interrupted {
			q.played++
		}
		q.idle.Broadcast()
		q.mu.Unlock()

		if err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Warn("audio playback failed", "error", err)
		}
		if q.OnPlaybackEnd != nil {
			q.OnPlaybackEnd()
		}
	}
}

// next pops the head buffer and marks it in flight under the lock, so a
// concurrent Flush either drops it or cancels it.
func (q *Queue) next(ctx context.Context) ([]float32, context.Context, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.pending) == 0 {
		return nil, nil, false
	}

	buf := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]

	playCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.playing = true
	return buf, playCtx, true
}
