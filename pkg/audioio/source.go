package audioio

import (
	"context"
	"io"
	"time"
)

// Chunk is a run of normalized float samples in [-1, 1].
type Chunk struct {
	Samples    []float32
	SampleRate int
	Captured   time.Time
}

// Duration returns the duration of this chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Source captures audio from a microphone.
type Source interface {
	// Start begins capture. Chunks arrive on Stream until Stop.
	Start(ctx context.Context) error

	// Stop halts capture and closes the stream.
	// It is safe to call Stop multiple times.
	Stop() error

	// Stream returns the chunk channel for the current capture run.
	Stream() <-chan Chunk

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name.
	Name() string

	// Close releases all resources.
	// After Close, the source cannot be restarted.
	io.Closer
}
