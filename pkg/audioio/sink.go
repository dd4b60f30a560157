package audioio

import (
	"context"
	"io"
)

// Sink plays audio to a speaker.
type Sink interface {
	// Start opens the output device.
	Start(ctx context.Context) error

	// Stop closes the output device.
	// It is safe to call Stop multiple times.
	Stop() error

	// Play plays samples and blocks until they have been rendered or ctx
	// is cancelled. On cancellation any unplayed audio is discarded.
	Play(ctx context.Context, samples []float32) error

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name.
	Name() string

	// Close releases all resources.
	io.Closer
}
