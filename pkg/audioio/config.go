// Package audioio provides microphone capture and speaker playback.
//
// Two backends are available:
//   - malgo (miniaudio) for real devices on Linux, macOS and Windows
//   - mock for CI and headless runs
//
// The backend is chosen by Config.Backend; "auto" picks malgo.
package audioio

import (
	"errors"
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendMalgo uses miniaudio through gen2brain/malgo.
	BackendMalgo Backend = "malgo"
	// BackendMock uses a synthetic implementation for testing.
	BackendMock Backend = "mock"
)

// ErrDeviceUnavailable is returned when the capture or playback device
// cannot be opened, typically because access was denied.
var ErrDeviceUnavailable = errors.New("audioio: device unavailable")

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 16000 (the conversation channel's PCM rate)
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels. Only mono is used.
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the device period.
	// Default: 20ms
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
	}
}

// ParseBackend converts a string to a Backend, defaulting to auto.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case "", BackendAuto:
		return BackendAuto, nil
	case BackendMalgo, BackendMock:
		return Backend(s), nil
	default:
		return "", fmt.Errorf("unknown audio backend %q", s)
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of frames per device period.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}
