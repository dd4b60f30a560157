package audioio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestMockSource_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil)
	defer src.Close()

	ctx := context.Background()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Starting again should be a no-op
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	if src.Starts() != 1 {
		t.Errorf("Starts = %d, want 1", src.Starts())
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// Stopping again should be a no-op
	if err := src.Stop(); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}
	if src.Running() {
		t.Error("source still running after Stop")
	}
}

func TestMockSource_Stream(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stream := src.Stream()
	chunkCount := 0
	for range stream {
		chunkCount++
	}

	// The stream closes when ctx expires.
	if chunkCount < 3 {
		t.Errorf("Expected at least 3 chunks in 100ms, got %d", chunkCount)
	}
}

func TestMockSource_SineWave(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil, WithSineWave(440, 0.5))
	defer src.Close()

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case chunk := <-src.Stream():
		if len(chunk.Samples) != cfg.BufferSize() {
			t.Errorf("Expected %d samples, got %d", cfg.BufferSize(), len(chunk.Samples))
		}
		hasNonZero := false
		for _, s := range chunk.Samples {
			if s < -1 || s > 1 {
				t.Fatalf("sample %v out of range", s)
			}
			if s != 0 {
				hasNonZero = true
			}
		}
		if !hasNonZero {
			t.Error("Expected non-zero samples from sine wave generator")
		}
	case <-time.After(time.Second):
		t.Fatal("no chunk generated")
	}
}

func TestMockSource_Feed(t *testing.T) {
	src := NewMockSource(DefaultConfig(), nil, WithoutGenerator())
	defer src.Close()

	if src.Feed([]float32{0.1}) {
		t.Error("Feed should fail before Start")
	}
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !src.Feed([]float32{0.1, 0.2}) {
		t.Fatal("Feed failed on running source")
	}

	chunk := <-src.Stream()
	if len(chunk.Samples) != 2 || chunk.Samples[1] != 0.2 {
		t.Errorf("unexpected chunk %v", chunk.Samples)
	}
	if src.ChunksRead() != 1 {
		t.Errorf("ChunksRead = %d, want 1", src.ChunksRead())
	}
}

func TestMockSource_StartError(t *testing.T) {
	denied := errors.New("permission denied")
	src := NewMockSource(DefaultConfig(), nil, WithStartError(denied))

	if err := src.Start(context.Background()); !errors.Is(err, denied) {
		t.Errorf("Start error = %v, want %v", err, denied)
	}
}

func TestMockSource_Close(t *testing.T) {
	src := NewMockSource(DefaultConfig(), nil)

	ctx := context.Background()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := src.Start(ctx); err != io.ErrClosedPipe {
		t.Errorf("Expected ErrClosedPipe after close, got: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
}

func TestMockSink_Play(t *testing.T) {
	sink := NewMockSink(DefaultConfig(), nil)
	sink.Speed = 0
	defer sink.Close()

	ctx := context.Background()

	if err := sink.Play(ctx, []float32{0.1}); err == nil {
		t.Error("Expected error when playing to non-running sink")
	}

	if err := sink.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sink.Play(ctx, []float32{0.1, 0.2}); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if got := len(sink.Played()); got != 1 {
		t.Errorf("Played %d buffers, want 1", got)
	}
}

func TestMockSink_PlayCancelled(t *testing.T) {
	sink := NewMockSink(DefaultConfig(), nil)
	sink.Speed = 1
	defer sink.Close()

	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// One second of audio at real speed.
	err := sink.Play(ctx, make([]float32, 16000))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Play error = %v, want deadline exceeded", err)
	}
	if sink.Interrupted() != 1 {
		t.Errorf("Interrupted = %d, want 1", sink.Interrupted())
	}
	if len(sink.Played()) != 0 {
		t.Error("cancelled buffer should not be recorded as played")
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.BufferSize() != 320 {
		t.Errorf("BufferSize = %d, want 320", cfg.BufferSize())
	}

	cfg.SampleRate = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"", BackendAuto, false},
		{"auto", BackendAuto, false},
		{"malgo", BackendMalgo, false},
		{"mock", BackendMock, false},
		{"alsa", "", true},
	}

	for _, tt := range tests {
		got, err := ParseBackend(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBackend(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseBackend(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewSource_Mock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock

	src, err := NewSource(cfg, nil)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	if src.Name() != "mock" {
		t.Errorf("Name = %q, want mock", src.Name())
	}

	sink, err := NewSink(cfg, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if sink.Name() != "mock" {
		t.Errorf("Name = %q, want mock", sink.Name())
	}
}
