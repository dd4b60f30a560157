package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/teslashibe/soulsmith/pkg/audio"
)

// MalgoSource captures mono PCM16 from the default input device.
type MalgoSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	mctx     *malgo.AllocatedContext
	device   *malgo.Device
	streamCh chan Chunk
	stopCh   chan struct{}
}

// NewMalgoSource creates a capture source. The device is opened by Start.
func NewMalgoSource(cfg Config, logger *slog.Logger) *MalgoSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MalgoSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan Chunk),
	}
}

// Start opens the input device and begins capture.
func (m *MalgoSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: init context: %v", ErrDeviceUnavailable, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(m.cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(m.cfg.BufferDuration.Milliseconds())

	streamCh := make(chan Chunk, 32)
	stopCh := make(chan struct{})
	rate := m.cfg.SampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			chunk := Chunk{
				Samples:    audio.PCM16ToFloat(audio.ConvertPCM16ToInt16(input)),
				SampleRate: rate,
				Captured:   time.Now(),
			}
			select {
			case <-stopCh:
			case streamCh <- chunk:
			default:
				m.logger.Debug("capture buffer full, dropping chunk")
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: init capture device: %v", ErrDeviceUnavailable, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: start capture device: %v", ErrDeviceUnavailable, err)
	}

	m.mctx = mctx
	m.device = device
	m.streamCh = streamCh
	m.stopCh = stopCh
	m.running = true

	go func() {
		select {
		case <-ctx.Done():
			m.Stop()
		case <-stopCh:
		}
	}()

	m.logger.Info("audio capture started", "sample_rate", rate)
	return nil
}

// Stop halts capture and releases the device.
func (m *MalgoSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	close(m.stopCh)

	var stopErr error
	if m.device != nil {
		stopErr = m.device.Stop()
		m.device.Uninit()
		m.device = nil
	}
	if m.mctx != nil {
		_ = m.mctx.Uninit()
		m.mctx.Free()
		m.mctx = nil
	}
	close(m.streamCh)

	m.logger.Info("audio capture stopped")
	if stopErr != nil {
		return fmt.Errorf("stop capture device: %w", stopErr)
	}
	return nil
}

// Stream returns the chunk channel.
func (m *MalgoSource) Stream() <-chan Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCh
}

// Config returns the audio configuration.
func (m *MalgoSource) Config() Config { return m.cfg }

// Name returns "malgo".
func (m *MalgoSource) Name() string { return "malgo" }

// Close stops capture. The source cannot be restarted afterwards.
func (m *MalgoSource) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Stop()
}

// MalgoSink plays mono PCM16 on the default output device. The device
// callback pulls from the buffer handed to Play and renders silence when
// nothing is pending.
type MalgoSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	mctx    *malgo.AllocatedContext
	device  *malgo.Device

	// current playback, guarded by mu
	pending []byte
	drained chan struct{}
}

// NewMalgoSink creates a playback sink. The device is opened by Start.
func NewMalgoSink(cfg Config, logger *slog.Logger) *MalgoSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MalgoSink{cfg: cfg, logger: logger}
}

// Start opens the output device.
func (s *MalgoSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: init context: %v", ErrDeviceUnavailable, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(s.cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(s.cfg.BufferDuration.Milliseconds())

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: s.render})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: init playback device: %v", ErrDeviceUnavailable, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: start playback device: %v", ErrDeviceUnavailable, err)
	}

	s.mctx = mctx
	s.device = device
	s.running = true
	s.logger.Info("audio playback started", "sample_rate", s.cfg.SampleRate)
	return nil
}

// render is the device callback.
func (s *MalgoSink) render(output, _ []byte, _ uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := copy(output, s.pending)
	for i := n; i < len(output); i++ {
		output[i] = 0
	}
	s.pending = s.pending[n:]

	if len(s.pending) == 0 && s.drained != nil {
		close(s.drained)
		s.drained = nil
	}
}

// Play hands samples to the device and waits until they are rendered.
func (s *MalgoSink) Play(ctx context.Context, samples []float32) error {
	done := make(chan struct{})

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return io.ErrClosedPipe
	}
	s.pending = audio.ConvertInt16ToPCM16(audio.FloatToPCM16(samples))
	s.drained = done
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		s.pending = nil
		s.drained = nil
		s.mu.Unlock()
		return ctx.Err()
	}
}

// Stop closes the output device.
func (s *MalgoSink) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	device, mctx := s.device, s.mctx
	s.device, s.mctx = nil, nil
	s.pending = nil
	if s.drained != nil {
		close(s.drained)
		s.drained = nil
	}
	s.mu.Unlock()

	// The callback takes mu, so the device is stopped outside the lock.
	var stopErr error
	if device != nil {
		stopErr = device.Stop()
		device.Uninit()
	}
	if mctx != nil {
		_ = mctx.Uninit()
		mctx.Free()
	}

	s.logger.Info("audio playback stopped")
	if stopErr != nil {
		return fmt.Errorf("stop playback device: %w", stopErr)
	}
	return nil
}

// Config returns the audio configuration.
func (s *MalgoSink) Config() Config { return s.cfg }

// Name returns "malgo".
func (s *MalgoSink) Name() string { return "malgo" }

// Close releases the device.
func (s *MalgoSink) Close() error { return s.Stop() }

var (
	_ Source = (*MalgoSource)(nil)
	_ Sink   = (*MalgoSink)(nil)
)
