package conversation

import (
	"context"
	"sync"
)

// Mock is a mock implementation of Channel for testing.
type Mock struct {
	mu sync.RWMutex

	// State
	connected bool
	closed    bool

	// Callbacks
	onEvent func(Event)
	onClose func(CloseInfo)

	// Configurable behavior
	ConnectFunc   func(ctx context.Context, signedURL string) error
	SendAudioFunc func(samples []int16) error

	// EchoClose makes Close fire the close callback with code 1000, as the
	// real platform echoes a normal close.
	EchoClose bool

	// Captured calls for assertions
	SignedURL   string
	AudioSent   [][]int16
	CloseCalled int
}

// NewMock creates a new Mock channel that echoes closes.
func NewMock() *Mock {
	return &Mock{EchoClose: true}
}

// Connect implements Channel.
func (m *Mock) Connect(ctx context.Context, signedURL string) error {
	if m.ConnectFunc != nil {
		if err := m.ConnectFunc(ctx, signedURL); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected || m.closed {
		return ErrAlreadyConnected
	}
	m.connected = true
	m.SignedURL = signedURL
	return nil
}

// Close implements Channel.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.CloseCalled++
	wasConnected := m.connected
	echo := m.EchoClose
	m.mu.Unlock()

	if wasConnected && echo {
		m.SimulateClose(CloseInfo{Code: CloseNormal, Local: true})
	}
	return nil
}

// IsConnected implements Channel.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// SendAudio implements Channel.
func (m *Mock) SendAudio(samples []int16) error {
	if m.SendAudioFunc != nil {
		return m.SendAudioFunc(samples)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.AudioSent = append(m.AudioSent, samples)
	return nil
}

// OnEvent implements Channel.
func (m *Mock) OnEvent(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = fn
}

// OnClose implements Channel.
func (m *Mock) OnClose(fn func(CloseInfo)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = fn
}

// Test helpers

// SimulateEvent triggers the OnEvent callback.
func (m *Mock) SimulateEvent(ev Event) {
	m.mu.RLock()
	fn := m.onEvent
	m.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// SimulateMetadata delivers the handshake for conversationID.
func (m *Mock) SimulateMetadata(conversationID string) {
	m.SimulateEvent(MetadataEvent{
		ConversationID:    conversationID,
		AgentOutputFormat: "pcm_16000",
		UserInputFormat:   "pcm_16000",
	})
}

// SimulateAudio delivers a chunk of agent audio.
func (m *Mock) SimulateAudio(samples []int16) {
	m.SimulateEvent(AudioEvent{Samples: samples})
}

// SimulateInterruption delivers an interruption.
func (m *Mock) SimulateInterruption() {
	m.SimulateEvent(InterruptionEvent{})
}

// SimulateClose ends the link and triggers the OnClose callback once.
func (m *Mock) SimulateClose(info CloseInfo) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.connected = false
	fn := m.onClose
	m.mu.Unlock()

	if fn != nil {
		fn(info)
	}
}

// FramesSent returns how many audio frames were sent.
func (m *Mock) FramesSent() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.AudioSent)
}

// Closes returns how many times Close was called.
func (m *Mock) Closes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CloseCalled
}

// Ensure Mock implements Channel.
var _ Channel = (*Mock)(nil)
