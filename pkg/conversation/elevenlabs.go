package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/soulsmith/pkg/audio"
)

// ElevenLabs is a Channel to the ElevenLabs Agents Platform.
type ElevenLabs struct {
	config *Config
	logger *slog.Logger

	mu          sync.RWMutex
	conn        *websocket.Conn
	writer      *writer
	state       ConnectionState
	used        bool
	connectedAt time.Time
	closeTimer  *time.Timer

	// Callbacks
	onEvent func(Event)
	onClose func(CloseInfo)

	local     atomic.Bool
	closeOnce sync.Once

	// Atomic counters for metrics
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	audioFramesSent  atomic.Int64
	invalidMessages  atomic.Int64
}

// NewElevenLabs creates a new, unconnected channel.
func NewElevenLabs(opts ...Option) *ElevenLabs {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &ElevenLabs{
		config: cfg,
		logger: cfg.Logger.With("component", "conversation.elevenlabs"),
		state:  StateDisconnected,
	}
}

// Connect dials the signed conversation URL and starts the read and write
// loops. A channel can be connected only once.
func (e *ElevenLabs) Connect(ctx context.Context, signedURL string) error {
	if signedURL == "" {
		return ErrMissingSignedURL
	}

	e.mu.Lock()
	if e.used {
		e.mu.Unlock()
		return ErrAlreadyConnected
	}
	e.used = true
	e.state = StateConnecting
	e.mu.Unlock()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: e.config.Timeout,
	}

	e.logger.Info("connecting to ElevenLabs Agents Platform")

	conn, resp, err := dialer.DialContext(ctx, signedURL, nil)
	if err != nil {
		e.mu.Lock()
		e.state = StateDisconnected
		e.mu.Unlock()
		if resp != nil {
			return NewConnectionError(
				fmt.Sprintf("dial failed with status %d", resp.StatusCode),
				err,
			)
		}
		return NewConnectionError("dial failed", err)
	}

	w := newWriter(conn, e.config.WriteTimeout, e.config.OutboundBuffer, e.logger)

	e.mu.Lock()
	e.conn = conn
	e.writer = w
	e.state = StateConnected
	e.connectedAt = time.Now()
	e.mu.Unlock()

	go w.run()
	go e.readLoop(conn)

	e.logger.Info("connected to ElevenLabs Agents Platform")
	return nil
}

// Close sends a normal close frame. The socket is torn down when the
// remote echo arrives or CloseTimeout passes, whichever is first.
func (e *ElevenLabs) Close() error {
	e.mu.Lock()
	if e.state != StateConnected {
		e.mu.Unlock()
		return nil
	}
	e.state = StateClosing
	conn, w := e.conn, e.writer
	e.local.Store(true)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := w.enqueueControl(outFrame{messageType: websocket.CloseMessage, data: msg}); err != nil {
		e.mu.Unlock()
		e.logger.Debug("close frame not queued, closing socket", "error", err)
		return conn.Close()
	}
	e.closeTimer = time.AfterFunc(e.config.CloseTimeout, func() {
		_ = conn.Close()
	})
	e.mu.Unlock()

	e.logger.Info("closing conversation channel")
	return nil
}

// IsConnected returns true while the link is up.
func (e *ElevenLabs) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == StateConnected
}

// State returns the current connection state.
func (e *ElevenLabs) State() ConnectionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// SendAudio queues a frame of PCM16 as a user_audio_chunk message.
func (e *ElevenLabs) SendAudio(samples []int16) error {
	e.mu.RLock()
	w, state := e.writer, e.state
	e.mu.RUnlock()

	switch state {
	case StateConnected:
	case StateClosing:
		return ErrConnectionClosed
	default:
		return ErrNotConnected
	}

	data, err := json.Marshal(userAudioChunk{UserAudioChunk: audio.EncodeFrame(samples)})
	if err != nil {
		return fmt.Errorf("conversation.elevenlabs: marshal failed: %w", err)
	}

	if err := w.enqueue(outFrame{messageType: websocket.TextMessage, data: data}); err != nil {
		return NewConnectionError("send audio failed", err)
	}

	e.messagesSent.Add(1)
	e.audioFramesSent.Add(1)
	return nil
}

// OnEvent sets the inbound event callback.
func (e *ElevenLabs) OnEvent(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEvent = fn
}

// OnClose sets the close callback.
func (e *ElevenLabs) OnClose(fn func(CloseInfo)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onClose = fn
}

// Metrics returns connection statistics.
func (e *ElevenLabs) Metrics() Metrics {
	e.mu.RLock()
	connectedAt := e.connectedAt
	e.mu.RUnlock()

	return Metrics{
		ConnectionTime:   connectedAt,
		MessagesSent:     e.messagesSent.Load(),
		MessagesReceived: e.messagesReceived.Load(),
		AudioFramesSent:  e.audioFramesSent.Load(),
		InvalidMessages:  e.invalidMessages.Load(),
	}
}

func (e *ElevenLabs) readLoop(conn *websocket.Conn) {
	for {
		if e.config.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(e.config.ReadTimeout))
		}

		mt, data, err := conn.ReadMessage()
		if err != nil {
			e.finish(closeInfoFrom(err, e.local.Load()))
			return
		}

		e.messagesReceived.Add(1)

		var ev Event
		if mt == websocket.BinaryMessage {
			ev = AudioEvent{Samples: audio.ConvertPCM16ToInt16(data)}
		} else {
			ev, err = DecodeEvent(data)
			if err != nil {
				e.invalidMessages.Add(1)
				e.logger.Warn("dropping invalid message", "error", err)
				continue
			}
		}

		if p, ok := ev.(PingEvent); ok {
			e.sendPong(p.EventID)
		}

		e.emit(ev)
	}
}

func (e *ElevenLabs) sendPong(eventID int) {
	e.mu.RLock()
	w := e.writer
	e.mu.RUnlock()

	data, _ := json.Marshal(pong{Type: "pong", EventID: eventID})
	if err := w.enqueueControl(outFrame{messageType: websocket.TextMessage, data: data}); err != nil {
		e.logger.Debug("pong not sent", "event_id", eventID, "error", err)
		return
	}
	e.messagesSent.Add(1)
}

func (e *ElevenLabs) emit(ev Event) {
	e.mu.RLock()
	fn := e.onEvent
	e.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// finish tears the link down and fires the close callback once.
func (e *ElevenLabs) finish(info CloseInfo) {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.state = StateDisconnected
		conn, w, timer := e.conn, e.writer, e.closeTimer
		fn := e.onClose
		e.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		w.stop()
		_ = conn.Close()

		e.logger.Info("conversation channel closed",
			"code", info.Code,
			"local", info.Local,
			"error", info.Err,
		)

		if fn != nil {
			fn(info)
		}
	})
}

func closeInfoFrom(err error, local bool) CloseInfo {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return CloseInfo{Code: ce.Code, Reason: ce.Text, Local: local}
	}
	return CloseInfo{Code: CloseAbnormal, Local: local, Err: err}
}

// Ensure ElevenLabs implements Channel.
var _ Channel = (*ElevenLabs)(nil)
