package conversation

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errControlQueueFull = errors.New("conversation: control queue full")

type outFrame struct {
	messageType int
	data        []byte
}

// writer owns every write on a connection. Control frames (pong, close)
// jump ahead of queued audio.
type writer struct {
	conn    *websocket.Conn
	timeout time.Duration
	logger  *slog.Logger

	control chan outFrame
	data    chan outFrame
	quit    chan struct{}
	done    chan struct{}

	stopOnce sync.Once
	err      error // set before done is closed
}

func newWriter(conn *websocket.Conn, timeout time.Duration, buffer int, logger *slog.Logger) *writer {
	if buffer <= 0 {
		buffer = 64
	}
	return &writer{
		conn:    conn,
		timeout: timeout,
		logger:  logger,
		control: make(chan outFrame, 8),
		data:    make(chan outFrame, buffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (w *writer) run() {
	defer close(w.done)

	for {
		select {
		case f := <-w.control:
			if !w.write(f) {
				return
			}
			continue
		default:
		}

		select {
		case <-w.quit:
			return
		case f := <-w.control:
			if !w.write(f) {
				return
			}
		case f := <-w.data:
			if !w.write(f) {
				return
			}
		}
	}
}

func (w *writer) write(f outFrame) bool {
	deadline := time.Now().Add(w.timeout)

	var err error
	if f.messageType == websocket.CloseMessage {
		err = w.conn.WriteControl(websocket.CloseMessage, f.data, deadline)
	} else {
		_ = w.conn.SetWriteDeadline(deadline)
		err = w.conn.WriteMessage(f.messageType, f.data)
	}
	if err != nil {
		w.err = err
		w.logger.Debug("write failed", "error", err)
		return false
	}
	return true
}

// enqueue queues a data frame, blocking while the queue is full.
func (w *writer) enqueue(f outFrame) error {
	select {
	case <-w.done:
		return w.closedErr()
	default:
	}

	select {
	case w.data <- f:
		return nil
	case <-w.done:
		return w.closedErr()
	case <-w.quit:
		return ErrConnectionClosed
	}
}

// enqueueControl queues a control frame without blocking.
func (w *writer) enqueueControl(f outFrame) error {
	select {
	case <-w.done:
		return w.closedErr()
	default:
	}

	select {
	case w.control <- f:
		return nil
	default:
		return errControlQueueFull
	}
}

func (w *writer) closedErr() error {
	if w.err != nil {
		return errors.Join(ErrConnectionClosed, w.err)
	}
	return ErrConnectionClosed
}

func (w *writer) stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
	})
}
