// Package hub fans session status out to websocket clients with the
// channel-based broadcast pattern: one goroutine owns the client set and
// each client has its own buffered send queue and write pump.
package hub

import (
	"encoding/json"
	"time"
)

// Event types sent to clients.
const (
	EventState   = "session_state"
	EventReport  = "report_ready"
	EventWelcome = "welcome"
)

// Message is one pre-encoded JSON frame.
type Message struct {
	Data []byte
}

// Envelope is the JSON shape of every frame.
type Envelope struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Encode wraps data in an Envelope of the given type.
func Encode(eventType string, data any) (Message, error) {
	b, err := json.Marshal(Envelope{Type: eventType, Time: time.Now().UTC(), Data: data})
	if err != nil {
		return Message{}, err
	}
	return Message{Data: b}, nil
}
