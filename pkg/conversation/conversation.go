// Package conversation provides the duplex voice channel to the ElevenLabs
// Agents Platform and its REST companion API.
//
// A Channel carries base64 PCM16 user audio out and a stream of typed
// Events in. Each Channel is single use: Connect once, Close once.
//
// Usage:
//
//	api := conversation.NewAPIClient(conversation.WithAPIKey(key))
//	url, _ := api.GetSignedURL(ctx, agentID)
//
//	ch := conversation.NewElevenLabs()
//	ch.OnEvent(func(ev conversation.Event) { ... })
//	ch.OnClose(func(info conversation.CloseInfo) { ... })
//	if err := ch.Connect(ctx, url); err != nil { ... }
//	ch.SendAudio(samples)
package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Channel is a duplex link to a live agent conversation.
type Channel interface {
	// Connect dials the signed conversation URL.
	Connect(ctx context.Context, signedURL string) error

	// SendAudio queues one frame of 16-bit PCM for the agent.
	SendAudio(samples []int16) error

	// Close asks the remote end to close normally. It does not block;
	// the close callback fires once the link is down.
	Close() error

	// IsConnected returns true while the link is up.
	IsConnected() bool

	// OnEvent sets the inbound event callback. It runs on the read loop
	// and must not block.
	OnEvent(fn func(Event))

	// OnClose sets the callback fired exactly once when the link ends.
	OnClose(fn func(CloseInfo))
}

// ConnectionState represents the WebSocket connection state.
type ConnectionState int

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates connection is being established.
	StateConnecting
	// StateConnected indicates an active connection.
	StateConnected
	// StateClosing indicates a close frame was sent and the echo is pending.
	StateClosing
)

// String returns a human-readable connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Close codes surfaced in CloseInfo.
const (
	CloseNormal   = websocket.CloseNormalClosure
	CloseAbnormal = websocket.CloseAbnormalClosure
)

// CloseInfo describes how a channel ended.
type CloseInfo struct {
	// Code is the WebSocket close code. Reads that fail without a close
	// frame report CloseAbnormal.
	Code int

	// Reason is the close frame text, if any.
	Reason string

	// Local is true when this side initiated the close.
	Local bool

	// Err is the read error that ended the link, if it was not a close frame.
	Err error
}

// Normal reports whether the link closed with code 1000.
func (c CloseInfo) Normal() bool {
	return c.Code == CloseNormal
}

func (c CloseInfo) String() string {
	if c.Err != nil {
		return fmt.Sprintf("close %d: %v", c.Code, c.Err)
	}
	return fmt.Sprintf("close %d %q", c.Code, c.Reason)
}

// Metrics tracks connection and usage statistics.
type Metrics struct {
	// ConnectionTime is when the connection was established.
	ConnectionTime time.Time

	// MessagesSent is the total messages sent.
	MessagesSent int64

	// MessagesReceived is the total messages received.
	MessagesReceived int64

	// AudioFramesSent is the number of user audio chunks sent.
	AudioFramesSent int64

	// InvalidMessages is the number of inbound messages that failed validation.
	InvalidMessages int64
}
