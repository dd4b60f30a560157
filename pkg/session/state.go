package session

import (
	"fmt"
	"strings"
)

// State is a session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateEnding
	StateCompleted
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateConnecting: "connecting",
	StateActive:     "active",
	StateEnding:     "ending",
	StateCompleted:  "completed",
	StateFailed:     "failed",
}

// String returns the lowercase state name.
func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible without Reset.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// transitions lists the legal forward moves. Reset to Idle is allowed from
// every state and is not listed.
var transitions = map[State][]State{
	StateIdle:       {StateConnecting},
	StateConnecting: {StateActive, StateEnding, StateFailed},
	StateActive:     {StateEnding, StateFailed},
	StateEnding:     {StateCompleted},
}

// CanTransition reports whether s may move to next.
func (s State) CanTransition(next State) bool {
	if next == StateIdle {
		return true
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// EndReason records why a session ended.
type EndReason string

const (
	EndNone              EndReason = ""
	EndUserRequested     EndReason = "user_requested"
	EndRemoteNormalClose EndReason = "remote_normal_close"
	EndError             EndReason = "error"
)

// Phase selects which agent a session talks to.
type Phase string

const (
	PhaseIntro Phase = "intro"
	PhaseStory Phase = "story"
)

// ParsePhase parses "intro" or "story". An empty string means intro.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "intro":
		return PhaseIntro, nil
	case "story", "adventure":
		return PhaseStory, nil
	default:
		return "", fmt.Errorf("session: unknown phase %q", s)
	}
}
