// Package transcript fetches and normalizes finished conversations.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned when a stored conversation cannot be turned
// into an ordered transcript.
var ErrMalformed = errors.New("transcript: malformed transcript")

// Speaker identifies who said an utterance.
type Speaker string

const (
	SpeakerAgent Speaker = "agent"
	SpeakerUser  Speaker = "user"
)

// ParseSpeaker maps a platform role to a Speaker.
func ParseSpeaker(role string) (Speaker, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "agent", "assistant", "ai":
		return SpeakerAgent, nil
	case "user", "child":
		return SpeakerUser, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrMalformed, role)
	}
}

// Utterance is one turn in a transcript.
type Utterance struct {
	Speaker  Speaker `json:"role"`
	Text     string  `json:"message"`
	Sequence int     `json:"sequence"`
}

// Transcript is an immutable, ordered list of utterances.
type Transcript struct {
	conversationID string
	utterances     []Utterance
}

// New builds a Transcript. Sequence numbers must be strictly increasing
// and every speaker must be known.
func New(conversationID string, utterances []Utterance) (*Transcript, error) {
	for i, u := range utterances {
		if u.Speaker != SpeakerAgent && u.Speaker != SpeakerUser {
			return nil, fmt.Errorf("%w: utterance %d has speaker %q", ErrMalformed, i, u.Speaker)
		}
		if i > 0 && u.Sequence <= utterances[i-1].Sequence {
			return nil, fmt.Errorf("%w: sequence %d does not follow %d", ErrMalformed, u.Sequence, utterances[i-1].Sequence)
		}
	}
	return &Transcript{
		conversationID: conversationID,
		utterances:     append([]Utterance(nil), utterances...),
	}, nil
}

// ConversationID returns the remote conversation the transcript came from.
func (t *Transcript) ConversationID() string {
	if t == nil {
		return ""
	}
	return t.conversationID
}

// Utterances returns a copy of all utterances in order.
func (t *Transcript) Utterances() []Utterance {
	if t == nil {
		return nil
	}
	return append([]Utterance(nil), t.utterances...)
}

// Len returns the number of utterances.
func (t *Transcript) Len() int {
	if t == nil {
		return 0
	}
	return len(t.utterances)
}

// By returns the utterances of one speaker, in order.
func (t *Transcript) By(s Speaker) []Utterance {
	if t == nil {
		return nil
	}
	var out []Utterance
	for _, u := range t.utterances {
		if u.Speaker == s {
			out = append(out, u)
		}
	}
	return out
}

// Texts returns the text of one speaker's utterances, in order.
func (t *Transcript) Texts(s Speaker) []string {
	var out []string
	for _, u := range t.By(s) {
		out = append(out, u.Text)
	}
	return out
}

// MarshalJSON renders the transcript the way the HTTP API serves it.
func (t *Transcript) MarshalJSON() ([]byte, error) {
	type entry struct {
		Role    Speaker `json:"role"`
		Message string  `json:"message"`
	}
	entries := make([]entry, 0, t.Len())
	for _, u := range t.Utterances() {
		entries = append(entries, entry{Role: u.Speaker, Message: u.Text})
	}
	return json.Marshal(struct {
		ConversationID string  `json:"conversation_id"`
		Transcript     []entry `json:"transcript"`
	}{t.ConversationID(), entries})
}

// String renders the transcript as "role: text" lines.
func (t *Transcript) String() string {
	var b strings.Builder
	for _, u := range t.Utterances() {
		fmt.Fprintf(&b, "%s: %s\n", u.Speaker, u.Text)
	}
	return b.String()
}
