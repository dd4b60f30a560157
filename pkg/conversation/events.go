package conversation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/teslashibe/soulsmith/pkg/audio"
)

// Inbound message types.
const (
	TypeMetadata        = "conversation_initiation_metadata"
	TypeAudio           = "audio"
	TypeUserTranscript  = "user_transcript"
	TypeAgentResponse   = "agent_response"
	TypeAgentCorrection = "agent_response_correction"
	TypeInterruption    = "interruption"
	TypePing            = "ping"
	TypeError           = "error"
)

// Event is one inbound message from the agent. The concrete type is one of
// the *Event structs in this file; switch on it.
type Event interface {
	Type() string
}

// MetadataEvent is the handshake. It carries the remote conversation ID.
type MetadataEvent struct {
	ConversationID    string
	AgentOutputFormat string
	UserInputFormat   string
}

// OutputSampleRate returns the agent audio rate, or 0 if unknown.
func (e MetadataEvent) OutputSampleRate() int {
	return ParsePCMRate(e.AgentOutputFormat)
}

// AudioEvent is a chunk of agent speech.
type AudioEvent struct {
	EventID int
	Samples []int16
}

// UserTranscriptEvent is a live transcription of what the child said.
type UserTranscriptEvent struct {
	Text string
}

// AgentResponseEvent is the text of what the agent is saying.
type AgentResponseEvent struct {
	Text string
}

// AgentCorrectionEvent replaces an agent response truncated by an interruption.
type AgentCorrectionEvent struct {
	Original  string
	Corrected string
}

// InterruptionEvent means the child started talking over the agent.
type InterruptionEvent struct {
	EventID int
}

// PingEvent is a keep-alive. The channel answers it itself.
type PingEvent struct {
	EventID int
	PingMs  int
}

// ErrorEvent is an error reported by the agent platform.
type ErrorEvent struct {
	Code    string
	Message string
}

// Err returns the event as an *APIError.
func (e ErrorEvent) Err() error {
	return NewAPIError(0, e.Code, e.Message)
}

// UnknownEvent is any message type not listed above.
type UnknownEvent struct {
	Kind string
	Raw  json.RawMessage
}

func (MetadataEvent) Type() string        { return TypeMetadata }
func (AudioEvent) Type() string           { return TypeAudio }
func (UserTranscriptEvent) Type() string  { return TypeUserTranscript }
func (AgentResponseEvent) Type() string   { return TypeAgentResponse }
func (AgentCorrectionEvent) Type() string { return TypeAgentCorrection }
func (InterruptionEvent) Type() string    { return TypeInterruption }
func (PingEvent) Type() string            { return TypePing }
func (ErrorEvent) Type() string           { return TypeError }
func (e UnknownEvent) Type() string       { return e.Kind }

// wire shapes

type incoming struct {
	Type string `json:"type"`

	Metadata *struct {
		ConversationID    string `json:"conversation_id"`
		AgentOutputFormat string `json:"agent_output_audio_format"`
		UserInputFormat   string `json:"user_input_audio_format"`
	} `json:"conversation_initiation_metadata_event"`

	AudioEvent *struct {
		EventID     int    `json:"event_id"`
		AudioBase64 string `json:"audio_base_64"`
		Audio       string `json:"audio"`
	} `json:"audio_event"`

	UserTranscription *struct {
		UserTranscript *string `json:"user_transcript"`
	} `json:"user_transcription_event"`

	AgentResponse *struct {
		AgentResponse *string `json:"agent_response"`
	} `json:"agent_response_event"`

	AgentCorrection *struct {
		Original  string `json:"original_agent_response"`
		Corrected string `json:"corrected_agent_response"`
	} `json:"agent_response_correction_event"`

	Interruption *struct {
		EventID int `json:"event_id"`
	} `json:"interruption_event"`

	PingEvent *struct {
		EventID int `json:"event_id"`
		PingMs  int `json:"ping_ms"`
	} `json:"ping_event"`

	Code    string `json:"code"`
	Message string `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error_event"`
}

func invalid(typ, detail string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidMessage, typ, detail)
}

// DecodeEvent parses and validates one text frame. Known types with
// missing or malformed required fields yield ErrInvalidMessage; unknown
// types decode to UnknownEvent.
func DecodeEvent(data []byte) (Event, error) {
	var msg incoming
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Type == "" {
		return nil, invalid("(none)", "missing type")
	}

	switch msg.Type {
	case TypeMetadata:
		if msg.Metadata == nil || msg.Metadata.ConversationID == "" {
			return nil, invalid(msg.Type, "missing conversation_id")
		}
		return MetadataEvent{
			ConversationID:    msg.Metadata.ConversationID,
			AgentOutputFormat: msg.Metadata.AgentOutputFormat,
			UserInputFormat:   msg.Metadata.UserInputFormat,
		}, nil

	case TypeAudio:
		if msg.AudioEvent == nil {
			return nil, invalid(msg.Type, "missing audio_event")
		}
		payload := msg.AudioEvent.AudioBase64
		if payload == "" {
			payload = msg.AudioEvent.Audio
		}
		if payload == "" {
			return nil, invalid(msg.Type, "missing audio payload")
		}
		samples, err := audio.DecodeFrame(payload)
		if err != nil {
			return nil, invalid(msg.Type, err.Error())
		}
		return AudioEvent{EventID: msg.AudioEvent.EventID, Samples: samples}, nil

	case TypeUserTranscript:
		if msg.UserTranscription == nil || msg.UserTranscription.UserTranscript == nil {
			return nil, invalid(msg.Type, "missing user_transcript")
		}
		return UserTranscriptEvent{Text: *msg.UserTranscription.UserTranscript}, nil

	case TypeAgentResponse:
		if msg.AgentResponse == nil || msg.AgentResponse.AgentResponse == nil {
			return nil, invalid(msg.Type, "missing agent_response")
		}
		return AgentResponseEvent{Text: *msg.AgentResponse.AgentResponse}, nil

	case TypeAgentCorrection:
		if msg.AgentCorrection == nil {
			return nil, invalid(msg.Type, "missing agent_response_correction_event")
		}
		return AgentCorrectionEvent{
			Original:  msg.AgentCorrection.Original,
			Corrected: msg.AgentCorrection.Corrected,
		}, nil

	case TypeInterruption:
		ev := InterruptionEvent{}
		if msg.Interruption != nil {
			ev.EventID = msg.Interruption.EventID
		}
		return ev, nil

	case TypePing:
		if msg.PingEvent == nil {
			return nil, invalid(msg.Type, "missing ping_event")
		}
		return PingEvent{EventID: msg.PingEvent.EventID, PingMs: msg.PingEvent.PingMs}, nil

	case TypeError:
		ev := ErrorEvent{Code: msg.Code, Message: msg.Message}
		if msg.Error != nil {
			ev.Code, ev.Message = msg.Error.Code, msg.Error.Message
		}
		if ev.Message == "" {
			ev.Message = "unspecified error"
		}
		return ev, nil

	default:
		return UnknownEvent{Kind: msg.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

// ParsePCMRate extracts the rate from an audio format such as "pcm_16000".
// It returns 0 for anything that is not raw PCM.
func ParsePCMRate(format string) int {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0
	}
	return rate
}

// outbound shapes

type userAudioChunk struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

type pong struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}
