// Package app wires SoulSmith together: the conversation client, audio
// devices, session controller, analytics and the HTTP API.
package app

import (
	"time"

	"github.com/teslashibe/soulsmith/internal/config"
	"github.com/teslashibe/soulsmith/pkg/analytics"
	"github.com/teslashibe/soulsmith/pkg/audioio"
	"github.com/teslashibe/soulsmith/pkg/conversation"
	"github.com/teslashibe/soulsmith/pkg/transcript"
)

// Default configuration values.
const (
	DefaultAddr = ":8000"
)

// Config holds all configuration for SoulSmith.
// Flag parsing is done in cmd/soulsmith/main.go; this struct is data only.
type Config struct {
	// LogLevel is debug, info, warn or error.
	LogLevel string

	// Addr is the HTTP listen address.
	Addr string

	// AccessLog writes one line per HTTP request to stdout.
	AccessLog bool

	// ElevenLabs
	ElevenLabsKey string
	IntroAgentID  string
	StoryAgentID  string
	VoiceID       string
	AgentLLM      string

	// DynamicStoryAgent builds the story agent from the intro answers
	// instead of using StoryAgentID.
	DynamicStoryAgent bool

	// Language analysis. Either key enables the external assessment;
	// with both, Anthropic is tried first.
	AnthropicKey   string
	AnthropicModel string
	GoogleAPIKey   string
	GeminiModel    string
	AssessTimeout  time.Duration

	// AudioBackend is auto, malgo or mock.
	AudioBackend string

	// KeywordsFile is an optional YAML file overriding the keyword lists.
	KeywordsFile string

	// SettleDelay is how long to wait after a session ends before
	// fetching its transcript.
	SettleDelay time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:      "info",
		Addr:          DefaultAddr,
		VoiceID:       conversation.DefaultVoiceID,
		AgentLLM:      conversation.DefaultLLM,
		AssessTimeout: analytics.DefaultAssessTimeout,
		AudioBackend:  string(audioio.BackendAuto),
		SettleDelay:   transcript.DefaultSettleDelay,
	}
}

// LoadEnvConfig loads configuration values from environment variables.
// Call this after flag parsing to apply environment overrides.
func (c *Config) LoadEnvConfig() {
	c.ElevenLabsKey = config.String("ELEVENLABS_API_KEY", c.ElevenLabsKey)
	c.IntroAgentID = config.String("INTRO_AGENT_ID", c.IntroAgentID)
	c.StoryAgentID = config.String("ADVENTURE_AGENT_ID", c.StoryAgentID)
	c.VoiceID = config.String("ELEVENLABS_VOICE_ID", c.VoiceID)
	c.AgentLLM = config.String("ELEVENLABS_AGENT_LLM", c.AgentLLM)
	c.DynamicStoryAgent = config.Bool("DYNAMIC_STORY_AGENT", c.DynamicStoryAgent)

	c.AnthropicKey = config.String("ANTHROPIC_API_KEY", c.AnthropicKey)
	c.AnthropicModel = config.String("ANTHROPIC_MODEL", c.AnthropicModel)
	c.GoogleAPIKey = config.String("GOOGLE_API_KEY", c.GoogleAPIKey)
	c.GeminiModel = config.String("GEMINI_MODEL", c.GeminiModel)
	c.AssessTimeout = config.Duration("ASSESS_TIMEOUT", c.AssessTimeout)

	c.AudioBackend = config.String("AUDIO_BACKEND", c.AudioBackend)
	c.KeywordsFile = config.String("KEYWORDS_FILE", c.KeywordsFile)
	c.SettleDelay = config.Duration("SETTLE_DELAY", c.SettleDelay)
	c.LogLevel = config.String("LOG_LEVEL", c.LogLevel)
	c.AccessLog = config.Bool("ACCESS_LOG", c.AccessLog)

	if port := config.String("PORT", ""); port != "" {
		c.Addr = ":" + port
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.ElevenLabsKey == "" {
		return &ConfigError{Field: "ElevenLabsKey", Message: "ELEVENLABS_API_KEY environment variable is required"}
	}
	if c.IntroAgentID == "" {
		return &ConfigError{Field: "IntroAgentID", Message: "INTRO_AGENT_ID environment variable is required"}
	}
	if !c.DynamicStoryAgent && c.StoryAgentID == "" {
		return &ConfigError{Field: "StoryAgentID", Message: "ADVENTURE_AGENT_ID is required unless DYNAMIC_STORY_AGENT is set"}
	}
	if _, err := audioio.ParseBackend(c.AudioBackend); err != nil {
		return &ConfigError{Field: "AudioBackend", Message: err.Error()}
	}
	if c.SettleDelay < 0 {
		return &ConfigError{Field: "SettleDelay", Message: "SETTLE_DELAY must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
