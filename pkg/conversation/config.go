package conversation

import (
	"log/slog"
	"net/http"
	"time"
)

// Defaults for the ElevenLabs platform.
const (
	DefaultBaseURL = "https://api.elevenlabs.io/v1"
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
	DefaultLLM     = "gemini-2.0-flash"
)

// Config holds configuration for the channel and the REST client.
type Config struct {
	// APIKey is the xi-api-key used for REST calls.
	APIKey string

	// BaseURL overrides the default REST endpoint.
	BaseURL string

	// HTTPClient is used for REST calls. Defaults to the shared client.
	HTTPClient *http.Client

	// VoiceID is the voice for programmatically created agents.
	VoiceID string

	// LLM is the language model for programmatically created agents.
	LLM string

	// AgentName is the name for created agents (for dashboard reference).
	AgentName string

	// Timeout is the WebSocket handshake timeout.
	Timeout time.Duration

	// ReadTimeout is the maximum silence on the read side before the link
	// is considered dead. The agent pings well within this.
	ReadTimeout time.Duration

	// WriteTimeout is the deadline for each outbound frame.
	WriteTimeout time.Duration

	// CloseTimeout bounds how long Close waits for the remote echo before
	// tearing the socket down.
	CloseTimeout time.Duration

	// OutboundBuffer is the capacity of the outbound frame queue.
	OutboundBuffer int

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        DefaultBaseURL,
		VoiceID:        DefaultVoiceID,
		LLM:            DefaultLLM,
		AgentName:      "soulsmith-story",
		Timeout:        30 * time.Second,
		ReadTimeout:    2 * time.Minute,
		WriteTimeout:   10 * time.Second,
		CloseTimeout:   3 * time.Second,
		OutboundBuffer: 64,
		Logger:         slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Option is a functional option for configuring the channel and client.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithBaseURL sets the REST base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithHTTPClient sets the HTTP client for REST calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithVoiceID sets the voice for created agents.
func WithVoiceID(id string) Option {
	return func(c *Config) {
		c.VoiceID = id
	}
}

// WithLLM sets the language model for created agents.
func WithLLM(model string) Option {
	return func(c *Config) {
		c.LLM = model
	}
}

// WithAgentName sets the name for created agents.
func WithAgentName(name string) Option {
	return func(c *Config) {
		c.AgentName = name
	}
}

// WithTimeout sets the handshake timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithReadTimeout sets the read-side idle timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ReadTimeout = d
	}
}

// WithCloseTimeout sets how long Close waits for the remote echo.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.CloseTimeout = d
	}
}

// WithOutboundBuffer sets the outbound queue capacity.
func WithOutboundBuffer(n int) Option {
	return func(c *Config) {
		c.OutboundBuffer = n
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
