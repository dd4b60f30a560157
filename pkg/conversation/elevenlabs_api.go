package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/teslashibe/soulsmith/internal/httpc"
)

// AgentConfig represents the agent configuration for the ElevenLabs API.
type AgentConfig struct {
	Name               string              `json:"name,omitempty"`
	ConversationConfig *ConversationConfig `json:"conversation_config"`
}

// ConversationConfig contains the main conversation settings.
type ConversationConfig struct {
	Agent *AgentSettings `json:"agent,omitempty"`
	TTS   *TTSConfig     `json:"tts,omitempty"`
}

// AgentSettings configures the agent's behavior.
type AgentSettings struct {
	Prompt       *PromptConfig `json:"prompt,omitempty"`
	FirstMessage string        `json:"first_message,omitempty"`
	Language     string        `json:"language,omitempty"`
}

// PromptConfig holds the system prompt and model.
type PromptConfig struct {
	Prompt string `json:"prompt"`
	LLM    string `json:"llm,omitempty"`
}

// TTSConfig configures text-to-speech.
type TTSConfig struct {
	VoiceID string `json:"voice_id"`
}

// CreateAgentResponse is the response from creating an agent.
type CreateAgentResponse struct {
	AgentID string `json:"agent_id"`
}

// GetAgentResponse is the response from getting an agent.
type GetAgentResponse struct {
	AgentID            string              `json:"agent_id"`
	Name               string              `json:"name"`
	ConversationConfig *ConversationConfig `json:"conversation_config"`
}

// TranscriptEntry is one turn of a stored conversation. Message is nil for
// turns that carried no speech, such as tool calls.
type TranscriptEntry struct {
	Role           string  `json:"role"`
	Message        *string `json:"message"`
	TimeInCallSecs float64 `json:"time_in_call_secs"`
}

// ConversationResponse is a stored conversation.
type ConversationResponse struct {
	ConversationID string            `json:"conversation_id"`
	AgentID        string            `json:"agent_id"`
	Status         string            `json:"status"`
	Transcript     []TranscriptEntry `json:"transcript"`
}

type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

type apiErrorBody struct {
	Detail json.RawMessage `json:"detail"`
}

// APIClient handles REST API calls to ElevenLabs.
type APIClient struct {
	config     *Config
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAPIClient creates a REST client. WithAPIKey is required for real use.
func NewAPIClient(opts ...Option) *APIClient {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &APIClient{
		config:     cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpc.OrDefault(cfg.HTTPClient),
		logger:     cfg.Logger.With("component", "conversation.api"),
	}
}

// GetSignedURL requests a short-lived WebSocket URL for agentID.
func (c *APIClient) GetSignedURL(ctx context.Context, agentID string) (string, error) {
	if agentID == "" {
		return "", ErrMissingAgentID
	}

	q := url.Values{}
	q.Set("agent_id", agentID)

	var result signedURLResponse
	if err := c.do(ctx, http.MethodGet, "/convai/conversation/get_signed_url?"+q.Encode(), nil, &result); err != nil {
		return "", fmt.Errorf("get signed url: %w", err)
	}
	if result.SignedURL == "" {
		return "", fmt.Errorf("get signed url: %w", ErrMissingSignedURL)
	}
	return result.SignedURL, nil
}

// CreateAgent creates a new agent.
func (c *APIClient) CreateAgent(ctx context.Context, cfg AgentConfig) (*CreateAgentResponse, error) {
	var result CreateAgentResponse
	if err := c.do(ctx, http.MethodPost, "/convai/agents/create", cfg, &result); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	if result.AgentID == "" {
		return nil, fmt.Errorf("create agent: %w", ErrMissingAgentID)
	}

	c.logger.Info("agent created", "agent_id", result.AgentID)
	return &result, nil
}

// GetAgent retrieves an agent by ID.
func (c *APIClient) GetAgent(ctx context.Context, agentID string) (*GetAgentResponse, error) {
	var result GetAgentResponse
	err := c.do(ctx, http.MethodGet, "/convai/agents/"+url.PathEscape(agentID), nil, &result)
	if isNotFound(err) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &result, nil
}

// DeleteAgent removes an agent. Deleting an agent that no longer exists
// is not an error.
func (c *APIClient) DeleteAgent(ctx context.Context, agentID string) error {
	if agentID == "" {
		return ErrMissingAgentID
	}

	err := c.do(ctx, http.MethodDelete, "/convai/agents/"+url.PathEscape(agentID), nil, nil)
	if isNotFound(err) {
		c.logger.Debug("agent already gone", "agent_id", agentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}

	c.logger.Info("agent deleted", "agent_id", agentID)
	return nil
}

// GetConversation fetches the stored transcript of a conversation.
func (c *APIClient) GetConversation(ctx context.Context, conversationID string) (*ConversationResponse, error) {
	var result ConversationResponse
	err := c.do(ctx, http.MethodGet, "/convai/conversations/"+url.PathEscape(conversationID), nil, &result)
	if isNotFound(err) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &result, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.config.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return NewAPIError(resp.StatusCode, "", errorMessage(bodyBytes))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage pulls "detail" out of an error body when present.
func errorMessage(body []byte) string {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Detail) > 0 {
		var s string
		if json.Unmarshal(parsed.Detail, &s) == nil {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(parsed.Detail, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
		return string(parsed.Detail)
	}
	return strings.TrimSpace(string(body))
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewStoryAgentConfig builds the configuration for a per-session story
// agent with the given prompt and opening line.
func NewStoryAgentConfig(cfg *Config, prompt, firstMessage string) AgentConfig {
	agent := AgentConfig{
		Name: cfg.AgentName,
		ConversationConfig: &ConversationConfig{
			Agent: &AgentSettings{
				Prompt: &PromptConfig{
					Prompt: prompt,
					LLM:    cfg.LLM,
				},
				FirstMessage: firstMessage,
				Language:     "en",
			},
		},
	}

	if cfg.VoiceID != "" {
		agent.ConversationConfig.TTS = &TTSConfig{VoiceID: cfg.VoiceID}
	}
	return agent
}

// Config returns the client's configuration.
func (c *APIClient) Config() *Config {
	return c.config
}
