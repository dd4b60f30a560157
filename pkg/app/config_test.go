package app

import (
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/soulsmith/pkg/conversation"
	"github.com/teslashibe/soulsmith/pkg/transcript"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.ElevenLabsKey = "xi-test"
	cfg.IntroAgentID = "agent-intro"
	cfg.StoryAgentID = "agent-story"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Addr != ":8000" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.VoiceID != conversation.DefaultVoiceID {
		t.Errorf("VoiceID = %q", cfg.VoiceID)
	}
	if cfg.AgentLLM != conversation.DefaultLLM {
		t.Errorf("AgentLLM = %q", cfg.AgentLLM)
	}
	if cfg.SettleDelay != transcript.DefaultSettleDelay {
		t.Errorf("SettleDelay = %v", cfg.SettleDelay)
	}
	if cfg.AudioBackend != "auto" {
		t.Errorf("AudioBackend = %q", cfg.AudioBackend)
	}
}

func TestLoadEnvConfig(t *testing.T) {
	t.Setenv("ELEVENLABS_API_KEY", "xi-key")
	t.Setenv("INTRO_AGENT_ID", "intro-1")
	t.Setenv("ADVENTURE_AGENT_ID", "story-1")
	t.Setenv("DYNAMIC_STORY_AGENT", "true")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("AUDIO_BACKEND", "mock")
	t.Setenv("SETTLE_DELAY", "500")
	t.Setenv("ASSESS_TIMEOUT", "5s")
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ACCESS_LOG", "1")

	cfg := DefaultConfig()
	cfg.LoadEnvConfig()

	if cfg.ElevenLabsKey != "xi-key" || cfg.IntroAgentID != "intro-1" || cfg.StoryAgentID != "story-1" {
		t.Errorf("elevenlabs settings = %+v", cfg)
	}
	if !cfg.DynamicStoryAgent {
		t.Error("DynamicStoryAgent should be set")
	}
	if cfg.AnthropicKey != "sk-ant" || cfg.GoogleAPIKey != "" {
		t.Errorf("keys: anthropic=%q google=%q", cfg.AnthropicKey, cfg.GoogleAPIKey)
	}
	if cfg.AudioBackend != "mock" {
		t.Errorf("AudioBackend = %q", cfg.AudioBackend)
	}
	if cfg.SettleDelay != 500*time.Millisecond {
		t.Errorf("SettleDelay = %v", cfg.SettleDelay)
	}
	if cfg.AssessTimeout != 5*time.Second {
		t.Errorf("AssessTimeout = %v", cfg.AssessTimeout)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.LogLevel != "debug" || !cfg.AccessLog {
		t.Errorf("LogLevel = %q AccessLog = %v", cfg.LogLevel, cfg.AccessLog)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing key", func(c *Config) { c.ElevenLabsKey = "" }, "ElevenLabsKey"},
		{"missing intro", func(c *Config) { c.IntroAgentID = "" }, "IntroAgentID"},
		{"missing story", func(c *Config) { c.StoryAgentID = "" }, "StoryAgentID"},
		{"dynamic story needs no id", func(c *Config) {
			c.StoryAgentID = ""
			c.DynamicStoryAgent = true
		}, ""},
		{"bad backend", func(c *Config) { c.AudioBackend = "alsa" }, "AudioBackend"},
		{"negative settle", func(c *Config) { c.SettleDelay = -time.Second }, "SettleDelay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("Validate() = %v, want *ConfigError", err)
			}
			if ce.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ce.Field, tt.wantField)
			}
		})
	}
}
