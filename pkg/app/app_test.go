package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/teslashibe/soulsmith/internal/log"
	"github.com/teslashibe/soulsmith/pkg/session"
)

func mockConfig() Config {
	cfg := validConfig()
	cfg.AudioBackend = "mock"
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := mockConfig()
	cfg.ElevenLabsKey = ""
	if _, err := New(cfg, log.Discard()); err == nil {
		t.Fatal("New() should fail without an ElevenLabs key")
	}
}

func TestInitServesHealth(t *testing.T) {
	a, err := New(mockConfig(), log.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Init(); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	defer a.Shutdown()

	resp, err := a.Server().App().Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" {
		t.Errorf("body = %v", body)
	}
	if got := a.Controller().State(); got != session.StateIdle {
		t.Errorf("State() = %s, want idle", got)
	}
}

func TestInitLoadsKeywordsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.yaml")
	data := []byte("imagination:\n  - gryphon\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := mockConfig()
	cfg.KeywordsFile = path
	a, err := New(cfg, log.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Init(); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	defer a.Shutdown()

	kw := a.engine.Keywords()
	found := false
	for _, w := range kw.Imagination {
		if w == "gryphon" {
			found = true
		}
	}
	if !found {
		t.Errorf("Imagination = %v", kw.Imagination)
	}

	cfg.KeywordsFile = filepath.Join(t.TempDir(), "missing.yaml")
	b, err := New(cfg, log.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Shutdown()
	if err := b.Init(); err == nil {
		t.Error("Init() should fail for a missing keywords file")
	}
}

func TestAssessmentProvider(t *testing.T) {
	tests := []struct {
		name      string
		anthropic string
		google    string
		want      string
	}{
		{"none", "", "", ""},
		{"anthropic", "sk-ant", "", "anthropic"},
		{"gemini", "", "g-key", "gemini"},
		{"both", "sk-ant", "g-key", "chain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := mockConfig()
			cfg.AnthropicKey = tt.anthropic
			cfg.GoogleAPIKey = tt.google
			a, err := New(cfg, log.Discard())
			if err != nil {
				t.Fatal(err)
			}
			p, err := a.assessmentProvider()
			if err != nil {
				t.Fatal(err)
			}
			if tt.want == "" {
				if p != nil {
					t.Errorf("provider = %s, want none", p.Name())
				}
				return
			}
			if p == nil || p.Name() != tt.want {
				t.Errorf("provider = %v, want %s", p, tt.want)
			}
		})
	}
}
