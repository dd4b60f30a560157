// SoulSmith - voice storytelling sessions for kids with language analytics.
// Runs an intro conversation and a story conversation over ElevenLabs,
// then scores how the child's language grew between them.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/soulsmith/internal/config"
	"github.com/teslashibe/soulsmith/internal/log"
	"github.com/teslashibe/soulsmith/pkg/app"
)

func main() {
	config.LoadDotEnv()
	cfg := parseFlags()

	log.Init(cfg.LogLevel)
	logger := log.L()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	if err := a.Init(); err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer a.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		logger.Error("runtime error", "error", err)
	}
}

// parseFlags parses command line flags and returns configuration.
// Flags win over environment variables.
func parseFlags() app.Config {
	cfg := app.DefaultConfig()
	cfg.LoadEnvConfig()

	addr := flag.String("addr", cfg.Addr, "HTTP listen address")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	backend := flag.String("audio-backend", cfg.AudioBackend, "Audio backend: auto, malgo, mock")
	dynamic := flag.Bool("dynamic-story", cfg.DynamicStoryAgent, "Create the story agent from the intro answers")
	keywords := flag.String("keywords", cfg.KeywordsFile, "YAML file overriding the analytics keyword lists")
	accessLog := flag.Bool("access-log", cfg.AccessLog, "Log every HTTP request")
	flag.Parse()

	cfg.Addr = *addr
	cfg.LogLevel = *logLevel
	cfg.AudioBackend = *backend
	cfg.DynamicStoryAgent = *dynamic
	cfg.KeywordsFile = *keywords
	cfg.AccessLog = *accessLog
	return cfg
}
