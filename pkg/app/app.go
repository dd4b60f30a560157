package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/teslashibe/soulsmith/pkg/analytics"
	"github.com/teslashibe/soulsmith/pkg/audio"
	"github.com/teslashibe/soulsmith/pkg/audioio"
	"github.com/teslashibe/soulsmith/pkg/conversation"
	"github.com/teslashibe/soulsmith/pkg/hub"
	"github.com/teslashibe/soulsmith/pkg/inference"
	"github.com/teslashibe/soulsmith/pkg/session"
	"github.com/teslashibe/soulsmith/pkg/story"
	"github.com/teslashibe/soulsmith/pkg/telemetry"
	"github.com/teslashibe/soulsmith/pkg/transcript"
	"github.com/teslashibe/soulsmith/pkg/web"
)

// shutdownTimeout bounds Shutdown, including agent cleanup.
const shutdownTimeout = 10 * time.Second

// App is the SoulSmith process. It owns every component and their
// lifecycle.
type App struct {
	config Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	api        *conversation.APIClient
	audioCfg   audioio.Config
	sink       audioio.Sink
	playback   *audio.Queue
	engine     *analytics.Engine
	controller *session.Controller
	status     *hub.Hub
	metrics    *telemetry.Metrics
	server     *web.Server
}

// New creates an App with the given configuration.
func New(cfg Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		config: cfg,
		logger: logger.With("component", "app"),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Init builds and connects every component. Nothing listens yet.
// Call this after New() and before Run().
func (a *App) Init() error {
	a.metrics = telemetry.New()

	a.api = conversation.NewAPIClient(
		conversation.WithAPIKey(a.config.ElevenLabsKey),
		conversation.WithVoiceID(a.config.VoiceID),
		conversation.WithLLM(a.config.AgentLLM),
		conversation.WithLogger(a.logger),
	)

	if err := a.initAudio(); err != nil {
		return fmt.Errorf("audio init: %w", err)
	}
	if err := a.initAnalytics(); err != nil {
		return fmt.Errorf("analytics init: %w", err)
	}
	if err := a.initSession(); err != nil {
		return fmt.Errorf("session init: %w", err)
	}

	a.server = web.NewServer(a.controller, web.Config{
		Addr:           a.config.Addr,
		Hub:            a.status,
		MetricsHandler: a.metrics.Handler(),
		Agents: map[string]string{
			"intro":     a.config.IntroAgentID,
			"adventure": a.config.StoryAgentID,
		},
		AgentAPI:  a.api,
		AccessLog: a.accessLog(),
		Logger:    a.logger,
	})
	return nil
}

func (a *App) accessLog() io.Writer {
	if a.config.AccessLog {
		return os.Stdout
	}
	return nil
}

func (a *App) initAudio() error {
	backend, err := audioio.ParseBackend(a.config.AudioBackend)
	if err != nil {
		return err
	}
	a.audioCfg = audioio.DefaultConfig()
	a.audioCfg.Backend = backend

	sink, err := audioio.NewSink(a.audioCfg, a.logger)
	if err != nil {
		return err
	}
	if err := sink.Start(a.ctx); err != nil {
		sink.Close()
		return fmt.Errorf("open playback device: %w", err)
	}
	a.sink = sink

	a.playback = audio.NewQueue(sink, a.logger)
	a.playback.Start(a.ctx)
	return nil
}

func (a *App) initAnalytics() error {
	keywords := analytics.DefaultKeywords()
	if a.config.KeywordsFile != "" {
		kw, err := analytics.LoadKeywords(a.config.KeywordsFile)
		if err != nil {
			return err
		}
		keywords = kw
	}

	opts := []analytics.EngineOption{
		analytics.WithKeywords(keywords),
		analytics.WithLogger(a.logger),
	}

	provider, err := a.assessmentProvider()
	if err != nil {
		return err
	}
	if provider != nil {
		opts = append(opts, analytics.WithAssessor(
			analytics.NewInferenceAssessor(provider, a.config.AssessTimeout, a.logger)))
		a.logger.Info("language assessment enabled", "provider", provider.Name())
	} else {
		a.logger.Warn("no language-analysis key set, reports will use placeholder assessments")
	}

	a.engine = analytics.NewEngine(opts...)
	return nil
}

// assessmentProvider returns the configured provider, a chain when more
// than one is configured, or nil.
func (a *App) assessmentProvider() (inference.Provider, error) {
	var providers []inference.Provider

	if a.config.AnthropicKey != "" {
		opts := []inference.Option{
			inference.WithAPIKey(a.config.AnthropicKey),
			inference.WithLogger(a.logger),
		}
		if a.config.AnthropicModel != "" {
			opts = append(opts, inference.WithModel(a.config.AnthropicModel))
		}
		p, err := inference.NewAnthropic(opts...)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if a.config.GoogleAPIKey != "" {
		opts := []inference.Option{
			inference.WithAPIKey(a.config.GoogleAPIKey),
			inference.WithLogger(a.logger),
		}
		if a.config.GeminiModel != "" {
			opts = append(opts, inference.WithModel(a.config.GeminiModel))
		}
		p, err := inference.NewGemini(opts...)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	switch len(providers) {
	case 0:
		return nil, nil
	case 1:
		return providers[0], nil
	default:
		chain, err := inference.NewChainWithLogger(a.logger, providers...)
		if err != nil {
			return nil, err
		}
		return chain, nil
	}
}

func (a *App) initSession() error {
	channelOpts := []conversation.Option{
		conversation.WithAPIKey(a.config.ElevenLabsKey),
		conversation.WithLogger(a.logger),
	}

	ctrl, err := session.NewController(session.Config{
		IntroAgentID:      a.config.IntroAgentID,
		StoryAgentID:      a.config.StoryAgentID,
		DynamicStoryAgent: a.config.DynamicStoryAgent,
		API:               a.api,
		NewChannel: func() conversation.Channel {
			return conversation.NewElevenLabs(channelOpts...)
		},
		NewCapture: func() (audioio.Source, error) {
			return audioio.NewSource(a.audioCfg, a.logger)
		},
		Playback:     a.playback,
		PlaybackRate: a.audioCfg.SampleRate,
		Retriever: transcript.NewRetriever(a.api,
			transcript.WithSettleDelay(a.config.SettleDelay),
			transcript.WithLogger(a.logger),
		),
		Analyzer: a.engine,
		StoryAgentConfig: func(prompt string) conversation.AgentConfig {
			return conversation.NewStoryAgentConfig(a.api.Config(), prompt, story.FirstMessage)
		},
		Metrics: a.metrics,
		Logger:  a.logger,
	}, session.NewStore())
	if err != nil {
		return err
	}

	a.status = hub.New(a.logger)
	ctrl.OnStateChange(func(s session.Snapshot) {
		if err := a.status.Publish(hub.EventState, s); err != nil {
			a.logger.Warn("publish state", "error", err)
		}
	})
	a.controller = ctrl
	return nil
}

// Controller returns the session controller.
func (a *App) Controller() *session.Controller {
	return a.controller
}

// Server returns the HTTP API.
func (a *App) Server() *web.Server {
	return a.server
}

// Run serves the API. Blocks until ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	go a.status.Run(a.ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Listen()
	}()

	a.logger.Info("SoulSmith ready",
		"addr", a.config.Addr,
		"audio_backend", a.config.AudioBackend,
		"dynamic_story_agent", a.config.DynamicStoryAgent,
	)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

// Shutdown ends any live session, removes a dynamic story agent and stops
// every component.
func (a *App) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.controller != nil {
		if err := a.controller.Reset(ctx); err != nil {
			a.logger.Warn("cleanup on shutdown", "error", err)
		}
	}
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("http shutdown", "error", err)
		}
	}
	if a.playback != nil {
		a.playback.Close()
	}
	if a.sink != nil {
		a.sink.Close()
	}
	a.cancel()
	a.logger.Info("goodbye")
}
