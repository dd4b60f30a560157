// Package session drives one live voice conversation at a time: it opens
// the channel, pumps microphone audio out and agent audio into the playback
// queue, decides when the conversation is over, and hands the finished
// conversation to the transcript retriever and analytics engine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/teslashibe/soulsmith/pkg/analytics"
	"github.com/teslashibe/soulsmith/pkg/audio"
	"github.com/teslashibe/soulsmith/pkg/audioio"
	"github.com/teslashibe/soulsmith/pkg/conversation"
	"github.com/teslashibe/soulsmith/pkg/story"
	"github.com/teslashibe/soulsmith/pkg/telemetry"
	"github.com/teslashibe/soulsmith/pkg/transcript"
)

// API is the part of the conversation REST client the controller uses.
// *conversation.APIClient satisfies it.
type API interface {
	GetSignedURL(ctx context.Context, agentID string) (string, error)
	CreateAgent(ctx context.Context, cfg conversation.AgentConfig) (*conversation.CreateAgentResponse, error)
	GetAgent(ctx context.Context, agentID string) (*conversation.GetAgentResponse, error)
	DeleteAgent(ctx context.Context, agentID string) error
	GetConversation(ctx context.Context, conversationID string) (*conversation.ConversationResponse, error)
}

// Analyzer turns transcripts into a report. *analytics.Engine satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, in analytics.Input) (*analytics.Report, error)
}

// Config wires a Controller to its collaborators.
type Config struct {
	// IntroAgentID is the pre-configured intro agent.
	IntroAgentID string

	// StoryAgentID is the pre-configured story agent, used when
	// DynamicStoryAgent is false.
	StoryAgentID string

	// DynamicStoryAgent creates a story agent per run from the child's
	// intro answers and deletes it on Reset.
	DynamicStoryAgent bool

	API API

	// NewChannel returns a fresh, unconnected channel for each session.
	NewChannel func() conversation.Channel

	// NewCapture opens the microphone for each session.
	NewCapture func() (audioio.Source, error)

	// Playback receives agent audio. It must already be started.
	Playback *audio.Queue

	// PlaybackRate is the sample rate of the playback device.
	// Default: audio.SampleRate
	PlaybackRate int

	// FrameSize is the number of samples per outbound frame.
	// Default: audio.FrameSize
	FrameSize int

	// Retriever fetches the transcript once a session ends.
	// Default: a Retriever over API.
	Retriever *transcript.Retriever

	// Analyzer computes the report. Default: analytics.NewEngine().
	Analyzer Analyzer

	// StoryAgentConfig builds the agent definition for a dynamic story agent.
	StoryAgentConfig func(prompt string) conversation.AgentConfig

	// CleanupBackoff returns the retry policy for deleting a dynamic agent.
	CleanupBackoff func() backoff.BackOff

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// Session is the record of one conversation.
type Session struct {
	LocalID   string
	ID        string
	Phase     Phase
	AgentID   string
	State     State
	StartedAt time.Time
	EndedAt   time.Time
	EndReason EndReason
	Err       error
}

// Snapshot is a copy of the current session and store, safe to serialize.
type Snapshot struct {
	LocalID        string        `json:"local_id,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Phase          Phase         `json:"phase,omitempty"`
	AgentID        string        `json:"agent_id,omitempty"`
	State          State         `json:"state"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	EndReason      EndReason     `json:"end_reason,omitempty"`
	Error          string        `json:"error,omitempty"`
	ErrorKind      string        `json:"error_kind,omitempty"`
	Store          StoreSnapshot `json:"store"`
}

// live holds the I/O of one session. Callbacks carry a pointer to the live
// they were registered for and do nothing once it is no longer current.
type live struct {
	ctx    context.Context
	cancel context.CancelFunc

	// ended is the end latch. The first of RequestEnd, a failure or Reset
	// to set it owns the teardown.
	ended atomic.Bool

	channel conversation.Channel
	capture audioio.Source

	// Guarded by Controller.mu.
	handshake bool
	inRate    int
	outRate   int

	settled    chan struct{}
	settleOnce sync.Once

	logger *slog.Logger
}

func (l *live) settle() {
	l.settleOnce.Do(func() { close(l.settled) })
}

// Controller owns the session lifecycle. All methods are safe for
// concurrent use.
type Controller struct {
	cfg    Config
	store  *Store
	logger *slog.Logger

	mu        sync.Mutex
	session   *Session
	cur       *live
	listeners []func(Snapshot)
}

// NewController creates a Controller over store.
func NewController(cfg Config, store *Store) (*Controller, error) {
	if cfg.API == nil {
		return nil, errors.New("session: API is required")
	}
	if cfg.NewChannel == nil {
		return nil, errors.New("session: NewChannel is required")
	}
	if cfg.NewCapture == nil {
		return nil, errors.New("session: NewCapture is required")
	}
	if cfg.Playback == nil {
		return nil, errors.New("session: Playback is required")
	}
	if store == nil {
		store = NewStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PlaybackRate <= 0 {
		cfg.PlaybackRate = audio.SampleRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = audio.FrameSize
	}
	if cfg.Retriever == nil {
		cfg.Retriever = transcript.NewRetriever(cfg.API, transcript.WithLogger(cfg.Logger))
	}
	if cfg.Analyzer == nil {
		cfg.Analyzer = analytics.NewEngine(analytics.WithLogger(cfg.Logger))
	}
	if cfg.StoryAgentConfig == nil {
		cfg.StoryAgentConfig = func(prompt string) conversation.AgentConfig {
			return conversation.NewStoryAgentConfig(conversation.DefaultConfig(), prompt, story.FirstMessage)
		}
	}
	if cfg.CleanupBackoff == nil {
		cfg.CleanupBackoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		}
	}

	return &Controller{
		cfg:    cfg,
		store:  store,
		logger: cfg.Logger.With("component", "session.controller"),
	}, nil
}

// Store returns the store the controller writes to.
func (c *Controller) Store() *Store {
	return c.store
}

// OnStateChange registers fn to be called after every state change. fn
// runs outside the controller lock and must not block.
func (c *Controller) OnStateChange(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// State returns the current state. No session means Idle.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return StateIdle
	}
	return c.session.State
}

// Snapshot returns a copy of the current session and store.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Wait blocks until the current session is Completed, Failed or reset.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	l := c.cur
	c.mu.Unlock()
	if l == nil {
		return nil
	}
	select {
	case <-l.settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start opens a session for phase. It is legal from Idle, and from a
// Completed intro session when phase is story. It returns once the channel
// is dialed; the handshake moves the session to Active.
func (c *Controller) Start(ctx context.Context, phase Phase) (Snapshot, error) {
	if err := c.checkAgent(phase); err != nil {
		return c.Snapshot(), err
	}

	c.mu.Lock()
	if c.session != nil && c.session.State == StateCompleted && c.session.Phase == PhaseIntro && phase == PhaseStory {
		c.logger.Info("advancing to story phase", "intro_conversation_id", c.session.ID)
		c.session = nil
		c.cur = nil
	}
	if c.session != nil {
		state := c.session.State
		c.mu.Unlock()
		return c.Snapshot(), fmt.Errorf("%w: start from %s", ErrInvalidTransition, state)
	}

	lctx, cancel := context.WithCancel(context.Background())
	c.session = &Session{
		LocalID:   uuid.NewString(),
		Phase:     phase,
		State:     StateIdle,
		StartedAt: time.Now(),
	}
	l := &live{
		ctx:     lctx,
		cancel:  cancel,
		inRate:  audio.SampleRate,
		outRate: audio.SampleRate,
		settled: make(chan struct{}),
		logger:  c.logger.With("local_id", c.session.LocalID, "phase", string(phase)),
	}
	c.cur = l
	snap, _ := c.transitionLocked(StateConnecting)
	c.mu.Unlock()

	c.emit(snap)
	c.cfg.Metrics.SessionStarted(string(phase))

	agentID, dynamic, err := c.resolveAgent(ctx, l, phase)
	if err != nil {
		return c.failStart(l, newError(KindExternalService, "resolve agent", err))
	}
	if !c.setAgent(l, phase, agentID, dynamic) {
		if dynamic {
			c.deleteAgent(ctx, agentID)
		}
		return c.Snapshot(), fmt.Errorf("%w: session reset during start", ErrInvalidTransition)
	}
	c.verifyAgent(ctx, l, agentID)

	signedURL, err := c.cfg.API.GetSignedURL(ctx, agentID)
	if err != nil {
		return c.failStart(l, newError(KindTransport, "get signed url", err))
	}

	src, err := c.cfg.NewCapture()
	if err == nil {
		if err = src.Start(lctx); err != nil {
			src.Close()
		}
	}
	if err != nil {
		return c.failStart(l, newError(KindPermission, "open capture", err))
	}

	ch := c.cfg.NewChannel()
	ch.OnEvent(func(ev conversation.Event) { c.handleEvent(l, ev) })
	ch.OnClose(func(info conversation.CloseInfo) { c.handleClose(l, info) })

	c.mu.Lock()
	if c.cur != l || l.ended.Load() {
		c.mu.Unlock()
		src.Stop()
		src.Close()
		return c.Snapshot(), fmt.Errorf("%w: session ended during start", ErrInvalidTransition)
	}
	l.capture = src
	l.channel = ch
	c.mu.Unlock()

	if err := ch.Connect(ctx, signedURL); err != nil {
		return c.failStart(l, newError(KindTransport, "connect", err))
	}

	go c.pumpOutbound(l, src.Stream())

	l.logger.Info("session connecting", "agent_id", agentID)
	return c.Snapshot(), nil
}

// checkAgent rejects a Start that cannot resolve an agent before any state
// changes.
func (c *Controller) checkAgent(phase Phase) error {
	switch {
	case phase == PhaseIntro && c.cfg.IntroAgentID == "":
		return fmt.Errorf("%w: intro", ErrNoAgent)
	case phase == PhaseStory && c.cfg.DynamicStoryAgent:
		if c.store.Transcript(PhaseIntro) == nil {
			return fmt.Errorf("%w: intro transcript is needed to build the story agent", ErrNoTranscript)
		}
	case phase == PhaseStory && c.cfg.StoryAgentID == "":
		return fmt.Errorf("%w: story", ErrNoAgent)
	}
	return nil
}

func (c *Controller) resolveAgent(ctx context.Context, l *live, phase Phase) (string, bool, error) {
	if phase == PhaseIntro {
		return c.cfg.IntroAgentID, false, nil
	}
	if !c.cfg.DynamicStoryAgent {
		return c.cfg.StoryAgentID, false, nil
	}

	prompt := story.BuildPrompt(c.store.Transcript(PhaseIntro))
	resp, err := c.cfg.API.CreateAgent(ctx, c.cfg.StoryAgentConfig(prompt))
	if err != nil {
		return "", false, err
	}
	l.logger.Info("story agent created", "agent_id", resp.AgentID, "prompt_preview", story.Preview(prompt, 200))
	return resp.AgentID, true, nil
}

func (c *Controller) setAgent(l *live, phase Phase, agentID string, dynamic bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != l {
		return false
	}
	c.session.AgentID = agentID
	if phase == PhaseStory {
		c.store.SetStoryAgent(agentID, dynamic)
	}
	return true
}

// verifyAgent looks the agent up and logs what it finds. Failures are not
// fatal; the signed URL request is the real check.
func (c *Controller) verifyAgent(ctx context.Context, l *live, agentID string) {
	agent, err := c.cfg.API.GetAgent(ctx, agentID)
	if err != nil {
		l.logger.Warn("agent verification failed", "agent_id", agentID, "error", err)
		return
	}
	attrs := []any{"agent_id", agent.AgentID, "name", agent.Name}
	if cc := agent.ConversationConfig; cc != nil && cc.Agent != nil {
		attrs = append(attrs, "first_message", cc.Agent.FirstMessage, "language", cc.Agent.Language)
	}
	l.logger.Info("agent verified", attrs...)
}

func (c *Controller) failStart(l *live, e *Error) (Snapshot, error) {
	c.fail(l, e)
	return c.Snapshot(), e
}

// fail moves a Connecting or Active session to Failed and tears down its
// I/O. It does nothing if the session is already ending.
func (c *Controller) fail(l *live, e *Error) {
	c.mu.Lock()
	if c.cur != l || !c.session.State.CanTransition(StateFailed) || !l.ended.CompareAndSwap(false, true) {
		c.mu.Unlock()
		return
	}
	c.session.Err = e
	c.session.EndReason = EndError
	c.session.EndedAt = time.Now()
	snap, _ := c.transitionLocked(StateFailed)
	ch, src := l.channel, l.capture
	l.settle()
	c.mu.Unlock()

	l.logger.Error("session failed", "kind", e.Kind.String(), "error", e)
	c.cfg.Metrics.SessionFailed(e.Kind.String())

	c.cfg.Playback.Flush()
	c.teardown(l, ch, src)
	l.cancel()
	c.emit(snap)
}

// RequestEnd ends a Connecting or Active session. It is idempotent: a
// second call, or a call while Ending or Completed, returns nil and does
// nothing. The transcript is fetched in the background; use Wait to block
// until it is done.
func (c *Controller) RequestEnd(reason EndReason) error {
	c.mu.Lock()
	l := c.cur
	if c.session == nil || l == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: no session to end", ErrInvalidTransition)
	}
	switch state := c.session.State; state {
	case StateEnding, StateCompleted:
		c.mu.Unlock()
		return nil
	case StateConnecting, StateActive:
	default:
		c.mu.Unlock()
		return fmt.Errorf("%w: end from %s", ErrInvalidTransition, state)
	}
	if !l.ended.CompareAndSwap(false, true) {
		c.mu.Unlock()
		return nil
	}
	ch, src := l.channel, l.capture
	c.mu.Unlock()

	l.logger.Info("ending session", "reason", string(reason))

	// Nothing the agent already sent may play after this point.
	c.cfg.Playback.Flush()
	if src != nil {
		src.Stop()
		src.Close()
	}

	c.mu.Lock()
	if c.cur != l {
		c.mu.Unlock()
		return nil
	}
	c.session.EndReason = reason
	c.session.EndedAt = time.Now()
	snap, _ := c.transitionLocked(StateEnding)
	c.mu.Unlock()
	c.emit(snap)

	if ch != nil {
		if err := ch.Close(); err != nil {
			l.logger.Debug("channel close", "error", err)
		}
	}

	go c.finish(l)
	return nil
}

// finish retrieves the transcript and completes the session.
func (c *Controller) finish(l *live) {
	defer l.cancel()

	c.mu.Lock()
	if c.cur != l {
		c.mu.Unlock()
		return
	}
	phase, id := c.session.Phase, c.session.ID
	c.mu.Unlock()

	var (
		t    *transcript.Transcript
		err  error
		serr error
	)
	if id != "" {
		t, err = c.cfg.Retriever.Retrieve(l.ctx, id)
	}

	switch {
	case id == "":
		c.cfg.Metrics.TranscriptRetrieved("skipped")
		serr = fmt.Errorf("%w: session ended before the conversation started", ErrNoTranscript)
	case err == nil:
		c.cfg.Metrics.TranscriptRetrieved("ok")
	case errors.Is(err, context.Canceled):
		c.cfg.Metrics.TranscriptRetrieved("cancelled")
		return
	case transcript.IsMalformed(err):
		c.cfg.Metrics.TranscriptRetrieved("malformed")
		serr = newError(KindMalformedTranscript, "retrieve transcript", err)
	default:
		c.cfg.Metrics.TranscriptRetrieved("error")
		serr = newError(KindExternalService, "retrieve transcript", err)
	}

	c.mu.Lock()
	if c.cur != l {
		c.mu.Unlock()
		return
	}
	if serr != nil {
		c.session.Err = serr
	} else {
		c.store.SetTranscript(phase, t)
	}
	snap, _ := c.transitionLocked(StateCompleted)
	reason := c.session.EndReason
	took := c.session.EndedAt.Sub(c.session.StartedAt)
	l.settle()
	c.mu.Unlock()

	if serr != nil {
		l.logger.Warn("session completed without transcript", "error", serr)
	} else {
		l.logger.Info("session completed", "conversation_id", id, "utterances", t.Len())
	}
	c.cfg.Metrics.SessionEnded(string(reason), took)
	c.emit(snap)
}

// ShouldAutoEnd reports whether a transport close ends the session on its
// own: the handshake completed, a conversation id was recorded, nobody has
// asked to end yet, and the close was normal.
func ShouldAutoEnd(handshake, haveID, latched bool, code int) bool {
	return handshake && haveID && !latched && code == conversation.CloseNormal
}

func (c *Controller) handleClose(l *live, info conversation.CloseInfo) {
	c.mu.Lock()
	if c.cur != l {
		c.mu.Unlock()
		return
	}
	state := c.session.State
	latched := l.ended.Load()
	auto := ShouldAutoEnd(l.handshake, c.session.ID != "", latched, info.Code)
	c.mu.Unlock()

	switch {
	case auto:
		l.logger.Info("agent closed the conversation", "close", info.String())
		if err := c.RequestEnd(EndRemoteNormalClose); err != nil {
			l.logger.Warn("auto end failed", "error", err)
		}
	case latched:
		l.logger.Debug("channel closed", "close", info.String())
	case state == StateConnecting:
		c.fail(l, newError(KindTransport, "handshake", closeError(info)))
	default:
		l.logger.Warn("channel closed while active", "state", state.String(), "close", info.String())
	}
}

func closeError(info conversation.CloseInfo) error {
	if info.Err != nil {
		return info.Err
	}
	return fmt.Errorf("%w: code %d %s", conversation.ErrConnectionClosed, info.Code, info.Reason)
}

func (c *Controller) handleEvent(l *live, ev conversation.Event) {
	switch e := ev.(type) {
	case conversation.MetadataEvent:
		c.handleHandshake(l, e)
	case conversation.AudioEvent:
		c.playAgentAudio(l, e.Samples)
	case conversation.InterruptionEvent:
		if c.current(l) {
			c.cfg.Playback.Flush()
			c.cfg.Metrics.Flushed()
			l.logger.Debug("interrupted, playback flushed")
		}
	case conversation.UserTranscriptEvent:
		l.logger.Info("child said", "text", e.Text)
	case conversation.AgentResponseEvent:
		l.logger.Info("agent said", "text", e.Text)
	case conversation.AgentCorrectionEvent:
		l.logger.Debug("agent response corrected", "text", e.Corrected)
	case conversation.ErrorEvent:
		l.logger.Warn("agent error", "error", e.Err())
	case conversation.PingEvent:
	default:
		l.logger.Debug("unhandled event", "type", ev.Type())
	}
}

func (c *Controller) current(l *live) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur == l
}

func (c *Controller) handleHandshake(l *live, e conversation.MetadataEvent) {
	c.mu.Lock()
	if c.cur != l {
		c.mu.Unlock()
		return
	}
	l.handshake = true
	if r := e.OutputSampleRate(); r > 0 {
		l.outRate = r
	}
	if r := conversation.ParsePCMRate(e.UserInputFormat); r > 0 {
		l.inRate = r
	}
	c.session.ID = e.ConversationID
	c.store.SetConversationID(c.session.Phase, e.ConversationID)
	snap, ok := c.transitionLocked(StateActive)
	c.mu.Unlock()

	l.logger.Info("conversation started", "conversation_id", e.ConversationID, "agent_format", e.AgentOutputFormat)
	if ok {
		c.emit(snap)
	}
}

func (c *Controller) playAgentAudio(l *live, samples []int16) {
	if l.ended.Load() || len(samples) == 0 {
		return
	}
	c.mu.Lock()
	if c.cur != l {
		c.mu.Unlock()
		return
	}
	rate := l.outRate
	c.mu.Unlock()

	c.cfg.Metrics.FrameReceived()
	if rate != c.cfg.PlaybackRate {
		samples = audio.Resample(samples, rate, c.cfg.PlaybackRate)
	}
	c.cfg.Playback.Push(audio.PCM16ToFloat(samples))
}

// pumpOutbound frames captured audio and sends it until capture stops or
// the end latch is set.
func (c *Controller) pumpOutbound(l *live, stream <-chan audioio.Chunk) {
	framer := audio.NewFramer(c.cfg.FrameSize)
	for chunk := range stream {
		if l.ended.Load() {
			return
		}
		for _, frame := range framer.Push(chunk.Samples) {
			pcm := audio.FloatToPCM16(frame)

			c.mu.Lock()
			rate := l.inRate
			ch := l.channel
			c.mu.Unlock()

			if chunk.SampleRate > 0 && chunk.SampleRate != rate {
				pcm = audio.Resample(pcm, chunk.SampleRate, rate)
			}
			if l.ended.Load() {
				return
			}
			if err := ch.SendAudio(pcm); err != nil {
				c.cfg.Metrics.SendFailed()
				if conversation.IsNotConnected(err) {
					l.logger.Debug("link down, dropping frame")
				} else {
					l.logger.Warn("send audio failed", "error", err)
				}
				continue
			}
			c.cfg.Metrics.FrameSent()
		}
	}
}

func (c *Controller) teardown(l *live, ch conversation.Channel, src audioio.Source) {
	if src != nil {
		src.Stop()
		if err := src.Close(); err != nil {
			l.logger.Debug("close capture", "error", err)
		}
	}
	if ch != nil {
		if err := ch.Close(); err != nil {
			l.logger.Debug("close channel", "error", err)
		}
	}
}

// Transcript returns the stored transcript for phase. If the last session
// of that phase ended without one, its error is returned.
func (c *Controller) Transcript(phase Phase) (*transcript.Transcript, error) {
	if t := c.store.Transcript(phase); t != nil {
		return t, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.session.Phase == phase && c.session.Err != nil {
		return nil, c.session.Err
	}
	return nil, ErrNoTranscript
}

// Metrics returns the report for the story transcript, computing and
// caching it on first use. A degraded assessment is logged, not returned.
func (c *Controller) Metrics(ctx context.Context) (*analytics.Report, error) {
	if r := c.store.Report(); r != nil {
		return r, nil
	}

	epoch := c.store.Epoch()
	later := c.store.Transcript(PhaseStory)
	if later == nil {
		return nil, ErrNoTranscript
	}
	earlier := c.store.Transcript(PhaseIntro)

	start := time.Now()
	r, err := c.cfg.Analyzer.Analyze(ctx, analytics.Input{Earlier: earlier, Later: later})
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	c.cfg.Metrics.Analyzed(time.Since(start), r.External.Degraded)

	if r.External.Degraded {
		c.logger.Warn("using placeholder assessment",
			"error", newError(KindAnalysisDegraded, "assess", errors.New(r.External.Reason)))
	}
	if !c.store.SetReport(epoch, r) {
		c.logger.Info("discarding report computed before reset")
	}
	return r, nil
}

// Reset ends any live session, discards it and clears the store. A dynamic
// story agent is deleted; if that fails the error is returned, but the
// local reset has already happened.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	l := c.cur
	prev := c.session
	c.cur = nil
	c.session = nil
	var ch conversation.Channel
	var src audioio.Source
	if l != nil {
		ch, src = l.channel, l.capture
	}
	if prev != nil {
		c.cfg.Metrics.Transition(prev.State.String(), StateIdle.String())
	}
	c.mu.Unlock()

	if l != nil {
		l.ended.Store(true)
		l.cancel()
		l.settle()
	}
	c.cfg.Playback.Flush()
	if l != nil {
		c.teardown(l, ch, src)
	}

	agentID, dynamic := c.store.StoryAgent()
	c.store.Reset()
	c.logger.Info("session reset")
	c.emit(c.Snapshot())

	if dynamic && agentID != "" {
		return c.deleteAgent(ctx, agentID)
	}
	return nil
}

// deleteAgent removes a dynamic story agent, retrying transient failures.
func (c *Controller) deleteAgent(ctx context.Context, agentID string) error {
	op := func() error {
		err := c.cfg.API.DeleteAgent(ctx, agentID)
		if err == nil || errors.Is(err, conversation.ErrAgentNotFound) {
			return nil
		}
		var apiErr *conversation.APIError
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		c.logger.Warn("delete agent failed, retrying", "agent_id", agentID, "error", err, "backoff", d)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.cfg.CleanupBackoff(), 3), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		c.cfg.Metrics.AgentCleanupFailed()
		c.logger.Error("delete agent failed", "agent_id", agentID, "error", err)
		return newError(KindExternalService, "delete agent", err)
	}
	c.logger.Info("story agent deleted", "agent_id", agentID)
	return nil
}

// transitionLocked moves the session to next and returns the snapshot to
// emit once the lock is released.
func (c *Controller) transitionLocked(next State) (Snapshot, bool) {
	from := c.session.State
	if !from.CanTransition(next) {
		c.logger.Debug("ignoring transition", "from", from.String(), "to", next.String())
		return Snapshot{}, false
	}
	c.session.State = next
	c.cfg.Metrics.Transition(from.String(), next.String())
	c.logger.Info("session state", "local_id", c.session.LocalID, "from", from.String(), "to", next.String())
	return c.snapshotLocked(), true
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{State: StateIdle, Store: c.store.Snapshot()}
	s := c.session
	if s == nil {
		return snap
	}
	snap.LocalID = s.LocalID
	snap.ConversationID = s.ID
	snap.Phase = s.Phase
	snap.AgentID = s.AgentID
	snap.State = s.State
	snap.EndReason = s.EndReason
	if !s.StartedAt.IsZero() {
		t := s.StartedAt
		snap.StartedAt = &t
	}
	if !s.EndedAt.IsZero() {
		t := s.EndedAt
		snap.EndedAt = &t
	}
	if s.Err != nil {
		snap.Error = s.Err.Error()
		if k, ok := KindOf(s.Err); ok {
			snap.ErrorKind = k.String()
		}
	}
	return snap
}

func (c *Controller) emit(snap Snapshot) {
	c.mu.Lock()
	fns := make([]func(Snapshot), len(c.listeners))
	copy(fns, c.listeners)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
