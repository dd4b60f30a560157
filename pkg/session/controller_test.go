package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/teslashibe/soulsmith/pkg/analytics"
	"github.com/teslashibe/soulsmith/pkg/audio"
	"github.com/teslashibe/soulsmith/pkg/audioio"
	"github.com/teslashibe/soulsmith/pkg/conversation"
	"github.com/teslashibe/soulsmith/pkg/transcript"
)

// fakeAPI is an in-memory conversation REST API.
type fakeAPI struct {
	mu sync.Mutex

	signedURLErr  error
	createErr     error
	deleteErrs    []error
	conversations map[string]*conversation.ConversationResponse

	created     []conversation.AgentConfig
	deleted     []string
	deleteCalls int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{conversations: make(map[string]*conversation.ConversationResponse)}
}

func (f *fakeAPI) GetSignedURL(ctx context.Context, agentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signedURLErr != nil {
		return "", f.signedURLErr
	}
	return "wss://example.test/convai?agent_id=" + agentID, nil
}

func (f *fakeAPI) CreateAgent(ctx context.Context, cfg conversation.AgentConfig) (*conversation.CreateAgentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, cfg)
	return &conversation.CreateAgentResponse{AgentID: "dyn-agent"}, nil
}

func (f *fakeAPI) GetAgent(ctx context.Context, agentID string) (*conversation.GetAgentResponse, error) {
	return &conversation.GetAgentResponse{AgentID: agentID, Name: "test"}, nil
}

func (f *fakeAPI) DeleteAgent(ctx context.Context, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if len(f.deleteErrs) > 0 {
		err := f.deleteErrs[0]
		f.deleteErrs = f.deleteErrs[1:]
		if err != nil {
			return err
		}
	}
	f.deleted = append(f.deleted, agentID)
	return nil
}

func (f *fakeAPI) GetConversation(ctx context.Context, conversationID string) (*conversation.ConversationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp, ok := f.conversations[conversationID]
	if !ok {
		return nil, conversation.ErrConversationNotFound
	}
	return resp, nil
}

func (f *fakeAPI) addConversation(id string, turns ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &conversation.ConversationResponse{ConversationID: id}
	for i, text := range turns {
		role := "agent"
		if i%2 == 1 {
			role = "user"
		}
		msg := text
		resp.Transcript = append(resp.Transcript, conversation.TranscriptEntry{Role: role, Message: &msg})
	}
	f.conversations[id] = resp
}

func (f *fakeAPI) deletes() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteCalls, append([]string(nil), f.deleted...)
}

// countingAnalyzer counts Analyze calls.
type countingAnalyzer struct {
	mu    sync.Mutex
	calls int
	inner Analyzer
}

func (a *countingAnalyzer) Analyze(ctx context.Context, in analytics.Input) (*analytics.Report, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return a.inner.Analyze(ctx, in)
}

type harness struct {
	ctrl  *Controller
	api   *fakeAPI
	sink  *audioio.MockSink
	queue *audio.Queue

	mu       sync.Mutex
	channels []*conversation.Mock
	sources  []*audioio.MockSource
	states   []State

	captureErr error
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	h := &harness{api: newFakeAPI()}

	acfg := audioio.DefaultConfig()
	acfg.Backend = audioio.BackendMock
	h.sink = audioio.NewMockSink(acfg, nil)
	h.sink.Speed = 0
	if err := h.sink.Start(context.Background()); err != nil {
		t.Fatalf("sink start: %v", err)
	}
	queue := audio.NewQueue(h.sink, nil)
	ctx, cancel := context.WithCancel(context.Background())
	queue.Start(ctx)
	h.queue = queue
	t.Cleanup(func() {
		queue.Close()
		cancel()
	})

	cfg := Config{
		IntroAgentID: "intro-agent",
		StoryAgentID: "story-agent",
		API:          h.api,
		NewChannel: func() conversation.Channel {
			h.mu.Lock()
			defer h.mu.Unlock()
			ch := conversation.NewMock()
			h.channels = append(h.channels, ch)
			return ch
		},
		NewCapture: func() (audioio.Source, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.captureErr != nil {
				return nil, h.captureErr
			}
			src := audioio.NewMockSource(acfg, nil, audioio.WithoutGenerator())
			h.sources = append(h.sources, src)
			return src, nil
		},
		Playback:       queue,
		FrameSize:      160,
		Retriever:      transcript.NewRetriever(h.api, transcript.WithSettleDelay(0)),
		CleanupBackoff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
	if mutate != nil {
		mutate(&cfg)
	}

	ctrl, err := NewController(cfg, NewStore())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	ctrl.OnStateChange(func(s Snapshot) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.states = append(h.states, s.State)
	})
	h.ctrl = ctrl
	return h
}

func (h *harness) channel() *conversation.Mock {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.channels) == 0 {
		return nil
	}
	return h.channels[len(h.channels)-1]
}

func (h *harness) source() *audioio.MockSource {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.sources) == 0 {
		return nil
	}
	return h.sources[len(h.sources)-1]
}

func (h *harness) seenStates() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states...)
}

// activate starts a session for phase and completes the handshake.
func (h *harness) activate(t *testing.T, phase Phase, conversationID string) {
	t.Helper()
	if _, err := h.ctrl.Start(context.Background(), phase); err != nil {
		t.Fatalf("Start(%s): %v", phase, err)
	}
	if got := h.ctrl.State(); got != StateConnecting {
		t.Fatalf("state after Start = %s, want connecting", got)
	}
	h.channel().SimulateMetadata(conversationID)
	if got := h.ctrl.State(); got != StateActive {
		t.Fatalf("state after handshake = %s, want active", got)
	}
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.ctrl.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartActivatesOnHandshake(t *testing.T) {
	h := newHarness(t, nil)
	h.activate(t, PhaseIntro, "conv-intro")

	snap := h.ctrl.Snapshot()
	if snap.ConversationID != "conv-intro" {
		t.Errorf("ConversationID = %q, want conv-intro", snap.ConversationID)
	}
	if snap.AgentID != "intro-agent" {
		t.Errorf("AgentID = %q, want intro-agent", snap.AgentID)
	}
	if snap.LocalID == "" {
		t.Error("LocalID should be assigned at Start")
	}
	if got := h.ctrl.Store().ConversationID(PhaseIntro); got != "conv-intro" {
		t.Errorf("store intro id = %q", got)
	}
	if h.channel().SignedURL == "" {
		t.Error("channel was not connected with the signed URL")
	}
}

func TestStartRejectedUnlessIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.activate(t, PhaseIntro, "conv-1")

	_, err := h.ctrl.Start(context.Background(), PhaseIntro)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second Start error = %v, want ErrInvalidTransition", err)
	}
	if got := h.ctrl.State(); got != StateActive {
		t.Errorf("state = %s, want active", got)
	}
}

func TestStartWithoutAgent(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.IntroAgentID = "" })

	_, err := h.ctrl.Start(context.Background(), PhaseIntro)
	if !errors.Is(err, ErrNoAgent) {
		t.Fatalf("error = %v, want ErrNoAgent", err)
	}
	if got := h.ctrl.State(); got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
}

func TestRequestEndIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.api.addConversation("conv-1", "Hello! What's your name?", "I am Mia and I like dragons")
	h.activate(t, PhaseIntro, "conv-1")

	if err := h.ctrl.RequestEnd(EndUserRequested); err != nil {
		t.Fatalf("RequestEnd: %v", err)
	}
	if err := h.ctrl.RequestEnd(EndUserRequested); err != nil {
		t.Fatalf("second RequestEnd: %v", err)
	}
	h.wait(t)
	if err := h.ctrl.RequestEnd(EndUserRequested); err != nil {
		t.Fatalf("RequestEnd after completion: %v", err)
	}

	if got := h.ctrl.State(); got != StateCompleted {
		t.Fatalf("state = %s, want completed", got)
	}
	if got := h.channel().Closes(); got != 1 {
		t.Errorf("channel closed %d times, want 1", got)
	}
	if h.source().Running() {
		t.Error("capture still running after end")
	}

	tr, err := h.ctrl.Transcript(PhaseIntro)
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if tr.Len() != 2 {
		t.Errorf("utterances = %d, want 2", tr.Len())
	}

	want := []State{StateConnecting, StateActive, StateEnding, StateCompleted}
	got := h.seenStates()
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRequestEndInvalidStates(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctrl.RequestEnd(EndUserRequested); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("RequestEnd from idle = %v, want ErrInvalidTransition", err)
	}

	h.api.signedURLErr = errors.New("boom")
	h.ctrl.Start(context.Background(), PhaseIntro)
	if err := h.ctrl.RequestEnd(EndUserRequested); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("RequestEnd from failed = %v, want ErrInvalidTransition", err)
	}
}

func TestShouldAutoEnd(t *testing.T) {
	tests := []struct {
		name      string
		handshake bool
		haveID    bool
		latched   bool
		code      int
		want      bool
	}{
		{"normal close after handshake", true, true, false, conversation.CloseNormal, true},
		{"no handshake", false, true, false, conversation.CloseNormal, false},
		{"no conversation id", true, false, false, conversation.CloseNormal, false},
		{"already ending", true, true, true, conversation.CloseNormal, false},
		{"abnormal close", true, true, false, conversation.CloseAbnormal, false},
		{"going away", true, true, false, 1001, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldAutoEnd(tt.handshake, tt.haveID, tt.latched, tt.code)
			if got != tt.want {
				t.Errorf("ShouldAutoEnd() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRemoteNormalCloseEndsSession(t *testing.T) {
	h := newHarness(t, nil)
	h.api.addConversation("conv-1", "Hi there!", "hello")
	h.activate(t, PhaseIntro, "conv-1")

	h.channel().SimulateClose(conversation.CloseInfo{Code: conversation.CloseNormal})
	h.wait(t)

	snap := h.ctrl.Snapshot()
	if snap.State != StateCompleted {
		t.Fatalf("state = %s, want completed", snap.State)
	}
	if snap.EndReason != EndRemoteNormalClose {
		t.Errorf("EndReason = %q, want %q", snap.EndReason, EndRemoteNormalClose)
	}
}

func TestAbnormalCloseWhileActiveDoesNotEnd(t *testing.T) {
	h := newHarness(t, nil)
	h.activate(t, PhaseIntro, "conv-1")

	h.channel().SimulateClose(conversation.CloseInfo{Code: conversation.CloseAbnormal, Err: errors.New("read: connection reset")})

	if got := h.ctrl.State(); got != StateActive {
		t.Errorf("state = %s, want active", got)
	}
}

func TestCloseDuringConnectingFails(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.ctrl.Start(context.Background(), PhaseIntro); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.channel().SimulateClose(conversation.CloseInfo{Code: conversation.CloseAbnormal})

	snap := h.ctrl.Snapshot()
	if snap.State != StateFailed {
		t.Fatalf("state = %s, want failed", snap.State)
	}
	if snap.ErrorKind != KindTransport.String() {
		t.Errorf("ErrorKind = %q, want transport", snap.ErrorKind)
	}
	// Even a normal close before the handshake is a failure.
	if ShouldAutoEnd(false, false, false, conversation.CloseNormal) {
		t.Error("close before handshake must not auto-end")
	}
}

func TestStartFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		kind  Kind
	}{
		{
			name:  "signed url",
			setup: func(h *harness) { h.api.signedURLErr = conversation.NewAPIError(http.StatusUnauthorized, "", "bad key") },
			kind:  KindTransport,
		},
		{
			name:  "capture denied",
			setup: func(h *harness) { h.captureErr = audioio.ErrDeviceUnavailable },
			kind:  KindPermission,
		},
		{
			name: "connect",
			setup: func(h *harness) {
				h.ctrl.cfg.NewChannel = func() conversation.Channel {
					ch := conversation.NewMock()
					ch.ConnectFunc = func(ctx context.Context, url string) error {
						return errors.New("dial: refused")
					}
					return ch
				}
			},
			kind: KindTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			tt.setup(h)

			_, err := h.ctrl.Start(context.Background(), PhaseIntro)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, &Error{Kind: tt.kind}) {
				t.Errorf("error = %v, want kind %s", err, tt.kind)
			}
			if got := h.ctrl.State(); got != StateFailed {
				t.Errorf("state = %s, want failed", got)
			}
			if src := h.source(); src != nil && src.Running() {
				t.Error("capture left running after failure")
			}
		})
	}
}

func TestRetrieveFailureIsRecorded(t *testing.T) {
	h := newHarness(t, nil)
	h.activate(t, PhaseIntro, "conv-missing")

	h.ctrl.RequestEnd(EndUserRequested)
	h.wait(t)

	if got := h.ctrl.State(); got != StateCompleted {
		t.Fatalf("state = %s, want completed", got)
	}
	_, err := h.ctrl.Transcript(PhaseIntro)
	if k, ok := KindOf(err); !ok || k != KindExternalService {
		t.Errorf("Transcript error = %v, want external service", err)
	}
	if !errors.Is(err, conversation.ErrConversationNotFound) {
		t.Errorf("error should wrap ErrConversationNotFound: %v", err)
	}
}

func TestMalformedTranscriptIsRecorded(t *testing.T) {
	h := newHarness(t, nil)
	h.api.addConversation("conv-empty")
	h.activate(t, PhaseIntro, "conv-empty")

	h.ctrl.RequestEnd(EndUserRequested)
	h.wait(t)

	_, err := h.ctrl.Transcript(PhaseIntro)
	if k, _ := KindOf(err); k != KindMalformedTranscript {
		t.Errorf("Transcript error = %v, want malformed transcript", err)
	}
}

func TestEndBeforeHandshakeSkipsRetrieval(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.ctrl.Start(context.Background(), PhaseIntro); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.ctrl.RequestEnd(EndUserRequested); err != nil {
		t.Fatalf("RequestEnd: %v", err)
	}
	h.wait(t)

	if got := h.ctrl.State(); got != StateCompleted {
		t.Fatalf("state = %s, want completed", got)
	}
	_, err := h.ctrl.Transcript(PhaseIntro)
	if !errors.Is(err, ErrNoTranscript) {
		t.Errorf("Transcript error = %v, want ErrNoTranscript", err)
	}
	if k, ok := KindOf(err); ok {
		t.Errorf("Transcript error kind = %s, want none", k)
	}
	if snap := h.ctrl.Snapshot(); snap.ErrorKind != "" {
		t.Errorf("snapshot error_kind = %q", snap.ErrorKind)
	}
}

func TestOutboundAudioIsFramed(t *testing.T) {
	h := newHarness(t, nil)
	h.activate(t, PhaseIntro, "conv-1")

	samples := make([]float32, 400)
	for i := range samples {
		samples[i] = 0.25
	}
	if !h.source().Feed(samples) {
		t.Fatal("Feed rejected")
	}

	ch := h.channel()
	waitFor(t, "two frames", func() bool { return ch.FramesSent() == 2 })
	if got := len(ch.AudioSent[0]); got != 160 {
		t.Errorf("frame size = %d, want 160", got)
	}
	if got := ch.AudioSent[0][0]; got != audio.FloatToInt16(0.25) {
		t.Errorf("sample = %d, want %d", got, audio.FloatToInt16(0.25))
	}
}

func TestNoAudioSentAfterEnd(t *testing.T) {
	h := newHarness(t, nil)
	h.api.addConversation("conv-1", "Hi!", "hi")
	h.activate(t, PhaseIntro, "conv-1")
	src := h.source()

	h.ctrl.RequestEnd(EndUserRequested)
	if src.Feed(make([]float32, 400)) {
		t.Error("capture accepted audio after end")
	}
	h.wait(t)
	if got := h.channel().FramesSent(); got != 0 {
		t.Errorf("frames sent = %d, want 0", got)
	}
}

func TestAgentAudioIsPlayed(t *testing.T) {
	h := newHarness(t, nil)
	h.activate(t, PhaseIntro, "conv-1")

	h.channel().SimulateAudio([]int16{1000, -1000, 2000})
	h.channel().SimulateAudio([]int16{3000})

	waitFor(t, "playback", func() bool { return len(h.sink.Played()) == 2 })
	played := h.sink.Played()
	if len(played[0]) != 3 || len(played[1]) != 1 {
		t.Errorf("played buffers out of order: %v", played)
	}
}

func TestInterruptionFlushesPlayback(t *testing.T) {
	h := newHarness(t, nil)
	h.sink.Speed = 1
	h.activate(t, PhaseIntro, "conv-1")

	second := make([]int16, audio.SampleRate)
	for i := 0; i < 3; i++ {
		h.channel().SimulateAudio(second)
	}
	waitFor(t, "first buffer in flight", func() bool {
		return h.queue.IsPlaying() && h.queue.Len() == 2
	})

	h.channel().SimulateInterruption()

	if h.queue.IsPlaying() || h.queue.Len() != 0 {
		t.Errorf("after interruption: playing=%v queued=%d", h.queue.IsPlaying(), h.queue.Len())
	}
	if got := h.sink.Interrupted(); got != 1 {
		t.Errorf("in-flight buffers cancelled = %d, want 1", got)
	}
	if _, flushed := h.queue.Stats(); flushed != 2 {
		t.Errorf("flushed = %d, want 2", flushed)
	}
	if played := h.sink.Played(); len(played) != 0 {
		t.Errorf("played %d buffers after interruption", len(played))
	}
	if got := h.ctrl.State(); got != StateActive {
		t.Errorf("state = %s, want active", got)
	}
}

func TestStoryAfterIntroWithDynamicAgent(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.DynamicStoryAgent = true })
	h.api.addConversation("conv-intro", "What do you like?", "I like dragons and castles")
	h.api.addConversation("conv-story", "Once upon a time...", "the dragon flew away because it was scared")

	if _, err := h.ctrl.Start(context.Background(), PhaseStory); !errors.Is(err, ErrNoTranscript) {
		t.Fatalf("story before intro = %v, want ErrNoTranscript", err)
	}

	h.activate(t, PhaseIntro, "conv-intro")
	h.ctrl.RequestEnd(EndUserRequested)
	h.wait(t)

	h.activate(t, PhaseStory, "conv-story")
	if len(h.api.created) != 1 {
		t.Fatalf("agents created = %d, want 1", len(h.api.created))
	}
	prompt := h.api.created[0].ConversationConfig.Agent.Prompt.Prompt
	if want := "I like dragons and castles"; !strings.Contains(prompt, want) {
		t.Errorf("story prompt missing intro answer %q", want)
	}
	if id, dynamic := h.ctrl.Store().StoryAgent(); id != "dyn-agent" || !dynamic {
		t.Errorf("StoryAgent() = %q, %v", id, dynamic)
	}

	h.ctrl.RequestEnd(EndUserRequested)
	h.wait(t)

	if _, err := h.ctrl.Transcript(PhaseStory); err != nil {
		t.Fatalf("story transcript: %v", err)
	}

	if err := h.ctrl.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	calls, deleted := h.api.deletes()
	if calls != 1 || len(deleted) != 1 || deleted[0] != "dyn-agent" {
		t.Errorf("deletes = %d %v, want one delete of dyn-agent", calls, deleted)
	}
	if snap := h.ctrl.Store().Snapshot(); snap.HasIntroTranscript || snap.HasStoryTranscript || snap.StoryAgentID != "" {
		t.Errorf("store not cleared: %+v", snap)
	}
}

func TestResetDeleteRetries(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{"succeeds first time", nil, 1, false},
		{"retries server error", []error{conversation.NewAPIError(http.StatusBadGateway, "", "bad gateway")}, 2, false},
		{"gives up after retries", []error{
			errors.New("timeout"), errors.New("timeout"), errors.New("timeout"), errors.New("timeout"),
		}, 4, true},
		{"does not retry forbidden", []error{conversation.NewAPIError(http.StatusForbidden, "", "nope")}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.api.deleteErrs = tt.errs
			h.ctrl.Store().SetStoryAgent("dyn-agent", true)

			err := h.ctrl.Reset(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Reset error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if k, _ := KindOf(err); k != KindExternalService {
					t.Errorf("kind = %v, want external service", k)
				}
			}
			if calls, _ := h.api.deletes(); calls != tt.wantCalls {
				t.Errorf("delete calls = %d, want %d", calls, tt.wantCalls)
			}
			if id, _ := h.ctrl.Store().StoryAgent(); id != "" {
				t.Error("local reset must complete even when delete fails")
			}
		})
	}
}

func TestResetKeepsPreconfiguredAgent(t *testing.T) {
	h := newHarness(t, nil)
	h.api.addConversation("conv-story", "Once upon a time...", "ok")
	h.ctrl.Store().SetTranscript(PhaseIntro, mustTranscript(t, "conv-intro", "I like cats"))

	h.activate(t, PhaseStory, "conv-story")
	if id, dynamic := h.ctrl.Store().StoryAgent(); id != "story-agent" || dynamic {
		t.Fatalf("StoryAgent() = %q, %v", id, dynamic)
	}

	if err := h.ctrl.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if calls, _ := h.api.deletes(); calls != 0 {
		t.Errorf("deleted a pre-configured agent")
	}
	if got := h.ctrl.State(); got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
	if h.channel().Closes() == 0 {
		t.Error("reset did not close the live channel")
	}
}

func TestResetDuringActiveDropsLateHandshake(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.ctrl.Start(context.Background(), PhaseIntro); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ch := h.channel()

	h.ctrl.Reset(context.Background())
	ch.SimulateMetadata("late")

	if got := h.ctrl.State(); got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
	if got := h.ctrl.Store().ConversationID(PhaseIntro); got != "" {
		t.Errorf("stale handshake recorded id %q", got)
	}
}

func TestMetricsAreCached(t *testing.T) {
	counter := &countingAnalyzer{inner: analytics.NewEngine()}
	h := newHarness(t, func(c *Config) { c.Analyzer = counter })

	if _, err := h.ctrl.Metrics(context.Background()); !errors.Is(err, ErrNoTranscript) {
		t.Fatalf("Metrics without transcript = %v, want ErrNoTranscript", err)
	}

	h.ctrl.Store().SetTranscript(PhaseStory, mustTranscript(t, "conv-story", "the dragon was big because it ate"))

	first, err := h.ctrl.Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if !first.External.Degraded {
		t.Error("expected a placeholder assessment without an assessor")
	}
	second, err := h.ctrl.Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if counter.calls != 1 {
		t.Errorf("Analyze called %d times, want 1", counter.calls)
	}
	if first.Summary.Overall != second.Summary.Overall {
		t.Error("cached report differs")
	}

	h.ctrl.Reset(context.Background())
	if _, err := h.ctrl.Metrics(context.Background()); !errors.Is(err, ErrNoTranscript) {
		t.Errorf("Metrics after reset = %v, want ErrNoTranscript", err)
	}
}

func TestNewControllerRequiresCollaborators(t *testing.T) {
	if _, err := NewController(Config{}, nil); err == nil {
		t.Error("expected error for empty config")
	}
}

func mustTranscript(t *testing.T, id string, userText string) *transcript.Transcript {
	t.Helper()
	tr, err := transcript.New(id, []transcript.Utterance{
		{Speaker: transcript.SpeakerAgent, Text: "Tell me more?", Sequence: 0},
		{Speaker: transcript.SpeakerUser, Text: userText, Sequence: 1},
	})
	if err != nil {
		t.Fatalf("transcript.New: %v", err)
	}
	return tr
}
