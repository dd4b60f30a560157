package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/soulsmith/pkg/conversation"
)

// DefaultSettleDelay is how long the retriever waits after a conversation
// ends before fetching it, giving the platform time to store the final turns.
const DefaultSettleDelay = 2 * time.Second

// Fetcher fetches stored conversations.
type Fetcher interface {
	GetConversation(ctx context.Context, conversationID string) (*conversation.ConversationResponse, error)
}

// Retriever turns an ended conversation into a Transcript.
type Retriever struct {
	fetcher Fetcher
	settle  time.Duration
	logger  *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithSettleDelay overrides DefaultSettleDelay. Zero disables the wait.
func WithSettleDelay(d time.Duration) Option {
	return func(r *Retriever) {
		r.settle = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) {
		r.logger = logger
	}
}

// NewRetriever creates a Retriever backed by f.
func NewRetriever(f Fetcher, opts ...Option) *Retriever {
	r := &Retriever{
		fetcher: f,
		settle:  DefaultSettleDelay,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "transcript")
	return r
}

// Retrieve waits for the settle delay, fetches the conversation and
// normalizes it. Fetch errors are returned wrapped; a response that cannot
// be normalized yields ErrMalformed.
func (r *Retriever) Retrieve(ctx context.Context, conversationID string) (*Transcript, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: empty conversation id", ErrMalformed)
	}

	if r.settle > 0 {
		timer := time.NewTimer(r.settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	start := time.Now()
	resp, err := r.fetcher.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("fetch conversation %s: %w", conversationID, err)
	}

	t, err := Normalize(resp)
	if err != nil {
		return nil, err
	}

	r.logger.Info("transcript retrieved",
		"conversation_id", conversationID,
		"utterances", t.Len(),
		"took_ms", time.Since(start).Milliseconds(),
	)
	return t, nil
}

// Normalize converts a stored conversation to a Transcript. Turns without
// speech are skipped; the rest keep the platform's order and are numbered
// 0..n-1. A conversation with no spoken turns is malformed.
func Normalize(resp *conversation.ConversationResponse) (*Transcript, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrMalformed)
	}

	utterances := make([]Utterance, 0, len(resp.Transcript))
	for i, entry := range resp.Transcript {
		if entry.Message == nil {
			continue
		}
		text := strings.TrimSpace(*entry.Message)
		if text == "" {
			continue
		}
		speaker, err := ParseSpeaker(entry.Role)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		utterances = append(utterances, Utterance{Speaker: speaker, Text: text, Sequence: len(utterances)})
	}
	if len(utterances) == 0 {
		return nil, fmt.Errorf("%w: no utterances in conversation %s", ErrMalformed, resp.ConversationID)
	}

	return New(resp.ConversationID, utterances)
}

// IsMalformed reports whether err came from normalization.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}
