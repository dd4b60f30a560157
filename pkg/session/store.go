package session

import (
	"sync"

	"github.com/teslashibe/soulsmith/pkg/analytics"
	"github.com/teslashibe/soulsmith/pkg/transcript"
)

// Store holds the identifiers, transcripts and report of the current run.
// Getters return copies; Reset returns it to the empty state.
type Store struct {
	mu sync.RWMutex

	epoch uint64

	introConversationID string
	storyConversationID string
	storyAgentID        string
	dynamicAgent        bool

	intro  *transcript.Transcript
	story  *transcript.Transcript
	report *analytics.Report
}

// StoreSnapshot is a point-in-time view of the Store.
type StoreSnapshot struct {
	IntroConversationID string `json:"intro_conversation_id,omitempty"`
	StoryConversationID string `json:"story_conversation_id,omitempty"`
	StoryAgentID        string `json:"story_agent_id,omitempty"`
	DynamicAgent        bool   `json:"dynamic_agent"`
	HasIntroTranscript  bool   `json:"has_intro_transcript"`
	HasStoryTranscript  bool   `json:"has_story_transcript"`
	HasReport           bool   `json:"has_report"`
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Epoch changes on every Reset.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// SetConversationID records the remote conversation id for a phase.
func (s *Store) SetConversationID(p Phase, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == PhaseStory {
		s.storyConversationID = id
	} else {
		s.introConversationID = id
	}
}

// ConversationID returns the remote conversation id for a phase.
func (s *Store) ConversationID(p Phase) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p == PhaseStory {
		return s.storyConversationID
	}
	return s.introConversationID
}

// SetStoryAgent records the story agent and whether it was created for
// this run.
func (s *Store) SetStoryAgent(id string, dynamic bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storyAgentID = id
	s.dynamicAgent = dynamic
}

// StoryAgent returns the story agent id and whether it is dynamic.
func (s *Store) StoryAgent() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storyAgentID, s.dynamicAgent
}

// SetTranscript stores the transcript for a phase. A new story transcript
// drops any cached report.
func (s *Store) SetTranscript(p Phase, t *transcript.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == PhaseStory {
		s.story = t
		s.report = nil
	} else {
		s.intro = t
	}
}

// Transcript returns the transcript for a phase, or nil.
func (s *Store) Transcript(p Phase) *transcript.Transcript {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p == PhaseStory {
		return s.story
	}
	return s.intro
}

// SetReport caches a report computed at epoch. It is dropped if the
// Store was reset since.
func (s *Store) SetReport(epoch uint64, r *analytics.Report) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return false
	}
	s.report = r
	return true
}

// Report returns a copy of the cached report, or nil.
func (s *Store) Report() *analytics.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.report == nil {
		return nil
	}
	r := *s.report
	r.Summary.Highlights = append([]string(nil), s.report.Summary.Highlights...)
	return &r
}

// Reset clears everything.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.introConversationID = ""
	s.storyConversationID = ""
	s.storyAgentID = ""
	s.dynamicAgent = false
	s.intro = nil
	s.story = nil
	s.report = nil
}

// Snapshot returns a view of what the Store holds.
func (s *Store) Snapshot() StoreSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StoreSnapshot{
		IntroConversationID: s.introConversationID,
		StoryConversationID: s.storyConversationID,
		StoryAgentID:        s.storyAgentID,
		DynamicAgent:        s.dynamicAgent,
		HasIntroTranscript:  s.intro != nil,
		HasStoryTranscript:  s.story != nil,
		HasReport:           s.report != nil,
	}
}
