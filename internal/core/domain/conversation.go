package domain

import (
	"strings"
	"time"
)

// ScopeState tracks the per-conversation retrieval scope machine:
// EMPTY -> SCOPED on a new-topic query, SCOPED -> REFINED on a refinement
// query, back to EMPTY when cleared or evicted.
type ScopeState string

const (
	ScopeEmpty   ScopeState = "empty"
	ScopeScoped  ScopeState = "scoped"
	ScopeRefined ScopeState = "refined"
)

const (
	MaxDocumentStack = 10
	MaxTopicHistory  = 20
	MaxLastPoints    = 10
	MaxPronounRefs   = 5
)

type DocumentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type TopicEntry struct {
	Topic    string    `json:"topic"`
	Mentions int       `json:"mentions"`
	LastSeen time.Time `json:"last_seen"`
}

// PronounRef records what a bare pronoun would currently resolve to.
type PronounRef struct {
	Kind string `json:"kind"` // "document", "topic" or "point"
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

// ConversationState is the per-conversation scope tracked across turns.
// All list fields are bounded and most-recent-first; mutation must go
// through the state cache's per-key update function.
type ConversationState struct {
	ConversationID   string        `json:"conversation_id"`
	Scope            ScopeState    `json:"scope"`
	DocumentStack    []DocumentRef `json:"document_stack,omitempty"`
	TopicHistory     []TopicEntry  `json:"topic_history,omitempty"`
	CurrentTopic     string        `json:"current_topic,omitempty"`
	LastPoints       []string      `json:"last_points,omitempty"`
	PronounRefs      []PronounRef  `json:"pronoun_refs,omitempty"`
	ScopeDocumentIDs []string      `json:"scope_document_ids,omitempty"`
	ActiveFilter     SearchFilter  `json:"active_filter"`
	LastCitations    []Citation    `json:"last_citations,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

func NewConversationState(conversationID string) *ConversationState {
	return &ConversationState{
		ConversationID: conversationID,
		Scope:          ScopeEmpty,
	}
}

// PushDocument inserts a document most-recent-first, deduplicated by ID.
func (s *ConversationState) PushDocument(ref DocumentRef) {
	if ref.ID == "" {
		return
	}
	out := make([]DocumentRef, 0, len(s.DocumentStack)+1)
	out = append(out, ref)
	for _, existing := range s.DocumentStack {
		if existing.ID == ref.ID {
			continue
		}
		out = append(out, existing)
	}
	if len(out) > MaxDocumentStack {
		out = out[:MaxDocumentStack]
	}
	s.DocumentStack = out
}

// TouchTopic bumps the topic's mention count and recency, inserting it when
// new and evicting the least recently seen entry past the bound.
func (s *ConversationState) TouchTopic(topic string, now time.Time) {
	topic = strings.TrimSpace(strings.ToLower(topic))
	if topic == "" {
		return
	}
	for i := range s.TopicHistory {
		if s.TopicHistory[i].Topic == topic {
			s.TopicHistory[i].Mentions++
			s.TopicHistory[i].LastSeen = now
			s.CurrentTopic = topic
			return
		}
	}
	s.TopicHistory = append(s.TopicHistory, TopicEntry{Topic: topic, Mentions: 1, LastSeen: now})
	if len(s.TopicHistory) > MaxTopicHistory {
		oldest := 0
		for i := range s.TopicHistory {
			if s.TopicHistory[i].LastSeen.Before(s.TopicHistory[oldest].LastSeen) {
				oldest = i
			}
		}
		s.TopicHistory = append(s.TopicHistory[:oldest], s.TopicHistory[oldest+1:]...)
	}
	s.CurrentTopic = topic
}

// SetPoints replaces the last-mentioned point list, trimmed to the bound.
func (s *ConversationState) SetPoints(points []string) {
	out := make([]string, 0, len(points))
	for _, p := range points {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
		if len(out) == MaxLastPoints {
			break
		}
	}
	s.LastPoints = out
}

// PushPronounRef inserts a pronoun referent most-recent-first.
func (s *ConversationState) PushPronounRef(ref PronounRef) {
	if strings.TrimSpace(ref.Text) == "" {
		return
	}
	out := make([]PronounRef, 0, len(s.PronounRefs)+1)
	out = append(out, ref)
	for _, existing := range s.PronounRefs {
		if existing.Kind == ref.Kind && existing.ID == ref.ID && existing.Text == ref.Text {
			continue
		}
		out = append(out, existing)
	}
	if len(out) > MaxPronounRefs {
		out = out[:MaxPronounRefs]
	}
	s.PronounRefs = out
}

// ClearScope resets the scope machine while keeping the recency structures,
// which still feed reference resolution on later turns.
func (s *ConversationState) ClearScope() {
	s.Scope = ScopeEmpty
	s.ScopeDocumentIDs = nil
	s.ActiveFilter = SearchFilter{}
}

// Clone deep-copies the state so cache readers never alias cached slices.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	out.DocumentStack = append([]DocumentRef(nil), s.DocumentStack...)
	out.TopicHistory = append([]TopicEntry(nil), s.TopicHistory...)
	out.LastPoints = append([]string(nil), s.LastPoints...)
	out.PronounRefs = append([]PronounRef(nil), s.PronounRefs...)
	out.ScopeDocumentIDs = append([]string(nil), s.ScopeDocumentIDs...)
	out.LastCitations = append([]Citation(nil), s.LastCitations...)
	out.ActiveFilter.DocumentIDs = append([]string(nil), s.ActiveFilter.DocumentIDs...)
	out.ActiveFilter.Tags = append([]string(nil), s.ActiveFilter.Tags...)
	return &out
}

// StateSnapshot is the durable-store payload published after each turn.
type StateSnapshot struct {
	SnapshotID string            `json:"snapshot_id"`
	State      ConversationState `json:"state"`
	CapturedAt time.Time         `json:"captured_at"`
}
