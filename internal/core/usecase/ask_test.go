package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
)

type fakeLexical struct {
	chunks []domain.RetrievedChunk
	err    error
}

func (f *fakeLexical) SearchLexical(_ context.Context, _ string, _ []string, _ int) ([]domain.RetrievedChunk, error) {
	return f.chunks, f.err
}

type fakeVector struct {
	chunks []domain.RetrievedChunk
	err    error
}

func (f *fakeVector) Search(_ context.Context, _ []float32, _ []string, _ int) ([]domain.RetrievedChunk, error) {
	return f.chunks, f.err
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeClassifier struct {
	detection domain.DomainDetection
	err       error
}

func (f *fakeClassifier) Classify(_ context.Context, _ string, _ []string) (domain.DomainDetection, error) {
	return f.detection, f.err
}

type fakeMetadata struct {
	chunks []domain.RetrievedChunk
}

func (f *fakeMetadata) GetDocuments(_ context.Context, _ []string) ([]domain.DocumentInfo, error) {
	return nil, nil
}

func (f *fakeMetadata) ListChunks(_ context.Context, _ []string, _ int) ([]domain.RetrievedChunk, error) {
	return f.chunks, nil
}

type fakeStateCache struct {
	mu     sync.Mutex
	states map[string]*domain.ConversationState
}

func newFakeStateCache() *fakeStateCache {
	return &fakeStateCache{states: make(map[string]*domain.ConversationState)}
}

func (f *fakeStateCache) Get(conversationID string) (*domain.ConversationState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[conversationID]
	if !ok {
		return nil, false
	}
	return state.Clone(), true
}

func (f *fakeStateCache) Update(conversationID string, mutate func(*domain.ConversationState)) *domain.ConversationState {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[conversationID]
	if !ok {
		state = domain.NewConversationState(conversationID)
		f.states[conversationID] = state
	}
	mutate(state)
	return state.Clone()
}

func (f *fakeStateCache) Delete(conversationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, conversationID)
}

type fakeSnapshotStore struct {
	saved  []domain.StateSnapshot
	latest *domain.ConversationState
}

func (f *fakeSnapshotStore) SaveSnapshot(_ context.Context, snapshot domain.StateSnapshot) error {
	f.saved = append(f.saved, snapshot)
	return nil
}

func (f *fakeSnapshotStore) LoadLatest(_ context.Context, conversationID string) (*domain.ConversationState, error) {
	if f.latest == nil {
		return nil, domain.WrapError(domain.ErrConversationNotFound, "load snapshot", errors.New("none"))
	}
	return f.latest.Clone(), nil
}

type fakeQueue struct {
	mu        sync.Mutex
	published []domain.StateSnapshot
	err       error
}

func (f *fakeQueue) PublishStateUpdated(_ context.Context, snapshot domain.StateSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, snapshot)
	return nil
}

func (f *fakeQueue) SubscribeStateUpdated(_ context.Context, _ func(context.Context, domain.StateSnapshot) error) error {
	return nil
}

type askFixture struct {
	lexical  *fakeLexical
	vector   *fakeVector
	embedder *fakeEmbedder
	gen      *fakeGenerator
	states   *fakeStateCache
	queue    *fakeQueue
	uc       *AskUseCase
}

func newAskFixture() *askFixture {
	f := &askFixture{
		lexical: &fakeLexical{chunks: []domain.RetrievedChunk{
			chunk("c1", "doc1", "the termination clause allows exit with sixty days written notice", 4.2),
			chunk("c2", "doc2", "the security deposit is refundable within thirty days", 3.1),
		}},
		vector: &fakeVector{chunks: []domain.RetrievedChunk{
			chunk("c1", "doc1", "the termination clause allows exit with sixty days written notice", 0.88),
			chunk("c3", "doc1", "renewal requires notice ninety days before the term ends", 0.74),
		}},
		embedder: &fakeEmbedder{},
		gen:      &fakeGenerator{answer: "The termination clause allows exit with sixty days written notice."},
		states:   newFakeStateCache(),
		queue:    &fakeQueue{},
	}
	f.uc = NewAskUseCase(AskDeps{
		Lexical:    f.lexical,
		Vector:     f.vector,
		Embedder:   f.embedder,
		Generator:  f.gen,
		Classifier: &fakeClassifier{detection: domain.DomainDetection{Domain: "legal", Confidence: 0.8}},
		Metadata:   &fakeMetadata{},
		States:     f.states,
		Snapshots:  &fakeSnapshotStore{},
		Queue:      f.queue,
		Grounding:  NewGroundingValidator(f.gen, nil, GroundingConfig{}, nil),
	}, AskConfig{})
	return f
}

func TestAskEmptyQuestionRejected(t *testing.T) {
	f := newAskFixture()
	if _, err := f.uc.Ask(context.Background(), "conv1", "   ", domain.SearchFilter{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestAskHappyPathAnswersAndPersists(t *testing.T) {
	f := newAskFixture()

	answer, err := f.uc.Ask(context.Background(), "conv1", "what does the termination clause require", domain.SearchFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !answer.Answerable {
		t.Fatalf("expected answerable, got refusal %q", answer.Reason)
	}
	if answer.Domain != "legal" {
		t.Fatalf("expected legal domain, got %q", answer.Domain)
	}
	if len(answer.Evidence) == 0 {
		t.Fatalf("expected evidence attached")
	}
	if !strings.Contains(answer.Text, "[1]") {
		t.Fatalf("expected grounded answer with citation marker, got %q", answer.Text)
	}

	state, ok := f.states.Get("conv1")
	if !ok {
		t.Fatalf("expected state persisted")
	}
	if len(state.DocumentStack) == 0 {
		t.Fatalf("expected evidence documents pushed onto the stack")
	}
	if len(f.queue.published) != 1 {
		t.Fatalf("expected one snapshot published, got %d", len(f.queue.published))
	}
	if f.queue.published[0].State.ConversationID != "conv1" {
		t.Fatalf("snapshot carries wrong conversation: %q", f.queue.published[0].State.ConversationID)
	}
}

func TestAskVectorFailureDegradesToLexical(t *testing.T) {
	f := newAskFixture()
	f.embedder.err = errors.New("embedding backend down")

	answer, err := f.uc.Ask(context.Background(), "conv1", "what does the termination clause require", domain.SearchFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !answer.Answerable {
		t.Fatalf("lexical-only retrieval must still answer, got refusal %q", answer.Reason)
	}
	if !containsMarker(answer.Degraded, DegradedVectorEmpty) {
		t.Fatalf("expected vector degradation marker, got %v", answer.Degraded)
	}
}

func TestAskLexicalFailureUsesKeywordFallback(t *testing.T) {
	f := newAskFixture()
	f.lexical.err = errors.New("search backend down")
	f.uc.metadata = &fakeMetadata{chunks: []domain.RetrievedChunk{
		chunk("c1", "doc1", "the termination clause allows exit with sixty days written notice", 0),
	}}

	answer, err := f.uc.Ask(context.Background(), "conv1", "termination clause notice", domain.SearchFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !containsMarker(answer.Degraded, DegradedLexicalFallback) {
		t.Fatalf("expected lexical fallback marker, got %v", answer.Degraded)
	}
	if len(answer.Evidence) == 0 {
		t.Fatalf("expected fallback evidence")
	}
}

func TestAskRefusesWithoutEvidenceAndStillPersists(t *testing.T) {
	f := newAskFixture()
	f.lexical.chunks = nil
	f.vector.chunks = nil

	answer, err := f.uc.Ask(context.Background(), "conv1", "what does the termination clause require", domain.SearchFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Answerable {
		t.Fatalf("expected refusal without evidence")
	}
	if answer.Reason != "no_evidence" {
		t.Fatalf("expected no_evidence reason, got %q", answer.Reason)
	}
	if answer.Text == "" {
		t.Fatalf("refusal must carry explanatory text")
	}
	if len(f.queue.published) != 1 {
		t.Fatalf("refused turn must still snapshot state, got %d publishes", len(f.queue.published))
	}
}

func TestAskDeadlineReturnsRankedEvidence(t *testing.T) {
	f := newAskFixture()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	answer, err := f.uc.Ask(ctx, "conv1", "what does the termination clause require", domain.SearchFilter{})
	if err != nil {
		t.Fatalf("deadline must not fail the turn, got %v", err)
	}
	if answer.Answerable {
		t.Fatalf("expected no generated answer past the deadline")
	}
	if answer.Reason != "deadline_exceeded" {
		t.Fatalf("expected deadline reason, got %q", answer.Reason)
	}
	if !containsMarker(answer.Degraded, DegradedDeadline) {
		t.Fatalf("expected deadline marker, got %v", answer.Degraded)
	}
	if len(answer.Evidence) == 0 {
		t.Fatalf("expected best-available evidence attached")
	}
}

func TestAskGenerationFailureIsTemporary(t *testing.T) {
	f := newAskFixture()
	f.gen.answerErr = errors.New("model overloaded")

	if _, err := f.uc.Ask(context.Background(), "conv1", "what does the termination clause require", domain.SearchFilter{}); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error kind, got %v", err)
	}
}

func TestAskClassifierFailureFallsBackToGeneral(t *testing.T) {
	f := newAskFixture()
	f.uc.classifier = &fakeClassifier{err: errors.New("rules unavailable")}

	answer, err := f.uc.Ask(context.Background(), "conv1", "what does the termination clause require", domain.SearchFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Domain != domain.DomainGeneral {
		t.Fatalf("expected general fallback domain, got %q", answer.Domain)
	}
	if answer.DomainConfidence != 1.0 {
		t.Fatalf("fallback confidence must be 1.0, got %v", answer.DomainConfidence)
	}
	if !containsMarker(answer.Degraded, DegradedDomainFallback) {
		t.Fatalf("expected domain fallback marker, got %v", answer.Degraded)
	}
}

func TestAskRestoresStateFromSnapshotStore(t *testing.T) {
	f := newAskFixture()
	restored := domain.NewConversationState("conv9")
	restored.PushDocument(domain.DocumentRef{ID: "doc1", Name: "lease.pdf"})
	f.uc.snapshots = &fakeSnapshotStore{latest: restored}

	state, err := f.uc.State(context.Background(), "conv9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(state.DocumentStack) != 1 || state.DocumentStack[0].ID != "doc1" {
		t.Fatalf("expected restored document stack, got %+v", state.DocumentStack)
	}
}

func TestStateUnknownConversation(t *testing.T) {
	f := newAskFixture()
	if _, err := f.uc.State(context.Background(), "missing"); !domain.IsKind(err, domain.ErrConversationNotFound) {
		t.Fatalf("expected conversation-not-found, got %v", err)
	}
}

func TestAskRefinementReusesScopeDocuments(t *testing.T) {
	f := newAskFixture()
	f.states.Update("conv1", func(s *domain.ConversationState) {
		s.Scope = domain.ScopeScoped
		s.ScopeDocumentIDs = []string{"doc1"}
	})

	if _, err := f.uc.Ask(context.Background(), "conv1", "which of those mention notice", domain.SearchFilter{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state, _ := f.states.Get("conv1")
	if state.Scope != domain.ScopeRefined {
		t.Fatalf("expected refined scope, got %s", state.Scope)
	}
	if len(state.ActiveFilter.DocumentIDs) != 1 || state.ActiveFilter.DocumentIDs[0] != "doc1" {
		t.Fatalf("expected refinement pinned to scoped documents, got %v", state.ActiveFilter.DocumentIDs)
	}
}

func containsMarker(markers []string, want string) bool {
	for _, m := range markers {
		if m == want {
			return true
		}
	}
	return false
}
