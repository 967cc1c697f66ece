package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
	"github.com/kirillkom/docqa-assistant/internal/core/ports"
)

// Pipeline stage names used for budgets, logging and metrics.
const (
	StageDomainDetect = "domain_detect"
	StageRetrieval    = "retrieval"
	StageGeneration   = "generation"
	StageGrounding    = "grounding"
)

// Degradation markers surfaced on the answer.
const (
	DegradedDomainFallback  = "domain_fallback"
	DegradedLexicalFallback = "lexical_fallback"
	DegradedVectorEmpty     = "vector_empty"
	DegradedLexicalEmpty    = "lexical_empty"
	DegradedDeadline        = "deadline"
)

// StageObserver receives per-stage timings for metrics wiring.
type StageObserver func(stage string, elapsed time.Duration, softExceeded bool)

type AskConfig struct {
	RetrievalLimit int
	FinalK         int
	MMRLambda      float64
	Fusion         FusionConfig

	// Per-stage soft budget floors; the trackers adapt upward from these.
	StageFloors map[string]time.Duration
}

func (c AskConfig) normalize() AskConfig {
	out := c
	if out.RetrievalLimit <= 0 {
		out.RetrievalLimit = 20
	}
	if out.FinalK <= 0 {
		out.FinalK = 5
	}
	if out.MMRLambda <= 0 || out.MMRLambda > 1 {
		out.MMRLambda = 0.7
	}
	return out
}

// AskUseCase runs the full question-answering pipeline: reference
// resolution, scope tracking, domain detection, hybrid retrieval with rank
// fusion, domain reranking, diversity selection, answerability gating,
// generation and grounding validation.
type AskUseCase struct {
	lexical    ports.LexicalIndex
	vector     ports.VectorIndex
	embedder   ports.Embedder
	generator  ports.AnswerGenerator
	classifier ports.DomainClassifier
	metadata   ports.ChunkMetadataStore
	states     ports.StateCache
	snapshots  ports.ConversationSnapshotStore
	queue      ports.SnapshotQueue
	reranker   *Reranker
	grounding  *GroundingValidator

	cfg      AskConfig
	logger   *slog.Logger
	observer StageObserver
	clock    func() time.Time

	trackerMu sync.Mutex
	trackers  map[string]*LatencyTracker
}

type AskDeps struct {
	Lexical    ports.LexicalIndex
	Vector     ports.VectorIndex
	Embedder   ports.Embedder
	Generator  ports.AnswerGenerator
	Classifier ports.DomainClassifier
	Metadata   ports.ChunkMetadataStore
	States     ports.StateCache
	Snapshots  ports.ConversationSnapshotStore
	Queue      ports.SnapshotQueue
	Reranker   *Reranker
	Grounding  *GroundingValidator
	Logger     *slog.Logger
	Observer   StageObserver
	Clock      func() time.Time
}

func NewAskUseCase(deps AskDeps, cfg AskConfig) *AskUseCase {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &AskUseCase{
		lexical:    deps.Lexical,
		vector:     deps.Vector,
		embedder:   deps.Embedder,
		generator:  deps.Generator,
		classifier: deps.Classifier,
		metadata:   deps.Metadata,
		states:     deps.States,
		snapshots:  deps.Snapshots,
		queue:      deps.Queue,
		reranker:   deps.Reranker,
		grounding:  deps.Grounding,
		cfg:        cfg.normalize(),
		logger:     logger,
		observer:   deps.Observer,
		clock:      clock,
		trackers:   make(map[string]*LatencyTracker),
	}
}

// Ask answers one user turn. Errors are returned only for invalid input or
// unrecoverable generation failure; retrieval-side failures degrade and the
// answer carries the degradation markers.
func (uc *AskUseCase) Ask(ctx context.Context, conversationID, question string, filter domain.SearchFilter) (*domain.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("empty question"))
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	state := uc.loadState(ctx, conversationID)

	query := resolveReferences(conversationID, question, state)
	query.Filter = mergeFilters(filter, query.Filter)

	intent := classifyScope(query.Text(), state)
	if intent == scopeIntentRefinement && len(query.Filter.DocumentIDs) == 0 && len(state.ScopeDocumentIDs) > 0 {
		query.Filter.DocumentIDs = append([]string(nil), state.ScopeDocumentIDs...)
	}

	var degraded []string

	detection := uc.detectDomain(ctx, query, state, &degraded)
	query.Domain = detection.Domain
	query.DomainConfidence = detection.Confidence

	lexicalChunks, vectorChunks := uc.retrieve(ctx, query, &degraded)

	fused := fuseRRF(lexicalChunks, vectorChunks, uc.cfg.Fusion)
	if uc.reranker != nil {
		fused = uc.reranker.Rerank(fused, detection, query.Text())
	}
	evidence := selectDiverseMMR(fused, uc.cfg.FinalK, uc.cfg.MMRLambda)

	answer := &domain.Answer{
		ConversationID:   conversationID,
		Evidence:         evidence,
		Domain:           detection.Domain,
		DomainConfidence: detection.Confidence,
		Degraded:         degraded,
	}

	// Out of time before generation: hand back the ranked evidence instead
	// of failing the turn outright.
	if ctx.Err() != nil {
		answer.Answerable = false
		answer.Reason = "deadline_exceeded"
		answer.Text = "The request ran out of time before an answer could be generated; the ranked evidence is attached."
		answer.Degraded = append(answer.Degraded, DegradedDeadline)
		uc.persistTurn(context.WithoutCancel(ctx), conversationID, query, intent, answer)
		return answer, nil
	}

	verdict := classifyAnswerability(query.Text(), evidence)
	if !verdict.answerable {
		answer.Answerable = false
		answer.Reason = verdict.reason
		answer.Text = refusalText(verdict.reason)
		uc.persistTurn(ctx, conversationID, query, intent, answer)
		return answer, nil
	}

	answerText, err := uc.generate(ctx, query.Text(), evidence)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "generate answer", err)
	}

	answer.Answerable = true
	answer.Text = answerText
	uc.ground(ctx, answer, evidence)

	uc.persistTurn(ctx, conversationID, query, intent, answer)
	return answer, nil
}

// State exposes the current conversation scope for inspection.
func (uc *AskUseCase) State(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	if state, ok := uc.states.Get(conversationID); ok {
		return state, nil
	}
	if uc.snapshots != nil {
		state, err := uc.snapshots.LoadLatest(ctx, conversationID)
		if err == nil && state != nil {
			return state, nil
		}
	}
	return nil, domain.WrapError(domain.ErrConversationNotFound, "load state", fmt.Errorf("conversation %q", conversationID))
}

// loadState reads through the cache to the durable snapshot store, falling
// back to a fresh state for unknown conversations.
func (uc *AskUseCase) loadState(ctx context.Context, conversationID string) *domain.ConversationState {
	if state, ok := uc.states.Get(conversationID); ok {
		return state
	}
	if uc.snapshots != nil {
		if restored, err := uc.snapshots.LoadLatest(ctx, conversationID); err == nil && restored != nil {
			return uc.states.Update(conversationID, func(s *domain.ConversationState) {
				*s = *restored.Clone()
				s.ConversationID = conversationID
			})
		}
	}
	return domain.NewConversationState(conversationID)
}

func (uc *AskUseCase) detectDomain(ctx context.Context, query domain.Query, state *domain.ConversationState, degraded *[]string) domain.DomainDetection {
	fallback := domain.DomainDetection{Domain: domain.DomainGeneral, Confidence: 1.0}
	if uc.classifier == nil {
		return fallback
	}

	docNames := make([]string, 0, len(state.DocumentStack))
	for _, ref := range state.DocumentStack {
		docNames = append(docNames, ref.Name)
	}

	var detection domain.DomainDetection
	err := uc.runStage(ctx, StageDomainDetect, func(stageCtx context.Context) error {
		var classifyErr error
		detection, classifyErr = uc.classifier.Classify(stageCtx, query.Text(), docNames)
		return classifyErr
	})
	if err != nil || detection.Domain == "" {
		if err != nil {
			uc.logger.Warn("domain detection failed, using general", "error", err)
		}
		*degraded = append(*degraded, DegradedDomainFallback)
		return fallback
	}
	return detection
}

// retrieve fans out to both retrievers concurrently and joins. Either side
// failing degrades instead of failing the turn: lexical falls back to the
// keyword-overlap scorer, vector falls back to an empty list.
func (uc *AskUseCase) retrieve(ctx context.Context, query domain.Query, degraded *[]string) (lexical, vector []domain.RetrievedChunk) {
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	markDegraded := func(marker string) {
		mu.Lock()
		*degraded = append(*degraded, marker)
		mu.Unlock()
	}

	err := uc.runStage(ctx, StageRetrieval, func(stageCtx context.Context) error {
		wg.Add(2)

		go func() {
			defer wg.Done()
			chunks, lexErr := uc.lexical.SearchLexical(stageCtx, query.Text(), query.Filter.DocumentIDs, uc.cfg.RetrievalLimit)
			if lexErr != nil {
				uc.logger.Warn("lexical search failed, using keyword fallback", "error", lexErr)
				chunks = lexicalFallback(stageCtx, uc.metadata, query.Text(), query.Filter.DocumentIDs, uc.cfg.RetrievalLimit)
				if len(chunks) > 0 {
					markDegraded(DegradedLexicalFallback)
				} else {
					markDegraded(DegradedLexicalEmpty)
				}
			}
			mu.Lock()
			lexical = chunks
			mu.Unlock()
		}()

		go func() {
			defer wg.Done()
			queryVector, embErr := uc.embedder.EmbedQuery(stageCtx, query.Text())
			if embErr != nil {
				uc.logger.Warn("query embedding failed, skipping vector search", "error", embErr)
				markDegraded(DegradedVectorEmpty)
				return
			}
			chunks, vecErr := uc.vector.Search(stageCtx, queryVector, query.Filter.DocumentIDs, uc.cfg.RetrievalLimit)
			if vecErr != nil {
				uc.logger.Warn("vector search failed, continuing lexical-only", "error", vecErr)
				markDegraded(DegradedVectorEmpty)
				return
			}
			mu.Lock()
			vector = chunks
			mu.Unlock()
		}()

		wg.Wait()
		return nil
	})
	if err != nil {
		uc.logger.Warn("retrieval stage error", "error", err)
	}
	return lexical, vector
}

func (uc *AskUseCase) generate(ctx context.Context, question string, evidence []domain.ScoredResult) (string, error) {
	var text string
	err := uc.runStage(ctx, StageGeneration, func(stageCtx context.Context) error {
		var genErr error
		text, genErr = uc.generator.GenerateAnswer(stageCtx, question, evidence)
		return genErr
	})
	return text, err
}

func (uc *AskUseCase) ground(ctx context.Context, answer *domain.Answer, evidence []domain.ScoredResult) {
	if uc.grounding == nil {
		return
	}
	_ = uc.runStage(ctx, StageGrounding, func(stageCtx context.Context) error {
		text, citations, report := uc.grounding.Validate(stageCtx, answer.Text, evidence)
		answer.Text = text
		answer.Citations = citations
		answer.Grounding = report
		return nil
	})
}

// persistTurn folds the turn outcome into conversation state under the
// per-key lock, then publishes a snapshot best-effort.
func (uc *AskUseCase) persistTurn(ctx context.Context, conversationID string, query domain.Query, intent scopeIntent, answer *domain.Answer) {
	now := uc.clock()

	updated := uc.states.Update(conversationID, func(s *domain.ConversationState) {
		switch intent {
		case scopeIntentNewTopic:
			s.ClearScope()
			s.Scope = domain.ScopeScoped
			s.ScopeDocumentIDs = evidenceDocumentIDs(answer.Evidence)
			s.ActiveFilter = query.Filter
		case scopeIntentRefinement:
			s.Scope = domain.ScopeRefined
			s.ActiveFilter = query.Filter
		}

		seen := make(map[string]struct{}, len(answer.Evidence))
		for _, result := range answer.Evidence {
			if _, ok := seen[result.Chunk.DocumentID]; ok {
				continue
			}
			seen[result.Chunk.DocumentID] = struct{}{}
			s.PushDocument(domain.DocumentRef{ID: result.Chunk.DocumentID, Name: result.Chunk.Filename})
		}

		if topic := extractTopic(query.Text()); topic != "" {
			s.TouchTopic(topic, now)
		}
		if points := extractPoints(answer.Text); len(points) > 0 {
			s.SetPoints(points)
		}
		if len(answer.Evidence) > 0 {
			top := answer.Evidence[0].Chunk
			s.PushPronounRef(domain.PronounRef{Kind: "document", ID: top.DocumentID, Text: top.Filename})
		}
		s.LastCitations = answer.Citations
		s.UpdatedAt = now
	})

	if uc.queue == nil || updated == nil {
		return
	}
	snapshot := domain.StateSnapshot{
		SnapshotID: uuid.NewString(),
		State:      *updated,
		CapturedAt: now,
	}
	if err := uc.queue.PublishStateUpdated(ctx, snapshot); err != nil {
		uc.logger.Warn("snapshot publish failed", "conversation_id", conversationID, "error", err)
	}
}

// runStage enforces the hard budget with a context timeout and records the
// latency sample for the adaptive soft budget.
func (uc *AskUseCase) runStage(ctx context.Context, stage string, fn func(context.Context) error) error {
	budget := uc.trackerFor(stage).Budget()

	stageCtx, cancel := context.WithTimeout(ctx, budget.Hard)
	defer cancel()

	start := time.Now()
	err := fn(stageCtx)
	elapsed := time.Since(start)

	uc.trackerFor(stage).Observe(elapsed)
	softExceeded := elapsed > budget.Soft
	if softExceeded {
		uc.logger.Warn("stage exceeded soft budget",
			"stage", stage,
			"elapsed_ms", elapsed.Milliseconds(),
			"soft_budget_ms", budget.Soft.Milliseconds())
	}
	if uc.observer != nil {
		uc.observer(stage, elapsed, softExceeded)
	}
	return err
}

func (uc *AskUseCase) trackerFor(stage string) *LatencyTracker {
	uc.trackerMu.Lock()
	defer uc.trackerMu.Unlock()
	tracker, ok := uc.trackers[stage]
	if !ok {
		tracker = NewLatencyTracker(uc.cfg.StageFloors[stage])
		uc.trackers[stage] = tracker
	}
	return tracker
}

func mergeFilters(user, resolved domain.SearchFilter) domain.SearchFilter {
	out := user
	if len(out.DocumentIDs) == 0 {
		out.DocumentIDs = resolved.DocumentIDs
	}
	return out
}

func evidenceDocumentIDs(evidence []domain.ScoredResult) []string {
	ids := make([]string, 0, len(evidence))
	seen := make(map[string]struct{}, len(evidence))
	for _, result := range evidence {
		if _, ok := seen[result.Chunk.DocumentID]; ok {
			continue
		}
		seen[result.Chunk.DocumentID] = struct{}{}
		ids = append(ids, result.Chunk.DocumentID)
	}
	return ids
}

var topicStopwords = map[string]struct{}{
	"what": {}, "who": {}, "when": {}, "where": {}, "which": {}, "how": {},
	"why": {}, "the": {}, "are": {}, "is": {}, "was": {}, "were": {},
	"about": {}, "tell": {}, "show": {}, "find": {}, "all": {}, "does": {},
	"did": {}, "can": {}, "you": {}, "me": {}, "for": {}, "and": {},
	"documents": {}, "document": {},
}

// extractTopic keeps the first few content-bearing tokens of the query.
func extractTopic(queryText string) string {
	kept := make([]string, 0, 4)
	for _, token := range splitAlphaNumLower(queryText) {
		if _, stop := topicStopwords[token]; stop || len(token) < 3 {
			continue
		}
		kept = append(kept, token)
		if len(kept) == 4 {
			break
		}
	}
	return strings.Join(kept, " ")
}

// extractPoints pulls enumerated list items out of the answer so follow-up
// ordinal references ("point 2") can be resolved next turn.
func extractPoints(answerText string) []string {
	var points []string
	for _, line := range strings.Split(answerText, "\n") {
		if !numberedListRow.MatchString(line) {
			continue
		}
		point := strings.TrimSpace(numberedListRow.ReplaceAllString(line, ""))
		point = citationMarker.ReplaceAllString(point, "")
		point = strings.TrimSpace(point)
		if point != "" {
			points = append(points, point)
		}
	}
	return points
}

func refusalText(reason string) string {
	switch reason {
	case "no_evidence":
		return "I could not find any documents relevant to this question."
	case "topic_mismatch":
		return "The retrieved documents do not appear to cover this topic, so I cannot give a grounded answer."
	case "sparse_evidence":
		return "The available evidence is too thin to answer this reliably."
	default:
		return "I cannot answer this from the available documents."
	}
}
