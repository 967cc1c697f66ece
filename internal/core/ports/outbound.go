package ports

import (
	"context"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
)

// LexicalIndex queries the full-text backend. Candidate document IDs must be
// pre-filtered by the caller; the index never re-applies authorization.
type LexicalIndex interface {
	SearchLexical(ctx context.Context, queryText string, candidateDocIDs []string, limit int) ([]domain.RetrievedChunk, error)
}

// VectorIndex queries the embedding-similarity backend over the same
// candidate set.
type VectorIndex interface {
	Search(ctx context.Context, queryVector []float32, candidateDocIDs []string, limit int) ([]domain.RetrievedChunk, error)
}

// Embedder builds the query vector via the external embedding service.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// AnswerGenerator is the opaque generation collaborator. GenerateAnswer is
// instructed to cite sources; GenerateJSONFromPrompt backs the semantic
// citation-mapping fallback.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question string, evidence []domain.ScoredResult) (string, error)
	GenerateFromPrompt(ctx context.Context, prompt string) (string, error)
	GenerateJSONFromPrompt(ctx context.Context, prompt string) (string, error)
}

// DomainClassifier is the first-pass rule engine; a learned classifier can
// be substituted without changing callers.
type DomainClassifier interface {
	Classify(ctx context.Context, queryText string, documentNames []string) (domain.DomainDetection, error)
}

// ChunkMetadataStore resolves document titles and chunk structural metadata
// for result enrichment, and lists candidate chunks for the lexical
// fallback scorer. Read-only.
type ChunkMetadataStore interface {
	GetDocuments(ctx context.Context, documentIDs []string) ([]domain.DocumentInfo, error)
	ListChunks(ctx context.Context, documentIDs []string, limit int) ([]domain.RetrievedChunk, error)
}

// StateCache is the in-memory TTL cache of conversation state. Update runs
// the mutation under the per-key lock so bounded-list invariants stay in
// one place.
type StateCache interface {
	Get(conversationID string) (*domain.ConversationState, bool)
	Update(conversationID string, mutate func(*domain.ConversationState)) *domain.ConversationState
	Delete(conversationID string)
}

// ConversationSnapshotStore persists state beyond the in-memory TTL.
type ConversationSnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot domain.StateSnapshot) error
	LoadLatest(ctx context.Context, conversationID string) (*domain.ConversationState, error)
}

// SnapshotQueue decouples turn latency from durable persistence.
type SnapshotQueue interface {
	PublishStateUpdated(ctx context.Context, snapshot domain.StateSnapshot) error
	SubscribeStateUpdated(ctx context.Context, handler func(context.Context, domain.StateSnapshot) error) error
}
