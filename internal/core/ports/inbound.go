package ports

import (
	"context"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
)

// QuestionAnswerer is the inbound contract for the retrieval/grounding
// pipeline: one call per user turn.
type QuestionAnswerer interface {
	Ask(ctx context.Context, conversationID, question string, filter domain.SearchFilter) (*domain.Answer, error)
}

// StateReader exposes tracked conversation state for diagnostics.
type StateReader interface {
	State(ctx context.Context, conversationID string) (*domain.ConversationState, error)
}
