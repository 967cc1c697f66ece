package usecase

import (
	"regexp"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
)

type scopeIntent int

const (
	scopeIntentNone scopeIntent = iota
	scopeIntentNewTopic
	scopeIntentRefinement
)

var (
	newTopicPattern    = regexp.MustCompile(`(?i)\b(show me all|find all|list all|all documents? (about|on|related to)|search for|look up)\b`)
	refinementPattern  = regexp.MustCompile(`(?i)\b(of those|of these|among (them|those)|which of (them|those)|filter|narrow|only the|just the|how many of)\b`)
	demonstrativeStart = regexp.MustCompile(`(?i)^\s*(these|those|them)\b`)
)

// classifyScope decides how a turn moves the scope machine. A new-topic
// query always restarts the scope. A refinement only counts while a scope
// is active; otherwise it is treated as unscoped so retrieval stays broad.
func classifyScope(queryText string, state *domain.ConversationState) scopeIntent {
	if newTopicPattern.MatchString(queryText) {
		return scopeIntentNewTopic
	}
	scopeActive := state != nil && state.Scope != domain.ScopeEmpty && len(state.ScopeDocumentIDs) > 0
	if !scopeActive {
		return scopeIntentNone
	}
	if refinementPattern.MatchString(queryText) || demonstrativeStart.MatchString(queryText) {
		return scopeIntentRefinement
	}
	// Short follow-ups inside an active scope stay scoped.
	if len(splitAlphaNumLower(queryText)) <= 5 {
		return scopeIntentRefinement
	}
	return scopeIntentNone
}
