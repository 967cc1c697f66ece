package usecase

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
)

var (
	docBackrefPattern = regexp.MustCompile(`(?i)\b(go back to|return to|back to|the previous document|the earlier document|that document|the first document)\b`)
	pointPattern      = regexp.MustCompile(`(?i)\b(?:point|item|bullet)\s+(?:number\s+)?(\d+|one|two|three|four|five|six|seven|eight|nine|ten)\b`)
	ordinalPattern    = regexp.MustCompile(`(?i)\bthe\s+(first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth)\s+(?:point|item|one|bullet)\b`)
	topicContinuation = regexp.MustCompile(`(?i)\b(continue with|more about|back to the topic of|what about)\s+(.+?)(?:\?|$)`)
	barePronoun       = regexp.MustCompile(`(?i)\b(it|that|this|they|those|these)\b`)
)

var ordinalWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
}

// resolveReferences rewrites a raw query against conversation state. The
// check order is fixed: document backreference, then point ordinal, then
// topic continuation, then bare pronoun. The first match wins and no query
// is rewritten twice. On no match the raw text passes through untouched.
func resolveReferences(conversationID, rawText string, state *domain.ConversationState) domain.Query {
	q := domain.Query{
		ConversationID: conversationID,
		RawText:        rawText,
		ReferenceType:  domain.ReferenceNone,
	}
	if state == nil {
		return q
	}

	if docBackrefPattern.MatchString(rawText) && len(state.DocumentStack) > 0 {
		ref := matchDocumentByName(rawText, state.DocumentStack)
		if ref == nil {
			ref = &state.DocumentStack[0]
			if strings.Contains(strings.ToLower(rawText), "first document") && len(state.DocumentStack) > 1 {
				ref = &state.DocumentStack[len(state.DocumentStack)-1]
			}
		}
		q.ReferenceType = domain.ReferenceDocument
		q.ResolvedDocumentID = ref.ID
		q.ResolvedText = rewriteDocumentReference(rawText, ref.Name)
		q.Filter.DocumentIDs = []string{ref.ID}
		return q
	}

	if idx, ok := matchPointOrdinal(rawText); ok && idx >= 1 && idx <= len(state.LastPoints) {
		point := state.LastPoints[idx-1]
		q.ReferenceType = domain.ReferencePoint
		q.ResolvedPoint = point
		// Literal replacement: referent text can carry $ amounts, which
		// ReplaceAllString would expand as group references.
		q.ResolvedText = pointPattern.ReplaceAllLiteralString(rawText, point)
		q.ResolvedText = ordinalPattern.ReplaceAllLiteralString(q.ResolvedText, point)
		return q
	}

	if m := topicContinuation.FindStringSubmatch(rawText); len(m) == 3 {
		topic := matchTopic(m[2], state.TopicHistory)
		if topic != "" {
			q.ReferenceType = domain.ReferenceTopic
			q.ResolvedTopic = topic
			q.ResolvedText = rawText
			return q
		}
	}

	if isBarePronounQuery(rawText) {
		ref := pickPronounReferent(state)
		if ref != nil {
			q.ReferenceType = domain.ReferencePronoun
			q.ResolvedText = barePronoun.ReplaceAllLiteralString(rawText, ref.Text)
			switch ref.Kind {
			case "document":
				q.ResolvedDocumentID = ref.ID
				if ref.ID != "" {
					q.Filter.DocumentIDs = []string{ref.ID}
				}
			case "topic":
				q.ResolvedTopic = ref.Text
			case "point":
				q.ResolvedPoint = ref.Text
			}
			return q
		}
	}

	return q
}

// matchDocumentByName scans the stack most-recent-first for the entry whose
// name shares the most tokens with the query.
func matchDocumentByName(rawText string, stack []domain.DocumentRef) *domain.DocumentRef {
	queryTokens := toTokenSet(rawText)
	bestIdx := -1
	bestMatches := 0
	for i := range stack {
		matches := 0
		for _, token := range splitAlphaNumLower(stack[i].Name) {
			if len(token) < 3 {
				continue
			}
			if _, ok := queryTokens[token]; ok {
				matches++
			}
		}
		if matches > bestMatches {
			bestMatches = matches
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return nil
	}
	return &stack[bestIdx]
}

func rewriteDocumentReference(rawText, docName string) string {
	replaced := docBackrefPattern.ReplaceAllLiteralString(rawText, "regarding "+docName)
	if replaced == rawText {
		return rawText + " (" + docName + ")"
	}
	return replaced
}

func matchPointOrdinal(rawText string) (int, bool) {
	if m := pointPattern.FindStringSubmatch(rawText); len(m) == 2 {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n, true
		}
		if n, ok := ordinalWords[strings.ToLower(m[1])]; ok {
			return n, true
		}
	}
	if m := ordinalPattern.FindStringSubmatch(rawText); len(m) == 2 {
		if n, ok := ordinalWords[strings.ToLower(m[1])]; ok {
			return n, true
		}
	}
	return 0, false
}

func matchTopic(fragment string, history []domain.TopicEntry) string {
	fragmentTokens := toTokenSet(fragment)
	if len(fragmentTokens) == 0 {
		return ""
	}
	best := ""
	bestOverlap := 0.0
	for _, entry := range history {
		overlap := tokenOverlap(toTokenSet(entry.Topic), fragmentTokens)
		if overlap > bestOverlap {
			bestOverlap = overlap
			best = entry.Topic
		}
	}
	if bestOverlap < 0.5 {
		return ""
	}
	return best
}

// isBarePronounQuery requires the pronoun to carry the query: short
// questions like "what does it mean?" qualify, long queries where the
// pronoun is incidental do not.
func isBarePronounQuery(rawText string) bool {
	if !barePronoun.MatchString(rawText) {
		return false
	}
	return len(splitAlphaNumLower(rawText)) <= 8
}

func pickPronounReferent(state *domain.ConversationState) *domain.PronounRef {
	if len(state.PronounRefs) > 0 {
		return &state.PronounRefs[0]
	}
	if len(state.DocumentStack) > 0 {
		return &domain.PronounRef{Kind: "document", ID: state.DocumentStack[0].ID, Text: state.DocumentStack[0].Name}
	}
	if state.CurrentTopic != "" {
		return &domain.PronounRef{Kind: "topic", Text: state.CurrentTopic}
	}
	if len(state.LastPoints) > 0 {
		return &domain.PronounRef{Kind: "point", Text: state.LastPoints[0]}
	}
	return nil
}
