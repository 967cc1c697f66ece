package usecase

import (
	"testing"
	"time"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
)

func stateWithDocs() *domain.ConversationState {
	state := domain.NewConversationState("conv1")
	state.PushDocument(domain.DocumentRef{ID: "B", Name: "NDA Draft"})
	state.PushDocument(domain.DocumentRef{ID: "A", Name: "Lease Agreement"})
	return state
}

func TestResolveDocumentBackreferenceByName(t *testing.T) {
	state := stateWithDocs()

	q := resolveReferences("conv1", "go back to the lease agreement and check the deposit", state)
	if q.ReferenceType != domain.ReferenceDocument {
		t.Fatalf("expected document reference, got %s", q.ReferenceType)
	}
	if q.ResolvedDocumentID != "A" {
		t.Fatalf("expected document A resolved, got %s", q.ResolvedDocumentID)
	}
	if len(q.Filter.DocumentIDs) != 1 || q.Filter.DocumentIDs[0] != "A" {
		t.Fatalf("expected filter scoped to document A, got %v", q.Filter.DocumentIDs)
	}
}

func TestResolveDocumentBackreferenceDefaultsToMostRecent(t *testing.T) {
	state := stateWithDocs()

	q := resolveReferences("conv1", "go back to that document", state)
	if q.ReferenceType != domain.ReferenceDocument {
		t.Fatalf("expected document reference, got %s", q.ReferenceType)
	}
	if q.ResolvedDocumentID != "A" {
		t.Fatalf("expected most recent document A, got %s", q.ResolvedDocumentID)
	}
}

func TestResolvePointOrdinal(t *testing.T) {
	state := domain.NewConversationState("conv1")
	state.SetPoints([]string{"security deposit", "payment terms", "renewal options"})

	q := resolveReferences("conv1", "tell me more about point 2", state)
	if q.ReferenceType != domain.ReferencePoint {
		t.Fatalf("expected point reference, got %s", q.ReferenceType)
	}
	if q.ResolvedPoint != "payment terms" {
		t.Fatalf("expected payment terms resolved, got %q", q.ResolvedPoint)
	}
	if q.Text() != "tell me more about payment terms" {
		t.Fatalf("unexpected resolved text %q", q.Text())
	}
}

func TestResolvePointOrdinalWord(t *testing.T) {
	state := domain.NewConversationState("conv1")
	state.SetPoints([]string{"security deposit", "payment terms"})

	q := resolveReferences("conv1", "explain the second point please", state)
	if q.ReferenceType != domain.ReferencePoint {
		t.Fatalf("expected point reference, got %s", q.ReferenceType)
	}
	if q.ResolvedPoint != "payment terms" {
		t.Fatalf("expected payment terms, got %q", q.ResolvedPoint)
	}
}

func TestResolvePointKeepsCurrencyAmountIntact(t *testing.T) {
	state := domain.NewConversationState("conv1")
	state.SetPoints([]string{"payment of $2,000 due monthly"})

	q := resolveReferences("conv1", "what about point 1?", state)
	if q.ReferenceType != domain.ReferencePoint {
		t.Fatalf("expected point reference, got %s", q.ReferenceType)
	}
	if q.Text() != "what about payment of $2,000 due monthly?" {
		t.Fatalf("currency amount mangled in resolved text: %q", q.Text())
	}
}

func TestResolvePointOutOfRangePassesThrough(t *testing.T) {
	state := domain.NewConversationState("conv1")
	state.SetPoints([]string{"only one"})

	q := resolveReferences("conv1", "what about point 5", state)
	if q.ReferenceType != domain.ReferenceNone {
		t.Fatalf("expected passthrough for out-of-range ordinal, got %s", q.ReferenceType)
	}
	if q.Text() != "what about point 5" {
		t.Fatalf("raw text must pass through, got %q", q.Text())
	}
}

func TestResolveTopicContinuation(t *testing.T) {
	state := domain.NewConversationState("conv1")
	state.TouchTopic("security deposits", time.Now())
	state.TouchTopic("rent escalation", time.Now())

	q := resolveReferences("conv1", "continue with rent escalation", state)
	if q.ReferenceType != domain.ReferenceTopic {
		t.Fatalf("expected topic reference, got %s", q.ReferenceType)
	}
	if q.ResolvedTopic != "rent escalation" {
		t.Fatalf("expected rent escalation topic, got %q", q.ResolvedTopic)
	}
}

func TestResolveBarePronounUsesMostRecentReferent(t *testing.T) {
	state := stateWithDocs()
	state.PushPronounRef(domain.PronounRef{Kind: "document", ID: "A", Text: "Lease Agreement"})

	q := resolveReferences("conv1", "what does it say?", state)
	if q.ReferenceType != domain.ReferencePronoun {
		t.Fatalf("expected pronoun reference, got %s", q.ReferenceType)
	}
	if q.ResolvedDocumentID != "A" {
		t.Fatalf("expected pronoun resolved to document A, got %s", q.ResolvedDocumentID)
	}
}

func TestResolvePronounKeepsCurrencyAmountIntact(t *testing.T) {
	state := domain.NewConversationState("conv1")
	state.PushPronounRef(domain.PronounRef{Kind: "point", Text: "the $500 late fee"})

	q := resolveReferences("conv1", "is that negotiable?", state)
	if q.ReferenceType != domain.ReferencePronoun {
		t.Fatalf("expected pronoun reference, got %s", q.ReferenceType)
	}
	if q.Text() != "is the $500 late fee negotiable?" {
		t.Fatalf("currency amount mangled in resolved text: %q", q.Text())
	}
}

func TestResolvePronounIgnoredInLongQuery(t *testing.T) {
	state := stateWithDocs()
	state.PushPronounRef(domain.PronounRef{Kind: "document", ID: "A", Text: "Lease Agreement"})

	raw := "considering everything we discussed earlier about leases can you tell me whether it is standard for deposits to be refundable"
	q := resolveReferences("conv1", raw, state)
	if q.ReferenceType != domain.ReferenceNone {
		t.Fatalf("expected passthrough for long query, got %s", q.ReferenceType)
	}
}

func TestResolveNoStatePassesThrough(t *testing.T) {
	q := resolveReferences("conv1", "go back to the lease", nil)
	if q.ReferenceType != domain.ReferenceNone {
		t.Fatalf("expected passthrough without state, got %s", q.ReferenceType)
	}
	if q.Text() != "go back to the lease" {
		t.Fatalf("unexpected text %q", q.Text())
	}
}
