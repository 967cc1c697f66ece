package domain

type Citation struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Page       int     `json:"page,omitempty"`
	Confidence float64 `json:"confidence"`
	ChunkID    string  `json:"chunk_id,omitempty"`
}

// ClaimCitation maps one factual claim to its supporting evidence.
// MappedBy records which strategy produced the mapping: a citation marker
// already present in the draft, keyword overlap, or the semantic fallback.
type ClaimCitation struct {
	Claim      string    `json:"claim"`
	Citation   *Citation `json:"citation,omitempty"`
	MappedBy   string    `json:"mapped_by,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
}

type GroundingReport struct {
	Claims          []ClaimCitation `json:"claims"`
	CoveragePercent float64         `json:"coverage_percent"`
	UncitedClaims   []string        `json:"uncited_claims,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
}

// Answer is the user-visible pipeline result. Degraded lists stages that
// fell back (e.g. "vector_empty", "lexical_fallback") so callers can attach
// a disclaimer instead of silently hiding partial results.
type Answer struct {
	ConversationID   string           `json:"conversation_id"`
	Text             string           `json:"text"`
	Answerable       bool             `json:"answerable"`
	Reason           string           `json:"reason,omitempty"`
	Citations        []Citation       `json:"citations,omitempty"`
	Evidence         []ScoredResult   `json:"evidence,omitempty"`
	Grounding        *GroundingReport `json:"grounding,omitempty"`
	Domain           string           `json:"domain,omitempty"`
	DomainConfidence float64          `json:"domain_confidence,omitempty"`
	Degraded         []string         `json:"degraded,omitempty"`
}
