package domain

import (
	"strings"
	"time"
)

// ReferenceType tags how a raw query was rewritten by the reference resolver.
type ReferenceType string

const (
	ReferenceNone     ReferenceType = "none"
	ReferenceDocument ReferenceType = "document"
	ReferencePoint    ReferenceType = "point"
	ReferenceTopic    ReferenceType = "topic"
	ReferencePronoun  ReferenceType = "pronoun"
)

// SearchFilter narrows retrieval to an explicit candidate set. Every field is
// optional; the pipeline validates it once at the boundary and passes it
// through unchanged.
type SearchFilter struct {
	DocumentIDs []string   `json:"document_ids,omitempty"`
	Domain      string     `json:"domain,omitempty"`
	Folder      string     `json:"folder,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	DateFrom    *time.Time `json:"date_from,omitempty"`
	DateTo      *time.Time `json:"date_to,omitempty"`
}

func (f SearchFilter) IsZero() bool {
	return len(f.DocumentIDs) == 0 &&
		f.Domain == "" &&
		f.Folder == "" &&
		len(f.Tags) == 0 &&
		f.DateFrom == nil &&
		f.DateTo == nil
}

// Query is created once per user turn and immutable after resolution.
type Query struct {
	ConversationID     string        `json:"conversation_id"`
	RawText            string        `json:"raw_text"`
	ResolvedText       string        `json:"resolved_text,omitempty"`
	ReferenceType      ReferenceType `json:"reference_type"`
	ResolvedDocumentID string        `json:"resolved_document_id,omitempty"`
	ResolvedTopic      string        `json:"resolved_topic,omitempty"`
	ResolvedPoint      string        `json:"resolved_point,omitempty"`
	Filter             SearchFilter  `json:"filter"`
	Domain             string        `json:"domain,omitempty"`
	DomainConfidence   float64       `json:"domain_confidence,omitempty"`
}

// Text returns the resolved form when resolution produced one.
func (q Query) Text() string {
	if strings.TrimSpace(q.ResolvedText) != "" {
		return q.ResolvedText
	}
	return q.RawText
}

// DomainDetection is the rule-engine classification outcome.
type DomainDetection struct {
	Domain          string   `json:"domain"`
	Confidence      float64  `json:"confidence"`
	Signals         []string `json:"signals,omitempty"`
	SecondaryDomain string   `json:"secondary_domain,omitempty"`
}

const DomainGeneral = "general"
