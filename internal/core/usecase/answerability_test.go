package usecase

import (
	"testing"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
)

func TestClassifyAnswerabilityNoEvidence(t *testing.T) {
	verdict := classifyAnswerability("what is the termination clause", nil)
	if verdict.answerable {
		t.Fatalf("expected refusal without evidence")
	}
	if verdict.reason != "no_evidence" {
		t.Fatalf("expected no_evidence, got %q", verdict.reason)
	}
}

func TestClassifyAnswerabilityTopicMismatch(t *testing.T) {
	evidence := []domain.ScoredResult{
		{Chunk: chunk("a", "doc1", "quarterly revenue grew by nine percent", 0), Confidence: 0.9},
		{Chunk: chunk("b", "doc2", "marketing spend was flat year over year", 0), Confidence: 0.85},
	}
	verdict := classifyAnswerability("what dosage of amoxicillin is prescribed", evidence)
	if verdict.answerable {
		t.Fatalf("expected refusal for off-topic evidence")
	}
	if verdict.reason != "topic_mismatch" {
		t.Fatalf("expected topic_mismatch, got %q", verdict.reason)
	}
}

func TestClassifyAnswerabilitySparseLowConfidence(t *testing.T) {
	evidence := []domain.ScoredResult{
		{Chunk: chunk("a", "doc1", "the termination clause allows early exit", 0), Confidence: 0.3},
	}
	verdict := classifyAnswerability("termination clause", evidence)
	if verdict.answerable {
		t.Fatalf("expected refusal for sparse low-confidence evidence")
	}
	if verdict.reason != "sparse_evidence" {
		t.Fatalf("expected sparse_evidence, got %q", verdict.reason)
	}
}

func TestClassifyAnswerabilityAccepts(t *testing.T) {
	evidence := []domain.ScoredResult{
		{Chunk: chunk("a", "doc1", "the termination clause allows exit with sixty days notice", 0), Confidence: 0.9},
		{Chunk: chunk("b", "doc1", "termination requires written notice to the landlord", 0), Confidence: 0.8},
	}
	verdict := classifyAnswerability("termination clause notice", evidence)
	if !verdict.answerable {
		t.Fatalf("expected answerable, got refusal %q", verdict.reason)
	}
}
