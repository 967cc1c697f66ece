package rules

import (
	"context"
	"testing"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector()
	if err != nil {
		t.Fatalf("load embedded pattern table: %v", err)
	}
	return d
}

func TestClassifyLegalQuery(t *testing.T) {
	d := newTestDetector(t)

	detection, err := d.Classify(context.Background(),
		"does the lease agreement include a termination clause and indemnification", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection.Domain != "legal" {
		t.Fatalf("expected legal domain, got %q", detection.Domain)
	}
	if detection.Confidence <= 0 || detection.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", detection.Confidence)
	}
	if len(detection.Signals) == 0 {
		t.Fatalf("expected keyword signals recorded")
	}
}

func TestClassifyPlainQueryFallsBackToGeneral(t *testing.T) {
	d := newTestDetector(t)

	detection, err := d.Classify(context.Background(), "what time does the office open", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection.Domain != domain.DomainGeneral {
		t.Fatalf("expected general fallback, got %q", detection.Domain)
	}
	if detection.Confidence != 1.0 {
		t.Fatalf("general fallback must carry full confidence, got %v", detection.Confidence)
	}
}

func TestClassifyWeakSignalBelowFloorFallsBack(t *testing.T) {
	d := newTestDetector(t)

	detection, err := d.Classify(context.Background(), "the audit schedule", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection.Domain != domain.DomainGeneral {
		t.Fatalf("a single weak keyword must not pin a domain, got %q", detection.Domain)
	}
}

func TestClassifyUsesDocumentNames(t *testing.T) {
	d := newTestDetector(t)

	docs := []string{
		"contract clause liability indemnification warranty lease termination",
		"breach arbitration jurisdiction confidentiality tenant agreement contract",
	}
	detection, err := d.Classify(context.Background(), "summarize this", docs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection.Domain != "legal" {
		t.Fatalf("expected legal from document names alone, got %q", detection.Domain)
	}
}

func TestClassifyDocumentScoreAveragedAcrossNames(t *testing.T) {
	d := newTestDetector(t)

	// One signal-dense name among unrelated documents must not carry the
	// document share on its own.
	docs := []string{
		"contract clause liability indemnification warranty lease termination breach",
		"vacation photos",
		"grocery list",
		"travel itinerary",
	}
	detection, err := d.Classify(context.Background(), "summarize this", docs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection.Domain != domain.DomainGeneral {
		t.Fatalf("one dense document name saturated the score, got %q", detection.Domain)
	}
}

func TestClassifyEntityPatternsCountDouble(t *testing.T) {
	d := newTestDetector(t)

	detection, err := d.Classify(context.Background(),
		"what changed in Q3 2025 and why did revenue fall 12%", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection.Domain != "finance" {
		t.Fatalf("expected finance from entity hits, got %q", detection.Domain)
	}
	var sawEntity bool
	for _, s := range detection.Signals {
		if len(s) > 7 && s[:7] == "entity:" {
			sawEntity = true
		}
	}
	if !sawEntity {
		t.Fatalf("expected entity signal in %v", detection.Signals)
	}
}

func TestClassifySecondaryDomain(t *testing.T) {
	d := newTestDetector(t)

	query := "breach of the contract clause assigns liability for the invoice ledger audit and reconciliation of payable balances before termination of the agreement"
	detection, err := d.Classify(context.Background(), query, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detection.Domain != "legal" {
		t.Fatalf("expected legal primary, got %q", detection.Domain)
	}
	if detection.SecondaryDomain != "accounting" {
		t.Fatalf("expected accounting secondary, got %q", detection.SecondaryDomain)
	}
}

func TestClassifyCancelledContext(t *testing.T) {
	d := newTestDetector(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Classify(ctx, "revenue", nil); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestBoostProfilesMatchPatternTable(t *testing.T) {
	d := newTestDetector(t)

	profiles := d.BoostProfiles()
	legal, ok := profiles["legal"]
	if !ok {
		t.Fatalf("expected legal profile exposed")
	}
	if legal.BaseBoost != 1.8 {
		t.Fatalf("unexpected legal base boost %v", legal.BaseBoost)
	}
	if legal.ChunkTypePriors["clause"] != 1.4 {
		t.Fatalf("unexpected clause prior %v", legal.ChunkTypePriors["clause"])
	}
	if len(legal.Keywords) == 0 || len(legal.EntityPatterns) == 0 {
		t.Fatalf("legal profile missing keywords or entity patterns")
	}
}
