package config

import "testing"

func TestLoadIncludesRetrievalDefaults(t *testing.T) {
	t.Setenv("RETRIEVAL_LIMIT", "")
	t.Setenv("FINAL_TOP_K", "")
	t.Setenv("MMR_LAMBDA", "")
	t.Setenv("FUSION_RRF_K", "")
	t.Setenv("FUSION_LEXICAL_WEIGHT", "")
	t.Setenv("FUSION_VECTOR_WEIGHT", "")

	cfg := Load()
	if cfg.RetrievalLimit != 20 {
		t.Fatalf("expected default retrieval limit 20, got %d", cfg.RetrievalLimit)
	}
	if cfg.FinalTopK != 5 {
		t.Fatalf("expected default final top k 5, got %d", cfg.FinalTopK)
	}
	if cfg.MMRLambda != 0.7 {
		t.Fatalf("expected default mmr lambda 0.7, got %v", cfg.MMRLambda)
	}
	if cfg.FusionRRFK != 60 {
		t.Fatalf("expected default fusion rrf k 60, got %d", cfg.FusionRRFK)
	}
	if cfg.FusionLexicalWeight != 0.4 || cfg.FusionVectorWeight != 0.6 {
		t.Fatalf("expected default fusion weights 0.4/0.6, got %v/%v", cfg.FusionLexicalWeight, cfg.FusionVectorWeight)
	}
}

func TestLoadIncludesGroundingAndCacheDefaults(t *testing.T) {
	t.Setenv("GROUNDING_MIN_OVERLAP", "")
	t.Setenv("GROUNDING_CONFIDENCE_CAP", "")
	t.Setenv("CONVERSATION_TTL_MINUTES", "")
	t.Setenv("STAGE_BUDGET_FLOOR_MS", "")

	cfg := Load()
	if cfg.GroundingMinOverlap != 0.4 {
		t.Fatalf("expected default grounding min overlap 0.4, got %v", cfg.GroundingMinOverlap)
	}
	if cfg.GroundingConfidenceCap != 0.9 {
		t.Fatalf("expected default grounding confidence cap 0.9, got %v", cfg.GroundingConfidenceCap)
	}
	if cfg.ConversationTTLMinutes != 45 {
		t.Fatalf("expected default conversation ttl 45m, got %d", cfg.ConversationTTLMinutes)
	}
	if cfg.StageFloorMillis != 50 {
		t.Fatalf("expected default stage budget floor 50ms, got %d", cfg.StageFloorMillis)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("RETRIEVAL_LIMIT", "40")
	t.Setenv("FINAL_TOP_K", "8")
	t.Setenv("MMR_LAMBDA", "0.5")
	t.Setenv("FUSION_RRF_K", "75")
	t.Setenv("CONVERSATION_TTL_MINUTES", "30")

	cfg := Load()
	if cfg.RetrievalLimit != 40 {
		t.Fatalf("expected retrieval limit 40, got %d", cfg.RetrievalLimit)
	}
	if cfg.FinalTopK != 8 {
		t.Fatalf("expected final top k 8, got %d", cfg.FinalTopK)
	}
	if cfg.MMRLambda != 0.5 {
		t.Fatalf("expected mmr lambda 0.5, got %v", cfg.MMRLambda)
	}
	if cfg.FusionRRFK != 75 {
		t.Fatalf("expected fusion rrf k 75, got %d", cfg.FusionRRFK)
	}
	if cfg.ConversationTTLMinutes != 30 {
		t.Fatalf("expected conversation ttl 30m, got %d", cfg.ConversationTTLMinutes)
	}
}

func TestLoadFallsBackOnInvalidNumbers(t *testing.T) {
	t.Setenv("RETRIEVAL_LIMIT", "not-a-number")
	t.Setenv("MMR_LAMBDA", "also-bad")

	cfg := Load()
	if cfg.RetrievalLimit != 20 {
		t.Fatalf("expected fallback retrieval limit 20, got %d", cfg.RetrievalLimit)
	}
	if cfg.MMRLambda != 0.7 {
		t.Fatalf("expected fallback mmr lambda 0.7, got %v", cfg.MMRLambda)
	}
}
