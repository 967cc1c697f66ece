package usecase

import (
	"sort"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
)

// FusionConfig carries the rank-fusion tuning knobs. Lexical and vector
// scores live on incompatible scales, so fusion operates on rank positions
// only; raw backend scores are carried along purely for diagnostics.
type FusionConfig struct {
	RRFK          int
	LexicalWeight float64
	VectorWeight  float64

	// Corroborated results (present in both sets) may reach the higher
	// confidence cap, single-source results the lower one.
	CorroboratedCap float64
	SingleSourceCap float64
}

func (c FusionConfig) normalize() FusionConfig {
	out := c
	if out.RRFK <= 0 {
		out.RRFK = 60
	}
	if out.LexicalWeight <= 0 && out.VectorWeight <= 0 {
		out.LexicalWeight = 0.4
		out.VectorWeight = 0.6
	}
	if out.CorroboratedCap <= 0 || out.CorroboratedCap > 1 {
		out.CorroboratedCap = 0.95
	}
	if out.SingleSourceCap <= 0 || out.SingleSourceCap > 1 {
		out.SingleSourceCap = 0.8
	}
	return out
}

type fusedCandidate struct {
	chunk        domain.RetrievedChunk
	lexicalRank  int
	vectorRank   int
	lexicalScore float64
	vectorScore  float64
}

// fuseRRF merges both result lists with Reciprocal Rank Fusion. Ranks are
// 1-indexed per list; a candidate absent from a list is assigned the
// virtual rank len(list)+1 so presence in a single list is never free.
func fuseRRF(lexical, vector []domain.RetrievedChunk, cfg FusionConfig) []domain.ScoredResult {
	cfg = cfg.normalize()

	acc := make(map[string]*fusedCandidate, len(lexical)+len(vector))
	for rank, chunk := range lexical {
		key := chunkKey(chunk)
		candidate := acc[key]
		if candidate == nil {
			candidate = &fusedCandidate{}
			acc[key] = candidate
		}
		candidate.chunk = preferRicherChunk(candidate.chunk, chunk)
		candidate.lexicalRank = rank + 1
		candidate.lexicalScore = chunk.Score
	}
	for rank, chunk := range vector {
		key := chunkKey(chunk)
		candidate := acc[key]
		if candidate == nil {
			candidate = &fusedCandidate{}
			acc[key] = candidate
		}
		candidate.chunk = preferRicherChunk(candidate.chunk, chunk)
		candidate.vectorRank = rank + 1
		candidate.vectorScore = chunk.Score
	}

	lexicalVirtual := len(lexical) + 1
	vectorVirtual := len(vector) + 1

	type scored struct {
		result       domain.ScoredResult
		corroborated bool
	}

	fusedAll := make([]scored, 0, len(acc))
	var maxFused float64
	for _, c := range acc {
		lexicalRank := c.lexicalRank
		if lexicalRank == 0 {
			lexicalRank = lexicalVirtual
		}
		vectorRank := c.vectorRank
		if vectorRank == 0 {
			vectorRank = vectorVirtual
		}

		fused := cfg.LexicalWeight/float64(cfg.RRFK+lexicalRank) +
			cfg.VectorWeight/float64(cfg.RRFK+vectorRank)
		if fused > maxFused {
			maxFused = fused
		}

		chunk := c.chunk
		chunk.Score = fused
		fusedAll = append(fusedAll, scored{
			result: domain.ScoredResult{
				Chunk:        chunk,
				LexicalScore: c.lexicalScore,
				VectorScore:  c.vectorScore,
				FusedScore:   fused,
			},
			corroborated: c.lexicalRank > 0 && c.vectorRank > 0,
		})
	}

	out := make([]domain.ScoredResult, 0, len(fusedAll))
	for _, s := range fusedAll {
		ceiling := cfg.SingleSourceCap
		if s.corroborated {
			ceiling = cfg.CorroboratedCap
		}
		confidence := ceiling
		if maxFused > 0 {
			confidence = 0.5 + 0.5*(s.result.FusedScore/maxFused)
			if confidence > ceiling {
				confidence = ceiling
			}
		}
		s.result.Confidence = confidence
		out = append(out, s.result)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		if out[i].Chunk.DocumentID != out[j].Chunk.DocumentID {
			return out[i].Chunk.DocumentID < out[j].Chunk.DocumentID
		}
		return out[i].Chunk.ChunkID < out[j].Chunk.ChunkID
	})

	return out
}

func trimResults(results []domain.ScoredResult, limit int) []domain.ScoredResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}

func chunkKey(chunk domain.RetrievedChunk) string {
	if chunk.ChunkID != "" {
		return chunk.ChunkID
	}
	return chunk.DocumentID + "|" + chunk.Filename + "|" + chunk.Text
}

func preferRicherChunk(current, candidate domain.RetrievedChunk) domain.RetrievedChunk {
	if current.ChunkID == "" && current.DocumentID == "" && current.Text == "" {
		return candidate
	}
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.Filename == "" && candidate.Filename != "" {
		current.Filename = candidate.Filename
	}
	if current.Section == "" && candidate.Section != "" {
		current.Section = candidate.Section
	}
	if current.ChunkType == "" && candidate.ChunkType != "" {
		current.ChunkType = candidate.ChunkType
	}
	if current.DomainTag == "" && candidate.DomainTag != "" {
		current.DomainTag = candidate.DomainTag
	}
	if current.Page == 0 && candidate.Page != 0 {
		current.Page = candidate.Page
	}
	return current
}
