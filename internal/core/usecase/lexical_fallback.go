package usecase

import (
	"context"
	"sort"
	"strings"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
	"github.com/kirillkom/docqa-assistant/internal/core/ports"
)

const fallbackCandidateLimit = 200

// lexicalFallback scores candidate chunks by keyword overlap when the
// full-text backend is unavailable. It never returns an error: a metadata
// store failure yields an empty result and the pipeline records the
// degradation.
func lexicalFallback(ctx context.Context, store ports.ChunkMetadataStore, queryText string, candidateDocIDs []string, limit int) []domain.RetrievedChunk {
	if store == nil || limit <= 0 {
		return nil
	}

	terms := make([]string, 0, 8)
	for _, token := range splitAlphaNumLower(queryText) {
		if len(token) >= 3 {
			terms = append(terms, token)
		}
	}
	if len(terms) == 0 {
		return nil
	}

	chunks, err := store.ListChunks(ctx, candidateDocIDs, fallbackCandidateLimit)
	if err != nil || len(chunks) == 0 {
		return nil
	}

	type scoredChunk struct {
		chunk domain.RetrievedChunk
		score float64
	}
	scored := make([]scoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		text := strings.ToLower(chunk.Text)
		matched := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		chunk.Score = float64(matched) / float64(len(terms))
		scored = append(scored, scoredChunk{chunk: chunk, score: chunk.Score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return chunkKey(scored[i].chunk) < chunkKey(scored[j].chunk)
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]domain.RetrievedChunk, len(scored))
	for i := range scored {
		out[i] = scored[i].chunk
	}
	return out
}
