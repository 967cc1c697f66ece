package usecase

import "github.com/kirillkom/docqa-assistant/internal/core/domain"

// selectDiverseMMR greedily picks up to k results maximizing
// lambda*relevance - (1-lambda)*maxSimilarityToSelected, where relevance is
// the min-max normalized fused score and similarity is token Jaccard.
// Candidates sharing a chunk ID with an already selected result are skipped,
// so the selection always holds k distinct chunks when enough exist.
func selectDiverseMMR(results []domain.ScoredResult, k int, lambda float64) []domain.ScoredResult {
	if k <= 0 || len(results) == 0 {
		return nil
	}
	if lambda <= 0 || lambda > 1 {
		lambda = 0.7
	}
	if len(results) <= k {
		k = len(results)
	}

	minScore, maxScore := results[0].FusedScore, results[0].FusedScore
	for _, r := range results[1:] {
		if r.FusedScore < minScore {
			minScore = r.FusedScore
		}
		if r.FusedScore > maxScore {
			maxScore = r.FusedScore
		}
	}
	scoreRange := maxScore - minScore

	relevance := func(r domain.ScoredResult) float64 {
		if scoreRange <= 0 {
			return 1
		}
		return (r.FusedScore - minScore) / scoreRange
	}

	tokenSets := make([]map[string]struct{}, len(results))
	for i := range results {
		tokenSets[i] = toTokenSet(results[i].Chunk.Text)
	}

	selected := make([]domain.ScoredResult, 0, k)
	selectedIdx := make([]int, 0, k)
	taken := make(map[string]struct{}, k)

	for len(selected) < k {
		best := -1
		bestScore := 0.0
		for i := range results {
			key := chunkKey(results[i].Chunk)
			if _, ok := taken[key]; ok {
				continue
			}
			maxSim := 0.0
			for _, si := range selectedIdx {
				if sim := jaccardSimilarity(tokenSets[i], tokenSets[si]); sim > maxSim {
					maxSim = sim
				}
			}
			mmr := lambda*relevance(results[i]) - (1-lambda)*maxSim
			if best == -1 || mmr > bestScore {
				best = i
				bestScore = mmr
			}
		}
		if best == -1 {
			break
		}
		taken[chunkKey(results[best].Chunk)] = struct{}{}
		selected = append(selected, results[best])
		selectedIdx = append(selectedIdx, best)
	}

	return selected
}
