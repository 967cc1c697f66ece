package usecase

import (
	"regexp"
	"sort"
	"strings"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
)

const (
	keywordBoostStep  = 0.1
	entityBoostStep   = 0.15
	coverageBoostStep = 0.3
)

type compiledProfile struct {
	baseBoost       float64
	keywords        []string
	entityPatterns  []*regexp.Regexp
	chunkTypePriors map[string]float64
}

// Reranker applies the three domain-aware multiplicative boosts. Profiles
// come from the same pattern table that drives domain detection.
type Reranker struct {
	profiles map[string]compiledProfile
}

func NewReranker(profiles map[string]domain.DomainBoostProfile) *Reranker {
	compiled := make(map[string]compiledProfile, len(profiles))
	for name, profile := range profiles {
		cp := compiledProfile{
			baseBoost:       profile.BaseBoost,
			chunkTypePriors: profile.ChunkTypePriors,
		}
		if cp.baseBoost <= 0 {
			cp.baseBoost = 1.0
		}
		for _, kw := range profile.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				cp.keywords = append(cp.keywords, kw)
			}
		}
		for _, src := range profile.EntityPatterns {
			re, err := regexp.Compile("(?i)" + src)
			if err != nil {
				continue
			}
			cp.entityPatterns = append(cp.entityPatterns, re)
		}
		compiled[strings.ToLower(name)] = cp
	}
	return &Reranker{profiles: compiled}
}

// Rerank re-scores fused results for the detected domain. The general
// domain is an identity pass-through. Each boost is appended to the
// result's boost trail so the final ordering stays explainable.
func (r *Reranker) Rerank(results []domain.ScoredResult, detected domain.DomainDetection, queryText string) []domain.ScoredResult {
	if len(results) == 0 || strings.EqualFold(detected.Domain, domain.DomainGeneral) {
		return results
	}
	profile, ok := r.profiles[strings.ToLower(detected.Domain)]
	if !ok {
		return results
	}

	queryTokens := splitAlphaNumLower(queryText)
	querySet := make(map[string]struct{}, len(queryTokens))
	for _, token := range queryTokens {
		querySet[token] = struct{}{}
	}

	out := make([]domain.ScoredResult, len(results))
	copy(out, results)

	for i := range out {
		text := strings.ToLower(out[i].Chunk.Text)

		keywordMatches := 0
		for _, kw := range profile.keywords {
			keywordMatches += strings.Count(text, kw)
		}
		entityMatches := 0
		for _, re := range profile.entityPatterns {
			entityMatches += len(re.FindAllStringIndex(out[i].Chunk.Text, -1))
		}
		density := (1 + keywordBoostStep*float64(keywordMatches)) *
			(1 + entityBoostStep*float64(entityMatches))
		if keywordMatches+entityMatches > 0 {
			density *= profile.baseBoost
		}

		coverage := 1.0
		if len(querySet) > 0 {
			chunkSet := toTokenSet(out[i].Chunk.Text)
			coverage = 1 + coverageBoostStep*tokenOverlap(querySet, chunkSet)
		}

		typePrior := 1.0
		if prior, ok := profile.chunkTypePriors[strings.ToLower(out[i].Chunk.ChunkType)]; ok && prior > 0 {
			typePrior = prior
		}

		out[i].Boosts = append(out[i].Boosts,
			domain.BoostRecord{Stage: "domain_density", Multiplier: density},
			domain.BoostRecord{Stage: "query_coverage", Multiplier: coverage},
			domain.BoostRecord{Stage: "chunk_type", Multiplier: typePrior},
		)
		out[i].FusedScore *= density * coverage * typePrior
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FusedScore > out[j].FusedScore
	})
	return out
}
