package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/time/rate"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
	"github.com/kirillkom/docqa-assistant/internal/core/ports"
)

const (
	mappedByExisting = "existing_marker"
	mappedByKeyword  = "keyword_overlap"
	mappedBySemantic = "semantic"

	// Answers grounded below this share of their claims get a warning.
	coverageTargetPercent = 60
)

// GroundingConfig tunes claim-to-evidence mapping.
type GroundingConfig struct {
	// MinKeywordOverlap is the acceptance bar for the keyword mapping.
	MinKeywordOverlap float64
	// KeywordConfidenceCap caps the confidence a keyword mapping can claim.
	KeywordConfidenceCap float64
	// MinMappingConfidence is the bar below which the semantic fallback is
	// consulted even when a keyword mapping exists.
	MinMappingConfidence float64
	// MaxSemanticCandidates bounds the evidence excerpts sent per fallback call.
	MaxSemanticCandidates int
}

func (c GroundingConfig) normalize() GroundingConfig {
	out := c
	if out.MinKeywordOverlap <= 0 {
		out.MinKeywordOverlap = 0.4
	}
	if out.KeywordConfidenceCap <= 0 || out.KeywordConfidenceCap > 1 {
		out.KeywordConfidenceCap = 0.9
	}
	if out.MinMappingConfidence <= 0 {
		out.MinMappingConfidence = 0.6
	}
	if out.MaxSemanticCandidates <= 0 {
		out.MaxSemanticCandidates = 5
	}
	return out
}

// GroundingValidator verifies a generated answer against the evidence it was
// generated from, mapping every factual claim to a citation and injecting
// numeric markers. The semantic fallback goes through the generator and is
// rate limited so a pathological answer cannot fan out into dozens of
// generation calls.
type GroundingValidator struct {
	generator ports.AnswerGenerator
	limiter   *rate.Limiter
	cfg       GroundingConfig
	logger    *slog.Logger
}

func NewGroundingValidator(generator ports.AnswerGenerator, limiter *rate.Limiter, cfg GroundingConfig, logger *slog.Logger) *GroundingValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &GroundingValidator{
		generator: generator,
		limiter:   limiter,
		cfg:       cfg.normalize(),
		logger:    logger,
	}
}

var (
	sentenceSplit   = regexp.MustCompile(`(?m)([^.!?\n]+[.!?]?)`)
	citationMarker  = regexp.MustCompile(`\[(\d+)\]`)
	numberedListRow = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s+`)
	containsDigit   = regexp.MustCompile(`\d`)
)

var stateOfBeingVerbs = []string{
	" is ", " are ", " was ", " were ", " has ", " have ", " had ",
	" requires ", " required ", " states ", " stated ", " must ",
	" shall ", " will ", " includes ", " included ", " provides ",
	" specifies ", " defines ", " totals ", " amounts ",
}

var factualTerms = []string{
	"contract", "agreement", "payment", "clause", "deadline", "term",
	"policy", "revenue", "invoice", "rate", "fee", "balance", "report",
	"section", "liability", "obligation", "effective", "due", "total",
}

var metaPhrases = []string{
	"i cannot", "i can't", "i don't know", "based on the provided",
	"based on the available", "the documents do not", "no information",
	"let me know", "in summary", "to summarize",
}

// Validate maps each factual claim in answerText to a citation, injects
// numeric markers after unmarked claims, and returns the rewritten answer
// plus the grounding report. The claim text itself is never altered.
func (v *GroundingValidator) Validate(ctx context.Context, answerText string, evidence []domain.ScoredResult) (string, []domain.Citation, *domain.GroundingReport) {
	citations := buildCitations(evidence)
	report := &domain.GroundingReport{}

	claims := extractClaims(answerText)
	if len(claims) == 0 {
		report.CoveragePercent = 100
		return answerText, citations, report
	}

	evidenceTokens := make([]map[string]struct{}, len(evidence))
	for i := range evidence {
		evidenceTokens[i] = toTokenSet(evidence[i].Chunk.Text)
	}

	rewritten := answerText
	cited := 0

	for _, claim := range claims {
		cc := domain.ClaimCitation{Claim: claim}

		if m := citationMarker.FindStringSubmatch(claim); m != nil {
			if idx := markerIndex(m[1], len(citations)); idx >= 0 {
				cc.Citation = &citations[idx]
				cc.MappedBy = mappedByExisting
				cc.Confidence = citations[idx].Confidence
				cited++
				report.Claims = append(report.Claims, cc)
				continue
			}
		}

		bestIdx, bestOverlap := bestEvidenceByOverlap(claim, evidenceTokens)

		switch {
		case bestIdx >= 0 && bestOverlap >= v.cfg.MinKeywordOverlap:
			confidence := bestOverlap
			if confidence > v.cfg.KeywordConfidenceCap {
				confidence = v.cfg.KeywordConfidenceCap
			}
			cc.Citation = citationForEvidence(citations, evidence[bestIdx])
			cc.MappedBy = mappedByKeyword
			cc.Confidence = confidence

			if confidence < v.cfg.MinMappingConfidence {
				if semIdx, semConf, ok := v.semanticMap(ctx, claim, evidence); ok && semConf > confidence {
					cc.Citation = citationForEvidence(citations, evidence[semIdx])
					cc.MappedBy = mappedBySemantic
					cc.Confidence = semConf
				}
			}
		default:
			if semIdx, semConf, ok := v.semanticMap(ctx, claim, evidence); ok {
				cc.Citation = citationForEvidence(citations, evidence[semIdx])
				cc.MappedBy = mappedBySemantic
				cc.Confidence = semConf
			}
		}

		if cc.Citation != nil {
			cited++
			rewritten = injectMarker(rewritten, claim, citationNumber(citations, cc.Citation))
		} else {
			report.UncitedClaims = append(report.UncitedClaims, claim)
		}
		report.Claims = append(report.Claims, cc)
	}

	report.CoveragePercent = 100 * float64(cited) / float64(len(claims))
	if len(report.UncitedClaims) > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%d of %d claims could not be grounded in the retrieved evidence", len(report.UncitedClaims), len(claims)))
	}
	if report.CoveragePercent < coverageTargetPercent {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("grounding coverage %.0f%% below the %.0f%% target", report.CoveragePercent, float64(coverageTargetPercent)))
	}

	return rewritten, citations, report
}

// buildCitations assigns one numbered citation per distinct evidence chunk,
// in evidence order so marker numbers match the ranking the answer saw.
func buildCitations(evidence []domain.ScoredResult) []domain.Citation {
	citations := make([]domain.Citation, 0, len(evidence))
	seen := make(map[string]struct{}, len(evidence))
	for _, result := range evidence {
		key := chunkKey(result.Chunk)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		title := result.Chunk.Filename
		if title == "" {
			title = result.Chunk.DocumentID
		}
		citations = append(citations, domain.Citation{
			ID:         fmt.Sprintf("%d", len(citations)+1),
			DocumentID: result.Chunk.DocumentID,
			Title:      title,
			Page:       result.Chunk.Page,
			Confidence: result.Confidence,
			ChunkID:    result.Chunk.ChunkID,
		})
	}
	return citations
}

// extractClaims segments the answer into sentences and keeps those that
// assert something checkable. Questions, list headers and meta commentary
// are skipped.
func extractClaims(answerText string) []string {
	var claims []string
	for _, line := range strings.Split(answerText, "\n") {
		line = numberedListRow.ReplaceAllString(line, "")
		for _, m := range sentenceSplit.FindAllString(line, -1) {
			sentence := strings.TrimSpace(m)
			if isFactualClaim(sentence) {
				claims = append(claims, sentence)
			}
		}
	}
	return claims
}

func isFactualClaim(sentence string) bool {
	if len(sentence) < 20 || strings.HasSuffix(sentence, "?") {
		return false
	}
	lower := " " + strings.ToLower(sentence) + " "
	for _, phrase := range metaPhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}
	if containsDigit.MatchString(sentence) {
		return true
	}
	for _, verb := range stateOfBeingVerbs {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	for _, term := range factualTerms {
		if strings.Contains(lower, " "+term) {
			return true
		}
	}
	return false
}

func bestEvidenceByOverlap(claim string, evidenceTokens []map[string]struct{}) (int, float64) {
	claimTokens := toTokenSet(claim)
	bestIdx := -1
	bestOverlap := 0.0
	for i, tokens := range evidenceTokens {
		overlap := tokenOverlap(claimTokens, tokens)
		if overlap > bestOverlap {
			bestOverlap = overlap
			bestIdx = i
		}
	}
	return bestIdx, bestOverlap
}

type semanticMapping struct {
	SourceIndex int     `json:"source_index"`
	Confidence  float64 `json:"confidence"`
}

// semanticMap asks the generator which evidence excerpt supports the claim.
// It is best-effort: rate-limit rejection, generation errors and malformed
// JSON all degrade to "no mapping".
func (v *GroundingValidator) semanticMap(ctx context.Context, claim string, evidence []domain.ScoredResult) (int, float64, bool) {
	if v.generator == nil || len(evidence) == 0 {
		return 0, 0, false
	}
	if v.limiter != nil && !v.limiter.Allow() {
		v.logger.Warn("semantic citation mapping rate limited", "claim_len", len(claim))
		return 0, 0, false
	}

	// Rank candidates by keyword overlap and send only the closest few.
	type ranked struct {
		idx     int
		overlap float64
	}
	claimTokens := toTokenSet(claim)
	candidates := make([]ranked, 0, len(evidence))
	for i := range evidence {
		candidates = append(candidates, ranked{idx: i, overlap: tokenOverlap(claimTokens, toTokenSet(evidence[i].Chunk.Text))})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].overlap > candidates[j].overlap })
	if len(candidates) > v.cfg.MaxSemanticCandidates {
		candidates = candidates[:v.cfg.MaxSemanticCandidates]
	}

	var b strings.Builder
	b.WriteString("Decide which source excerpt supports the claim. Respond with JSON only: ")
	b.WriteString(`{"source_index": <1-based index or 0 if none>, "confidence": <0..1>}` + "\n\n")
	b.WriteString("Claim: " + claim + "\n\nSources:\n")
	for i, c := range candidates {
		excerpt := evidence[c.idx].Chunk.Text
		if len(excerpt) > 500 {
			excerpt = excerpt[:500]
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, excerpt)
	}

	raw, err := v.generator.GenerateJSONFromPrompt(ctx, b.String())
	if err != nil {
		v.logger.Warn("semantic citation mapping failed", "error", err)
		return 0, 0, false
	}
	var mapping semanticMapping
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &mapping); err != nil {
		v.logger.Warn("semantic citation mapping returned malformed JSON", "error", err)
		return 0, 0, false
	}
	if mapping.SourceIndex < 1 || mapping.SourceIndex > len(candidates) || mapping.Confidence <= 0 {
		return 0, 0, false
	}
	confidence := mapping.Confidence
	if confidence > 1 {
		confidence = 1
	}
	return candidates[mapping.SourceIndex-1].idx, confidence, true
}

func markerIndex(marker string, citationCount int) int {
	n := 0
	for _, r := range marker {
		if r < '0' || r > '9' {
			return -1
		}
		n = n*10 + int(r-'0')
	}
	if n < 1 || n > citationCount {
		return -1
	}
	return n - 1
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}

func citationForEvidence(citations []domain.Citation, result domain.ScoredResult) *domain.Citation {
	for i := range citations {
		if citations[i].ChunkID != "" {
			if citations[i].ChunkID == result.Chunk.ChunkID {
				return &citations[i]
			}
			continue
		}
		if citations[i].DocumentID == result.Chunk.DocumentID {
			return &citations[i]
		}
	}
	return nil
}

func citationNumber(citations []domain.Citation, citation *domain.Citation) int {
	for i := range citations {
		if &citations[i] == citation || citations[i].ID == citation.ID {
			return i + 1
		}
	}
	return 0
}

// injectMarker appends " [n]" directly after the first occurrence of the
// claim, unless that occurrence already carries a marker. The claim text is
// preserved byte for byte.
func injectMarker(answerText, claim string, number int) string {
	if number <= 0 {
		return answerText
	}
	pos := strings.Index(answerText, claim)
	if pos < 0 {
		return answerText
	}
	end := pos + len(claim)
	tail := answerText[end:]
	if m := citationMarker.FindStringIndex(strings.TrimLeft(tail, " ")); m != nil && m[0] == 0 {
		return answerText
	}
	return answerText[:end] + fmt.Sprintf(" [%d]", number) + answerText[end:]
}
