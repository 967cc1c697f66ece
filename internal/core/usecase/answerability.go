package usecase

import "github.com/kirillkom/docqa-assistant/internal/core/domain"

const (
	// Below this many results the evidence is considered sparse.
	sparseEvidenceThreshold = 2
	// Minimum mean query-term coverage across the evidence set before a
	// topic mismatch is declared.
	topicMatchThreshold = 0.15
	// Confidence floor the top result must clear for sparse evidence to
	// still be answerable.
	sparseConfidenceFloor = 0.6
)

type answerabilityVerdict struct {
	answerable bool
	reason     string
}

// classifyAnswerability gates generation on the retrieved evidence. The
// refusal reasons are stable strings surfaced to the caller:
// "no_evidence", "sparse_evidence" and "topic_mismatch".
func classifyAnswerability(queryText string, evidence []domain.ScoredResult) answerabilityVerdict {
	if len(evidence) == 0 {
		return answerabilityVerdict{answerable: false, reason: "no_evidence"}
	}

	querySet := toTokenSet(queryText)
	var coverageSum float64
	for _, result := range evidence {
		coverageSum += tokenOverlap(querySet, toTokenSet(result.Chunk.Text))
	}
	meanCoverage := coverageSum / float64(len(evidence))

	if meanCoverage < topicMatchThreshold {
		return answerabilityVerdict{answerable: false, reason: "topic_mismatch"}
	}

	if len(evidence) < sparseEvidenceThreshold && evidence[0].Confidence < sparseConfidenceFloor {
		return answerabilityVerdict{answerable: false, reason: "sparse_evidence"}
	}

	return answerabilityVerdict{answerable: true}
}
