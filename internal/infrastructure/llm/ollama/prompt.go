package ollama

import (
	"fmt"
	"strings"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
)

func buildAnswerPrompt(question string, evidence []domain.ScoredResult) string {
	var contextBuilder strings.Builder
	for idx, result := range evidence {
		chunk := result.Chunk
		contextBuilder.WriteString(fmt.Sprintf(
			"[%d] file=%s section=%s page=%d score=%.3f\n%s\n\n",
			idx+1,
			chunk.Filename,
			chunk.Section,
			chunk.Page,
			result.FusedScore,
			chunk.Text,
		))
	}

	return fmt.Sprintf(`Answer the user question only from the numbered sources below.
Cite the source number in square brackets after each fact, e.g. [1].
If the sources are insufficient, say it directly.

Question:
%s

Sources:
%s
`, question, contextBuilder.String())
}
