package analysis

import (
	"strings"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
)

// BuildImagePrompt turns an image analysis into the structured prompt that
// replaces the user's free-text description.
func BuildImagePrompt(r *models.AnalysisResult) string {
	if r == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("Domain model extracted from uploaded image.\n")
	section(&b, "Entities", r.ExtractedText)
	section(&b, "Domain Analysis", r.DomainAnalysis)
	section(&b, "Business Context", r.BusinessContext())
	return strings.TrimRight(b.String(), "\n")
}

func section(b *strings.Builder, title, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	b.WriteString("\n## ")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n")
}
