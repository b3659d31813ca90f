package gateway

import (
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
)

// RenderAnalysis writes the analysis artifacts of st as an HTML fragment.
// Raw HTML inside the generated text is not passed through.
func RenderAnalysis(md goldmark.Markdown, st models.WorkflowState, w io.Writer) error {
	if err := md.Convert([]byte(analysisMarkdown(st)), w); err != nil {
		return fmt.Errorf("failed to convert analysis markdown: %w", err)
	}
	return nil
}

func analysisMarkdown(st models.WorkflowState) string {
	var b strings.Builder
	if st.Project != nil {
		fmt.Fprintf(&b, "# %s\n\n", st.Project.Name)
		if st.Project.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", st.Project.Description)
		}
	}
	if text := st.DomainAnalysis(); text != "" {
		fmt.Fprintf(&b, "## Domain Analysis\n\n%s\n\n", strings.TrimSpace(text))
	}
	if st.BusinessContext != "" {
		fmt.Fprintf(&b, "## Business Context\n\n%s\n\n", strings.TrimSpace(st.BusinessContext))
	}
	if st.ASCIIDiagram != "" {
		// Diagrams may contain backtick runs of their own.
		fence := "```"
		for strings.Contains(st.ASCIIDiagram, fence) {
			fence += "`"
		}
		fmt.Fprintf(&b, "## Architecture Diagram\n\n%s\n%s\n%s\n", fence, st.ASCIIDiagram, fence)
	}
	return b.String()
}
