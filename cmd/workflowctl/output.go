package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/bizmatters/agent-builder/domain-orchestrator/internal/models"
)

const (
	formatHuman = "human"
	formatJSON  = "json"
	formatYAML  = "yaml"

	excerptLines = 12
)

func validateFormat(format string) error {
	switch format {
	case formatHuman, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (human, json, yaml)", format)
}

func printState(w io.Writer, st models.WorkflowState, format string) error {
	if format == formatHuman {
		displayHuman(w, st)
		return nil
	}
	return printValue(w, st, format)
}

// printValue writes v as JSON or YAML. YAML goes through JSON first so both
// formats share the json field names.
func printValue(w io.Writer, v interface{}, format string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if format == formatJSON {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func displayHuman(w io.Writer, st models.WorkflowState) {
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)
	green := color.New(color.FgGreen, color.Bold)
	cyan := color.New(color.FgCyan, color.Bold)

	if st.Project != nil {
		cyan.Fprintf(w, "Project: %s\n", st.Project.Name)
		if st.Project.Description != "" {
			fmt.Fprintf(w, "   %s\n", st.Project.Description)
		}
	}
	fmt.Fprintln(w, stageProgress(st.Stage))
	fmt.Fprintln(w)

	section(w, cyan, "Domain description", st.Prompt)
	if st.UploadedImage != nil && st.UploadedImage.HasImage {
		fmt.Fprintf(w, "Image: %s\n\n", st.UploadedImage.Name)
	}
	section(w, cyan, "Domain analysis", st.DomainAnalysis())
	section(w, cyan, "Business context", st.BusinessContext)
	section(w, cyan, "Architecture diagram", st.ASCIIDiagram)
	if st.SpecID != "" {
		cyan.Fprintln(w, "OpenAPI specification:")
		fmt.Fprintf(w, "   id %s, %d bytes\n\n", st.SpecID, len(st.SpecContent))
	}
	if len(st.SecuritySpecs) > 0 {
		green.Fprintln(w, "Security specifications generated")
		fmt.Fprintln(w)
	}

	for _, warning := range st.Warnings {
		yellow.Fprintf(w, "warning: %s\n", warning)
	}
	for _, op := range st.Pending {
		yellow.Fprintf(w, "pending: %s\n", op)
	}

	if e := st.Error; e != nil {
		red.Fprintf(w, "%s failed: %s\n", e.Operation, e.Message)
		if e.Attempts > 0 {
			fmt.Fprintf(w, "   attempts: %d\n", e.Attempts)
		}
		switch {
		case e.Retryable && e.CanSkip:
			fmt.Fprintln(w, color.HiBlackString("   Retry the command, or continue to the next stage without it"))
		case e.Retryable:
			fmt.Fprintln(w, color.HiBlackString("   Retry the command"))
		case e.CanSkip:
			fmt.Fprintln(w, color.HiBlackString("   Continue to the next stage without it"))
		}
	}
}

func section(w io.Writer, title *color.Color, name, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	title.Fprintf(w, "%s:\n", name)
	fmt.Fprintln(w, excerpt(body, excerptLines, "   "))
	fmt.Fprintln(w)
}

// stageProgress renders the pipeline with the current stage highlighted.
func stageProgress(current models.Stage) string {
	parts := make([]string, 0, len(models.Stages))
	for i, s := range models.Stages {
		switch {
		case s == current:
			parts = append(parts, color.New(color.FgGreen, color.Bold).Sprintf("[%s]", s))
		case i < current.Index():
			parts = append(parts, string(s))
		default:
			parts = append(parts, color.HiBlackString(string(s)))
		}
	}
	return "Stage: " + strings.Join(parts, " > ")
}

// excerpt indents text and truncates it to max lines.
func excerpt(text string, max int, indent string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	truncated := len(lines) > max
	if truncated {
		lines = lines[:max]
	}
	for i, l := range lines {
		lines[i] = indent + l
	}
	if truncated {
		lines = append(lines, indent+color.HiBlackString("... (use -o json for the full text)"))
	}
	return strings.Join(lines, "\n")
}
