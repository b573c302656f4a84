package action

import (
	"fmt"
	"strings"

	"github.com/neoai/neoai/internal/editor"
)

// editFormatHint tells the agent how to propose line edits so they can be
// applied through the editor.
const editFormatHint = "If you propose a change, reply with one fenced block per replaced range, " +
	"opened with ```edit <first>-<last> where <first> and <last> are the 1-based, inclusive " +
	"buffer lines being replaced, containing only the replacement lines."

// BuildPrompt turns an editor action into the text sent to the agent.
func BuildPrompt(a editor.Action) string {
	var b strings.Builder
	lang := a.FileType

	switch a.Kind {
	case editor.ActionFixDiagnostic:
		fmt.Fprintf(&b, "Fix the diagnostic in %s at line %d:\n", a.FilePath, a.CursorLine)
		if a.Diagnostic != nil {
			b.WriteString(editor.FormatDiagnostic(*a.Diagnostic))
			b.WriteString("\n")
		}
		writeExcerpt(&b, a)
		b.WriteString("\n")
		b.WriteString(editFormatHint)

	case editor.ActionImplement:
		fmt.Fprintf(&b, "Implement the following %s in %s:\n", describe(lang, "signature"), a.FilePath)
		writeFence(&b, lang, strings.Join(a.SignatureLines, "\n"))
		writeExcerpt(&b, a)
		b.WriteString("\n")
		b.WriteString(editFormatHint)

	case editor.ActionExplain:
		fmt.Fprintf(&b, "Explain the following %s from %s:\n", describe(lang, "code"), a.FilePath)
		writeFence(&b, lang, a.TargetText)
		writeExcerpt(&b, a)

	case editor.ActionAsk:
		b.WriteString(strings.TrimSpace(a.Prompt))
		b.WriteString("\n")
		if a.Selection != nil && *a.Selection != "" {
			fmt.Fprintf(&b, "\nSelection from %s:\n", a.FilePath)
			writeFence(&b, lang, *a.Selection)
		}
		writeExcerpt(&b, a)
	}

	return strings.TrimRight(b.String(), "\n")
}

func describe(lang, noun string) string {
	if lang == "" {
		return noun
	}
	return lang + " " + noun
}

func writeFence(b *strings.Builder, lang, body string) {
	b.WriteString("```")
	b.WriteString(lang)
	b.WriteString("\n")
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n```\n")
}

// writeExcerpt appends the action's context lines, numbered from its
// reported start line.
func writeExcerpt(b *strings.Builder, a editor.Action) {
	if len(a.ContextLines) == 0 {
		return
	}
	last := a.ContextStartLine + len(a.ContextLines) - 1
	fmt.Fprintf(b, "\nContext (%s, lines %d-%d):\n", a.FilePath, a.ContextStartLine, last)
	width := len(fmt.Sprint(last))
	lines := make([]string, len(a.ContextLines))
	for i, line := range a.ContextLines {
		lines[i] = fmt.Sprintf("%*d | %s", width, a.ContextStartLine+i, line)
	}
	writeFence(b, a.FileType, strings.Join(lines, "\n"))
}
