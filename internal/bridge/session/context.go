package session

import (
	"fmt"
	"strings"

	"github.com/neoai/neoai/internal/editor"
)

// BuildContextString renders the editor snapshot sent alongside a prompt.
// It returns "" when there is no context.
func BuildContextString(ctx *editor.Context, diags []editor.Diagnostic) string {
	if ctx == nil {
		return ""
	}
	var b strings.Builder
	if ctx.FileType != "" {
		fmt.Fprintf(&b, "File: %s (%s)\n", ctx.FilePath, ctx.FileType)
	} else {
		fmt.Fprintf(&b, "File: %s\n", ctx.FilePath)
	}
	fmt.Fprintf(&b, "Cursor: line %d, col %d\n", ctx.Cursor.Line, ctx.Cursor.Col)

	if len(ctx.VisibleLines) > 0 {
		start, end := ctx.VisibleRange[0], ctx.VisibleRange[1]
		if start <= 0 {
			start = 1
		}
		if end < start {
			end = start + len(ctx.VisibleLines) - 1
		}
		fmt.Fprintf(&b, "Visible lines %d-%d:\n```%s\n", start, end, ctx.FileType)
		width := len(fmt.Sprint(end))
		for i, line := range ctx.VisibleLines {
			fmt.Fprintf(&b, "%*d | %s\n", width, start+i, line)
		}
		b.WriteString("```\n")
	}

	if len(diags) > 0 {
		b.WriteString("Diagnostics:\n")
		for _, d := range diags {
			b.WriteString(editor.FormatDiagnostic(d))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// promptBlocks turns the user's text and attachments into prompt blocks.
func promptBlocks(in Input) []string {
	blocks := make([]string, 0, 1+len(in.Attachments))
	if in.Text != "" {
		blocks = append(blocks, in.Text)
	}
	for _, a := range in.Attachments {
		blocks = append(blocks, fmt.Sprintf("Attached file %s:\n```\n%s\n```", a.Name, strings.TrimRight(a.Content, "\n")))
	}
	return blocks
}
