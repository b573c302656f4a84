package action

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neoai/neoai/internal/editor"
)

func fixDiagnosticEvent(terminalID string) editor.ActionEvent {
	return editor.ActionEvent{
		TerminalID: terminalID,
		Action: editor.Action{
			Kind:       editor.ActionFixDiagnostic,
			FilePath:   "/work/main.go",
			FileType:   "go",
			CursorLine: 12,
			Diagnostic: &editor.Diagnostic{Line: 11, Severity: 1, Message: "undefined: foo", Source: "gopls"},
			ContextLines: []string{
				"func main() {",
				"\tfoo()",
				"}",
			},
			ContextStartLine: 10,
		},
	}
}

func TestRouter_Route(t *testing.T) {
	t.Run("accepts action from the active terminal", func(t *testing.T) {
		r := NewRouter("term-1", 10, 5)

		req, err := r.Route(fixDiagnosticEvent("term-1"), "term-1", false)
		require.NoError(t, err)
		assert.True(t, req.ActionTriggered)
		assert.Equal(t, editor.ActionFixDiagnostic, req.Kind)
		assert.Contains(t, req.Prompt, "Line 12: [ERROR] undefined: foo (gopls)")
	})

	t.Run("drops action from an inactive terminal", func(t *testing.T) {
		r := NewRouter("term-1", 10, 5)

		_, err := r.Route(fixDiagnosticEvent("term-1"), "term-2", false)
		assert.ErrorIs(t, err, ErrInactiveTerminal)
	})

	t.Run("drops action while streaming", func(t *testing.T) {
		r := NewRouter("term-1", 10, 5)

		first, err := r.Route(fixDiagnosticEvent("term-1"), "term-1", false)
		require.NoError(t, err)
		require.NotEmpty(t, first.Prompt)

		_, err = r.Route(fixDiagnosticEvent("term-1"), "term-1", true)
		assert.ErrorIs(t, err, ErrExchangeBusy)
	})

	t.Run("throttles bursts", func(t *testing.T) {
		r := NewRouter("term-1", 1, 2)
		fixed := time.Unix(1_700_000_000, 0)
		r.now = func() time.Time { return fixed }

		_, err := r.Route(fixDiagnosticEvent("term-1"), "term-1", false)
		require.NoError(t, err)
		_, err = r.Route(fixDiagnosticEvent("term-1"), "term-1", false)
		require.NoError(t, err)
		_, err = r.Route(fixDiagnosticEvent("term-1"), "term-1", false)
		assert.ErrorIs(t, err, ErrRateLimited)

		fixed = fixed.Add(time.Second)
		_, err = r.Route(fixDiagnosticEvent("term-1"), "term-1", false)
		assert.NoError(t, err)
	})
}

func TestBuildPrompt(t *testing.T) {
	t.Run("fix diagnostic numbers lines from the context start", func(t *testing.T) {
		prompt := BuildPrompt(fixDiagnosticEvent("term-1").Action)

		assert.True(t, strings.HasPrefix(prompt, "Fix the diagnostic in /work/main.go at line 12:\n"))
		assert.Contains(t, prompt, "Context (/work/main.go, lines 10-12):")
		assert.Contains(t, prompt, "10 | func main() {")
		assert.Contains(t, prompt, "11 | \tfoo()")
		assert.Contains(t, prompt, "12 | }")
		assert.Contains(t, prompt, "```edit <first>-<last>")
	})

	t.Run("implement fences the signature", func(t *testing.T) {
		prompt := BuildPrompt(editor.Action{
			Kind:             editor.ActionImplement,
			FilePath:         "/work/sum.py",
			FileType:         "python",
			SignatureLines:   []string{"def total(xs):"},
			ContextLines:     []string{"def total(xs):"},
			ContextStartLine: 98,
		})

		assert.Contains(t, prompt, "Implement the following python signature in /work/sum.py:\n```python\ndef total(xs):\n```")
		assert.Contains(t, prompt, "98 | def total(xs):")
	})

	t.Run("explain fences the target text", func(t *testing.T) {
		prompt := BuildPrompt(editor.Action{
			Kind:       editor.ActionExplain,
			FilePath:   "/work/a.rs",
			FileType:   "rust",
			TargetText: "let x = y?;",
		})

		assert.Equal(t, "Explain the following rust code from /work/a.rs:\n```rust\nlet x = y?;\n```", prompt)
	})

	t.Run("ask includes the selection when present", func(t *testing.T) {
		sel := "x := compute()"
		prompt := BuildPrompt(editor.Action{
			Kind:             editor.ActionAsk,
			FilePath:         "/work/main.go",
			FileType:         "go",
			Prompt:           "  is this safe?  ",
			Selection:        &sel,
			ContextLines:     []string{"x := compute()", "use(x)"},
			ContextStartLine: 9,
		})

		assert.True(t, strings.HasPrefix(prompt, "is this safe?\n"))
		assert.Contains(t, prompt, "Selection from /work/main.go:\n```go\nx := compute()\n```")
		assert.Contains(t, prompt, " 9 | x := compute()")
		assert.Contains(t, prompt, "10 | use(x)")
	})

	t.Run("ask without selection", func(t *testing.T) {
		prompt := BuildPrompt(editor.Action{Kind: editor.ActionAsk, Prompt: "why?"})
		assert.Equal(t, "why?", prompt)
	})
}
