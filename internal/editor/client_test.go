package editor

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestVisibleWindow(t *testing.T) {
	tests := []struct {
		name       string
		cursor     int
		lineCount  int
		start, end int
	}{
		{"near top", 3, 500, 0, 53},
		{"middle", 200, 500, 149, 250},
		{"near bottom", 490, 500, 439, 500},
		{"short buffer", 1, 1, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := visibleWindow(tt.cursor, tt.lineCount, 50)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}
}

func TestApplyLineWindow(t *testing.T) {
	content := "one\ntwo\nthree\nfour"

	assert.Equal(t, content, ApplyLineWindow(content, nil, nil))
	assert.Equal(t, "two\nthree\nfour", ApplyLineWindow(content, intPtr(2), nil))
	assert.Equal(t, "two\nthree", ApplyLineWindow(content, intPtr(2), intPtr(2)))
	assert.Equal(t, "one", ApplyLineWindow(content, nil, intPtr(1)))
	assert.Equal(t, "", ApplyLineWindow(content, intPtr(10), nil))
}

func TestSortEditsBottomUp(t *testing.T) {
	edits := []BufferEdit{
		{StartLine: 1, EndLine: 2},
		{StartLine: 10, EndLine: 12},
		{StartLine: 5, EndLine: 5},
	}
	sorted := SortEditsBottomUp(edits)
	require.Len(t, sorted, 3)
	assert.Equal(t, []int{10, 5, 1}, []int{sorted[0].StartLine, sorted[1].StartLine, sorted[2].StartLine})
	assert.Equal(t, 1, edits[0].StartLine, "input must not be reordered")
}

func TestExtractChannelID(t *testing.T) {
	for _, v := range []any{int64(4), int(4), uint64(4), int32(4)} {
		id, err := extractChannelID([]any{v, map[string]any{}})
		require.NoError(t, err)
		assert.Equal(t, int64(4), id)
	}

	_, err := extractChannelID(nil)
	assert.Error(t, err)
	_, err = extractChannelID([]any{"4"})
	assert.Error(t, err)
}

func TestParseAction(t *testing.T) {
	t.Run("msgpack map with nested diagnostic", func(t *testing.T) {
		payload := map[any]any{
			"action":           "fixDiagnostic",
			"filePath":         "/src/main.go",
			"cursorLine":       int64(12),
			"contextLines":     []any{"a", "b"},
			"contextStartLine": int64(11),
			"diagnostic": map[any]any{
				"line":     int64(11),
				"col":      int64(2),
				"severity": int64(1),
				"message":  []byte("undefined: x"),
				"source":   "gopls",
			},
		}
		action, err := ParseAction(payload)
		require.NoError(t, err)
		assert.Equal(t, ActionFixDiagnostic, action.Kind)
		assert.Equal(t, 12, action.CursorLine)
		require.NotNil(t, action.Diagnostic)
		assert.Equal(t, "undefined: x", action.Diagnostic.Message)
		assert.Equal(t, []string{"a", "b"}, action.ContextLines)
	})

	t.Run("rejects unknown kinds", func(t *testing.T) {
		_, err := ParseAction(map[string]any{"action": "refactor"})
		assert.Error(t, err)
	})

	t.Run("fixDiagnostic needs a diagnostic", func(t *testing.T) {
		_, err := ParseAction(`{"action":"fixDiagnostic","filePath":"a.go"}`)
		assert.Error(t, err)
	})

	t.Run("ask keeps an explicit selection", func(t *testing.T) {
		action, err := ParseAction(`{"action":"ask","prompt":"why?","selection":"x := 1"}`)
		require.NoError(t, err)
		require.NotNil(t, action.Selection)
		assert.Equal(t, "x := 1", *action.Selection)
	})
}

func TestSeverityLabel(t *testing.T) {
	assert.Equal(t, "ERROR", SeverityLabel(1))
	assert.Equal(t, "WARN", SeverityLabel(2))
	assert.Equal(t, "INFO", SeverityLabel(3))
	assert.Equal(t, "HINT", SeverityLabel(4))
	assert.Equal(t, "UNKNOWN", SeverityLabel(9))
}

func TestFormatDiagnostic(t *testing.T) {
	d := Diagnostic{Line: 9, Severity: 1, Message: "undefined: foo", Source: "gopls"}
	assert.Equal(t, "Line 10: [ERROR] undefined: foo (gopls)", FormatDiagnostic(d))

	d.Source = ""
	d.Severity = 0
	assert.Equal(t, "Line 10: [UNKNOWN] undefined: foo", FormatDiagnostic(d))
}

func TestSocketPath(t *testing.T) {
	path := SocketPath("/run/neoai", 42, "term/1")
	assert.Equal(t, "/run/neoai/libg-nvim-42-term_1.sock", path)

	pid, ok := socketOwner(filepath.Base(path))
	require.True(t, ok)
	assert.Equal(t, 42, pid)

	_, ok = socketOwner("nvim.sock")
	assert.False(t, ok)
}

func TestCleanupStale(t *testing.T) {
	dir := t.TempDir()
	own := SocketPath(dir, os.Getpid(), "live")
	// pid far above any default pid_max
	stale := filepath.Join(dir, "libg-nvim-"+strconv.Itoa(1<<30)+"-gone.sock")
	unrelated := filepath.Join(dir, "other.sock")
	for _, p := range []string{own, stale, unrelated} {
		require.NoError(t, os.WriteFile(p, nil, 0o600))
	}

	removed := CleanupStale(dir, newTestLogger())

	assert.Equal(t, 1, removed)
	assert.FileExists(t, own)
	assert.FileExists(t, unrelated)
	assert.NoFileExists(t, stale)
}
