// Package editor talks to a neovim instance over its msgpack-RPC socket and
// supervises that connection on behalf of one terminal.
package editor

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by operations that need a live editor connection.
var ErrNotConnected = errors.New("editor not connected")

// ErrSuperseded is returned by Establish when a newer attempt replaced the
// caller's. Callers drop it without reporting or mutating state.
var ErrSuperseded = errors.New("connect attempt superseded")

// ConnectionError is a transport or protocol failure reaching the editor.
type ConnectionError struct {
	SocketPath string
	Reason     string
}

func (e *ConnectionError) Error() string {
	if e.SocketPath == "" {
		return "editor connection failed: " + e.Reason
	}
	return fmt.Sprintf("editor connection to %s failed: %s", e.SocketPath, e.Reason)
}

// ConnectionState is the supervisor's view of the editor link.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// KeymapStatus is derived from the latest health snapshot while connected.
type KeymapStatus string

const (
	KeymapUnknown KeymapStatus = "unknown"
	KeymapPresent KeymapStatus = "present"
	KeymapMissing KeymapStatus = "missing"
	KeymapError   KeymapStatus = "error"
)

// Health is a point-in-time probe result. It is never persisted.
type Health struct {
	Connected       bool   `json:"connected"`
	ChannelID       *int64 `json:"channelId,omitempty"`
	KeymapsInjected bool   `json:"keymapsInjected"`
	SocketPath      string `json:"socketPath,omitempty"`
	LastError       string `json:"lastError,omitempty"`
}

// CursorPosition is a 1-indexed line and 0-indexed byte column.
type CursorPosition struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

// Context is a snapshot of the current buffer around the cursor.
type Context struct {
	Cursor       CursorPosition `json:"cursor"`
	FilePath     string         `json:"filePath"`
	FileType     string         `json:"fileType"`
	BufferID     int            `json:"bufferId"`
	LineCount    int            `json:"lineCount"`
	Modified     bool           `json:"modified"`
	VisibleLines []string       `json:"visibleLines"`
	// VisibleRange is the 1-indexed inclusive line range of VisibleLines.
	VisibleRange [2]int `json:"visibleRange"`
}

// Clone returns a deep copy, so a message snapshot is unaffected by later refreshes.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := *c
	out.VisibleLines = append([]string(nil), c.VisibleLines...)
	return &out
}

// Diagnostic mirrors vim.diagnostic entries. Line and Col are 0-indexed.
type Diagnostic struct {
	Line     int    `json:"line"`
	Col      int    `json:"col"`
	Severity int    `json:"severity"`
	Message  string `json:"message"`
	Source   string `json:"source"`
}

// CloneDiagnostics copies a diagnostics slice.
func CloneDiagnostics(in []Diagnostic) []Diagnostic {
	if in == nil {
		return nil
	}
	return append([]Diagnostic(nil), in...)
}

// SeverityLabel maps vim.diagnostic severities to display labels.
func SeverityLabel(severity int) string {
	switch severity {
	case 1:
		return "ERROR"
	case 2:
		return "WARN"
	case 3:
		return "INFO"
	case 4:
		return "HINT"
	default:
		return "UNKNOWN"
	}
}

// FormatDiagnostic renders d as "Line <n+1>: [SEV] message (source)".
// The source suffix is left out when the diagnostic has none.
func FormatDiagnostic(d Diagnostic) string {
	out := fmt.Sprintf("Line %d: [%s] %s", d.Line+1, SeverityLabel(d.Severity), d.Message)
	if d.Source != "" {
		out += " (" + d.Source + ")"
	}
	return out
}

// BufferEdit replaces the 0-indexed, end-exclusive line range
// [StartLine, EndLine) of the current buffer with NewLines.
type BufferEdit struct {
	StartLine int      `json:"startLine"`
	EndLine   int      `json:"endLine"`
	NewLines  []string `json:"newLines"`
	FilePath  string   `json:"filePath,omitempty"`
}

// BufferContent is the full text of the current buffer.
type BufferContent struct {
	FilePath  string   `json:"filePath"`
	Lines     []string `json:"lines"`
	LineCount int      `json:"lineCount"`
}
