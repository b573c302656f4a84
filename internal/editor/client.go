package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/neovim/go-client/nvim"
	"go.uber.org/zap"

	"github.com/neoai/neoai/internal/common/constants"
	"github.com/neoai/neoai/internal/common/logger"
)

// Conn is the narrow editor surface the bridge consumes.
type Conn interface {
	SocketPath() string
	ChannelID(ctx context.Context) (int64, error)
	InjectKeymaps(ctx context.Context) (int64, error)
	ProbeKeymaps(ctx context.Context, channelID int64) (bool, error)
	Context(ctx context.Context) (*Context, error)
	Diagnostics(ctx context.Context) ([]Diagnostic, error)
	BufferContent(ctx context.Context) (*BufferContent, error)
	ApplyEdit(ctx context.Context, edit BufferEdit) error
	ApplyEdits(ctx context.Context, edits []BufferEdit) error
	ExecCommand(ctx context.Context, command string) (string, error)
	ReadFile(ctx context.Context, path string, line, limit *int) (string, error)
	WriteFile(ctx context.Context, path, content string) error
	Close() error
}

// DialFunc opens a Conn to the editor listening on socketPath.
type DialFunc func(ctx context.Context, socketPath string) (Conn, error)

// ClientOptions configures a Client.
type ClientOptions struct {
	TerminalID    string
	ContextRadius int
	// OnAction receives parsed libg_action notifications.
	OnAction func(ActionEvent)
	// OnTrace receives notify.* breadcrumbs.
	OnTrace func(stage, detail string)
}

// Client is a Conn backed by github.com/neovim/go-client.
type Client struct {
	nv         *nvim.Nvim
	socketPath string
	opts       ClientOptions
	logger     *logger.Logger

	closeOnce sync.Once
}

var _ Conn = (*Client)(nil)

// NewDialer returns a DialFunc that connects with go-client and registers
// the action notification handler.
func NewDialer(opts ClientOptions, log *logger.Logger) DialFunc {
	return func(ctx context.Context, socketPath string) (Conn, error) {
		return Dial(ctx, socketPath, opts, log)
	}
}

// Dial connects to the neovim socket and starts serving notifications.
func Dial(ctx context.Context, socketPath string, opts ClientOptions, log *logger.Logger) (*Client, error) {
	if opts.ContextRadius <= 0 {
		opts.ContextRadius = constants.EditorContextRadius
	}
	nv, err := nvim.Dial(socketPath, nvim.DialContext(ctx))
	if err != nil {
		return nil, &ConnectionError{SocketPath: socketPath, Reason: err.Error()}
	}

	c := &Client{
		nv:         nv,
		socketPath: socketPath,
		opts:       opts,
		logger:     log.Component("editor-client").WithTerminalID(opts.TerminalID),
	}
	if err := nv.RegisterHandler(ActionNotifyMethod, c.handleAction); err != nil {
		_ = nv.Close()
		return nil, &ConnectionError{SocketPath: socketPath, Reason: "register action handler: " + err.Error()}
	}
	return c, nil
}

func (c *Client) trace(stage, detail string) {
	if c.opts.OnTrace != nil {
		c.opts.OnTrace(stage, detail)
	}
}

// handleAction runs on the go-client serve goroutine.
func (c *Client) handleAction(payload any) {
	c.trace("notify.received", ActionNotifyMethod)
	if payload == nil {
		c.trace("notify.empty_payload", "")
		return
	}
	action, err := ParseAction(payload)
	if err != nil {
		c.logger.Warn("failed to parse editor action", zap.Error(err))
		c.trace("notify.parse_error", err.Error())
		return
	}
	c.logger.Info("received editor action", zap.String("action", string(action.Kind)))
	c.trace("notify.parsed", string(action.Kind))
	if c.opts.OnAction != nil {
		c.opts.OnAction(ActionEvent{TerminalID: c.opts.TerminalID, Action: action})
	}
}

// do runs a blocking go-client call, giving up when ctx is done. go-client
// calls are not context aware; an abandoned call returns once the socket closes.
func (c *Client) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, constants.EditorRPCTimeout)
		defer cancel()
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) execLuaJSON(ctx context.Context, code string, out any, args ...any) error {
	var raw string
	if err := c.do(ctx, func() error { return c.nv.ExecLua(code, &raw, args...) }); err != nil {
		return err
	}
	if raw == "" {
		raw = "null"
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to parse lua JSON: %w", err)
	}
	return nil
}

// SocketPath returns the socket this client is connected to.
func (c *Client) SocketPath() string { return c.socketPath }

// ChannelID returns the RPC channel id neovim assigned to this connection.
func (c *Client) ChannelID(ctx context.Context) (int64, error) {
	var info []any
	err := c.do(ctx, func() error {
		var err error
		info, err = c.nv.APIInfo()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get api info: %w", err)
	}
	return extractChannelID(info)
}

func extractChannelID(info []any) (int64, error) {
	if len(info) == 0 {
		return 0, errors.New("failed to extract channel ID from api info")
	}
	switch v := info[0].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("failed to extract channel ID from api info: unexpected %T", info[0])
	}
}

// InjectKeymaps installs the libg helpers bound to this connection's channel.
func (c *Client) InjectKeymaps(ctx context.Context) (int64, error) {
	channelID, err := c.ChannelID(ctx)
	if err != nil {
		return 0, err
	}
	err = c.do(ctx, func() error { return c.nv.ExecLua(keymapSetupLua(channelID), nil) })
	if err != nil {
		return 0, fmt.Errorf("failed to inject lua keybindings: %w", err)
	}
	c.logger.Debug("keymaps injected", zap.Int64("channel_id", channelID))
	return channelID, nil
}

// ProbeKeymaps reports whether the helpers are installed for channelID.
func (c *Client) ProbeKeymaps(ctx context.Context, channelID int64) (bool, error) {
	var result struct {
		KeymapsInjected bool `json:"keymapsInjected"`
	}
	if err := c.execLuaJSON(ctx, keymapProbeLua(channelID), &result); err != nil {
		return false, fmt.Errorf("keymap probe failed: %w", err)
	}
	return result.KeymapsInjected, nil
}

// Context snapshots the current buffer around the cursor.
func (c *Client) Context(ctx context.Context) (*Context, error) {
	out := &Context{}
	err := c.do(ctx, func() error {
		win, err := c.nv.CurrentWindow()
		if err != nil {
			return err
		}
		buf, err := c.nv.CurrentBuffer()
		if err != nil {
			return err
		}
		cursor, err := c.nv.WindowCursor(win)
		if err != nil {
			return err
		}
		name, err := c.nv.BufferName(buf)
		if err != nil {
			return err
		}
		lineCount, err := c.nv.BufferLineCount(buf)
		if err != nil {
			return err
		}

		start, end := visibleWindow(cursor[0], lineCount, c.opts.ContextRadius)
		lines, err := c.nv.BufferLines(buf, start, end, false)
		if err != nil {
			return err
		}

		out.Cursor = CursorPosition{Line: cursor[0], Col: cursor[1]}
		out.FilePath = name
		out.BufferID = int(buf)
		out.LineCount = lineCount
		out.VisibleLines = bytesToLines(lines)
		out.VisibleRange = [2]int{start + 1, end}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read editor context: %w", err)
	}

	var meta struct {
		FileType string `json:"fileType"`
		Modified bool   `json:"modified"`
	}
	if err := c.execLuaJSON(ctx, bufferMetaLua, &meta); err != nil {
		return nil, fmt.Errorf("failed to read buffer options: %w", err)
	}
	out.FileType = meta.FileType
	out.Modified = meta.Modified
	return out, nil
}

// visibleWindow returns the 0-indexed, end-exclusive line range of
// cursorLine±radius clamped to the buffer.
func visibleWindow(cursorLine, lineCount, radius int) (int, int) {
	start := max(cursorLine-radius, 1) - 1
	end := min(cursorLine+radius, lineCount)
	if end < start {
		end = start
	}
	return start, end
}

// Diagnostics returns vim.diagnostic entries for the current buffer.
func (c *Client) Diagnostics(ctx context.Context) ([]Diagnostic, error) {
	var diags []Diagnostic
	if err := c.execLuaJSON(ctx, diagnosticsLua, &diags); err != nil {
		return nil, fmt.Errorf("failed to read diagnostics: %w", err)
	}
	if diags == nil {
		diags = []Diagnostic{}
	}
	return diags, nil
}

// BufferContent returns every line of the current buffer.
func (c *Client) BufferContent(ctx context.Context) (*BufferContent, error) {
	out := &BufferContent{}
	err := c.do(ctx, func() error {
		buf, err := c.nv.CurrentBuffer()
		if err != nil {
			return err
		}
		name, err := c.nv.BufferName(buf)
		if err != nil {
			return err
		}
		count, err := c.nv.BufferLineCount(buf)
		if err != nil {
			return err
		}
		lines, err := c.nv.BufferLines(buf, 0, count, false)
		if err != nil {
			return err
		}
		out.FilePath = name
		out.LineCount = count
		out.Lines = bytesToLines(lines)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read buffer: %w", err)
	}
	return out, nil
}

// ApplyEdit replaces one line range in the current buffer.
func (c *Client) ApplyEdit(ctx context.Context, edit BufferEdit) error {
	return c.ApplyEdits(ctx, []BufferEdit{edit})
}

// ApplyEdits applies edits bottom-up so earlier ranges keep their line numbers.
// The first failing edit aborts the batch; edits already applied stay applied.
func (c *Client) ApplyEdits(ctx context.Context, edits []BufferEdit) error {
	sorted := SortEditsBottomUp(edits)
	return c.do(ctx, func() error {
		buf, err := c.nv.CurrentBuffer()
		if err != nil {
			return err
		}
		for _, edit := range sorted {
			if err := c.nv.SetBufferLines(buf, edit.StartLine, edit.EndLine, false, linesToBytes(edit.NewLines)); err != nil {
				return fmt.Errorf("set lines %d-%d: %w", edit.StartLine, edit.EndLine, err)
			}
		}
		return nil
	})
}

// SortEditsBottomUp returns a copy of edits ordered by StartLine descending.
func SortEditsBottomUp(edits []BufferEdit) []BufferEdit {
	sorted := append([]BufferEdit(nil), edits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartLine > sorted[j].StartLine
	})
	return sorted
}

// ExecCommand runs an ex command and returns its output.
func (c *Client) ExecCommand(ctx context.Context, command string) (string, error) {
	var out string
	err := c.do(ctx, func() error {
		var err error
		out, err = c.nv.Exec(command, true)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("command %q failed: %w", command, err)
	}
	return out, nil
}

type luaFileResult struct {
	OK      bool   `json:"ok"`
	Source  string `json:"source"`
	Content string `json:"content"`
	Error   string `json:"error"`
}

// ReadFile reads path through the editor, preferring a loaded buffer.
func (c *Client) ReadFile(ctx context.Context, path string, line, limit *int) (string, error) {
	var res luaFileResult
	if err := c.execLuaJSON(ctx, readFileLua, &res, path); err != nil {
		return "", fmt.Errorf("neovim read_file lua failed: %w", err)
	}
	if !res.OK {
		if res.Error == "" {
			res.Error = "failed to read file through neovim"
		}
		return "", errors.New(res.Error)
	}
	return ApplyLineWindow(res.Content, line, limit), nil
}

// WriteFile replaces the buffer for path and writes it from inside the editor.
func (c *Client) WriteFile(ctx context.Context, path, content string) error {
	var res luaFileResult
	if err := c.execLuaJSON(ctx, writeFileLua, &res, path, content); err != nil {
		return fmt.Errorf("neovim write_file lua failed: %w", err)
	}
	if !res.OK {
		if res.Error == "" {
			res.Error = "failed to write file through neovim"
		}
		return errors.New(res.Error)
	}
	return nil
}

// Close closes the RPC connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.nv.Close()
	})
	return err
}

// ApplyLineWindow returns limit lines starting at the 1-indexed line.
// With neither set the content is returned unchanged.
func ApplyLineWindow(content string, line, limit *int) string {
	if line == nil && limit == nil {
		return content
	}
	lines := strings.Split(content, "\n")

	start := 0
	if line != nil && *line > 1 {
		start = *line - 1
	}
	if start >= len(lines) {
		return ""
	}
	end := len(lines)
	if limit != nil && *limit >= 0 && start+*limit < end {
		end = start + *limit
	}
	return strings.Join(lines[start:end], "\n")
}

func bytesToLines(in [][]byte) []string {
	out := make([]string, len(in))
	for i, l := range in {
		out[i] = string(l)
	}
	return out
}

func linesToBytes(in []string) [][]byte {
	out := make([][]byte, len(in))
	for i, l := range in {
		out[i] = []byte(l)
	}
	return out
}
