package editor

import (
	"context"
	"errors"
	"sync"

	"github.com/neoai/neoai/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	return log
}

var errTransport = errors.New("broken pipe")

type fakeConn struct {
	mu sync.Mutex

	socket      string
	channel     int64
	keymaps     bool
	channelErr  error
	probeErr    error
	injectErr   error
	contextErr  error
	context     *Context
	diagnostics []Diagnostic
	applyErr    error

	applied     [][]BufferEdit
	injectCalls int
	closed      bool
}

func newFakeConn(socket string) *fakeConn {
	return &fakeConn{
		socket:  socket,
		channel: 7,
		keymaps: true,
		context: &Context{
			Cursor:       CursorPosition{Line: 3, Col: 1},
			FilePath:     "/src/main.go",
			FileType:     "go",
			LineCount:    3,
			VisibleLines: []string{"package main", "", "func main() {}"},
			VisibleRange: [2]int{1, 3},
		},
		diagnostics: []Diagnostic{{Line: 2, Col: 0, Severity: 1, Message: "unused", Source: "gopls"}},
	}
}

func (f *fakeConn) SocketPath() string { return f.socket }

func (f *fakeConn) ChannelID(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channelErr != nil {
		return 0, f.channelErr
	}
	return f.channel, nil
}

func (f *fakeConn) InjectKeymaps(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injectCalls++
	if f.injectErr != nil {
		return 0, f.injectErr
	}
	f.keymaps = true
	return f.channel, nil
}

func (f *fakeConn) ProbeKeymaps(context.Context, int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeErr != nil {
		return false, f.probeErr
	}
	return f.keymaps, nil
}

func (f *fakeConn) Context(context.Context) (*Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contextErr != nil {
		return nil, f.contextErr
	}
	return f.context.Clone(), nil
}

func (f *fakeConn) Diagnostics(context.Context) ([]Diagnostic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return CloneDiagnostics(f.diagnostics), nil
}

func (f *fakeConn) BufferContent(context.Context) (*BufferContent, error) {
	return &BufferContent{FilePath: f.context.FilePath, Lines: f.context.VisibleLines, LineCount: f.context.LineCount}, nil
}

func (f *fakeConn) ApplyEdit(ctx context.Context, edit BufferEdit) error {
	return f.ApplyEdits(ctx, []BufferEdit{edit})
}

func (f *fakeConn) ApplyEdits(_ context.Context, edits []BufferEdit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, edits)
	return nil
}

func (f *fakeConn) ExecCommand(_ context.Context, command string) (string, error) {
	return "ran " + command, nil
}

func (f *fakeConn) ReadFile(context.Context, string, *int, *int) (string, error) {
	return "", nil
}

func (f *fakeConn) WriteFile(context.Context, string, string) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) set(fn func(f *fakeConn)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}
