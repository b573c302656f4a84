package acp

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/neoai/neoai/internal/common/logger"
)

// ErrTerminalUnsupported is returned for terminal requests; the client does
// not advertise the terminal capability.
var ErrTerminalUnsupported = errors.New("terminal capability not supported")

// UpdateHandler is called for every session update notification.
type UpdateHandler func(notification acp.SessionNotification)

// PermissionHandler blocks until the user decides on req.
type PermissionHandler func(ctx context.Context, req *PermissionRequest) (*PermissionResponse, error)

// FileSystem serves fs/* requests for a session. The bridge routes them
// through the editor bound to the session's terminal.
type FileSystem interface {
	ReadTextFile(ctx context.Context, sessionID, path string, line, limit *int) (string, error)
	WriteTextFile(ctx context.Context, sessionID, path, content string) error
}

// Client implements acp.Client for the bridge.
type Client struct {
	logger *zap.Logger

	mu                sync.RWMutex
	updateHandler     UpdateHandler
	permissionHandler PermissionHandler
	fs                FileSystem
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithUpdateHandler sets the handler for session updates.
func WithUpdateHandler(h UpdateHandler) ClientOption {
	return func(c *Client) {
		c.updateHandler = h
	}
}

// WithPermissionHandler sets the handler for permission requests.
func WithPermissionHandler(h PermissionHandler) ClientOption {
	return func(c *Client) {
		c.permissionHandler = h
	}
}

// WithFileSystem sets the fs/* backend.
func WithFileSystem(fs FileSystem) ClientOption {
	return func(c *Client) {
		c.fs = fs
	}
}

// NewClient creates a new ACP client implementation.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{logger: logger.Default().Component("acp-client").Zap()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capabilities returns what this client advertises during initialize.
func Capabilities() acp.ClientCapabilities {
	return acp.ClientCapabilities{
		Fs: acp.FileSystemCapability{
			ReadTextFile:  true,
			WriteTextFile: true,
		},
	}
}

func cancelledPermission() acp.RequestPermissionResponse {
	return acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{
			Cancelled: &acp.RequestPermissionOutcomeCancelled{},
		},
	}
}

// RequestPermission forwards the request to the permission handler and
// blocks until it answers. Without a handler or options it cancels.
func (c *Client) RequestPermission(ctx context.Context, p acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	req := &PermissionRequest{
		SessionID:  string(p.SessionId),
		ToolCallID: string(p.ToolCall.ToolCallId),
		Options:    make([]PermissionOption, len(p.Options)),
	}
	if p.ToolCall.Title != nil {
		req.Title = *p.ToolCall.Title
	}
	if p.ToolCall.Kind != nil {
		req.Kind = string(*p.ToolCall.Kind)
	}
	for i, opt := range p.Options {
		req.Options[i] = PermissionOption{
			OptionID: string(opt.OptionId),
			Name:     opt.Name,
			Kind:     string(opt.Kind),
		}
	}

	c.logger.Info("received permission request",
		zap.String("session_id", req.SessionID),
		zap.String("tool_call_id", req.ToolCallID),
		zap.String("title", req.Title),
		zap.Int("num_options", len(req.Options)))

	if len(req.Options) == 0 {
		c.logger.Warn("no options available, cancelling permission request")
		return cancelledPermission(), nil
	}

	c.mu.RLock()
	handler := c.permissionHandler
	c.mu.RUnlock()
	if handler == nil {
		return cancelledPermission(), nil
	}

	resp, err := handler(ctx, req)
	if err != nil {
		c.logger.Error("permission handler failed", zap.Error(err))
		return cancelledPermission(), nil
	}
	if resp == nil || resp.Cancelled || resp.OptionID == "" {
		c.logger.Info("permission request cancelled", zap.String("tool_call_id", req.ToolCallID))
		return cancelledPermission(), nil
	}

	c.logger.Info("permission option selected", zap.String("option_id", resp.OptionID))
	return acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{
			Selected: &acp.RequestPermissionOutcomeSelected{
				OptionId: acp.PermissionOptionId(resp.OptionID),
			},
		},
	}, nil
}

// SessionUpdate forwards session notifications to the update handler.
func (c *Client) SessionUpdate(_ context.Context, n acp.SessionNotification) error {
	c.mu.RLock()
	handler := c.updateHandler
	c.mu.RUnlock()

	u := n.Update
	switch {
	case u.ToolCall != nil:
		c.logger.Debug("tool call",
			zap.String("tool_call_id", string(u.ToolCall.ToolCallId)),
			zap.String("title", u.ToolCall.Title),
			zap.String("status", string(u.ToolCall.Status)))
	case u.ToolCallUpdate != nil:
		c.logger.Debug("tool call update",
			zap.String("tool_call_id", string(u.ToolCallUpdate.ToolCallId)))
	}

	if handler != nil {
		handler(n)
	}
	return nil
}

// ReadTextFile reads through the session's editor.
func (c *Client) ReadTextFile(ctx context.Context, p acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	c.logger.Debug("reading file", zap.String("path", p.Path))
	if !filepath.IsAbs(p.Path) {
		return acp.ReadTextFileResponse{}, errors.New("path must be absolute: " + p.Path)
	}
	if c.fs == nil {
		return acp.ReadTextFileResponse{}, errors.New("no editor available for file access")
	}
	content, err := c.fs.ReadTextFile(ctx, string(p.SessionId), p.Path, p.Line, p.Limit)
	if err != nil {
		return acp.ReadTextFileResponse{}, err
	}
	return acp.ReadTextFileResponse{Content: content}, nil
}

// WriteTextFile writes through the session's editor so the buffer and disk agree.
func (c *Client) WriteTextFile(ctx context.Context, p acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	c.logger.Debug("writing file", zap.String("path", p.Path))
	if !filepath.IsAbs(p.Path) {
		return acp.WriteTextFileResponse{}, errors.New("path must be absolute: " + p.Path)
	}
	if c.fs == nil {
		return acp.WriteTextFileResponse{}, errors.New("no editor available for file access")
	}
	return acp.WriteTextFileResponse{}, c.fs.WriteTextFile(ctx, string(p.SessionId), p.Path, p.Content)
}

// CreateTerminal is not supported.
func (c *Client) CreateTerminal(context.Context, acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	return acp.CreateTerminalResponse{}, ErrTerminalUnsupported
}

// KillTerminalCommand is not supported.
func (c *Client) KillTerminalCommand(context.Context, acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	return acp.KillTerminalCommandResponse{}, ErrTerminalUnsupported
}

// TerminalOutput is not supported.
func (c *Client) TerminalOutput(context.Context, acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	return acp.TerminalOutputResponse{}, ErrTerminalUnsupported
}

// ReleaseTerminal is not supported.
func (c *Client) ReleaseTerminal(context.Context, acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	return acp.ReleaseTerminalResponse{}, ErrTerminalUnsupported
}

// WaitForTerminalExit is not supported.
func (c *Client) WaitForTerminalExit(context.Context, acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	return acp.WaitForTerminalExitResponse{}, ErrTerminalUnsupported
}

var _ acp.Client = (*Client)(nil)
