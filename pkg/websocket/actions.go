package websocket

// Request actions (client -> server)
const (
	// Health
	ActionHealthCheck = "health.check"

	// Terminal lifecycle and subscription
	ActionTerminalOpen        = "terminal.open"
	ActionTerminalClose       = "terminal.close"
	ActionTerminalActivate    = "terminal.activate"
	ActionTerminalList        = "terminal.list"
	ActionTerminalSubscribe   = "terminal.subscribe"
	ActionTerminalUnsubscribe = "terminal.unsubscribe"

	// Editor link
	ActionEditorConnect    = "editor.connect"
	ActionEditorDisconnect = "editor.disconnect"
	ActionEditorReinject   = "editor.reinject"
	ActionEditorRefresh    = "editor.refresh"
	ActionEditorExec       = "editor.exec"
	ActionEditorBuffer     = "editor.buffer"

	// Agent process
	ActionAgentStart  = "agent.start"
	ActionAgentStop   = "agent.stop"
	ActionAgentStatus = "agent.status"

	// Session and exchange
	ActionSessionCreate  = "session.create"
	ActionChatSubmit     = "chat.submit"
	ActionChatCancel     = "chat.cancel"
	ActionChatTranscript = "chat.transcript"

	// Proposed edit review
	ActionEditsApply  = "edits.apply"
	ActionEditsReject = "edits.reject"

	// Permissions
	ActionPermissionRespond = "permission.respond"
	ActionPermissionCurrent = "permission.current"

	// Settings and diagnostics
	ActionSettingsAutoApply = "settings.autoApply"
	ActionTraceList         = "trace.list"
)

// Notification actions (server -> client)
const (
	ActionTranscriptUpdated   = "transcript.updated"
	ActionExchangeState       = "exchange.state"
	ActionPermissionRequested = "permission.requested"
	ActionPermissionResolved  = "permission.resolved"
	ActionEditorState         = "editor.state"
	ActionAgentInstall        = "agent.install"
	ActionBridgeTrace         = "bridge.trace"
	// agent.status doubles as a notification.
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeConflict      = "CONFLICT"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
	ErrorCodeUnavailable   = "UNAVAILABLE"
)
