// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for various operations.
const (
	// EditorConnectDeadline bounds the establish retry loop.
	EditorConnectDeadline = 8 * time.Second

	// EditorPollInterval is the wait between establish attempts.
	EditorPollInterval = 250 * time.Millisecond

	// EditorRefreshInterval is the period of the context refresh timer while connected.
	EditorRefreshInterval = 2 * time.Second

	// EditorRPCTimeout bounds a single editor round trip.
	EditorRPCTimeout = 5 * time.Second

	// AgentStartTimeout is the operational upper bound on start, including
	// a managed install and the ACP initialize handshake.
	AgentStartTimeout = 5 * time.Minute

	// AgentStopTimeout is how long stop waits for a graceful exit before killing the process group.
	AgentStopTimeout = 5 * time.Second

	// AgentSessionTimeout bounds session/new.
	AgentSessionTimeout = 30 * time.Second

	// SystemMessageDedupeWindow coalesces identical system notes.
	SystemMessageDedupeWindow = 2 * time.Second
)

// Limits.
const (
	// RefreshFailureThreshold is the number of consecutive refresh failures
	// that forces a health re-probe.
	RefreshFailureThreshold = 2

	// EditorContextRadius is the number of lines either side of the cursor in a context snapshot.
	EditorContextRadius = 50

	// TraceCapacity is the default size of the per-terminal trace ring.
	TraceCapacity = 200

	// TranscriptLoadLimit is the number of most recent messages restored per terminal.
	TranscriptLoadLimit = 200
)
