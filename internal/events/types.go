// Package events defines the subjects and payloads the bridge publishes on
// the event bus. Per-terminal subjects embed the terminal id as one token.
package events

import "strings"

// Subject prefix for everything the bridge publishes.
const Prefix = "neoai"

// Broadcast subjects, not tied to a terminal.
const (
	AgentStatus  = Prefix + ".agent.status"
	AgentInstall = Prefix + ".agent.install"
)

// Per-terminal event kinds, used with TerminalSubject.
const (
	TranscriptUpdated   = "transcript.updated"
	ExchangeState       = "exchange.state"
	PermissionRequested = "permission.requested"
	PermissionResolved  = "permission.resolved"
	EditorState         = "editor.state"
	BridgeTrace         = "bridge.trace"
)

// AllTerminals matches every per-terminal subject.
const AllTerminals = Prefix + ".terminal.>"

// TerminalSubject builds the subject for kind on terminalID.
func TerminalSubject(terminalID, kind string) string {
	return Prefix + ".terminal." + SubjectToken(terminalID) + "." + kind
}

// ParseTerminalSubject splits a per-terminal subject into its terminal
// token and kind.
func ParseTerminalSubject(subject string) (terminalToken, kind string, ok bool) {
	rest, found := strings.CutPrefix(subject, Prefix+".terminal.")
	if !found {
		return "", "", false
	}
	terminalToken, kind, ok = strings.Cut(rest, ".")
	return terminalToken, kind, ok && terminalToken != "" && kind != ""
}

// SubjectToken makes s safe to use as a single NATS subject token.
func SubjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
