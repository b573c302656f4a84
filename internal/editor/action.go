package editor

import (
	"encoding/json"
	"fmt"
)

// ActionNotifyMethod is the rpcnotify method the injected keymaps call.
const ActionNotifyMethod = "libg_action"

// ActionKind identifies an editor-triggered action.
type ActionKind string

const (
	ActionFixDiagnostic ActionKind = "fixDiagnostic"
	ActionImplement     ActionKind = "implement"
	ActionExplain       ActionKind = "explain"
	ActionAsk           ActionKind = "ask"
)

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionFixDiagnostic, ActionImplement, ActionExplain, ActionAsk:
		return true
	}
	return false
}

// Action is the payload sent by the injected Lua helpers.
type Action struct {
	Kind             ActionKind  `json:"action"`
	FilePath         string      `json:"filePath"`
	FileType         string      `json:"fileType,omitempty"`
	CursorLine       int         `json:"cursorLine"`
	CursorCol        int         `json:"cursorCol,omitempty"`
	Diagnostic       *Diagnostic `json:"diagnostic,omitempty"`
	SignatureLines   []string    `json:"signatureLines,omitempty"`
	TargetText       string      `json:"targetText,omitempty"`
	Prompt           string      `json:"prompt,omitempty"`
	Selection        *string     `json:"selection,omitempty"`
	ContextLines     []string    `json:"contextLines"`
	ContextStartLine int         `json:"contextStartLine"`
}

// ActionEvent is an action tagged with the terminal whose editor sent it.
type ActionEvent struct {
	TerminalID string `json:"terminalId"`
	Action     Action `json:"action"`
}

// ParseAction decodes a notification payload. msgpack maps arrive as
// generic values, so they are round-tripped through JSON.
func ParseAction(payload any) (Action, error) {
	var raw []byte
	switch p := payload.(type) {
	case []byte:
		raw = p
	case string:
		raw = []byte(p)
	default:
		b, err := json.Marshal(normalizeMsgpack(payload))
		if err != nil {
			return Action{}, fmt.Errorf("encode action payload: %w", err)
		}
		raw = b
	}

	var action Action
	if err := json.Unmarshal(raw, &action); err != nil {
		return Action{}, fmt.Errorf("decode action payload: %w", err)
	}
	if !action.Kind.Valid() {
		return Action{}, fmt.Errorf("unknown action %q", action.Kind)
	}
	if action.Kind == ActionFixDiagnostic && action.Diagnostic == nil {
		return Action{}, fmt.Errorf("fixDiagnostic action without diagnostic")
	}
	return action, nil
}

// normalizeMsgpack converts map[interface{}]interface{} values, which
// encoding/json cannot marshal, into string-keyed maps.
func normalizeMsgpack(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeMsgpack(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeMsgpack(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeMsgpack(val)
		}
		return out
	case []byte:
		return string(t)
	default:
		return v
	}
}
