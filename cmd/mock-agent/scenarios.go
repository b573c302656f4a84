package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// turn is one prompt being answered.
type turn struct {
	agent     *agent
	sessionID string
	text      string
	tools     int
}

func (t *turn) cancelled() bool {
	return t.agent.cancelled[t.sessionID]
}

// pause waits between chunks and notices a cancel that arrived meanwhile.
func (t *turn) pause() {
	if t.agent.delay > 0 {
		time.Sleep(t.agent.delay)
	}
	t.agent.drain()
}

func (t *turn) send(u update) {
	t.agent.notify(methodSessionUpdate, map[string]any{"sessionId": t.sessionID, "update": u})
}

func (t *turn) say(text string) {
	t.send(update{SessionUpdate: "agent_message_chunk", Content: &contentBlock{Type: "text", Text: text}})
}

func (t *turn) think(text string) {
	t.send(update{SessionUpdate: "agent_thought_chunk", Content: &contentBlock{Type: "text", Text: text}})
}

func (t *turn) tool(title, kind string) string {
	t.tools++
	id := fmt.Sprintf("mock-tool-%d", t.tools)
	t.send(update{SessionUpdate: "tool_call", ToolCallID: id, Title: title, Kind: kind, Status: "pending"})
	return id
}

func (t *turn) toolDone(id, status string) {
	t.send(update{SessionUpdate: "tool_call_update", ToolCallID: id, Status: status})
}

// stream says each piece with a pause between them. It stops early when
// the turn is cancelled.
func (t *turn) stream(pieces ...string) {
	for _, p := range pieces {
		if t.cancelled() {
			return
		}
		t.say(p)
		t.pause()
	}
}

// parseScenario splits "/e2e <name> [arg]" out of the prompt text.
func parseScenario(text string) (name, arg string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(text), "/e2e")
	if !found {
		return "", "", false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", "", false
	}
	return fields[0], strings.Join(fields[1:], " "), true
}

func runScenario(t *turn) (string, error) {
	name, arg, ok := parseScenario(t.text)
	if !ok {
		return scenarioEcho(t), nil
	}
	switch name {
	case "simple-message":
		return scenarioSimpleMessage(t), nil
	case "edit":
		return scenarioEdit(t), nil
	case "permission":
		return scenarioPermission(t)
	case "read-file":
		return scenarioReadFile(t, arg)
	case "slow":
		return scenarioSlow(t), nil
	case "error":
		return "", fmt.Errorf("mock failure requested")
	default:
		t.say("Unknown e2e scenario: " + name + ". Available: simple-message, edit, permission, read-file, slow, error")
		return "end_turn", nil
	}
}

// scenarioEcho repeats the first line of the prompt.
func scenarioEcho(t *turn) string {
	t.think("Reading the request...")
	t.pause()
	line, _, _ := strings.Cut(strings.TrimSpace(t.text), "\n")
	t.stream("You said: ", line)
	return "end_turn"
}

func scenarioSimpleMessage(t *turn) string {
	t.stream("This is a simple ", "mock response.")
	return "end_turn"
}

// scenarioEdit proposes replacing the first line of the current file.
func scenarioEdit(t *turn) string {
	t.think("Planning a one-line change...")
	t.pause()
	t.stream(
		"Here is the change:\n\n",
		"```edit 1\n",
		"// edited by mock-agent\n",
		"```\n",
	)
	return "end_turn"
}

func scenarioPermission(t *turn) (string, error) {
	id := t.tool("Edit the current file", "edit")
	t.pause()
	raw, err := t.agent.call(methodRequestPermission, map[string]any{
		"sessionId": t.sessionID,
		"toolCall":  map[string]any{"toolCallId": id, "title": "Edit the current file", "kind": "edit"},
		"options": []permissionOption{
			{OptionID: "allow", Name: "Allow", Kind: "allow_once"},
			{OptionID: "reject", Name: "Reject", Kind: "reject_once"},
		},
	})
	if err != nil {
		return "", err
	}
	var out permissionOutcome
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode permission outcome: %w", err)
	}
	switch {
	case out.Outcome.Outcome == "selected" && out.Outcome.OptionID == "allow":
		t.toolDone(id, "completed")
		t.stream("Permission granted.")
	case out.Outcome.Outcome == "cancelled":
		t.toolDone(id, "failed")
		return "cancelled", nil
	default:
		t.toolDone(id, "failed")
		t.stream("Permission denied.")
	}
	return "end_turn", nil
}

func scenarioReadFile(t *turn, path string) (string, error) {
	if path == "" {
		t.say("read-file needs a path.")
		return "end_turn", nil
	}
	id := t.tool("Read "+path, "read")
	raw, err := t.agent.call(methodReadTextFile, map[string]any{
		"sessionId": t.sessionID,
		"path":      path,
		"line":      1,
		"limit":     20,
	})
	if err != nil {
		t.toolDone(id, "failed")
		t.say("Could not read " + path + ": " + err.Error())
		return "end_turn", nil
	}
	var out readFileResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode file content: %w", err)
	}
	t.toolDone(id, "completed")
	t.stream("First lines of "+path+":\n\n", "```\n"+out.Content+"\n```")
	return "end_turn", nil
}

// scenarioSlow streams long enough to be cancelled.
func scenarioSlow(t *turn) string {
	pieces := make([]string, 40)
	for i := range pieces {
		pieces[i] = fmt.Sprintf("chunk %d. ", i+1)
	}
	t.stream(pieces...)
	return "end_turn"
}
