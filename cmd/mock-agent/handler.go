package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	agentName    = "mock-agent"
	agentVersion = "0.1.0"
)

var errStdinClosed = errors.New("stdin closed")

// agent serves one client. Prompts are handled one at a time; messages that
// arrive while a prompt streams are queued, except session/cancel which is
// noticed between chunks.
type agent struct {
	enc       *json.Encoder
	in        <-chan incoming
	pending   []incoming
	delay     time.Duration
	sessions  int
	nextID    int
	cancelled map[string]bool
}

func newAgent(enc *json.Encoder, scanner *bufio.Scanner, delayMs int) *agent {
	in := make(chan incoming, 64)
	go func() {
		defer close(in)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var msg incoming
			if err := json.Unmarshal(line, &msg); err != nil {
				continue
			}
			in <- msg
		}
	}()
	return &agent{
		enc:       enc,
		in:        in,
		delay:     time.Duration(delayMs) * time.Millisecond,
		cancelled: make(map[string]bool),
	}
}

func (a *agent) serve() error {
	for {
		msg, ok := a.next()
		if !ok {
			return nil
		}
		a.handle(msg)
	}
}

func (a *agent) next() (incoming, bool) {
	if len(a.pending) > 0 {
		msg := a.pending[0]
		a.pending = a.pending[1:]
		return msg, true
	}
	msg, ok := <-a.in
	return msg, ok
}

func (a *agent) handle(msg incoming) {
	switch msg.Method {
	case "":
		// Stray response to a request we gave up on.
	case methodInitialize:
		a.reply(msg.ID, map[string]any{
			"protocolVersion":   1,
			"agentCapabilities": map[string]any{"loadSession": false},
			"authMethods":       []any{},
			"agentInfo":         map[string]any{"name": agentName, "version": agentVersion},
		})
	case methodSessionNew:
		var params newSessionParams
		_ = json.Unmarshal(msg.Params, &params)
		a.sessions++
		a.reply(msg.ID, map[string]any{
			"sessionId": fmt.Sprintf("mock-session-%d-%d", os.Getpid(), a.sessions),
		})
	case methodSessionPrompt:
		var params promptParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			a.fail(msg.ID, errInvalidParams, "invalid prompt params")
			return
		}
		a.handlePrompt(msg.ID, params)
	case methodSessionCancel:
		var params sessionParams
		_ = json.Unmarshal(msg.Params, &params)
		a.cancelled[params.SessionID] = true
	default:
		if len(msg.ID) > 0 {
			a.fail(msg.ID, errMethodNotFound, "method not found: "+msg.Method)
		}
	}
}

func (a *agent) handlePrompt(id json.RawMessage, params promptParams) {
	delete(a.cancelled, params.SessionID)
	t := &turn{agent: a, sessionID: params.SessionID, text: firstText(params.Prompt)}

	stopReason, err := runScenario(t)
	if err != nil {
		a.fail(id, errInternal, err.Error())
		return
	}
	if a.cancelled[params.SessionID] {
		stopReason = "cancelled"
	}
	delete(a.cancelled, params.SessionID)
	a.reply(id, map[string]any{"stopReason": stopReason})
}

func firstText(blocks []contentBlock) string {
	for _, b := range blocks {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			return b.Text
		}
	}
	return ""
}

func (a *agent) write(msg rpcMessage) {
	msg.JSONRPC = "2.0"
	_ = a.enc.Encode(msg)
}

func (a *agent) reply(id json.RawMessage, result any) {
	a.write(rpcMessage{ID: id, Result: result})
}

func (a *agent) fail(id json.RawMessage, code int, message string) {
	a.write(rpcMessage{ID: id, Error: &rpcError{Code: code, Message: message}})
}

func (a *agent) notify(method string, params any) {
	raw, _ := json.Marshal(params)
	a.write(rpcMessage{Method: method, Params: raw})
}

// call sends a request to the client and waits for its answer.
func (a *agent) call(method string, params any) (json.RawMessage, error) {
	a.nextID++
	id := json.RawMessage(fmt.Sprintf(`"mock-%d"`, a.nextID))
	raw, _ := json.Marshal(params)
	a.write(rpcMessage{ID: id, Method: method, Params: raw})

	for msg := range a.in {
		if msg.Method == "" && string(msg.ID) == string(id) {
			if msg.Error != nil {
				return nil, fmt.Errorf("%s: %s", method, msg.Error.Message)
			}
			return msg.Result, nil
		}
		a.queue(msg)
	}
	return nil, errStdinClosed
}

// drain picks up messages that arrived while streaming without blocking.
func (a *agent) drain() {
	for {
		select {
		case msg, ok := <-a.in:
			if !ok {
				return
			}
			a.queue(msg)
		default:
			return
		}
	}
}

func (a *agent) queue(msg incoming) {
	if msg.Method == methodSessionCancel {
		var params sessionParams
		_ = json.Unmarshal(msg.Params, &params)
		a.cancelled[params.SessionID] = true
		return
	}
	a.pending = append(a.pending, msg)
}
