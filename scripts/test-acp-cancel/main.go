// Test harness for checking that an ACP agent honours session/cancel.
// Usage: go run ./scripts/test-acp-cancel -agent=codex-acp -cancel-after=2s
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	acpclient "github.com/neoai/neoai/internal/agent/acp"
	"github.com/neoai/neoai/internal/agent/installer"
	"github.com/neoai/neoai/internal/agent/process"
	"github.com/neoai/neoai/internal/common/logger"
	"github.com/neoai/neoai/internal/permission"
)

var (
	agentPath   = flag.String("agent", "mock-agent", "ACP agent binary")
	workDir     = flag.String("workdir", ".", "Working directory")
	prompt      = flag.String("prompt", "/e2e slow", "Prompt to send before cancelling")
	cancelAfter = flag.Duration("cancel-after", 300*time.Millisecond, "Delay before session/cancel")
	timeout     = flag.Duration("timeout", 60*time.Second, "Overall timeout")
)

// printSink prints the agent feed and reports the end of the turn.
type printSink struct {
	done chan acpclient.AgentEvent
}

func (s *printSink) OnAgentEvent(_ string, ev acpclient.AgentEvent) {
	switch ev.Type {
	case acpclient.EventContentChunk:
		fmt.Print(ev.Text)
	case acpclient.EventToolCallStarted:
		fmt.Printf("\n[tool] %s (%s)\n", ev.ToolTitle, ev.ToolKind)
	case acpclient.EventDone, acpclient.EventError:
		fmt.Println()
		s.done <- ev
	}
}

func (s *printSink) OnPermissionRequest(req permission.Request) {
	fmt.Printf("\n[permission] %s: left unanswered\n", req.Title)
}

func (s *printSink) OnInstallStatus(st installer.Status) {
	fmt.Printf("[install] %s %s\n", st.Phase, st.Message)
}

func (s *printSink) OnStatus(st process.Status) {
	fmt.Printf("[status] %s %s\n", st.State, st.Message)
}

func main() {
	flag.Parse()

	dir, err := filepath.Abs(*workDir)
	if err != nil {
		fmt.Printf("bad workdir: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "warn", Format: "console", OutputPath: "stderr"})
	if err != nil {
		fmt.Printf("logger: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Testing cancel against %s\n", *agentPath)
	fmt.Printf("Working directory: %s\n\n", dir)

	if err := run(log, dir); err != nil {
		fmt.Printf("FAIL: %v\n", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger, dir string) error {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sink := &printSink{done: make(chan acpclient.AgentEvent, 1)}
	mgr := process.NewManager(process.Config{DefaultPath: *agentPath, WorkingDir: dir}, log)
	mgr.SetSink(sink)

	if err := mgr.Start(ctx, *agentPath); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() { _ = mgr.Stop(context.Background()) }()

	sessionID, err := mgr.CreateSession(ctx, dir, "cancel-harness")
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	fmt.Printf("Session: %s\n", sessionID)

	if _, err := mgr.SendPrompt(sessionID, []string{*prompt}, ""); err != nil {
		return fmt.Errorf("prompt: %w", err)
	}

	start := time.Now()
	select {
	case <-time.After(*cancelAfter):
	case ev := <-sink.done:
		return fmt.Errorf("turn ended before cancel (%s %s)", ev.StopReason, ev.Error)
	}
	fmt.Printf("\n>>> cancelling after %v\n", time.Since(start).Round(time.Millisecond))
	if err := mgr.Cancel(ctx, sessionID); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}

	select {
	case ev := <-sink.done:
		if ev.Type == acpclient.EventError {
			return fmt.Errorf("turn errored: %s", ev.Error)
		}
		fmt.Printf("Stop reason: %s (%v after start)\n", ev.StopReason, time.Since(start).Round(time.Millisecond))
		if ev.StopReason != "cancelled" {
			return fmt.Errorf("expected stop reason cancelled, got %q", ev.StopReason)
		}
	case <-ctx.Done():
		return fmt.Errorf("no end of turn after cancel: %w", ctx.Err())
	}

	fmt.Println("PASS")
	return nil
}
