// Package installer acquires the agent binary: it resolves it on PATH and,
// for the managed codex-acp agent, downloads a pinned release on demand.
package installer

import (
	"context"
	"fmt"
)

// InstallResult contains information about an installed agent binary.
type InstallResult struct {
	BinaryPath string // absolute path to installed binary
}

// Strategy is the abstraction for different install methods.
type Strategy interface {
	// Install downloads/installs the agent. Blocks until done.
	Install(ctx context.Context) (*InstallResult, error)
	// Name returns a human-readable name for logging.
	Name() string
}

// Phase is a step of agent acquisition.
type Phase string

const (
	PhaseResolving   Phase = "resolving"
	PhaseDownloading Phase = "downloading"
	PhaseVerifying   Phase = "verifying"
	PhaseExtracting  Phase = "extracting"
	PhaseInstalling  Phase = "installing"
	PhaseStarting    Phase = "starting"
	PhaseDone        Phase = "done"
	PhaseError       Phase = "error"
)

// Status is one progress snapshot of an install.
type Status struct {
	Phase   Phase  `json:"phase"`
	Message string `json:"message"`
	Version string `json:"version,omitempty"`
}

// InProgress reports whether s describes an unfinished install.
func (s Status) InProgress() bool {
	return s.Phase != PhaseDone && s.Phase != PhaseError
}

// ProgressFunc receives install status snapshots.
type ProgressFunc func(Status)

// InstallError is an acquisition failure tagged with the phase it failed in.
type InstallError struct {
	Phase Phase
	Err   error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }
