package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/neoai/neoai/internal/common/constants"
	"github.com/neoai/neoai/internal/common/logger"
)

// EstablishOptions bounds the connect retry loop.
type EstablishOptions struct {
	Deadline     time.Duration
	PollInterval time.Duration
	// Current reports whether the caller's attempt is still the newest one.
	// It is checked before every retry and after a successful connect.
	Current func() bool
	// OnRetry is called with the failure that triggered a retry.
	OnRetry func(attempt int, err error)
}

// Establish dials socketPath and injects keymaps, retrying at a fixed
// interval until it succeeds or the deadline elapses. A superseded attempt
// returns ErrSuperseded and leaves no connection open.
func Establish(ctx context.Context, dial DialFunc, socketPath string, opts EstablishOptions) (Conn, int64, error) {
	if opts.Deadline <= 0 {
		opts.Deadline = constants.EditorConnectDeadline
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = constants.EditorPollInterval
	}
	current := opts.Current
	if current == nil {
		current = func() bool { return true }
	}

	deadline := time.Now().Add(opts.Deadline)
	var lastErr error
	for attempt := 1; ; attempt++ {
		if !current() {
			return nil, 0, ErrSuperseded
		}
		conn, channelID, err := connectOnce(ctx, dial, socketPath)
		if err == nil {
			if !current() {
				_ = conn.Close()
				return nil, 0, ErrSuperseded
			}
			return conn, channelID, nil
		}
		lastErr = err

		if time.Now().Add(opts.PollInterval).After(deadline) {
			break
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err)
		}
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(opts.PollInterval):
		}
	}

	if !current() {
		return nil, 0, ErrSuperseded
	}
	var connErr *ConnectionError
	if errors.As(lastErr, &connErr) {
		return nil, 0, connErr
	}
	return nil, 0, &ConnectionError{SocketPath: socketPath, Reason: lastErr.Error()}
}

func connectOnce(ctx context.Context, dial DialFunc, socketPath string) (Conn, int64, error) {
	conn, err := dial(ctx, socketPath)
	if err != nil {
		return nil, 0, err
	}
	channelID, err := conn.InjectKeymaps(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, 0, err
	}
	return conn, channelID, nil
}

// Status is a copy of the supervisor's derived state.
type Status struct {
	State       ConnectionState `json:"state"`
	SocketPath  string          `json:"socketPath,omitempty"`
	ChannelID   *int64          `json:"channelId,omitempty"`
	Keymaps     KeymapStatus    `json:"keymaps"`
	Health      *Health         `json:"health,omitempty"`
	Context     *Context        `json:"context,omitempty"`
	Diagnostics []Diagnostic    `json:"diagnostics"`
	LastError   string          `json:"lastError,omitempty"`
}

// Supervisor owns one terminal's editor connection and the state derived
// from it. Mutations come from the terminal's actor only; the lock lets
// readers snapshot from other goroutines.
type Supervisor struct {
	mu sync.RWMutex

	conn        Conn
	state       ConnectionState
	channelID   *int64
	keymaps     KeymapStatus
	health      *Health
	context     *Context
	diagnostics []Diagnostic
	lastError   string

	failures  int
	threshold int

	logger  *logger.Logger
	onTrace func(stage, detail string)
}

// NewSupervisor creates a disconnected supervisor.
func NewSupervisor(log *logger.Logger, failureThreshold int, onTrace func(stage, detail string)) *Supervisor {
	if failureThreshold <= 0 {
		failureThreshold = constants.RefreshFailureThreshold
	}
	return &Supervisor{
		state:     StateDisconnected,
		keymaps:   KeymapUnknown,
		threshold: failureThreshold,
		logger:    log.Component("editor-supervisor"),
		onTrace:   onTrace,
	}
}

func (s *Supervisor) trace(stage, detail string) {
	if s.onTrace != nil {
		s.onTrace(stage, detail)
	}
}

// Attach adopts an established connection, closing any previous one.
func (s *Supervisor) Attach(conn Conn, channelID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && s.conn != conn {
		_ = s.conn.Close()
	}
	s.conn = conn
	s.state = StateConnected
	s.channelID = &channelID
	s.keymaps = KeymapUnknown
	s.lastError = ""
	s.failures = 0
	s.logger.Info("editor connected",
		zap.String("socket_path", conn.SocketPath()),
		zap.Int64("channel_id", channelID))
}

// Conn returns the live connection, or nil.
func (s *Supervisor) Conn() Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// State returns the current connection state.
func (s *Supervisor) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ProbeHealth checks the connection and updates derived state. A transport
// failure drops the connection and moves to StateError; no connection at
// all is a graceful StateDisconnected.
func (s *Supervisor) ProbeHealth(ctx context.Context) Health {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.channelID = nil
		s.keymaps = KeymapUnknown
		s.clearDerivedLocked()
		h := Health{Connected: false}
		s.health = &h
		s.mu.Unlock()
		s.trace("health.probe", "disconnected")
		return h
	}

	channelID, err := conn.ChannelID(ctx)
	var injected bool
	if err == nil {
		injected, err = conn.ProbeKeymaps(ctx, channelID)
	}
	if err != nil {
		return s.failProbe(conn, err)
	}

	h := Health{
		Connected:       true,
		ChannelID:       &channelID,
		KeymapsInjected: injected,
		SocketPath:      conn.SocketPath(),
	}
	s.mu.Lock()
	s.state = StateConnected
	s.channelID = &channelID
	if injected {
		s.keymaps = KeymapPresent
	} else {
		s.keymaps = KeymapMissing
	}
	s.health = &h
	s.lastError = ""
	s.mu.Unlock()
	s.trace("health.probe", fmt.Sprintf("connected channel=%d keymaps=%t", channelID, injected))
	return h
}

func (s *Supervisor) failProbe(conn Conn, err error) Health {
	s.logger.Warn("editor health probe failed", zap.Error(err))
	_ = conn.Close()

	h := Health{Connected: false, SocketPath: conn.SocketPath(), LastError: err.Error()}
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.state = StateError
	s.channelID = nil
	s.keymaps = KeymapError
	s.clearDerivedLocked()
	s.health = &h
	s.lastError = err.Error()
	s.mu.Unlock()
	s.trace("health.probe", "error: "+err.Error())
	return h
}

func (s *Supervisor) clearDerivedLocked() {
	s.context = nil
	s.diagnostics = nil
	s.failures = 0
}

// RefreshContext re-probes health and then fetches a fresh context and
// diagnostics snapshot. After threshold consecutive failures it forces a
// health re-probe and resets the counter.
func (s *Supervisor) RefreshContext(ctx context.Context) error {
	if s.State() != StateConnected {
		return ErrNotConnected
	}
	health := s.ProbeHealth(ctx)
	if !health.Connected {
		return &ConnectionError{SocketPath: health.SocketPath, Reason: health.LastError}
	}

	conn := s.Conn()
	if conn == nil {
		return ErrNotConnected
	}
	snapshot, err := conn.Context(ctx)
	var diags []Diagnostic
	if err == nil {
		diags, err = conn.Diagnostics(ctx)
	}
	if err != nil {
		s.mu.Lock()
		s.failures++
		failures := s.failures
		if failures >= s.threshold {
			s.failures = 0
		}
		s.mu.Unlock()
		s.trace("refresh.error", fmt.Sprintf("%d/%d %v", failures, s.threshold, err))
		if failures >= s.threshold {
			s.ProbeHealth(ctx)
		}
		return err
	}

	s.mu.Lock()
	s.context = snapshot
	s.diagnostics = diags
	s.failures = 0
	s.mu.Unlock()
	return nil
}

// ReinjectKeymaps re-installs the editor helpers and re-probes.
func (s *Supervisor) ReinjectKeymaps(ctx context.Context) (Health, error) {
	conn := s.Conn()
	if conn == nil {
		return Health{}, ErrNotConnected
	}
	if _, err := conn.InjectKeymaps(ctx); err != nil {
		s.trace("keymaps.reinject_error", err.Error())
		return s.ProbeHealth(ctx), err
	}
	s.trace("keymaps.reinjected", "")
	return s.ProbeHealth(ctx), nil
}

// Disconnect closes the connection and resets all derived state.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.channelID = nil
	s.keymaps = KeymapUnknown
	s.health = nil
	s.lastError = ""
	s.clearDerivedLocked()
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		s.logger.Info("editor disconnected", zap.String("socket_path", conn.SocketPath()))
	}
}

// MarkError records a failed establish attempt.
func (s *Supervisor) MarkError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return
	}
	s.state = StateError
	s.keymaps = KeymapUnknown
	s.lastError = err.Error()
	s.clearDerivedLocked()
}

// Context returns a copy of the latest context snapshot, or nil.
func (s *Supervisor) Context() *Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.context.Clone()
}

// Diagnostics returns a copy of the latest diagnostics.
func (s *Supervisor) Diagnostics() []Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CloneDiagnostics(s.diagnostics)
}

// ApplyEdits routes a batch of edits through the editor connection.
func (s *Supervisor) ApplyEdits(ctx context.Context, edits []BufferEdit) error {
	conn := s.Conn()
	if conn == nil {
		return ErrNotConnected
	}
	if len(edits) == 0 {
		return nil
	}
	return conn.ApplyEdits(ctx, edits)
}

// Snapshot returns a copy of all derived state.
func (s *Supervisor) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		State:       s.state,
		Keymaps:     s.keymaps,
		Context:     s.context.Clone(),
		Diagnostics: CloneDiagnostics(s.diagnostics),
		LastError:   s.lastError,
	}
	if st.Diagnostics == nil {
		st.Diagnostics = []Diagnostic{}
	}
	if s.conn != nil {
		st.SocketPath = s.conn.SocketPath()
	}
	if s.channelID != nil {
		id := *s.channelID
		st.ChannelID = &id
	}
	if s.health != nil {
		h := *s.health
		st.Health = &h
	}
	return st
}
