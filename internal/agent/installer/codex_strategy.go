package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/neoai/neoai/internal/common/logger"
)

const (
	defaultDownloadTimeout = 3 * time.Minute
	maxDownloadSize        = 512 << 20

	breakerMaxFailures = 3
	breakerTimeout     = 30 * time.Second
)

// installGroup collapses concurrent installs of the same path into one.
var installGroup singleflight.Group

// CodexStrategy installs the pinned codex-acp release into installDir.
type CodexStrategy struct {
	installDir      string
	goos            string
	asset           Asset
	client          *http.Client
	downloadTimeout time.Duration
	breaker         *gobreaker.CircuitBreaker[[]byte]
	progress        ProgressFunc
	logger          *logger.Logger
}

// CodexOption configures a CodexStrategy.
type CodexOption func(*CodexStrategy)

// WithAsset overrides the platform asset.
func WithAsset(asset Asset) CodexOption {
	return func(s *CodexStrategy) { s.asset = asset }
}

// WithHTTPClient sets the download client.
func WithHTTPClient(c *http.Client) CodexOption {
	return func(s *CodexStrategy) { s.client = c }
}

// WithDownloadTimeout bounds a single download.
func WithDownloadTimeout(d time.Duration) CodexOption {
	return func(s *CodexStrategy) { s.downloadTimeout = d }
}

// WithProgress sets the status callback.
func WithProgress(fn ProgressFunc) CodexOption {
	return func(s *CodexStrategy) { s.progress = fn }
}

// NewCodexStrategy creates a strategy for the running platform. It fails
// when no release asset exists for it.
func NewCodexStrategy(installDir string, log *logger.Logger, opts ...CodexOption) (*CodexStrategy, error) {
	s := &CodexStrategy{
		installDir:      installDir,
		goos:            runtime.GOOS,
		client:          http.DefaultClient,
		downloadTimeout: defaultDownloadTimeout,
		logger:          log.Component("codex-installer"),
	}
	if asset, ok := CurrentCodexAsset(); ok {
		s.asset = asset
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.asset.URL == "" {
		return nil, fmt.Errorf("no vendored codex-acp release available for os=%q arch=%q libc=%q",
			runtime.GOOS, runtime.GOARCH, linuxLibc())
	}

	s.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "codex-acp-download",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("download circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return s, nil
}

func (s *CodexStrategy) Name() string {
	return "codex-acp " + CodexVersion + " (" + s.asset.Target + ")"
}

// InstallPath is where the managed binary lives.
func (s *CodexStrategy) InstallPath() string {
	return CodexInstallPath(s.installDir, s.goos)
}

func (s *CodexStrategy) emit(phase Phase, message string) {
	if s.progress != nil {
		s.progress(Status{Phase: phase, Message: message, Version: CodexVersion})
	}
}

// Install reuses an existing managed install or downloads, verifies and
// atomically places the binary. Concurrent calls share one install.
func (s *CodexStrategy) Install(ctx context.Context) (*InstallResult, error) {
	installPath := s.InstallPath()
	v, err, _ := installGroup.Do(installPath, func() (any, error) {
		return s.install(ctx, installPath)
	})
	if err != nil {
		return nil, err
	}
	return v.(*InstallResult), nil
}

func (s *CodexStrategy) install(ctx context.Context, installPath string) (*InstallResult, error) {
	s.emit(PhaseResolving, "Locating managed codex-acp release for your platform...")

	if info, err := os.Stat(installPath); err == nil && !info.IsDir() {
		if err := os.Chmod(installPath, 0o755); err != nil {
			return nil, &InstallError{Phase: PhaseResolving, Err: fmt.Errorf("failed to set binary permissions: %w", err)}
		}
		s.logger.Info("binary already installed, skipping download", zap.String("binary", installPath))
		s.emit(PhaseStarting, "Using existing managed codex-acp installation...")
		return &InstallResult{BinaryPath: installPath}, nil
	}

	parent := filepath.Dir(installPath)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, &InstallError{Phase: PhaseResolving, Err: fmt.Errorf("failed to create installation directory: %w", err)}
	}

	s.emit(PhaseDownloading, fmt.Sprintf("Downloading codex-acp %s (%s)...", CodexVersion, s.asset.Target))
	data, err := s.breaker.Execute(func() ([]byte, error) {
		return s.download(ctx)
	})
	if err != nil {
		return nil, &InstallError{Phase: PhaseDownloading, Err: err}
	}

	s.emit(PhaseVerifying, "Verifying download integrity...")
	if err := verifySHA256(data, s.asset.SHA256); err != nil {
		return nil, &InstallError{Phase: PhaseVerifying, Err: err}
	}

	s.emit(PhaseExtracting, "Extracting codex-acp binary...")
	tempPath := filepath.Join(parent, s.asset.BinaryName+".tmp-"+strconv.FormatInt(time.Now().UnixNano(), 10))
	if err := extractBinary(data, s.asset.Archive, s.asset.BinaryName, tempPath); err != nil {
		_ = os.Remove(tempPath)
		return nil, &InstallError{Phase: PhaseExtracting, Err: err}
	}
	if err := os.Chmod(tempPath, 0o755); err != nil {
		_ = os.Remove(tempPath)
		return nil, &InstallError{Phase: PhaseExtracting, Err: fmt.Errorf("failed to set binary permissions: %w", err)}
	}

	s.emit(PhaseInstalling, fmt.Sprintf("Installing managed codex-acp %s for neoai...", CodexVersion))
	if err := finalize(tempPath, installPath); err != nil {
		return nil, &InstallError{Phase: PhaseInstalling, Err: err}
	}

	s.logger.Info("codex-acp install completed", zap.String("binary", installPath))
	s.emit(PhaseStarting, "Starting AI agent...")
	return &InstallResult{BinaryPath: installPath}, nil
}

// finalize renames tempPath into place. Another process winning the race is success.
func finalize(tempPath, installPath string) error {
	if _, err := os.Stat(installPath); err == nil {
		_ = os.Remove(tempPath)
		return nil
	}
	if err := os.Rename(tempPath, installPath); err != nil {
		if _, statErr := os.Stat(installPath); statErr == nil {
			_ = os.Remove(tempPath)
			return nil
		}
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to finalize codex-acp installation: %w", err)
	}
	return nil
}

func (s *CodexStrategy) download(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.asset.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "neoai/"+CodexVersion)

	s.logger.Info("downloading release asset", zap.String("url", s.asset.URL))
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with HTTP status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read download body: %w", err)
	}
	if len(data) > maxDownloadSize {
		return nil, errors.New("download exceeds maximum size")
	}
	return data, nil
}
