package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/neoai/neoai/internal/common/logger"
)

// ErrBinaryNotFound is returned when a binary is neither on PATH nor installable.
var ErrBinaryNotFound = errors.New("binary not found")

// ResolveBinary checks if a binary exists in PATH or searchPaths.
// If not found and a strategy is provided, installs it automatically.
// Returns the resolved path to the binary.
func ResolveBinary(ctx context.Context, binary string, searchPaths []string, strategy Strategy, log *logger.Logger) (string, error) {
	if p, err := exec.LookPath(binary); err == nil {
		log.Debug("binary found in PATH", zap.String("binary", binary), zap.String("path", p))
		return p, nil
	}

	for _, p := range searchPaths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			log.Debug("binary found in search path", zap.String("binary", binary), zap.String("path", p))
			return p, nil
		}
	}

	if strategy == nil {
		return "", fmt.Errorf("%w: %s not found in PATH or search paths", ErrBinaryNotFound, binary)
	}

	log.Info("binary not found, installing via strategy",
		zap.String("binary", binary),
		zap.String("strategy", strategy.Name()))

	result, err := strategy.Install(ctx)
	if err != nil {
		return "", err
	}

	log.Info("binary installed successfully",
		zap.String("binary", binary),
		zap.String("path", result.BinaryPath))
	return result.BinaryPath, nil
}
