package editor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/neoai/neoai/internal/common/logger"
)

const socketPrefix = "libg-nvim-"

// SocketPath returns the listen address the bridge asks a terminal's neovim
// to use: <dir>/libg-nvim-<pid>-<terminalId>.sock.
func SocketPath(dir string, pid int, terminalID string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("%s%d-%s.sock", socketPrefix, pid, sanitizeTerminalID(terminalID)))
}

func sanitizeTerminalID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}

// CleanupStale removes sockets left behind by bridge processes that are no
// longer running. Sockets owned by the current pid are kept.
func CleanupStale(dir string, log *logger.Logger) int {
	if dir == "" {
		dir = os.TempDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	removed := 0
	self := os.Getpid()
	for _, entry := range entries {
		pid, ok := socketOwner(entry.Name())
		if !ok || pid == self || processAlive(pid) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Debug("failed to remove stale editor socket", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info("removed stale editor sockets", zap.Int("count", removed))
	}
	return removed
}

// socketOwner extracts the pid from a libg-nvim-<pid>-<id>.sock name.
func socketOwner(name string) (int, bool) {
	if !strings.HasPrefix(name, socketPrefix) || !strings.HasSuffix(name, ".sock") {
		return 0, false
	}
	rest := strings.TrimPrefix(name, socketPrefix)
	pidStr, _, found := strings.Cut(rest, "-")
	if !found {
		return 0, false
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
