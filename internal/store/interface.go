// Package store persists terminal transcripts and bridge settings.
package store

import (
	"context"

	"github.com/neoai/neoai/internal/bridge/session"
)

// SettingAutoApplyEdits holds the auto-apply flag as "true" or "false".
const SettingAutoApplyEdits = "autoApplyEdits"

// Repository is the bridge's persistence boundary. Transcripts are loaded
// when a terminal opens and saved when an exchange ends or the terminal closes.
type Repository interface {
	// LoadTranscript returns the latest limit messages, oldest first.
	LoadTranscript(ctx context.Context, terminalID string, limit int) ([]session.Message, error)
	// SaveTranscript replaces the stored transcript of terminalID.
	SaveTranscript(ctx context.Context, terminalID string, messages []session.Message) error
	DeleteTranscript(ctx context.Context, terminalID string) error

	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error

	Close() error
}
