package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neoai/neoai/internal/bridge/session"
	"github.com/neoai/neoai/internal/db"
	"github.com/neoai/neoai/internal/editor"
)

func setupRepository(t *testing.T) Repository {
	t.Helper()
	pool, err := db.Open(filepath.Join(t.TempDir(), "neoai.db"))
	require.NoError(t, err)
	repo, cleanup, err := Provide(pool)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cleanup()
		_ = pool.Close()
	})
	return repo
}

func TestSQLiteRepository_Transcript(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("round trips message snapshots", func(t *testing.T) {
		repo := setupRepository(t)
		messages := []session.Message{
			{
				ID: "m1", Role: session.RoleUser, Content: "fix this", Timestamp: ts,
				Context:     &editor.Context{FilePath: "/work/main.go", VisibleLines: []string{"a"}, VisibleRange: [2]int{1, 1}},
				Diagnostics: []editor.Diagnostic{{Line: 0, Severity: 1, Message: "boom"}},
				Attachments: []session.Attachment{{Name: "notes.txt", Content: "hi"}},
			},
			{
				ID: "m2", Role: session.RoleAssistant, Content: "done", Timestamp: ts.Add(time.Second),
				ProposedEdits: []editor.BufferEdit{{StartLine: 4, EndLine: 6, NewLines: []string{"a", "b"}}},
				EditStatus:    session.EditApplied,
				Thought:       "hmm",
			},
			{ID: "m3", Role: session.RoleSystem, Content: "Agent stopped.", SystemKind: session.SystemAgentStatus, Timestamp: ts.Add(2 * time.Second)},
		}
		require.NoError(t, repo.SaveTranscript(ctx, "term-1", messages))

		loaded, err := repo.LoadTranscript(ctx, "term-1", 200)
		require.NoError(t, err)
		require.Len(t, loaded, 3)
		assert.Equal(t, "/work/main.go", loaded[0].Context.FilePath)
		assert.Equal(t, "boom", loaded[0].Diagnostics[0].Message)
		assert.Equal(t, "notes.txt", loaded[0].Attachments[0].Name)
		assert.Equal(t, messages[1].ProposedEdits, loaded[1].ProposedEdits)
		assert.Equal(t, session.EditApplied, loaded[1].EditStatus)
		assert.Equal(t, "hmm", loaded[1].Thought)
		assert.Nil(t, loaded[2].Context)
		assert.Equal(t, session.SystemAgentStatus, loaded[2].SystemKind)
		assert.True(t, ts.Equal(loaded[0].Timestamp))
	})

	t.Run("loads the latest messages oldest first", func(t *testing.T) {
		repo := setupRepository(t)
		var messages []session.Message
		for i := 0; i < 5; i++ {
			messages = append(messages, session.Message{ID: fmt.Sprintf("m%d", i), Role: session.RoleUser, Content: fmt.Sprint(i), Timestamp: ts})
		}
		require.NoError(t, repo.SaveTranscript(ctx, "term-1", messages))

		loaded, err := repo.LoadTranscript(ctx, "term-1", 2)
		require.NoError(t, err)
		require.Len(t, loaded, 2)
		assert.Equal(t, "m3", loaded[0].ID)
		assert.Equal(t, "m4", loaded[1].ID)
	})

	t.Run("save replaces and is scoped by terminal", func(t *testing.T) {
		repo := setupRepository(t)
		require.NoError(t, repo.SaveTranscript(ctx, "term-1", []session.Message{{ID: "a", Role: session.RoleUser, Timestamp: ts}}))
		require.NoError(t, repo.SaveTranscript(ctx, "term-2", []session.Message{{ID: "b", Role: session.RoleUser, Timestamp: ts}}))
		require.NoError(t, repo.SaveTranscript(ctx, "term-1", []session.Message{{ID: "c", Role: session.RoleUser, Timestamp: ts}}))

		one, err := repo.LoadTranscript(ctx, "term-1", 0)
		require.NoError(t, err)
		require.Len(t, one, 1)
		assert.Equal(t, "c", one[0].ID)

		require.NoError(t, repo.DeleteTranscript(ctx, "term-2"))
		two, err := repo.LoadTranscript(ctx, "term-2", 0)
		require.NoError(t, err)
		assert.Empty(t, two)
	})
}

func TestSQLiteRepository_Settings(t *testing.T) {
	ctx := context.Background()
	repo := setupRepository(t)

	_, ok, err := repo.GetSetting(ctx, SettingAutoApplyEdits)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.SetSetting(ctx, SettingAutoApplyEdits, "true"))
	require.NoError(t, repo.SetSetting(ctx, SettingAutoApplyEdits, "false"))

	value, ok, err := repo.GetSetting(ctx, SettingAutoApplyEdits)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "false", value)
}
