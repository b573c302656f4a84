package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/neoai/neoai/internal/bridge/session"
	sqliteutil "github.com/neoai/neoai/internal/common/sqlite"
	"github.com/neoai/neoai/internal/editor"
)

type sqliteRepository struct {
	db     *sqlx.DB // writer
	ro     *sqlx.DB // reader
	ownsDB bool
}

var _ Repository = (*sqliteRepository)(nil)

// NewSQLiteRepositoryWithDB creates a repository on shared connections.
func NewSQLiteRepositoryWithDB(writer, reader *sqlx.DB) (Repository, error) {
	return newSQLiteRepository(writer, reader, false)
}

func newSQLiteRepository(writer, reader *sqlx.DB, ownsDB bool) (*sqliteRepository, error) {
	if reader == nil {
		reader = writer
	}
	repo := &sqliteRepository{db: writer, ro: reader, ownsDB: ownsDB}
	if err := repo.initSchema(); err != nil {
		if ownsDB {
			if closeErr := writer.Close(); closeErr != nil {
				return nil, fmt.Errorf("failed to close database after schema error: %w", closeErr)
			}
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

func (r *sqliteRepository) Close() error {
	if !r.ownsDB {
		return nil
	}
	return r.db.Close()
}

func (r *sqliteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		terminal_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		system_kind TEXT NOT NULL DEFAULT '',
		context_json TEXT,
		diagnostics_json TEXT,
		proposed_edits_json TEXT,
		edit_status TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_terminal_seq ON chat_messages(terminal_id, seq);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first schema.
	if err := sqliteutil.EnsureColumn(r.db, "chat_messages", "attachments_json", "TEXT"); err != nil {
		return err
	}
	return sqliteutil.EnsureColumn(r.db, "chat_messages", "thought", "TEXT NOT NULL DEFAULT ''")
}

type messageRow struct {
	ID            string         `db:"id"`
	TerminalID    string         `db:"terminal_id"`
	Seq           int            `db:"seq"`
	Role          string         `db:"role"`
	Content       string         `db:"content"`
	Timestamp     time.Time      `db:"timestamp"`
	SystemKind    string         `db:"system_kind"`
	Context       sql.NullString `db:"context_json"`
	Diagnostics   sql.NullString `db:"diagnostics_json"`
	Attachments   sql.NullString `db:"attachments_json"`
	ProposedEdits sql.NullString `db:"proposed_edits_json"`
	EditStatus    string         `db:"edit_status"`
	Thought       string         `db:"thought"`
}

func toRow(terminalID string, seq int, m session.Message) (messageRow, error) {
	row := messageRow{
		ID:         m.ID,
		TerminalID: terminalID,
		Seq:        seq,
		Role:       string(m.Role),
		Content:    m.Content,
		Timestamp:  m.Timestamp.UTC(),
		SystemKind: m.SystemKind,
		EditStatus: string(m.EditStatus),
		Thought:    m.Thought,
	}
	var err error
	if m.Context != nil {
		if row.Context, err = marshalNull(m.Context); err != nil {
			return row, err
		}
	}
	if len(m.Diagnostics) > 0 {
		if row.Diagnostics, err = marshalNull(m.Diagnostics); err != nil {
			return row, err
		}
	}
	if len(m.Attachments) > 0 {
		if row.Attachments, err = marshalNull(m.Attachments); err != nil {
			return row, err
		}
	}
	if len(m.ProposedEdits) > 0 {
		if row.ProposedEdits, err = marshalNull(m.ProposedEdits); err != nil {
			return row, err
		}
	}
	return row, nil
}

func (row messageRow) toMessage() (session.Message, error) {
	m := session.Message{
		ID:         row.ID,
		Role:       session.Role(row.Role),
		Content:    row.Content,
		Timestamp:  row.Timestamp,
		SystemKind: row.SystemKind,
		EditStatus: session.EditStatus(row.EditStatus),
		Thought:    row.Thought,
	}
	if row.Context.Valid {
		m.Context = &editor.Context{}
		if err := json.Unmarshal([]byte(row.Context.String), m.Context); err != nil {
			return m, fmt.Errorf("decode context of %s: %w", row.ID, err)
		}
	}
	if err := unmarshalNull(row.Diagnostics, &m.Diagnostics); err != nil {
		return m, fmt.Errorf("decode diagnostics of %s: %w", row.ID, err)
	}
	if err := unmarshalNull(row.Attachments, &m.Attachments); err != nil {
		return m, fmt.Errorf("decode attachments of %s: %w", row.ID, err)
	}
	if err := unmarshalNull(row.ProposedEdits, &m.ProposedEdits); err != nil {
		return m, fmt.Errorf("decode proposed edits of %s: %w", row.ID, err)
	}
	return m, nil
}

func marshalNull(v any) (sql.NullString, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalNull(s sql.NullString, out any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), out)
}

func (r *sqliteRepository) LoadTranscript(ctx context.Context, terminalID string, limit int) ([]session.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []messageRow
	err := r.ro.SelectContext(ctx, &rows, r.ro.Rebind(`
		SELECT * FROM (
			SELECT id, terminal_id, seq, role, content, timestamp, system_kind,
			       context_json, diagnostics_json, attachments_json,
			       proposed_edits_json, edit_status, thought
			FROM chat_messages
			WHERE terminal_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`), terminalID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	out := make([]session.Message, 0, len(rows))
	for _, row := range rows {
		m, err := row.toMessage()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *sqliteRepository) SaveTranscript(ctx context.Context, terminalID string, messages []session.Message) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM chat_messages WHERE terminal_id = ?`), terminalID); err != nil {
		return fmt.Errorf("failed to clear transcript: %w", err)
	}
	for i, m := range messages {
		row, err := toRow(terminalID, i, m)
		if err != nil {
			return fmt.Errorf("failed to encode message %s: %w", m.ID, err)
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO chat_messages (
				id, terminal_id, seq, role, content, timestamp, system_kind,
				context_json, diagnostics_json, attachments_json,
				proposed_edits_json, edit_status, thought
			) VALUES (
				:id, :terminal_id, :seq, :role, :content, :timestamp, :system_kind,
				:context_json, :diagnostics_json, :attachments_json,
				:proposed_edits_json, :edit_status, :thought
			)
		`, row); err != nil {
			return fmt.Errorf("failed to save message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

func (r *sqliteRepository) DeleteTranscript(ctx context.Context, terminalID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM chat_messages WHERE terminal_id = ?`), terminalID)
	return err
}

func (r *sqliteRepository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.ro.GetContext(ctx, &value, r.ro.Rebind(`SELECT value FROM settings WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *sqliteRepository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`), key, value, time.Now().UTC())
	return err
}
