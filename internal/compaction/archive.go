package compaction

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Archive persists evicted messages to SQLite so compaction never
// destroys information. Archived messages remain queryable but are no
// longer part of the visible conversation.
type Archive struct {
	db *sql.DB
}

// NewArchive creates an archive using the given database.
func NewArchive(db *sql.DB) (*Archive, error) {
	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return a, nil
}

func (a *Archive) migrate() error {
	_, err := a.db.Exec(`
		CREATE TABLE IF NOT EXISTS archived_messages (
			id TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL,
			archived_at TEXT NOT NULL,
			message_type TEXT NOT NULL,
			priority TEXT NOT NULL,
			tool_name TEXT,
			tool_call_id TEXT,
			byte_size INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_archived_created
			ON archived_messages(created_at);
	`)
	return err
}

// Store writes evicted messages to the archive in one transaction.
func (a *Archive) Store(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO archived_messages
			(id, role, content, created_at, archived_at, message_type, priority, tool_name, tool_call_id, byte_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, m := range messages {
		_, err := stmt.ExecContext(ctx,
			m.ID.String(), m.Role, m.Content,
			m.Timestamp.UTC().Format(time.RFC3339), now,
			m.Type.String(), m.Priority.String(),
			m.ToolName, m.ToolCallID, m.Size,
		)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
	}

	return tx.Commit()
}

// Count returns the number of archived messages.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archived_messages`).Scan(&n)
	return n, err
}

// Search returns archived messages whose content contains the query,
// newest first, up to limit.
func (a *Archive) Search(ctx context.Context, query string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, role, content, created_at, message_type, priority, tool_name, tool_call_id, byte_size
		FROM archived_messages
		WHERE content LIKE '%' || ? || '%'
		ORDER BY created_at DESC
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanArchived(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanArchived(rows *sql.Rows) (Message, error) {
	var m Message
	var idStr, createdStr, typeStr, priStr string
	var toolName, toolCallID sql.NullString

	err := rows.Scan(&idStr, &m.Role, &m.Content, &createdStr, &typeStr, &priStr, &toolName, &toolCallID, &m.Size)
	if err != nil {
		return m, err
	}

	m.ID = parseUUID(idStr)
	m.Timestamp, _ = time.Parse(time.RFC3339, createdStr)
	m.Type = parseMessageType(typeStr)
	m.Priority = parsePriority(priStr)
	if toolName.Valid {
		m.ToolName = toolName.String
	}
	if toolCallID.Valid {
		m.ToolCallID = toolCallID.String
	}
	return m, nil
}
