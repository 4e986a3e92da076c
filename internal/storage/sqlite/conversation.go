package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"shop-assistant/internal/domain"
	"shop-assistant/internal/metrics"
)

// Conversations stores chat messages in the chat_memory table. Row ids give
// the append order, so reads never depend on timestamp precision.
type Conversations struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

func NewConversations(db *sql.DB, opts ...Option) (*Conversations, error) {
	if db == nil {
		return nil, errors.New("sqlite: db must not be nil")
	}
	o := buildOptions(opts)
	return &Conversations{db: db, metrics: o.metrics}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *Conversations) Append(ctx context.Context, msg domain.Message) (stored domain.Message, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "history_append", err) }()
	if err := msg.Validate(); err != nil {
		return domain.Message{}, err
	}
	return insertMessage(ctx, c.db, msg)
}

// AppendTurn writes both messages in one transaction.
func (c *Conversations) AppendTurn(ctx context.Context, user, assistant domain.Message) (u, a domain.Message, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "history_append_turn", err) }()
	if err := user.Validate(); err != nil {
		return domain.Message{}, domain.Message{}, err
	}
	if err := assistant.Validate(); err != nil {
		return domain.Message{}, domain.Message{}, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, domain.Message{}, fmt.Errorf("sqlite: AppendTurn begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if u, err = insertMessage(ctx, tx, user); err != nil {
		return domain.Message{}, domain.Message{}, err
	}
	if a, err = insertMessage(ctx, tx, assistant); err != nil {
		return domain.Message{}, domain.Message{}, err
	}
	if err = tx.Commit(); err != nil {
		return domain.Message{}, domain.Message{}, fmt.Errorf("sqlite: AppendTurn commit: %w", err)
	}
	return u, a, nil
}

func insertMessage(ctx context.Context, e execer, msg domain.Message) (domain.Message, error) {
	res, err := e.ExecContext(ctx,
		`INSERT INTO chat_memory (session_id, role, message, timestamp) VALUES (?, ?, ?, ?)`,
		msg.SessionID, string(msg.Role), msg.Text, msg.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return domain.Message{}, fmt.Errorf("sqlite: insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Message{}, fmt.Errorf("sqlite: insert message id: %w", err)
	}
	msg.ID = strconv.FormatInt(id, 10)
	return msg, nil
}

// Recent returns the last count messages of the session, oldest first.
func (c *Conversations) Recent(ctx context.Context, sessionID string, count int) (msgs []domain.Message, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "history_recent", err) }()
	if count <= 0 {
		return c.all(ctx, sessionID)
	}
	msgs, err = c.query(ctx,
		`SELECT id, session_id, role, message, timestamp FROM chat_memory
		 WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, count)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// History returns the last limit messages, or the whole session when limit <= 0.
func (c *Conversations) History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	return c.Recent(ctx, sessionID, limit)
}

func (c *Conversations) Purge(ctx context.Context, sessionID string) (n int, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "history_purge", err) }()
	res, err := c.db.ExecContext(ctx, `DELETE FROM chat_memory WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: Purge: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: Purge rows affected: %w", err)
	}
	return int(affected), nil
}

func (c *Conversations) all(ctx context.Context, sessionID string) ([]domain.Message, error) {
	return c.query(ctx,
		`SELECT id, session_id, role, message, timestamp FROM chat_memory
		 WHERE session_id = ? ORDER BY id`, sessionID)
}

func (c *Conversations) query(ctx context.Context, q string, args ...any) ([]domain.Message, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var (
			id                      int64
			session, role, text, ts string
		)
		if err := rows.Scan(&id, &session, &role, &text, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		at, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse timestamp of message %d: %w", id, err)
		}
		out = append(out, domain.Message{
			ID:        strconv.FormatInt(id, 10),
			SessionID: session,
			Role:      domain.NormalizeRole(role),
			Text:      text,
			Timestamp: at,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate messages: %w", err)
	}
	return out, nil
}
