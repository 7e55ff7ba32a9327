package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// timeLayout sorts lexically in the same order as the instants it encodes.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store on the chat_sessions and chat_messages
// tables created by the store package migrations.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore returns a store on db. If logger is nil, the default slog
// logger is used.
func NewSQLiteStore(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: db, logger: logger, now: time.Now}
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func (s *SQLiteStore) SaveSession(ctx context.Context, sess Session) (string, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions
			(id, session_key, identity, model, provider, status, browser, ip_address, location, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.SessionKey, sess.Identity, sess.Model, sess.Provider, StatusActive,
		sess.Meta.Browser, sess.Meta.IP, sess.Meta.Location, formatTime(sess.StartedAt),
	)
	if err != nil {
		return "", fmt.Errorf("archive sqlite: insert session: %w", err)
	}
	s.logger.Debug("archive sqlite: saved session", "archive_id", sess.ID, "session_id", sess.SessionKey)
	return sess.ID, nil
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, m Message) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages
			(id, session_id, sender, sender_name, content, message_order, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, string(m.Sender), m.SenderName, m.Content, m.Order, formatTime(m.CreatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("archive sqlite: insert message %d: %w", m.Order, err)
	}
	return m.ID, nil
}

func (s *SQLiteStore) EndSession(ctx context.Context, id, reason string, total int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions
		SET status = ?, end_reason = ?, total_messages = ?, ended_at = ?
		WHERE id = ? AND status = ?`,
		StatusEnded, reason, total, formatTime(s.now()), id, StatusActive,
	)
	if err != nil {
		return false, fmt.Errorf("archive sqlite: end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("archive sqlite: end session: %w", err)
	}
	return n > 0, nil
}

const sessionColumns = `id, session_key, identity, model, provider, status, end_reason,
	total_messages, browser, ip_address, location, started_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (Session, error) {
	var (
		sess    Session
		started string
		ended   sql.NullString
	)
	err := r.Scan(&sess.ID, &sess.SessionKey, &sess.Identity, &sess.Model, &sess.Provider,
		&sess.Status, &sess.EndReason, &sess.TotalMessages,
		&sess.Meta.Browser, &sess.Meta.IP, &sess.Meta.Location, &started, &ended)
	if err != nil {
		return Session{}, err
	}
	if sess.StartedAt, err = parseTime(started); err != nil {
		return Session{}, fmt.Errorf("started_at: %w", err)
	}
	if ended.Valid && ended.String != "" {
		t, err := parseTime(ended.String)
		if err != nil {
			return Session{}, fmt.Errorf("ended_at: %w", err)
		}
		sess.EndedAt = &t
	}
	return sess, nil
}

func (s *SQLiteStore) SessionHistory(ctx context.Context, identity string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions
		WHERE identity = ?
		ORDER BY started_at DESC
		LIMIT ?`, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("archive sqlite: query history: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			s.logger.Warn("archive sqlite: skip malformed session row", "err", err)
			continue
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive sqlite: iterate history: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) SessionDetail(ctx context.Context, id string) (Detail, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Detail{}, ErrNotFound
	}
	if err != nil {
		return Detail{}, fmt.Errorf("archive sqlite: load session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sender, sender_name, content, message_order, created_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY message_order ASC`, id)
	if err != nil {
		return Detail{}, fmt.Errorf("archive sqlite: query messages: %w", err)
	}
	defer rows.Close()

	d := Detail{Session: sess}
	for rows.Next() {
		var (
			m       Message
			sender  string
			created string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &sender, &m.SenderName, &m.Content, &m.Order, &created); err != nil {
			return Detail{}, fmt.Errorf("archive sqlite: scan message: %w", err)
		}
		m.Sender = Sender(sender)
		if m.CreatedAt, err = parseTime(created); err != nil {
			return Detail{}, fmt.Errorf("archive sqlite: message %d created_at: %w", m.Order, err)
		}
		d.Messages = append(d.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return Detail{}, fmt.Errorf("archive sqlite: iterate messages: %w", err)
	}
	return d, nil
}
