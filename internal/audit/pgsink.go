package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS moderation_audit (
	id          UUID PRIMARY KEY,
	kind        TEXT NOT NULL,
	title       TEXT NOT NULL,
	description TEXT NOT NULL,
	actor_id    TEXT NOT NULL,
	actor_name  TEXT NOT NULL,
	subject_id  BIGINT NOT NULL,
	request_id  TEXT NOT NULL,
	trace_id    TEXT NOT NULL,
	severity    TEXT NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL
)`

// Количество колонок в таблице moderation_audit
const archiveFields = 11

// PostgresSink — архив журнала модерации в PostgreSQL.
// Канал логов в Discord можно почистить, архив остается.
type PostgresSink struct {
	db *sql.DB
}

// OpenPostgresSink подключается к базе и создает таблицу архива.
func OpenPostgresSink(ctx context.Context, dsn string, maxConns int) (*PostgresSink, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit archive open: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit archive ping: %w", err)
	}
	s := NewPostgresSink(db)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}

func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, archiveSchema); err != nil {
		return fmt.Errorf("audit archive schema: %w", err)
	}
	return nil
}

func (s *PostgresSink) WriteBatch(ctx context.Context, events []domain.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	var placeholders strings.Builder
	vals := make([]interface{}, 0, len(events)*archiveFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		if i > 0 {
			placeholders.WriteString(",")
		}
		p := i * archiveFields
		placeholders.WriteString("(")
		for j := 1; j <= archiveFields; j++ {
			if j > 1 {
				placeholders.WriteString(", ")
			}
			fmt.Fprintf(&placeholders, "$%d", p+j)
		}
		placeholders.WriteString(")")

		vals = append(vals,
			e.ID, string(e.Kind), e.Title, e.Description, e.ActorID, e.ActorName,
			int64(e.SubjectID), e.RequestID, e.TraceID, string(e.Severity), e.Timestamp,
		)
	}

	query := "INSERT INTO moderation_audit (id, kind, title, description, actor_id, actor_name, subject_id, request_id, trace_id, severity, timestamp) VALUES " +
		placeholders.String() + " ON CONFLICT (id) DO NOTHING"

	if _, err := s.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("audit archive insert: %w", err)
	}
	return nil
}

// Recent возвращает последние события, новые первыми.
// subjectID == 0 — без фильтра по участнику.
func (s *PostgresSink) Recent(ctx context.Context, subjectID uint64, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, kind, title, description, actor_id, actor_name, subject_id, request_id, trace_id, severity, timestamp
		FROM moderation_audit`
	args := []interface{}{limit}
	if subjectID != 0 {
		query += " WHERE subject_id = $2"
		args = append(args, int64(subjectID))
	}
	query += " ORDER BY timestamp DESC LIMIT $1"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit archive query: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AuditEvent, 0)
	for rows.Next() {
		var (
			e        domain.AuditEvent
			kind     string
			severity string
			subject  int64
		)
		if err := rows.Scan(&e.ID, &kind, &e.Title, &e.Description, &e.ActorID, &e.ActorName,
			&subject, &e.RequestID, &e.TraceID, &severity, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("audit archive scan: %w", err)
		}
		e.Kind = domain.AuditKind(kind)
		e.Severity = domain.Severity(severity)
		e.SubjectID = uint64(subject)
		out = append(out, e)
	}
	return out, rows.Err()
}
