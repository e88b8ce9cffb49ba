package pgstore

/*
Файл pgstore.go — хранилище заявок в PostgreSQL (driver: postgres).

Уникальность request_id и обоих токенов держит сама схема; коллизия токена при
INSERT превращается в повторный выпуск, дубликат request_id — в ErrDuplicateRequest.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"go.uber.org/zap"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
	"github.com/xela07ax/guild-gatekeeper/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_approvals (
	request_id    TEXT PRIMARY KEY,
	subject_id    BIGINT NOT NULL,
	approve_token TEXT NOT NULL UNIQUE,
	deny_token    TEXT NOT NULL UNIQUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const uniqueViolation = "23505"

type Store struct {
	db     *sql.DB
	minter store.Minter
	logger *zap.Logger
	clock  store.Clock
}

// Open создает пул соединений через pgx stdlib и проверяет доступность базы.
func Open(ctx context.Context, dsn string, maxConns int, m store.Minter, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, store.Fault("open postgres", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, store.Fault("ping postgres", err)
	}
	return New(db, m, logger), nil
}

// New оборачивает готовый *sql.DB (используется и в тестах с sqlmock).
func New(db *sql.DB, m store.Minter, logger *zap.Logger) *Store {
	return &Store{db: db, minter: m, logger: logger.Named("pgstore")}
}

// EnsureSchema создает таблицу, если ее нет.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return store.Fault("ensure schema", err)
	}
	return nil
}

// Сколько раз выпускаем пару заново, если INSERT уперся в уникальность токена.
const insertAttempts = 3

func (s *Store) Create(ctx context.Context, requestID string, subjectID uint64) (string, string, error) {
	var collision error
	for attempt := 0; attempt < insertAttempts; attempt++ {
		approve, deny, err := s.insert(ctx, requestID, subjectID)
		if errors.Is(err, domain.ErrTokenCollision) {
			collision = err
			s.logger.Warn("token collision on insert, minting again",
				zap.String("request_id", requestID), zap.Int("attempt", attempt+1))
			continue
		}
		return approve, deny, err
	}
	return "", "", collision
}

func (s *Store) insert(ctx context.Context, requestID string, subjectID uint64) (string, string, error) {
	var lookupErr error
	taken := func(tok string) bool {
		var exists bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM pending_approvals WHERE approve_token = $1 OR deny_token = $1)`,
			tok).Scan(&exists)
		if err != nil {
			lookupErr = err
			return false
		}
		return exists
	}

	approve, deny, err := store.MintUnique(s.minter, s.clock.Now(), subjectID, taken)
	if lookupErr != nil {
		return "", "", store.Fault("create "+requestID, lookupErr)
	}
	if err != nil {
		return "", "", err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_approvals (request_id, subject_id, approve_token, deny_token)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (request_id) DO NOTHING`,
		requestID, int64(subjectID), approve, deny)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", "", fmt.Errorf("%w: %s", domain.ErrTokenCollision, pgErr.ConstraintName)
		}
		return "", "", store.Fault("create "+requestID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return "", "", fmt.Errorf("%w: %s", domain.ErrDuplicateRequest, requestID)
	}
	return approve, deny, nil
}

func (s *Store) ResolveByToken(ctx context.Context, token string) (domain.PendingApproval, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT request_id, subject_id, approve_token, deny_token
		 FROM pending_approvals WHERE approve_token = $1 OR deny_token = $1`, token)

	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingApproval{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PendingApproval{}, store.Fault("resolve", err)
	}
	return rec, nil
}

func (s *Store) Remove(ctx context.Context, requestID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_approvals WHERE request_id = $1`, requestID); err != nil {
		return store.Fault("remove "+requestID, err)
	}
	return nil
}

func (s *Store) ListAll(ctx context.Context) ([]domain.PendingApproval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, subject_id, approve_token, deny_token
		 FROM pending_approvals ORDER BY request_id`)
	if err != nil {
		return nil, store.Fault("list", err)
	}
	defer rows.Close()

	// Инициализируем слайс, чтобы избежать возврата nil
	out := make([]domain.PendingApproval, 0)
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, store.Fault("list scan", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Fault("list rows", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (domain.PendingApproval, error) {
	var (
		rec     domain.PendingApproval
		subject int64
	)
	if err := row.Scan(&rec.RequestID, &subject, &rec.ApproveToken, &rec.DenyToken); err != nil {
		return domain.PendingApproval{}, err
	}
	rec.SubjectID = uint64(subject)
	return rec, nil
}
