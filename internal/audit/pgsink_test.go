package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
)

var archiveColumns = []string{"id", "kind", "title", "description", "actor_id", "actor_name", "subject_id", "request_id", "trace_id", "severity", "timestamp"}

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *PostgresSink) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return mock, NewPostgresSink(db)
}

func TestPostgresSinkBatchInsert(t *testing.T) {
	mock, sink := setupMockDB(t)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	events := []domain.AuditEvent{
		{ID: "11111111-1111-1111-1111-111111111111", Kind: domain.AuditMemberApproved, Title: "a", ActorID: "200", SubjectID: 42, RequestID: "1001", Severity: domain.SeveritySuccess, Timestamp: ts},
		{ID: "22222222-2222-2222-2222-222222222222", Kind: domain.AuditMemberDenied, Title: "d", ActorID: "200", SubjectID: 7, RequestID: "1002", Severity: domain.SeverityDanger, Timestamp: ts},
	}

	mock.ExpectExec(`INSERT INTO moderation_audit .* VALUES \(\$1, .*\$11\),\(\$12, .*\$22\) ON CONFLICT`).
		WithArgs(
			events[0].ID, "MemberApproved", "a", "", "200", "", int64(42), "1001", "", "success", ts,
			events[1].ID, "MemberDenied", "d", "", "200", "", int64(7), "1002", "", "danger", ts,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, sink.WriteBatch(context.Background(), events))
}

func TestPostgresSinkEmptyBatch(t *testing.T) {
	_, sink := setupMockDB(t)
	assert.NoError(t, sink.WriteBatch(context.Background(), nil))
}

func TestPostgresSinkRecent(t *testing.T) {
	mock, sink := setupMockDB(t)
	ts := time.Now().UTC()

	mock.ExpectQuery("FROM moderation_audit ORDER BY timestamp DESC").
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows(archiveColumns).
			AddRow("id-1", "MemberJoined", "Новый участник", "<@42>", "", "", int64(42), "1001", "t", "info", ts))

	got, err := sink.Recent(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.AuditMemberJoined, got[0].Kind)
	assert.Equal(t, uint64(42), got[0].SubjectID)
	assert.Equal(t, domain.SeverityInfo, got[0].Severity)
}

func TestPostgresSinkRecentBySubject(t *testing.T) {
	mock, sink := setupMockDB(t)

	mock.ExpectQuery("WHERE subject_id = \\$2 ORDER BY timestamp DESC LIMIT \\$1").
		WithArgs(20, int64(7)).
		WillReturnRows(sqlmock.NewRows(archiveColumns))

	got, err := sink.Recent(context.Background(), 7, 20)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFanOutContinuesAfterFailure(t *testing.T) {
	failing := &recordingSink{err: errors.New("discord down")}
	ok := &recordingSink{}

	err := FanOut{failing, ok}.WriteBatch(context.Background(), []domain.AuditEvent{{ID: "1"}})
	assert.ErrorContains(t, err, "discord down")
	assert.Len(t, ok.events(), 1)
}
