package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
	"github.com/xela07ax/guild-gatekeeper/internal/store"
	"github.com/xela07ax/guild-gatekeeper/internal/store/filestore"
	"github.com/xela07ax/guild-gatekeeper/internal/store/storetest"
)

func TestApproveGrantsRoleAndClosesRequest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, "42")
	reqID, approve, _ := h.join(t, "42")

	outcome, err := h.gate.Activate(ctx, moderator, approve)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApproved, outcome)

	assert.Equal(t, []string{"42/" + approvedRole}, h.roster.granted)
	assert.Equal(t, []string{reqID}, h.renderer.disabled)
	assert.Equal(t, []domain.AuditKind{domain.AuditMemberJoined, domain.AuditMemberApproved}, h.auditor.kinds())

	ev := h.auditor.last()
	assert.Equal(t, moderator.UserID, ev.ActorID)
	assert.Equal(t, uint64(42), ev.SubjectID)
	assert.Equal(t, reqID, ev.RequestID)

	all, err := h.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.DecisionsTotal.WithLabelValues("approve", "approved")))
}

func TestApproveSubjectGone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, "7")
	_, approve, _ := h.join(t, "7")
	h.roster.leave("7")

	outcome, err := h.gate.Approve(ctx, moderator, approve)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSubjectGone, outcome)
	assert.Equal(t, domain.StatusOrphaned, outcome.Status())

	assert.Empty(t, h.roster.granted)
	assert.Equal(t, domain.AuditRequestOrphaned, h.auditor.last().Kind)

	_, err = h.store.ResolveByToken(ctx, approve)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDenyTwice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, "7")
	_, _, deny := h.join(t, "7")

	outcome, err := h.gate.Deny(ctx, moderator, deny)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDenied, outcome)

	outcome, err = h.gate.Deny(ctx, moderator, deny)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyHandled, outcome)

	assert.Equal(t, []string{"7/" + KickReason}, h.roster.kicked)
	assert.Equal(t, []domain.AuditKind{domain.AuditMemberJoined, domain.AuditMemberDenied}, h.auditor.kinds())
}

func TestDenySubjectGoneSkipsKick(t *testing.T) {
	h := newHarness(t, nil, "7")
	_, _, deny := h.join(t, "7")
	h.roster.leave("7")

	outcome, err := h.gate.Activate(context.Background(), moderator, deny)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDenied, outcome)
	assert.Empty(t, h.roster.kicked)
	assert.Contains(t, h.auditor.last().Description, "покинул сервер")
}

func TestUnauthorizedHasNoSideEffect(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, "42")
	_, approve, deny := h.join(t, "42")

	for _, tok := range []string{approve, deny} {
		outcome, err := h.gate.Activate(ctx, stranger, tok)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeUnauthorized, outcome)
	}

	assert.Empty(t, h.roster.granted)
	assert.Empty(t, h.roster.kicked)
	assert.Empty(t, h.renderer.disabled)
	assert.Equal(t, []domain.AuditKind{domain.AuditMemberJoined}, h.auditor.kinds())

	rec, err := h.store.ResolveByToken(ctx, approve)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), rec.SubjectID)
}

func TestAdminWithoutRoleIsAuthorized(t *testing.T) {
	h := newHarness(t, nil, "42")
	_, approve, _ := h.join(t, "42")

	outcome, err := h.gate.Activate(context.Background(), domain.Identity{UserID: adminID}, approve)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApproved, outcome)
}

func TestUnknownTokenIsAlreadyHandled(t *testing.T) {
	h := newHarness(t, nil)
	outcome, err := h.gate.Activate(context.Background(), moderator, "gk:approve:1:0:00")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyHandled, outcome)
}

func TestPlatformFaultKeepsRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, "42")
	_, approve, _ := h.join(t, "42")

	h.roster.grantErr = errors.New("503 service unavailable")
	outcome, err := h.gate.Activate(ctx, moderator, approve)
	assert.Equal(t, domain.OutcomeFailed, outcome)
	assert.ErrorIs(t, err, domain.ErrPlatformFault)
	assert.Empty(t, h.renderer.disabled)
	assert.Equal(t, []domain.AuditKind{domain.AuditMemberJoined}, h.auditor.kinds())

	_, err = h.store.ResolveByToken(ctx, approve)
	require.NoError(t, err, "record must survive a failed side effect")

	// Повторное нажатие после восстановления платформы проходит
	h.roster.grantErr = nil
	outcome, err = h.gate.Activate(ctx, moderator, approve)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApproved, outcome)
}

func TestKickFaultKeepsRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, "7")
	_, _, deny := h.join(t, "7")

	h.roster.removeErr = errors.New("missing permissions")
	outcome, err := h.gate.Activate(ctx, moderator, deny)
	assert.Equal(t, domain.OutcomeFailed, outcome)
	assert.ErrorIs(t, err, domain.ErrPlatformFault)

	_, err = h.store.ResolveByToken(ctx, deny)
	assert.NoError(t, err)
}

func TestStorageFaultSurfaced(t *testing.T) {
	h := newHarness(t, nil, "42")
	_, approve, _ := h.join(t, "42")

	h.store.resolveErr = store.Fault("resolve", errors.New("disk gone"))
	outcome, err := h.gate.Activate(context.Background(), moderator, approve)
	assert.Equal(t, domain.OutcomeFailed, outcome)
	assert.ErrorIs(t, err, domain.ErrStorageFault)
	assert.Empty(t, h.roster.granted)
}

func TestRemoveFaultSurfaced(t *testing.T) {
	h := newHarness(t, nil, "42")
	_, approve, _ := h.join(t, "42")

	h.store.removeErr = store.Fault("remove", errors.New("read-only file system"))
	outcome, err := h.gate.Activate(context.Background(), moderator, approve)
	assert.Equal(t, domain.OutcomeFailed, outcome)
	assert.ErrorIs(t, err, domain.ErrStorageFault)
}

func TestDisableFailureDoesNotBlockRemoval(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, "42")
	_, approve, _ := h.join(t, "42")

	h.renderer.disableErr = domain.ErrMessageNotFound
	outcome, err := h.gate.Activate(ctx, moderator, approve)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApproved, outcome)

	_, err = h.store.ResolveByToken(ctx, approve)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApproveWithDenyTokenRejected(t *testing.T) {
	h := newHarness(t, nil, "42")
	_, _, deny := h.join(t, "42")

	outcome, err := h.gate.Approve(context.Background(), moderator, deny)
	assert.Equal(t, domain.OutcomeFailed, outcome)
	assert.ErrorIs(t, err, domain.ErrTokenMismatch)
	assert.Empty(t, h.roster.kicked)
	assert.Empty(t, h.roster.granted)
}

func TestConcurrentActivationRunsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, "42")
	_, approve, deny := h.join(t, "42")

	h.roster.grantGate = make(chan struct{})
	h.roster.grantEntered = make(chan struct{})

	done := make(chan domain.Outcome)
	go func() {
		outcome, _ := h.gate.Activate(ctx, moderator, approve)
		done <- outcome
	}()
	<-h.roster.grantEntered

	outcome, err := h.gate.Activate(ctx, moderator, deny)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyHandled, outcome)

	close(h.roster.grantGate)
	assert.Equal(t, domain.OutcomeApproved, <-done)
	assert.Empty(t, h.roster.kicked)
}

func TestCrashRecovery(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pending_approvals.json")
	codec := storetest.Codec(t)

	before, err := filestore.Open(path, codec, zap.NewNop())
	require.NoError(t, err)
	h := newHarness(t, before, "42")
	reqID, approve, deny := h.join(t, "42")

	// Рестарт: новое хранилище поверх того же файла, новый рендерер с тем же сообщением
	after, err := filestore.Open(path, codec, zap.NewNop())
	require.NoError(t, err)
	restarted := newHarness(t, after, "42")
	restarted.renderer.messages[reqID] = true

	report, err := NewRehydrator(restarted.store, restarted.renderer, restarted.metrics, zap.NewNop()).Rehydrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reattached)
	assert.Equal(t, [2]string{approve, deny}, restarted.renderer.attached[reqID])

	outcome, err := restarted.gate.Activate(ctx, moderator, approve)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApproved, outcome)
}

func TestAuthorizer(t *testing.T) {
	a := Authorizer{AdminUserID: adminID, ModeratorRoleID: moderatorRole}

	tests := []struct {
		name  string
		actor domain.Identity
		want  bool
	}{
		{"admin", domain.Identity{UserID: adminID}, true},
		{"moderator", moderator, true},
		{"stranger", stranger, false},
		{"empty", domain.Identity{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.IsAuthorized(tt.actor))
		})
	}

	assert.False(t, Authorizer{}.IsAuthorized(domain.Identity{UserID: "1", RoleIDs: []string{""}}))
}
