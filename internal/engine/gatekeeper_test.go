package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
	"github.com/xela07ax/guild-gatekeeper/internal/store"
)

func TestOnJoinPostsRequest(t *testing.T) {
	h := newHarness(t, nil, "42")
	reqID, approve, deny := h.join(t, "42")

	assert.Equal(t, [2]string{approve, deny}, h.renderer.attached[reqID])
	assert.NotEqual(t, approve, deny)

	ev := h.auditor.last()
	assert.Equal(t, domain.AuditMemberJoined, ev.Kind)
	assert.Contains(t, ev.Description, "<@42>")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PendingApprovals))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.JoinsTotal.WithLabelValues("posted")))
}

func TestOnJoinStorageFaultRetractsMessage(t *testing.T) {
	h := newHarness(t, nil, "42")
	h.store.createErr = store.Fault("create", errors.New("no space left on device"))

	err := h.gate.OnJoin(context.Background(), domain.Member{UserID: "42"})
	assert.ErrorIs(t, err, domain.ErrStorageFault)
	assert.Equal(t, []string{"1001"}, h.renderer.retracted)
	assert.Empty(t, h.renderer.attached)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.JoinsTotal.WithLabelValues("failed")))
}

func TestOnJoinAttachFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, "42")
	h.renderer.attachErr = errors.New("500 internal server error")

	err := h.gate.OnJoin(ctx, domain.Member{UserID: "42"})
	assert.ErrorIs(t, err, domain.ErrPlatformFault)
	assert.Equal(t, []string{"1001"}, h.renderer.retracted)

	all, err := h.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestOnJoinPostFailure(t *testing.T) {
	h := newHarness(t, nil, "42")
	h.renderer.postErr = errors.New("missing access")

	err := h.gate.OnJoin(context.Background(), domain.Member{UserID: "42"})
	assert.ErrorIs(t, err, domain.ErrPlatformFault)
	assert.Empty(t, h.auditor.kinds())
}

func TestOnJoinRejectsBadMemberID(t *testing.T) {
	h := newHarness(t, nil)
	err := h.gate.OnJoin(context.Background(), domain.Member{UserID: "not-a-snowflake"})
	assert.Error(t, err)
	assert.Empty(t, h.renderer.messages)
}

func TestOnJoinRejoinRetiresStaleRequest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, "42")
	oldID, oldApprove, oldDeny := h.join(t, "42")

	// участник вышел и вернулся до решения
	require.NoError(t, h.gate.OnJoin(ctx, domain.Member{UserID: "42"}))

	all, err := h.store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	fresh := all[0]
	assert.NotEqual(t, oldID, fresh.RequestID)
	assert.Contains(t, h.renderer.disabled, oldID)
	assert.Contains(t, h.auditor.kinds(), domain.AuditRequestOrphaned)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PendingApprovals))

	outcome, err := h.gate.Activate(ctx, moderator, fresh.ApproveToken)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApproved, outcome)

	all, err = h.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	// старая карточка больше ничего не делает
	for _, tok := range []string{oldApprove, oldDeny} {
		outcome, err = h.gate.Activate(ctx, moderator, tok)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeAlreadyHandled, outcome)
	}
	assert.Empty(t, h.roster.kicked)
}

func TestOnJoinKeepsOtherSubjects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, "42", "7")
	otherID, _, _ := h.join(t, "7")
	h.join(t, "42")

	all, err := h.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.NotContains(t, h.renderer.disabled, otherID)
}

func TestOnJoinStaleLookupFailure(t *testing.T) {
	h := newHarness(t, nil, "42")
	h.store.listErr = store.Fault("list", errors.New("connection refused"))

	err := h.gate.OnJoin(context.Background(), domain.Member{UserID: "42"})
	assert.ErrorIs(t, err, domain.ErrStorageFault)
	assert.Empty(t, h.renderer.messages)
}

func TestOnJoinStaleRemoveFailure(t *testing.T) {
	h := newHarness(t, nil, "42")
	h.join(t, "42")
	h.store.removeErr = store.Fault("remove", errors.New("disk full"))

	err := h.gate.OnJoin(context.Background(), domain.Member{UserID: "42"})
	assert.ErrorIs(t, err, domain.ErrStorageFault)
	assert.Len(t, h.renderer.messages, 1, "no second request message is posted")
}

func TestOnJoinWaitsForDecisionInFlight(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, "42")
	oldID, _, _ := h.join(t, "42")

	// модератор как раз нажимает кнопку старой заявки
	require.True(t, h.gate.claim(oldID))
	err := h.gate.OnJoin(ctx, domain.Member{UserID: "42"})
	h.gate.release(oldID)

	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	assert.Len(t, h.renderer.messages, 1)
	assert.NotContains(t, h.renderer.disabled, oldID)
	assert.Zero(t, testutil.ToFloat64(h.metrics.FaultsTotal.WithLabelValues("storage")))

	all, err := h.store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, oldID, all[0].RequestID)
}
