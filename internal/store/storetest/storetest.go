// Package storetest — общий набор проверок контракта store.Store для всех бэкендов.
package storetest

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
	"github.com/xela07ax/guild-gatekeeper/internal/store"
	"github.com/xela07ax/guild-gatekeeper/internal/token"
)

// Factory создает чистое хранилище поверх переданного Minter.
type Factory func(t *testing.T, m store.Minter) store.Store

// Codec возвращает детерминированный кодек для тестов.
func Codec(t *testing.T) *token.Codec {
	t.Helper()
	c, err := token.NewCodec(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return c
}

// StuckMinter первые Stuck вызовов возвращает одну и ту же пару, дальше делегирует.
type StuckMinter struct {
	Next  store.Minter
	Stuck int
	calls int
	first [2]string
}

func (m *StuckMinter) MintPair(subjectID uint64, issuedAt time.Time) (string, string, error) {
	m.calls++
	if m.calls == 1 {
		a, d, err := m.Next.MintPair(subjectID, issuedAt)
		m.first = [2]string{a, d}
		return a, d, err
	}
	if m.calls <= m.Stuck {
		return m.first[0], m.first[1], nil
	}
	return m.Next.MintPair(subjectID, issuedAt)
}

// Run прогоняет контракт хранилища.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateResolveRemove", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t, Codec(t))

		approve, deny, err := s.Create(ctx, "1001", 42)
		require.NoError(t, err)
		assert.NotEqual(t, approve, deny)

		for _, tok := range []string{approve, deny} {
			rec, err := s.ResolveByToken(ctx, tok)
			require.NoError(t, err)
			assert.Equal(t, domain.PendingApproval{
				RequestID: "1001", SubjectID: 42, ApproveToken: approve, DenyToken: deny,
			}, rec)
		}

		require.NoError(t, s.Remove(ctx, "1001"))
		_, err = s.ResolveByToken(ctx, approve)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = s.ResolveByToken(ctx, deny)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("RemoveIsIdempotent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t, Codec(t))
		assert.NoError(t, s.Remove(ctx, "missing"))

		_, _, err := s.Create(ctx, "1", 1)
		require.NoError(t, err)
		assert.NoError(t, s.Remove(ctx, "1"))
		assert.NoError(t, s.Remove(ctx, "1"))
	})

	t.Run("UnknownTokenNotFound", func(t *testing.T) {
		s := newStore(t, Codec(t))
		_, err := s.ResolveByToken(context.Background(), "gk:approve:1:0:00")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("DuplicateRequestRejected", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t, Codec(t))
		a, d, err := s.Create(ctx, "77", 1)
		require.NoError(t, err)

		_, _, err = s.Create(ctx, "77", 2)
		assert.ErrorIs(t, err, domain.ErrDuplicateRequest)

		rec, err := s.ResolveByToken(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), rec.SubjectID)
		assert.Equal(t, d, rec.DenyToken)
	})

	t.Run("TokensPairwiseDisjoint", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t, Codec(t))

		seen := map[string]bool{}
		for i := 0; i < 20; i++ {
			// один и тот же участник заходит повторно: токены все равно разные
			a, d, err := s.Create(ctx, fmt.Sprintf("msg-%02d", i), 42)
			require.NoError(t, err)
			assert.False(t, seen[a])
			assert.False(t, seen[d])
			seen[a], seen[d] = true, true
		}
		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 20)
	})

	t.Run("CollisionRetried", func(t *testing.T) {
		ctx := context.Background()
		m := &StuckMinter{Next: Codec(t), Stuck: 3}
		s := newStore(t, m)

		a1, d1, err := s.Create(ctx, "a", 5)
		require.NoError(t, err)
		a2, d2, err := s.Create(ctx, "b", 5)
		require.NoError(t, err)
		assert.NotEqual(t, a1, a2)
		assert.NotEqual(t, d1, d2)
	})

	t.Run("ListAllSnapshot", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t, Codec(t))

		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)

		_, _, err = s.Create(ctx, "2", 20)
		require.NoError(t, err)
		_, _, err = s.Create(ctx, "1", 10)
		require.NoError(t, err)

		all, err = s.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "1", all[0].RequestID)
		assert.Equal(t, uint64(10), all[0].SubjectID)
		assert.Equal(t, "2", all[1].RequestID)
	})
}
