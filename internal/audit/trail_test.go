package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]domain.AuditEvent
	err     error
}

func (s *recordingSink) WriteBatch(_ context.Context, events []domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]domain.AuditEvent(nil), events...))
	return s.err
}

func (s *recordingSink) events() []domain.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEvent
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func TestTrailFlushesOnStop(t *testing.T) {
	sink := &recordingSink{}
	trail := NewTrail(sink, Options{FlushInterval: time.Hour}, zap.NewNop())
	trail.Start()

	trail.Log(domain.AuditEvent{Kind: domain.AuditMemberApproved, SubjectID: 42})
	trail.Log(domain.AuditEvent{Kind: domain.AuditMemberDenied, SubjectID: 7})
	trail.Stop()

	got := sink.events()
	require.Len(t, got, 2)
	assert.Equal(t, domain.AuditMemberApproved, got[0].Kind)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestTrailBatchesBySize(t *testing.T) {
	sink := &recordingSink{}
	trail := NewTrail(sink, Options{BatchSize: 3, FlushInterval: time.Hour}, zap.NewNop())
	trail.Start()
	for i := 0; i < 7; i++ {
		trail.Log(domain.AuditEvent{Kind: domain.AuditMemberJoined, SubjectID: uint64(i)})
	}
	trail.Stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.batches, 3)
	assert.Len(t, sink.batches[0], 3)
	assert.Len(t, sink.batches[2], 1)
}

func TestTrailSinkFailureIsLoggedOnly(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	sink := &recordingSink{err: errors.New("missing access")}
	trail := NewTrail(sink, Options{}, zap.New(core))
	trail.Start()

	trail.Log(domain.AuditEvent{Kind: domain.AuditMemberApproved})
	trail.Stop()

	assert.Equal(t, 1, logs.FilterMessage("audit flush failed").Len())
}

func TestTrailOverflowDoesNotBlock(t *testing.T) {
	trail := NewTrail(&recordingSink{}, Options{BufferSize: 1}, zap.NewNop())
	// воркер не запущен: второе событие не помещается

	done := make(chan struct{})
	go func() {
		trail.Log(domain.AuditEvent{})
		trail.Log(domain.AuditEvent{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log blocked on full buffer")
	}
	assert.Equal(t, int64(1), trail.Dropped())
	assert.Equal(t, 1, trail.Len())
}

func TestTrailLogAfterStopDropped(t *testing.T) {
	sink := &recordingSink{}
	trail := NewTrail(sink, Options{}, zap.NewNop())
	trail.Start()
	trail.Stop()

	trail.Log(domain.AuditEvent{Kind: domain.AuditMemberJoined})
	assert.Empty(t, sink.events())
	assert.Equal(t, int64(1), trail.Dropped())
}
