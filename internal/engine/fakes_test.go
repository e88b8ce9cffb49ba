package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
	"github.com/xela07ax/guild-gatekeeper/internal/store"
	"github.com/xela07ax/guild-gatekeeper/internal/store/storetest"
)

const (
	adminID       = "100"
	moderatorRole = "500"
	approvedRole  = "600"
)

var (
	moderator = domain.Identity{UserID: "200", Username: "mod", RoleIDs: []string{"1", moderatorRole}}
	stranger  = domain.Identity{UserID: "300", Username: "guest", RoleIDs: []string{"1"}}
)

type fakeRoster struct {
	mu      sync.Mutex
	members map[string]bool
	granted []string // userID/roleID
	kicked  []string // userID/reason

	memberErr error
	grantErr  error
	removeErr error
	// grantGate блокирует GrantRole до закрытия канала
	grantGate    chan struct{}
	grantEntered chan struct{}
}

func newFakeRoster(ids ...string) *fakeRoster {
	r := &fakeRoster{members: make(map[string]bool)}
	for _, id := range ids {
		r.members[id] = true
	}
	return r
}

func (r *fakeRoster) leave(id string) {
	r.mu.Lock()
	delete(r.members, id)
	r.mu.Unlock()
}

func (r *fakeRoster) Member(_ context.Context, userID string) (domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.memberErr != nil {
		return domain.Member{}, r.memberErr
	}
	if !r.members[userID] {
		return domain.Member{}, domain.ErrMemberNotFound
	}
	return domain.Member{UserID: userID}, nil
}

func (r *fakeRoster) GrantRole(_ context.Context, userID, roleID string) error {
	if r.grantEntered != nil {
		close(r.grantEntered)
	}
	if r.grantGate != nil {
		<-r.grantGate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.grantErr != nil {
		return r.grantErr
	}
	r.granted = append(r.granted, userID+"/"+roleID)
	return nil
}

func (r *fakeRoster) RemoveMember(_ context.Context, userID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removeErr != nil {
		return r.removeErr
	}
	r.kicked = append(r.kicked, userID+"/"+reason)
	delete(r.members, userID)
	return nil
}

type fakeRenderer struct {
	mu        sync.Mutex
	nextID    int
	messages  map[string]bool
	attached  map[string][2]string
	disabled  []string
	retracted []string

	postErr    error
	attachErr  error
	disableErr error
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{
		nextID:   1000,
		messages: make(map[string]bool),
		attached: make(map[string][2]string),
	}
}

func (r *fakeRenderer) PostRequest(_ context.Context, _ domain.Member) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.postErr != nil {
		return "", r.postErr
	}
	r.nextID++
	id := strconv.Itoa(r.nextID)
	r.messages[id] = true
	return id, nil
}

func (r *fakeRenderer) AttachControls(_ context.Context, requestID, approve, deny string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attachErr != nil {
		return r.attachErr
	}
	if !r.messages[requestID] {
		return fmt.Errorf("%w: %s", domain.ErrMessageNotFound, requestID)
	}
	r.attached[requestID] = [2]string{approve, deny}
	return nil
}

func (r *fakeRenderer) DisableControls(_ context.Context, rec domain.PendingApproval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disableErr != nil {
		return r.disableErr
	}
	r.disabled = append(r.disabled, rec.RequestID)
	return nil
}

func (r *fakeRenderer) Retract(_ context.Context, requestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, requestID)
	r.retracted = append(r.retracted, requestID)
	return nil
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (a *recordingAuditor) Log(e domain.AuditEvent) {
	a.mu.Lock()
	a.events = append(a.events, e)
	a.mu.Unlock()
}

func (a *recordingAuditor) kinds() []domain.AuditKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.AuditKind, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Kind)
	}
	return out
}

func (a *recordingAuditor) last() domain.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.events[len(a.events)-1]
}

// faultyStore подменяет отдельные операции хранилища ошибкой.
type faultyStore struct {
	store.Store
	resolveErr error
	removeErr  error
	createErr  error
	listErr    error
}

func (s *faultyStore) Create(ctx context.Context, requestID string, subjectID uint64) (string, string, error) {
	if s.createErr != nil {
		return "", "", s.createErr
	}
	return s.Store.Create(ctx, requestID, subjectID)
}

func (s *faultyStore) ResolveByToken(ctx context.Context, tok string) (domain.PendingApproval, error) {
	if s.resolveErr != nil {
		return domain.PendingApproval{}, s.resolveErr
	}
	return s.Store.ResolveByToken(ctx, tok)
}

func (s *faultyStore) Remove(ctx context.Context, requestID string) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	return s.Store.Remove(ctx, requestID)
}

func (s *faultyStore) ListAll(ctx context.Context) ([]domain.PendingApproval, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Store.ListAll(ctx)
}

// harness собирает движок поверх хранилища в памяти.
type harness struct {
	store    *faultyStore
	roster   *fakeRoster
	renderer *fakeRenderer
	auditor  *recordingAuditor
	metrics  *Metrics
	gate     *Gatekeeper
}

func newHarness(t *testing.T, st store.Store, memberIDs ...string) *harness {
	t.Helper()
	if st == nil {
		st = store.NewMemory(storetest.Codec(t))
	}
	h := &harness{
		store:    &faultyStore{Store: st},
		roster:   newFakeRoster(memberIDs...),
		renderer: newFakeRenderer(),
		auditor:  &recordingAuditor{},
		metrics:  NewMetrics(nil),
	}
	logger := zap.NewNop()
	m := NewMachine(h.store, h.roster, h.renderer, h.auditor,
		Authorizer{AdminUserID: adminID, ModeratorRoleID: moderatorRole},
		approvedRole, h.metrics, logger)
	h.gate = NewGatekeeper(m, h.store, h.renderer, h.auditor, h.metrics, logger)
	return h
}

// join заводит заявку и возвращает ее requestID и токены.
func (h *harness) join(t *testing.T, userID string) (string, string, string) {
	t.Helper()
	if err := h.gate.OnJoin(context.Background(), domain.Member{UserID: userID}); err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
	recs, err := h.store.ListAll(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, rec := range recs {
		if rec.SubjectKey() == userID {
			return rec.RequestID, rec.ApproveToken, rec.DenyToken
		}
	}
	t.Fatalf("no pending approval for %s", userID)
	return "", "", ""
}
