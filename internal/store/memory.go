package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
)

// Memory — хранилище без персистентности (driver: memory). Для разработки и тестов.
type Memory struct {
	mu      sync.RWMutex
	records map[string]domain.PendingApproval
	tokens  map[string]string // token -> requestID
	minter  Minter
	clock   Clock
}

func NewMemory(m Minter) *Memory {
	return &Memory{
		records: make(map[string]domain.PendingApproval),
		tokens:  make(map[string]string),
		minter:  m,
	}
}

func (s *Memory) Create(_ context.Context, requestID string, subjectID uint64) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[requestID]; ok {
		return "", "", fmt.Errorf("%w: %s", domain.ErrDuplicateRequest, requestID)
	}
	approve, deny, err := MintUnique(s.minter, s.clock.Now(), subjectID, func(tok string) bool {
		_, ok := s.tokens[tok]
		return ok
	})
	if err != nil {
		return "", "", err
	}

	s.records[requestID] = domain.PendingApproval{
		RequestID:    requestID,
		SubjectID:    subjectID,
		ApproveToken: approve,
		DenyToken:    deny,
	}
	s.tokens[approve] = requestID
	s.tokens[deny] = requestID
	return approve, deny, nil
}

func (s *Memory) ResolveByToken(_ context.Context, token string) (domain.PendingApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokens[token]
	if !ok {
		return domain.PendingApproval{}, domain.ErrNotFound
	}
	return s.records[id], nil
}

func (s *Memory) Remove(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[requestID]
	if !ok {
		return nil
	}
	delete(s.tokens, rec.ApproveToken)
	delete(s.tokens, rec.DenyToken)
	delete(s.records, requestID)
	return nil
}

func (s *Memory) ListAll(_ context.Context) ([]domain.PendingApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PendingApproval, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	SortByRequest(out)
	return out, nil
}

func (s *Memory) Close() error { return nil }

// SortByRequest упорядочивает снимок по ID сообщения, чтобы ListAll был стабильным.
func SortByRequest(recs []domain.PendingApproval) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].RequestID < recs[j].RequestID })
}
