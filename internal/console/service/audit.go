package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
)

// AuditLogProvider описывает контракт для чтения архива журнала модерации.
type AuditLogProvider interface {
	Recent(ctx context.Context, subjectID uint64, limit int) ([]domain.AuditEvent, error)
}

type AuditService struct {
	repo AuditLogProvider
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{repo: repo}
}

// FetchLogs запрашивает последние события. subjectID == 0 — все участники.
func (s *AuditService) FetchLogs(ctx context.Context, subjectID uint64, limit int) ([]domain.AuditEvent, error) {
	logs, err := s.repo.Recent(ctx, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	return logs, nil
}
