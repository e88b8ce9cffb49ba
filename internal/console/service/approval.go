package service

import (
	"context"
	"strconv"

	"github.com/xela07ax/guild-gatekeeper/internal/console/domain"
	core "github.com/xela07ax/guild-gatekeeper/internal/domain"
	"github.com/xela07ax/guild-gatekeeper/internal/store"
	"github.com/xela07ax/guild-gatekeeper/internal/token"
)

// ApprovalService отдает очередь заявок только на чтение.
// Решения принимаются только кнопками в Discord.
type ApprovalService struct {
	store store.Store
}

func NewApprovalService(st store.Store) *ApprovalService {
	return &ApprovalService{store: st}
}

func (s *ApprovalService) GetApprovals(ctx context.Context) ([]domain.ApprovalView, error) {
	recs, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ApprovalView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, view(rec))
	}
	return out, nil
}

func (s *ApprovalService) GetApproval(ctx context.Context, id string) (domain.ApprovalView, error) {
	recs, err := s.store.ListAll(ctx)
	if err != nil {
		return domain.ApprovalView{}, err
	}
	for _, rec := range recs {
		if rec.RequestID == id {
			return view(rec), nil
		}
	}
	return domain.ApprovalView{}, core.ErrNotFound
}

func view(rec core.PendingApproval) domain.ApprovalView {
	v := domain.ApprovalView{
		RequestID: rec.RequestID,
		SubjectID: strconv.FormatUint(rec.SubjectID, 10),
		Status:    core.StatusPending,
	}
	// Время выпуска читается из токена только для отображения
	if parts, err := token.Parse(rec.ApproveToken); err == nil {
		issued := parts.IssuedAt
		v.IssuedAt = &issued
	}
	return v
}
