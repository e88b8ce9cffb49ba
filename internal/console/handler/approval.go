package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/guild-gatekeeper/internal/console/domain"
	core "github.com/xela07ax/guild-gatekeeper/internal/domain"
)

// ApprovalService Описываем, что нам нужно от сервиса
type ApprovalService interface {
	GetApproval(ctx context.Context, id string) (domain.ApprovalView, error)
	GetApprovals(ctx context.Context) ([]domain.ApprovalView, error)
}

type ApprovalHandler struct {
	service ApprovalService
	logger  *zap.Logger
}

func NewApprovalHandler(s ApprovalService, logger *zap.Logger) *ApprovalHandler {
	return &ApprovalHandler{service: s, logger: logger}
}

func (h *ApprovalHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	approval, err := h.service.GetApproval(r.Context(), id)
	if errors.Is(err, core.ErrNotFound) {
		http.Error(w, "approval not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("get approval failed", zap.String("request_id", id), zap.Error(err))
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, approval)
}

func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.GetApprovals(r.Context())
	if err != nil {
		h.logger.Error("list approvals failed", zap.Error(err))
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, list)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
