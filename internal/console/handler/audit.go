package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
)

type AuditLogService interface {
	FetchLogs(ctx context.Context, subjectID uint64, limit int) ([]domain.AuditEvent, error)
}

type AuditHandler struct {
	service AuditLogService
	logger  *zap.Logger
}

func NewAuditHandler(s AuditLogService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{service: s, logger: logger}
}

// GetLogs возвращает архив журнала модерации
// GET /v1/audit?subject_id=...&limit=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var subjectID uint64
	if raw := q.Get("subject_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid subject_id", http.StatusBadRequest)
			return
		}
		subjectID = id
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	logs, err := h.service.FetchLogs(r.Context(), subjectID, limit)
	if err != nil {
		h.logger.Error("fetch audit logs failed", zap.Error(err))
		http.Error(w, "Failed to fetch audit logs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, logs)
}
