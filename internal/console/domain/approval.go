package domain

import (
	"time"

	core "github.com/xela07ax/guild-gatekeeper/internal/domain"
)

// ApprovalView — заявка в ответе Console API. Токены кнопок наружу не отдаются.
type ApprovalView struct {
	RequestID string              `json:"request_id"`
	SubjectID string              `json:"subject_id"`
	Status    core.ApprovalStatus `json:"status"`
	IssuedAt  *time.Time          `json:"issued_at,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}
