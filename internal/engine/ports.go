package engine

import (
	"context"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
)

// Roster — участники сервера. Отсутствие участника: domain.ErrMemberNotFound.
type Roster interface {
	Member(ctx context.Context, userID string) (domain.Member, error)
	// GrantRole идемпотентна: повторная выдача роли не ошибка.
	GrantRole(ctx context.Context, userID, roleID string) error
	RemoveMember(ctx context.Context, userID, reason string) error
}

// Renderer — сообщение заявки в канале модерации.
// RequestID заявки равен ID этого сообщения.
type Renderer interface {
	// PostRequest публикует карточку участника без кнопок.
	PostRequest(ctx context.Context, subject domain.Member) (requestID string, err error)
	// AttachControls (пере)рисует активные кнопки с сохраненными токенами.
	AttachControls(ctx context.Context, requestID, approveToken, denyToken string) error
	DisableControls(ctx context.Context, rec domain.PendingApproval) error
	Retract(ctx context.Context, requestID string) error
}
