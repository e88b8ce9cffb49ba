package engine

import "github.com/xela07ax/guild-gatekeeper/internal/domain"

// Authorizer решает, может ли пользователь нажимать кнопки заявок:
// владелец бота по ID либо любой носитель роли модератора.
type Authorizer struct {
	AdminUserID     string
	ModeratorRoleID string
}

func (a Authorizer) IsAuthorized(actor domain.Identity) bool {
	if actor.UserID == "" {
		return false
	}
	if a.AdminUserID != "" && actor.UserID == a.AdminUserID {
		return true
	}
	return actor.HasRole(a.ModeratorRoleID)
}
