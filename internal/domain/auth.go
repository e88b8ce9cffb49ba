package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// ScopeApprovalsRead — право читать очередь заявок через Console API.
const ScopeApprovalsRead = "approvals.read"

// ScopeAuditRead дает доступ к архиву журнала модерации.
const ScopeAuditRead = "audit.read"

// CustomClaims — claims токена оператора консоли (RS256).
type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "approvals.read": true
	jwt.RegisteredClaims
}

// Allows проверяет наличие scope в токене.
func (c *CustomClaims) Allows(scope string) bool {
	if c == nil {
		return false
	}
	return c.Scopes[scope] || c.Scopes["admin"]
}
