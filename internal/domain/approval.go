package domain

import (
	"errors"
	"strconv"
)

// Action — сторона заявки, к которой привязан токен кнопки.
type Action string

const (
	ActionApprove Action = "approve"
	ActionDeny    Action = "deny"
)

// Valid проверяет, что действие входит в известный набор.
func (a Action) Valid() bool {
	return a == ActionApprove || a == ActionDeny
}

// Статусы State Machine. Pending — единственное нетерминальное состояние.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusApproved ApprovalStatus = "APPROVED"
	StatusDenied   ApprovalStatus = "DENIED"
	StatusOrphaned ApprovalStatus = "ORPHANED" // Участник покинул сервер до решения
)

// ErrAlreadyProcessed: по заявке уже идет решение.
var ErrAlreadyProcessed = errors.New("approval request already processed")

// PendingApproval — заявка участника, ожидающая решения модератора.
// Ключ в хранилище — RequestID (ID сообщения с кнопками). Payload неизменяем.
type PendingApproval struct {
	RequestID    string `json:"-"`
	SubjectID    uint64 `json:"subject_id"`
	ApproveToken string `json:"approve_token"`
	DenyToken    string `json:"deny_token"`
}

// ActionFor возвращает сторону заявки, которой принадлежит токен.
func (p PendingApproval) ActionFor(token string) (Action, bool) {
	switch token {
	case p.ApproveToken:
		return ActionApprove, true
	case p.DenyToken:
		return ActionDeny, true
	}
	return "", false
}

// HasToken проверяет точное совпадение с любым из двух токенов.
func (p PendingApproval) HasToken(token string) bool {
	_, ok := p.ActionFor(token)
	return ok
}

// SubjectKey возвращает ID участника строкой, как его ждет платформа.
func (p PendingApproval) SubjectKey() string {
	return strconv.FormatUint(p.SubjectID, 10)
}
