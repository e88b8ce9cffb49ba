package domain

import "errors"

// Outcome — результат активации кнопки, который видит модератор.
// Штатные исходы (нет прав, уже обработано, участник ушел) — не ошибки.
type Outcome string

const (
	OutcomeApproved       Outcome = "approved"
	OutcomeDenied         Outcome = "denied"
	OutcomeSubjectGone    Outcome = "subject_gone"
	OutcomeAlreadyHandled Outcome = "already_handled"
	OutcomeUnauthorized   Outcome = "unauthorized"
	OutcomeFailed         Outcome = "failed"
)

// Status переводит исход в терминальный статус заявки.
// Для исходов без перехода возвращает StatusPending.
func (o Outcome) Status() ApprovalStatus {
	switch o {
	case OutcomeApproved:
		return StatusApproved
	case OutcomeDenied:
		return StatusDenied
	case OutcomeSubjectGone:
		return StatusOrphaned
	}
	return StatusPending
}

// Категории сбоев. Конкретная причина заворачивается вторым %w:
//
//	fmt.Errorf("%w: grant role: %w", ErrPlatformFault, err)
var (
	// хранилище недоступно или повреждено
	ErrStorageFault = errors.New("storage fault")
	// вызов платформы (роль, кик, сообщение) завершился ошибкой
	ErrPlatformFault = errors.New("platform fault")
)

var (
	ErrNotFound         = errors.New("pending approval not found")
	ErrDuplicateRequest = errors.New("pending approval already exists for request")
	ErrTokenCollision   = errors.New("control token collides with a pending approval")
	ErrTokenMismatch    = errors.New("control token belongs to the other action")
	ErrMemberNotFound   = errors.New("member not found")
	ErrMessageNotFound  = errors.New("message not found")
)
