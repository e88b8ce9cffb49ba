package engine

/*
Файл machine.go — конечный автомат заявки: Pending -> Approved | Denied | Orphaned.

Порядок шага фиксирован: права -> поиск записи -> побочный эффект на платформе ->
аудит -> гашение кнопок -> удаление записи. Запись удаляется только после успешного
эффекта, поэтому сбой платформы оставляет заявку живой и кнопки рабочими.
*/

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/guild-gatekeeper/internal/audit"
	"github.com/xela07ax/guild-gatekeeper/internal/domain"
	"github.com/xela07ax/guild-gatekeeper/internal/store"
)

// KickReason попадает в журнал аудита сервера при отклонении.
const KickReason = "Отклонён"

type transition func(ctx context.Context, actor domain.Identity, rec domain.PendingApproval) (domain.Outcome, error)

type Machine struct {
	store          store.Store
	roster         Roster
	renderer       Renderer
	auditor        audit.Auditor
	authz          Authorizer
	approvedRoleID string
	metrics        *Metrics
	logger         *zap.Logger

	handlers map[domain.Action]transition

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewMachine(st store.Store, roster Roster, renderer Renderer, auditor audit.Auditor, authz Authorizer, approvedRoleID string, metrics *Metrics, logger *zap.Logger) *Machine {
	m := &Machine{
		store:          st,
		roster:         roster,
		renderer:       renderer,
		auditor:        auditor,
		authz:          authz,
		approvedRoleID: approvedRoleID,
		metrics:        metrics,
		logger:         logger.Named("machine"),
		inflight:       make(map[string]struct{}),
	}
	m.handlers = map[domain.Action]transition{
		domain.ActionApprove: m.approve,
		domain.ActionDeny:    m.deny,
	}
	return m
}

// Approve выполняет переход по токену кнопки «Подтвердить».
func (m *Machine) Approve(ctx context.Context, actor domain.Identity, token string) (domain.Outcome, error) {
	return m.run(ctx, actor, token, domain.ActionApprove)
}

// Deny выполняет переход по токену кнопки «Отклонить».
func (m *Machine) Deny(ctx context.Context, actor domain.Identity, token string) (domain.Outcome, error) {
	return m.run(ctx, actor, token, domain.ActionDeny)
}

// Activate — точка входа для нажатия любой кнопки: действие определяется
// по тому, какой стороне записи принадлежит токен.
func (m *Machine) Activate(ctx context.Context, actor domain.Identity, token string) (domain.Outcome, error) {
	return m.run(ctx, actor, token, "")
}

func (m *Machine) run(ctx context.Context, actor domain.Identity, token string, want domain.Action) (outcome domain.Outcome, err error) {
	start := time.Now()
	log := m.logger.With(
		zap.String("trace_id", TraceID(ctx)),
		zap.String("actor_id", actor.UserID),
	)

	action := want
	defer func() {
		label := string(action)
		if label == "" {
			label = "unknown"
		}
		m.metrics.DecisionsTotal.WithLabelValues(label, string(outcome)).Inc()
		m.metrics.DecisionDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()

	// 1. Права проверяются до любого обращения к хранилищу
	if !m.authz.IsAuthorized(actor) {
		log.Info("control activation rejected: not authorized")
		return domain.OutcomeUnauthorized, nil
	}

	// 2. Поиск записи
	rec, err := m.store.ResolveByToken(ctx, token)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info("control token has no pending approval")
		return domain.OutcomeAlreadyHandled, nil
	}
	if err != nil {
		m.metrics.FaultsTotal.WithLabelValues("storage").Inc()
		log.Error("resolve control token failed", zap.Error(err))
		return domain.OutcomeFailed, err
	}

	resolved, ok := rec.ActionFor(token)
	if !ok {
		return domain.OutcomeFailed, fmt.Errorf("%w: %s", domain.ErrTokenMismatch, rec.RequestID)
	}
	if want != "" && resolved != want {
		return domain.OutcomeFailed, fmt.Errorf("%w: want %s, token is %s", domain.ErrTokenMismatch, want, resolved)
	}
	action = resolved

	// Одна заявка — один переход, даже если нажатия пересеклись
	if !m.claim(rec.RequestID) {
		log.Info("approval already in flight", zap.String("request_id", rec.RequestID))
		return domain.OutcomeAlreadyHandled, nil
	}
	defer m.release(rec.RequestID)

	outcome, err = m.handlers[action](ctx, actor, rec)
	fields := []zap.Field{
		zap.String("request_id", rec.RequestID),
		zap.Uint64("subject_id", rec.SubjectID),
		zap.String("action", string(action)),
		zap.String("outcome", string(outcome)),
	}
	if err != nil {
		log.Error("approval transition failed", append(fields, zap.Error(err))...)
		return outcome, err
	}
	log.Info("approval transition completed", fields...)
	return outcome, nil
}

func (m *Machine) claim(requestID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[requestID]; busy {
		return false
	}
	m.inflight[requestID] = struct{}{}
	return true
}

func (m *Machine) release(requestID string) {
	m.mu.Lock()
	delete(m.inflight, requestID)
	m.mu.Unlock()
}

func (m *Machine) approve(ctx context.Context, actor domain.Identity, rec domain.PendingApproval) (domain.Outcome, error) {
	subject := rec.SubjectKey()

	if _, err := m.roster.Member(ctx, subject); err != nil {
		if errors.Is(err, domain.ErrMemberNotFound) {
			return m.orphan(ctx, actor, rec)
		}
		return domain.OutcomeFailed, m.platformFault("lookup member", err)
	}

	if err := m.roster.GrantRole(ctx, subject, m.approvedRoleID); err != nil {
		return domain.OutcomeFailed, m.platformFault("grant role", err)
	}

	m.auditor.Log(domain.AuditEvent{
		Kind:        domain.AuditMemberApproved,
		Title:       "Участник принят",
		Description: fmt.Sprintf("Участник: <@%d>", rec.SubjectID),
		ActorID:     actor.UserID,
		ActorName:   actor.Username,
		SubjectID:   rec.SubjectID,
		RequestID:   rec.RequestID,
		TraceID:     TraceID(ctx),
		Severity:    domain.SeveritySuccess,
	})

	if err := m.finish(ctx, rec); err != nil {
		return domain.OutcomeFailed, err
	}
	return domain.OutcomeApproved, nil
}

func (m *Machine) deny(ctx context.Context, actor domain.Identity, rec domain.PendingApproval) (domain.Outcome, error) {
	subject := rec.SubjectKey()
	gone := false

	_, err := m.roster.Member(ctx, subject)
	switch {
	case errors.Is(err, domain.ErrMemberNotFound):
		gone = true
	case err != nil:
		return domain.OutcomeFailed, m.platformFault("lookup member", err)
	default:
		err = m.roster.RemoveMember(ctx, subject, KickReason)
		if errors.Is(err, domain.ErrMemberNotFound) {
			gone = true
		} else if err != nil {
			return domain.OutcomeFailed, m.platformFault("remove member", err)
		}
	}

	description := fmt.Sprintf("ID участника: `%d`", rec.SubjectID)
	if gone {
		m.logger.Info("denied subject already left, kick skipped", zap.String("request_id", rec.RequestID))
		description += "\nУчастник покинул сервер до решения"
	}
	m.auditor.Log(domain.AuditEvent{
		Kind:        domain.AuditMemberDenied,
		Title:       "Участник отклонён",
		Description: description,
		ActorID:     actor.UserID,
		ActorName:   actor.Username,
		SubjectID:   rec.SubjectID,
		RequestID:   rec.RequestID,
		TraceID:     TraceID(ctx),
		Severity:    domain.SeverityDanger,
	})

	if err := m.finish(ctx, rec); err != nil {
		return domain.OutcomeFailed, err
	}
	return domain.OutcomeDenied, nil
}

// orphan закрывает заявку участника, который ушел до решения. Роль не выдается.
func (m *Machine) orphan(ctx context.Context, actor domain.Identity, rec domain.PendingApproval) (domain.Outcome, error) {
	m.logger.Warn("approval subject left the guild", zap.String("request_id", rec.RequestID), zap.Uint64("subject_id", rec.SubjectID))

	m.auditor.Log(domain.AuditEvent{
		Kind:        domain.AuditRequestOrphaned,
		Title:       "Заявка закрыта",
		Description: fmt.Sprintf("Участник <@%d> покинул сервер до решения", rec.SubjectID),
		ActorID:     actor.UserID,
		ActorName:   actor.Username,
		SubjectID:   rec.SubjectID,
		RequestID:   rec.RequestID,
		TraceID:     TraceID(ctx),
		Severity:    domain.SeverityWarning,
	})

	if err := m.finish(ctx, rec); err != nil {
		return domain.OutcomeFailed, err
	}
	return domain.OutcomeSubjectGone, nil
}

// finish гасит кнопки (сбой только логируется) и удаляет запись.
func (m *Machine) finish(ctx context.Context, rec domain.PendingApproval) error {
	if err := m.renderer.DisableControls(ctx, rec); err != nil {
		m.metrics.FaultsTotal.WithLabelValues("platform").Inc()
		m.logger.Warn("disable controls failed", zap.String("request_id", rec.RequestID), zap.Error(err))
	}
	if err := m.store.Remove(ctx, rec.RequestID); err != nil {
		m.metrics.FaultsTotal.WithLabelValues("storage").Inc()
		return err
	}
	m.metrics.PendingApprovals.Dec()
	return nil
}

func (m *Machine) platformFault(op string, err error) error {
	m.metrics.FaultsTotal.WithLabelValues("platform").Inc()
	return PlatformFault(op, err)
}

// PlatformFault заворачивает ошибку платформы в domain.ErrPlatformFault, не дублируя категорию.
func PlatformFault(op string, err error) error {
	if errors.Is(err, domain.ErrPlatformFault) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPlatformFault, op, err)
}
