package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/xela07ax/guild-gatekeeper/internal/audit"
	"github.com/xela07ax/guild-gatekeeper/internal/domain"
	"github.com/xela07ax/guild-gatekeeper/internal/store"
)

// Gatekeeper — вход в движок со стороны платформы: вступление участника
// и нажатие кнопки заявки.
type Gatekeeper struct {
	*Machine

	store    store.Store
	renderer Renderer
	auditor  audit.Auditor
	metrics  *Metrics
	logger   *zap.Logger
}

func NewGatekeeper(m *Machine, st store.Store, renderer Renderer, auditor audit.Auditor, metrics *Metrics, logger *zap.Logger) *Gatekeeper {
	return &Gatekeeper{
		Machine:  m,
		store:    st,
		renderer: renderer,
		auditor:  auditor,
		metrics:  metrics,
		logger:   logger.Named("gatekeeper"),
	}
}

// OnJoin заводит заявку на нового участника.
//
// Сообщение публикуется без кнопок: его ID становится ключом заявки, а токены
// кнопок выпускает хранилище. Кнопки появляются только после того, как запись
// надежно сохранена, поэтому нажать на несохраненную заявку нельзя.
func (g *Gatekeeper) OnJoin(ctx context.Context, member domain.Member) (err error) {
	defer func() {
		result := "posted"
		if err != nil {
			result = "failed"
		}
		g.metrics.JoinsTotal.WithLabelValues(result).Inc()
	}()

	subjectID, err := strconv.ParseUint(member.UserID, 10, 64)
	if err != nil {
		return fmt.Errorf("member id %q: %w", member.UserID, err)
	}
	log := g.logger.With(zap.String("trace_id", TraceID(ctx)), zap.Uint64("subject_id", subjectID))

	// Участник мог выйти и вернуться до решения: на него остается одна заявка
	if err := g.retireStale(ctx, log, subjectID); err != nil {
		if errors.Is(err, domain.ErrStorageFault) {
			g.metrics.FaultsTotal.WithLabelValues("storage").Inc()
		}
		return err
	}

	requestID, err := g.renderer.PostRequest(ctx, member)
	if err != nil {
		g.metrics.FaultsTotal.WithLabelValues("platform").Inc()
		return PlatformFault("post request", err)
	}
	log = log.With(zap.String("request_id", requestID))

	approve, deny, err := g.store.Create(ctx, requestID, subjectID)
	if err != nil {
		g.metrics.FaultsTotal.WithLabelValues("storage").Inc()
		g.retract(ctx, log, requestID)
		return err
	}

	if err := g.renderer.AttachControls(ctx, requestID, approve, deny); err != nil {
		g.metrics.FaultsTotal.WithLabelValues("platform").Inc()
		// Заявка без кнопок бесполезна: откатываем запись и сообщение
		if rmErr := g.store.Remove(ctx, requestID); rmErr != nil {
			log.Error("rollback of pending approval failed", zap.Error(rmErr))
		}
		g.retract(ctx, log, requestID)
		return PlatformFault("attach controls", err)
	}
	g.metrics.PendingApprovals.Inc()

	g.auditor.Log(domain.AuditEvent{
		Kind:        domain.AuditMemberJoined,
		Title:       "Новый участник",
		Description: fmt.Sprintf("%s присоединился к серверу и ждет подтверждения", mention(member)),
		SubjectID:   subjectID,
		RequestID:   requestID,
		TraceID:     TraceID(ctx),
		Severity:    domain.SeverityInfo,
	})
	log.Info("approval request posted")
	return nil
}

// retireStale гасит кнопки и удаляет прежние заявки участника.
func (g *Gatekeeper) retireStale(ctx context.Context, log *zap.Logger, subjectID uint64) error {
	recs, err := g.store.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.SubjectID != subjectID {
			continue
		}
		if !g.claim(rec.RequestID) {
			return fmt.Errorf("%w: request %s is being decided", domain.ErrAlreadyProcessed, rec.RequestID)
		}
		err := g.retireOne(ctx, log, rec)
		g.release(rec.RequestID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (g *Gatekeeper) retireOne(ctx context.Context, log *zap.Logger, rec domain.PendingApproval) error {
	if err := g.renderer.DisableControls(ctx, rec); err != nil {
		g.metrics.FaultsTotal.WithLabelValues("platform").Inc()
		log.Warn("disable controls of stale request failed", zap.String("stale_request_id", rec.RequestID), zap.Error(err))
	}
	if err := g.store.Remove(ctx, rec.RequestID); err != nil {
		return err
	}
	g.metrics.PendingApprovals.Dec()

	g.auditor.Log(domain.AuditEvent{
		Kind:        domain.AuditRequestOrphaned,
		Title:       "Заявка заменена",
		Description: fmt.Sprintf("Участник <@%d> вернулся на сервер, прежняя заявка закрыта", rec.SubjectID),
		SubjectID:   rec.SubjectID,
		RequestID:   rec.RequestID,
		TraceID:     TraceID(ctx),
		Severity:    domain.SeverityWarning,
	})
	log.Info("stale approval request retired", zap.String("stale_request_id", rec.RequestID))
	return nil
}

func (g *Gatekeeper) retract(ctx context.Context, log *zap.Logger, requestID string) {
	if err := g.renderer.Retract(ctx, requestID); err != nil {
		log.Warn("retract request message failed", zap.Error(err))
	}
}

func mention(m domain.Member) string {
	if m.Mention != "" {
		return m.Mention
	}
	return "<@" + m.UserID + ">"
}
