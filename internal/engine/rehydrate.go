package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/guild-gatekeeper/internal/store"
)

// RehydrationReport описывает итог восстановления кнопок после рестарта.
type RehydrationReport struct {
	Total      int
	Reattached int
	Skipped    int
	Duration   time.Duration
}

// Rehydrator заново привязывает кнопки всех живых заявок к их сообщениям.
// Должен отработать до того, как Loop начнет принимать события.
type Rehydrator struct {
	store    store.Store
	renderer Renderer
	metrics  *Metrics
	logger   *zap.Logger
}

func NewRehydrator(st store.Store, renderer Renderer, metrics *Metrics, logger *zap.Logger) *Rehydrator {
	return &Rehydrator{store: st, renderer: renderer, metrics: metrics, logger: logger.Named("rehydrator")}
}

// Rehydrate фатален только при недоступном хранилище. Сбой по отдельной
// заявке (сообщение удалено, ошибка платформы) логируется, запись остается.
func (r *Rehydrator) Rehydrate(ctx context.Context) (RehydrationReport, error) {
	start := time.Now()

	recs, err := r.store.ListAll(ctx)
	if err != nil {
		return RehydrationReport{}, err
	}

	report := RehydrationReport{Total: len(recs)}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := r.renderer.AttachControls(ctx, rec.RequestID, rec.ApproveToken, rec.DenyToken); err != nil {
			report.Skipped++
			r.metrics.RehydratedTotal.WithLabelValues("skipped").Inc()
			r.logger.Warn("rehydrate pending approval failed",
				zap.String("request_id", rec.RequestID),
				zap.Uint64("subject_id", rec.SubjectID),
				zap.Error(err),
			)
			continue
		}
		report.Reattached++
		r.metrics.RehydratedTotal.WithLabelValues("attached").Inc()
	}

	r.metrics.PendingApprovals.Set(float64(report.Total))
	report.Duration = time.Since(start)
	r.logger.Info("rehydration finished",
		zap.Int("total", report.Total),
		zap.Int("reattached", report.Reattached),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}
