package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
)

// LogSink пишет события в zap. Используется, когда канал аудита не задан.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit-sink")}
}

func (s *LogSink) WriteBatch(_ context.Context, events []domain.AuditEvent) error {
	for _, e := range events {
		s.logger.Info(e.Title,
			zap.String("id", e.ID),
			zap.String("kind", string(e.Kind)),
			zap.String("description", e.Description),
			zap.String("actor_id", e.ActorID),
			zap.Uint64("subject_id", e.SubjectID),
			zap.String("request_id", e.RequestID),
			zap.String("trace_id", e.TraceID),
			zap.String("severity", string(e.Severity)),
			zap.Time("timestamp", e.Timestamp),
		)
	}
	return nil
}
