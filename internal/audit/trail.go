package audit

/*
Файл trail.go — журнал модерации (Audit Trail) для канала логов.

- Non-blocking Logging: Log не ждет доставки. Переход конечного автомата
  никогда не блокируется и не падает из-за аудита.
- Batching: события копятся и уходят пачкой (до BatchSize) по таймеру или при
  заполнении пачки. Для Discord пачка = одно сообщение с несколькими embed.
- Drain Pattern: Stop закрывает вход и ждет финальный flush.
- Best-effort: ошибка Sink только логируется.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
)

// Sink определяет, куда физически уходят события
type Sink interface {
	// WriteBatch доставляет пачку событий за один раз.
	// Слайс переиспользуется после возврата, хранить его нельзя.
	WriteBatch(ctx context.Context, events []domain.AuditEvent) error
}

type Auditor interface {
	Log(event domain.AuditEvent)
}

// Options задает размеры буфера и пачки.
type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

func (o *Options) applyDefaults() {
	if o.BufferSize <= 0 {
		o.BufferSize = 1000
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10 // лимит embed в одном сообщении Discord
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
}

type Trail struct {
	ch     chan domain.AuditEvent
	sink   Sink
	opts   Options
	logger *zap.Logger
	wg     sync.WaitGroup
	// Защита от Log после Stop
	isClosed int32
	dropped  atomic.Int64
	stopOnce sync.Once
}

func NewTrail(sink Sink, opts Options, logger *zap.Logger) *Trail {
	opts.applyDefaults()
	return &Trail{
		ch:     make(chan domain.AuditEvent, opts.BufferSize),
		sink:   sink,
		opts:   opts,
		logger: logger.Named("audit"),
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop запирает вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	t.stopOnce.Do(func() {
		atomic.StoreInt32(&t.isClosed, 1)
		// Даем текущим Log проскочить
		time.Sleep(10 * time.Millisecond)

		t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
		close(t.ch)
		t.wg.Wait()
		t.logger.Info("audit trail stopped gracefully")
	})
}

func (t *Trail) Log(event domain.AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.dropped.Add(1)
		t.logger.Warn("audit event dropped: trail is stopping",
			zap.String("id", event.ID), zap.String("kind", string(event.Kind)))
		return
	}

	// Load Shedding: при переполнении не ждем, а пишем событие в обычный лог
	select {
	case t.ch <- event:
	default:
		t.dropped.Add(1)
		t.logger.Error("audit_buffer_overflow",
			zap.String("kind", string(event.Kind)),
			zap.String("actor_id", event.ActorID),
			zap.Uint64("subject_id", event.SubjectID),
		)
	}
}

// Len возвращает заполненность буфера (для метрик).
func (t *Trail) Len() int { return len(t.ch) }

// Dropped считает события, потерянные из-за переполнения или остановки.
func (t *Trail) Dropped() int64 { return t.dropped.Load() }

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]domain.AuditEvent, 0, t.opts.BatchSize)
	ticker := time.NewTicker(t.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст может быть уже закрыт
		ctx, cancel := context.WithTimeout(context.Background(), t.opts.WriteTimeout)
		if err := t.sink.WriteBatch(ctx, batch); err != nil {
			t.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				flush() // Финальный сброс
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= t.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
