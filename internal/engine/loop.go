package engine

/*
Файл loop.go — однопоточная очередь событий платформы.

Обработчики discordgo работают в своих горутинах; здесь они только ставят работу
в очередь. Единственный воркер выполняет вступления и нажатия строго по одному
в порядке поступления. До Start события копятся в буфере (идет восстановление).
*/

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var ErrLoopStopped = errors.New("event loop stopped")

type job struct {
	name string
	fn   func(ctx context.Context)
}

type Loop struct {
	queue  chan job
	stop   chan struct{}
	logger *zap.Logger

	wg       sync.WaitGroup
	started  atomic.Bool
	stopOnce sync.Once
	pending  atomic.Int64
}

func NewLoop(size int, logger *zap.Logger) *Loop {
	if size <= 0 {
		size = 256
	}
	return &Loop{
		queue:  make(chan job, size),
		stop:   make(chan struct{}),
		logger: logger.Named("loop"),
	}
}

// Submit ставит работу в очередь. Блокируется, пока в буфере нет места.
// Каждая работа получает свой trace_id.
func (l *Loop) Submit(ctx context.Context, name string, fn func(ctx context.Context)) error {
	select {
	case <-l.stop:
		return ErrLoopStopped
	default:
	}

	select {
	case l.queue <- job{name: name, fn: fn}:
		l.pending.Add(1)
		return nil
	case <-l.stop:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start запускает воркер. Повторный вызов ничего не делает.
func (l *Loop) Start(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	l.wg.Add(1)
	go l.run(ctx)
}

// Stop дожидается текущей работы; все, что еще в очереди, отбрасывается.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
		l.wg.Wait()
		if n := len(l.queue); n > 0 {
			l.logger.Warn("event loop stopped with queued events", zap.Int("dropped", n))
		}
	})
}

// Pending возвращает число событий в очереди.
func (l *Loop) Pending() int64 { return l.pending.Load() }

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()
	for {
		// Остановка важнее очереди
		select {
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		case j := <-l.queue:
			l.pending.Add(-1)
			l.exec(ctx, j)
		}
	}
}

func (l *Loop) exec(ctx context.Context, j job) {
	jobCtx := WithTraceID(ctx, "")
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event handler panicked",
				zap.String("event", j.name),
				zap.String("trace_id", TraceID(jobCtx)),
				zap.Any("panic", r),
			)
		}
	}()
	j.fn(jobCtx)
}
