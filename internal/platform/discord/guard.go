package discord

/*
Файл guard.go — защита REST-вызовов к Discord.

Порядок: общий лимитер -> предохранитель -> повторы. Повторяются только
идемпотентные вызовы (роль, кик, правка/удаление сообщения) и только при
троттлинге или 5xx. Публикация нового сообщения не повторяется никогда.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Guard struct {
	cb          *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
	attempts    uint
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewGuard создает защиту со своим предохранителем. Лимитер может быть общим
// для нескольких Guard: бюджет запросов у бота один.
func NewGuard(cfg Config, name string, limiter *rate.Limiter) *Guard {
	logger := cfg.Logger.Named("guard").With(zap.String("breaker", name))
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     cfg.BreakerTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || benign(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Guard{
		cb:          cb,
		limiter:     limiter,
		attempts:    cfg.RetryAttempts,
		callTimeout: cfg.CallTimeout,
		logger:      logger,
	}
}

// Do выполняет вызов fn. idempotent=false отключает повторы.
// Ошибка уже прошла через classify.
func (g *Guard) Do(ctx context.Context, op string, idempotent bool, fn func(ctx context.Context) error) error {
	// 1. Rate Limiter
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit wait: %w", op, err)
	}

	attempts := g.attempts
	if !idempotent {
		attempts = 1
	}

	// 2. Circuit Breaker
	_, err := g.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(attempts),
			retry.LastErrorOnly(true),
			retry.RetryIf(transient),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
			defer cancel()
			return classify(fn(tCtx))
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		g.logger.Warn("discord call rejected by circuit breaker", zap.String("op", op))
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// State отдает состояние предохранителя для health-проверки.
func (g *Guard) State() gobreaker.State {
	return g.cb.State()
}
