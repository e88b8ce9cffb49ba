package discord

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// Config holds configuration for the Discord adapter.
type Config struct {
	// токен бота (обязателен)
	Token string

	GuildID           string
	ApprovalChannelID string
	// AuditChannelID — пусто, если журнал пишется только в лог
	AuditChannelID string

	// попытки открыть gateway при старте
	MaxReconnectAttempts int

	// RateLimit — общий лимит REST-вызовов в секунду поверх лимитов самой discordgo
	RateLimit float64
	RateBurst int

	// повторы идемпотентных вызовов при 5xx и троттлинге
	RetryAttempts uint

	// BreakerFailures подряд открывают предохранитель на BreakerTimeout
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	// CallTimeout ограничивает один REST-вызов
	CallTimeout time.Duration

	Logger *zap.Logger
}

// Validate проверяет обязательные поля и проставляет значения по умолчанию.
func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New("discord: token is required")
	}
	if c.GuildID == "" {
		return errors.New("discord: guild id is required")
	}
	if c.ApprovalChannelID == "" {
		return errors.New("discord: approval channel id is required")
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.RateLimit == 0 {
		c.RateLimit = 5 // Conservative default for Discord
	}
	if c.RateBurst == 0 {
		c.RateBurst = 10
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout == 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}
