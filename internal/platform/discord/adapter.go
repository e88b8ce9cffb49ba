package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/avast/retry-go/v5"
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
	"github.com/xela07ax/guild-gatekeeper/internal/token"
)

// Gate принимает события от адаптера.
type Gate interface {
	OnJoin(ctx context.Context, member domain.Member) error
	Activate(ctx context.Context, actor domain.Identity, token string) (domain.Outcome, error)
}

// Queue выполняет события по одному.
type Queue interface {
	Submit(ctx context.Context, name string, fn func(ctx context.Context)) error
}

// Adapter связывает gateway Discord с движком заявок и реализует
// Roster, Renderer и audit.Sink поверх REST API.
type Adapter struct {
	config  Config
	session session
	guard   *Guard
	// Журнал идет через отдельный предохранитель: сломанный канал логов
	// не должен открывать предохранитель для ролей и киков
	auditGuard *Guard
	logger     *zap.Logger

	gate  Gate
	queue Queue

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	detach  []func()
}

func NewAdapter(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	limiter := rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	return &Adapter{
		config:     config,
		guard:      NewGuard(config, "discord-rest", limiter),
		auditGuard: NewGuard(config, "discord-audit", limiter),
		logger:     config.Logger.Named("discord"),
	}, nil
}

// Bind подключает движок и очередь. Вызывается до Start.
func (a *Adapter) Bind(gate Gate, queue Queue) {
	a.gate = gate
	a.queue = queue
}

// Start открывает gateway и регистрирует обработчики событий.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return errors.New("discord: adapter already started")
	}
	if a.gate == nil || a.queue == nil {
		return errors.New("discord: adapter is not bound to an engine")
	}

	if a.session == nil {
		dg, err := discordgo.New("Bot " + a.config.Token)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
		a.session = dg
	}

	a.ctx, a.cancel = context.WithCancel(ctx)
	a.detach = append(a.detach,
		a.session.AddHandler(a.handleReady),
		a.session.AddHandler(a.handleGuildMemberAdd),
		a.session.AddHandler(a.handleInteractionCreate),
	)

	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(uint(a.config.MaxReconnectAttempts)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			a.logger.Warn("connection failed, retrying", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	).Do(a.session.Open)
	if err != nil {
		a.cancel()
		return fmt.Errorf("discord: connect: %w", err)
	}

	a.started = true
	a.logger.Info("discord adapter started", zap.String("guild_id", a.config.GuildID))
	return nil
}

// Stop снимает обработчики и закрывает соединение.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}
	for _, remove := range a.detach {
		remove()
	}
	a.detach = nil
	a.cancel()
	a.started = false
	return a.session.Close()
}

func (a *Adapter) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		a.logger.Info("bot connected", zap.String("user", r.User.Username), zap.String("user_id", r.User.ID))
	}
}

func (a *Adapter) handleGuildMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.Member == nil || m.User == nil || m.GuildID != a.config.GuildID {
		return
	}
	member := toMember(m.Member)

	err := a.queue.Submit(a.ctx, "member_join", func(ctx context.Context) {
		if err := a.gate.OnJoin(ctx, member); err != nil {
			a.logger.Error("approval request not created",
				zap.String("user_id", member.UserID), zap.Error(err))
		}
	})
	if err != nil {
		a.logger.Error("member join dropped", zap.String("user_id", member.UserID), zap.Error(err))
	}
}

func (a *Adapter) handleInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent || i.Member == nil || i.Member.User == nil {
		return
	}
	customID := i.MessageComponentData().CustomID
	if !token.Owns(customID) {
		return
	}

	// Подтверждаем нажатие сразу: у Discord три секунды на ответ,
	// а переход может ждать очереди
	err := a.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		a.logger.Warn("interaction ack failed", zap.String("interaction_id", i.ID), zap.Error(err))
		return
	}

	actor := domain.Identity{
		UserID:   i.Member.User.ID,
		Username: i.Member.User.Username,
		RoleIDs:  i.Member.Roles,
	}
	interaction := i.Interaction

	err = a.queue.Submit(a.ctx, "control_activation", func(ctx context.Context) {
		outcome, err := a.gate.Activate(ctx, actor, customID)
		a.reply(interaction, ReplyText(outcome, err))
	})
	if err != nil {
		a.logger.Error("control activation dropped", zap.String("interaction_id", i.ID), zap.Error(err))
		a.reply(interaction, ReplyText(domain.OutcomeFailed, err))
	}
}

// reply отправляет эфемерный ответ на уже подтвержденное нажатие.
func (a *Adapter) reply(interaction *discordgo.Interaction, text string) {
	_, err := a.session.FollowupMessageCreate(interaction, false, &discordgo.WebhookParams{
		Content: text,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		a.logger.Warn("interaction followup failed", zap.String("interaction_id", interaction.ID), zap.Error(err))
	}
}

// ReplyText возвращает текст, который видит модератор после нажатия.
func ReplyText(outcome domain.Outcome, err error) string {
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	switch outcome {
	case domain.OutcomeApproved:
		return "Принят"
	case domain.OutcomeDenied:
		return "Отклонён"
	case domain.OutcomeSubjectGone:
		return "Участник уже покинул сервер"
	case domain.OutcomeAlreadyHandled:
		return "Уже обработано"
	case domain.OutcomeUnauthorized:
		return "Нет прав"
	}
	return "Ошибка: неизвестный исход " + string(outcome)
}

func toMember(m *discordgo.Member) domain.Member {
	return domain.Member{
		UserID:    m.User.ID,
		Username:  m.User.Username,
		Mention:   m.User.Mention(),
		AvatarURL: m.AvatarURL(""),
		RoleIDs:   m.Roles,
		JoinedAt:  m.JoinedAt,
	}
}
