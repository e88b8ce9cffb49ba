package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
)

// Лимит embed в одном сообщении
const maxEmbeds = 10

// WriteBatch отправляет пачку событий аудита в канал логов, по embed на событие.
func (a *Adapter) WriteBatch(ctx context.Context, events []domain.AuditEvent) error {
	for start := 0; start < len(events); start += maxEmbeds {
		end := min(start+maxEmbeds, len(events))

		embeds := make([]*discordgo.MessageEmbed, 0, end-start)
		for _, e := range events[start:end] {
			embeds = append(embeds, auditEmbed(e))
		}

		err := a.auditGuard.Do(ctx, "audit", false, func(ctx context.Context) error {
			_, err := a.session.ChannelMessageSendComplex(a.config.AuditChannelID,
				&discordgo.MessageSend{Embeds: embeds}, discordgo.WithContext(ctx))
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func auditEmbed(e domain.AuditEvent) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       severityColor(e.Severity),
		Timestamp:   e.Timestamp.UTC().Format(time.RFC3339),
	}
	switch {
	case e.ActorID != "":
		embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%s | ID: %s", e.ActorName, e.ActorID)}
	case e.SubjectID != 0:
		embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("ID: %d", e.SubjectID)}
	}
	return embed
}

func severityColor(s domain.Severity) int {
	switch s {
	case domain.SeveritySuccess:
		return colorGreen
	case domain.SeverityWarning:
		return colorOrange
	case domain.SeverityDanger:
		return colorRed
	case domain.SeverityInfo:
		return colorGold
	}
	return colorBlurple
}
