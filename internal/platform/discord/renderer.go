package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
)

const (
	colorGold    = 0xF1C40F
	colorBlurple = 0x5865F2
	colorGreen   = 0x2ECC71
	colorOrange  = 0xE67E22
	colorRed     = 0xE74C3C
)

// PostRequest публикует карточку нового участника. Кнопки добавляются
// отдельно, после сохранения заявки.
func (a *Adapter) PostRequest(ctx context.Context, subject domain.Member) (string, error) {
	embed := &discordgo.MessageEmbed{
		Title:       "Новый участник",
		Description: fmt.Sprintf("%s\nID: `%s`", mentionOf(subject), subject.UserID),
		Color:       colorGold,
	}
	if subject.AvatarURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: subject.AvatarURL}
	}

	var msg *discordgo.Message
	err := a.guard.Do(ctx, "post request", false, func(ctx context.Context) error {
		var err error
		msg, err = a.session.ChannelMessageSendComplex(a.config.ApprovalChannelID,
			&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}},
			discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (a *Adapter) AttachControls(ctx context.Context, requestID, approveToken, denyToken string) error {
	return a.editControls(ctx, "attach controls", requestID, controls(approveToken, denyToken, false))
}

func (a *Adapter) DisableControls(ctx context.Context, rec domain.PendingApproval) error {
	return a.editControls(ctx, "disable controls", rec.RequestID, controls(rec.ApproveToken, rec.DenyToken, true))
}

func (a *Adapter) Retract(ctx context.Context, requestID string) error {
	return a.guard.Do(ctx, "retract request", true, func(ctx context.Context) error {
		return a.session.ChannelMessageDelete(a.config.ApprovalChannelID, requestID, discordgo.WithContext(ctx))
	})
}

func (a *Adapter) editControls(ctx context.Context, op, requestID string, rows []discordgo.MessageComponent) error {
	return a.guard.Do(ctx, op, true, func(ctx context.Context) error {
		_, err := a.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
			ID:         requestID,
			Channel:    a.config.ApprovalChannelID,
			Components: &rows,
		}, discordgo.WithContext(ctx))
		return err
	})
}

func controls(approveToken, denyToken string, disabled bool) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label:    "Подтвердить",
				Style:    discordgo.SuccessButton,
				CustomID: approveToken,
				Disabled: disabled,
			},
			discordgo.Button{
				Label:    "Отклонить",
				Style:    discordgo.DangerButton,
				CustomID: denyToken,
				Disabled: disabled,
			},
		}},
	}
}

func mentionOf(m domain.Member) string {
	if m.Mention != "" {
		return m.Mention
	}
	return "<@" + m.UserID + ">"
}
