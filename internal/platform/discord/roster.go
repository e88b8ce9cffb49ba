package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
)

// Member читает участника через REST, а не из кэша состояния: решение
// принимается по актуальным данным.
func (a *Adapter) Member(ctx context.Context, userID string) (domain.Member, error) {
	var m *discordgo.Member
	err := a.guard.Do(ctx, "guild member", true, func(ctx context.Context) error {
		var err error
		m, err = a.session.GuildMember(a.config.GuildID, userID, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return domain.Member{}, err
	}
	if m.User == nil {
		m.User = &discordgo.User{ID: userID}
	}
	return toMember(m), nil
}

func (a *Adapter) GrantRole(ctx context.Context, userID, roleID string) error {
	return a.guard.Do(ctx, "grant role", true, func(ctx context.Context) error {
		return a.session.GuildMemberRoleAdd(a.config.GuildID, userID, roleID, discordgo.WithContext(ctx))
	})
}

func (a *Adapter) RemoveMember(ctx context.Context, userID, reason string) error {
	return a.guard.Do(ctx, "remove member", true, func(ctx context.Context) error {
		return a.session.GuildMemberDeleteWithReason(a.config.GuildID, userID, reason, discordgo.WithContext(ctx))
	})
}
