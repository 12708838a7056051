package discord

import (
	"context"
	"fmt"
	"slices"

	"github.com/bwmarrin/discordgo"
)

// Announcer entrega los mensajes del ciclo de vida. No reintenta: el
// orquestador loguea y cuenta cada fallo.
type Announcer struct {
	s session
}

func NewAnnouncer(s session) *Announcer { return &Announcer{s: s} }

func (a *Announcer) SendStart(ctx context.Context, channelID, msg string) error {
	return a.send(ctx, channelID, msg)
}

func (a *Announcer) SendNotice(ctx context.Context, channelID, msg string) error {
	return a.send(ctx, channelID, msg)
}

// SendDirect abre (o reusa) el DM del jugador.
func (a *Announcer) SendDirect(ctx context.Context, playerID, msg string) error {
	ch, err := a.s.UserChannelCreate(playerID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm: %w", err)
	}
	return a.send(ctx, ch.ID, msg)
}

func (a *Announcer) send(ctx context.Context, channelID, msg string) error {
	for _, part := range splitMessage(msg, maxMessageLen) {
		if _, err := a.s.ChannelMessageSend(channelID, part, discordgo.WithContext(ctx)); err != nil {
			return err
		}
	}
	return nil
}

// Roles resuelve roles de miembros contra la API (captain_role).
type Roles struct {
	s session
}

func NewRoles(s session) *Roles { return &Roles{s: s} }

func (r *Roles) HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error) {
	m, err := r.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return false, err
	}
	return slices.Contains(m.Roles, roleID), nil
}
