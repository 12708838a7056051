package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/jose-valero/pickup-bot/internal/infra/storage"
)

// session es lo que el Announcer y el RoleResolver usan de *discordgo.Session.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

// PanelStore guarda dónde quedó publicado el panel de cada guild.
type PanelStore interface {
	Get(ctx context.Context, guildID string) (storage.Panel, error)
	Upsert(ctx context.Context, guildID, channelID, messageID string) error
}

// custom_id de los botones del panel
const (
	btnAdd    = "pickup_add"
	btnRemove = "pickup_remove"
	btnReady  = "pickup_ready"
)
