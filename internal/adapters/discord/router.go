package discord

import (
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jose-valero/pickup-bot/internal/app/service"
)

type Router struct {
	s *discordgo.Session
	// "" = comandos globales
	guildID string

	guilds  *service.GuildService
	queue   *service.QueueService
	pickups *service.PickupService
	panels  PanelStore

	adminRoleIDs []string
	clickLimiter *userLimiter

	refreshMu     sync.Mutex
	refreshTimers map[string]*time.Timer
}

func NewRouter(
	s *discordgo.Session,
	guildID string,
	guilds *service.GuildService,
	queue *service.QueueService,
	pickups *service.PickupService,
	panels PanelStore,
	adminRoleIDs []string,
) *Router {
	return &Router{
		s:             s,
		guildID:       guildID,
		guilds:        guilds,
		queue:         queue,
		pickups:       pickups,
		panels:        panels,
		adminRoleIDs:  adminRoleIDs,
		clickLimiter:  newUserLimiter(time.Second),
		refreshTimers: map[string]*time.Timer{},
	}
}

func (r *Router) Register() error {
	appID := r.s.State.User.ID
	for _, cmd := range Commands {
		if _, err := r.s.ApplicationCommandCreate(appID, r.guildID, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) Handlers() {
	r.s.AddHandler(func(s *discordgo.Session, ic *discordgo.InteractionCreate) {
		if ic.Member == nil || ic.Member.User == nil {
			// DMs: nada que hacer, todo es por guild
			return
		}
		switch ic.Type {
		case discordgo.InteractionApplicationCommand:
			r.handleSlashCommand(s, ic)
		case discordgo.InteractionMessageComponent:
			r.handleMessageComponent(s, ic)
		}
	})
	log.Printf("[router] handlers listos (guild=%q)", r.guildID)
}

// member arma el service.Member con el nick visible en el guild.
func member(ic *discordgo.InteractionCreate) service.Member {
	m := ic.Member
	nick := m.Nick
	if nick == "" {
		nick = m.User.GlobalName
	}
	if nick == "" {
		nick = m.User.Username
	}
	return service.Member{ID: m.User.ID, Nick: nick, Roles: m.Roles}
}
