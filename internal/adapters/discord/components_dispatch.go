package discord

import (
	"context"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"
)

// botones del panel: mismos servicios que los slash commands
func (r *Router) handleMessageComponent(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	data := ic.MessageComponentData()

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("panic in component %s: %v", data.CustomID, rec)
			ReplyEphemeral(s, ic, "❌ Ocurrió un error inesperado.")
		}
	}()

	_ = DeferEphemeral(s, ic)

	if !r.clickLimiter.Allow(ic.Member.User.ID) {
		ReplyEphemeral(s, ic, "⏳ Esperá un segundo…")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	gc, err := r.guilds.Context(ctx, ic.GuildID)
	if err != nil {
		ReplyEphemeral(s, ic, "⚠️ No pude leer la configuración del servidor: "+err.Error())
		return
	}

	var msg string
	switch data.CustomID {
	case btnAdd:
		defer step("component.pickup_add")()
		msg, err = r.queue.Add(ctx, gc, member(ic))
	case btnRemove:
		msg, err = r.queue.Remove(ctx, gc, ic.Member.User.ID)
	case btnReady:
		msg, err = r.queue.Ready(ctx, ic.GuildID, ic.Member.User.ID)
	default:
		return
	}
	if err != nil {
		log.Printf("[component] %s guild=%s err=%v", data.CustomID, ic.GuildID, err)
		msg = "⚠️ No se pudo completar: " + err.Error()
	}
	ReplyEphemeral(s, ic, msg)
	r.refreshPanelSoon(ic.GuildID)
}
