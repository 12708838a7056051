// esta es la logica de InteractionApplicationCommand de discordgo
// aqui solo vamos a manejar logica de la interaccion del usuario y despachar a los servicios correspondientes
package discord

import (
	"context"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jose-valero/pickup-bot/internal/app/service"
	"github.com/jose-valero/pickup-bot/internal/domain"
	"github.com/jose-valero/pickup-bot/internal/infra/storage"
)

func (r *Router) handleSlashCommand(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	cmd := ic.ApplicationCommandData()
	log.Printf("cmd: %s by=%s guild=%s", cmd.Name, ic.Member.User.ID, ic.GuildID)

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("panic in cmd /%s: %v", cmd.Name, rec)
			ReplyEphemeral(s, ic, "❌ Ocurrió un error inesperado procesando el comando. Contacta con un administrador.")
		}
	}()
	defer step("cmd." + cmd.Name)()

	_ = DeferEphemeral(s, ic)
	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	gc, err := r.guilds.Context(ctx, ic.GuildID)
	if err != nil {
		ReplyEphemeral(s, ic, "⚠️ No pude leer la configuración del servidor: "+err.Error())
		return
	}

	var (
		msg          string
		refreshPanel bool
	)
	switch cmd.Name {

	//--> anotarse: sin nombre van los default
	case "add":
		raw, _ := optStr(ic, "pickups")
		msg, err = r.queue.Add(ctx, gc, member(ic), parseNames(raw)...)
		refreshPanel = true

	case "remove":
		raw, _ := optStr(ic, "pickups")
		msg, err = r.queue.Remove(ctx, gc, ic.Member.User.ID, parseNames(raw)...)
		refreshPanel = true

	case "who":
		msg, err = r.queue.Who(ctx, ic.GuildID)

	case "pick":
		player, _ := optID(ic, "player")
		name, _ := optStr(ic, "pickup")
		msg, err = r.queue.Pick(ctx, gc, ic.Member.User.ID, player, name)

	case "ready":
		msg, err = r.queue.Ready(ctx, ic.GuildID, ic.Member.User.ID)

	case "notify":
		on, _ := optBool(ic, "on")
		msg, err = r.queue.Notify(ctx, ic.GuildID, member(ic), on)

	case "expire":
		raw, _ := optStr(ic, "after")
		d, perr := parseDuration(raw)
		if perr != nil {
			msg = "❌ " + perr.Error()
			break
		}
		msg, err = r.queue.Expire(ctx, ic.GuildID, ic.Member.User.ID, d)

	case "ao":
		raw, _ := optStr(ic, "for")
		d, perr := parseDuration(raw)
		if perr != nil {
			msg = "❌ " + perr.Error()
			break
		}
		msg, err = r.queue.Ao(ctx, ic.GuildID, ic.Member.User.ID, d)

	//--> admins
	case "reset":
		if !r.requireAdminOrRoles(s, ic) {
			return
		}
		name, _ := optStr(ic, "pickup")
		msg, err = r.queue.Reset(ctx, gc, name)
		refreshPanel = true

	case "pickup":
		sub, _ := subcmdName(ic)
		if sub != "list" && !r.requireAdminOrRoles(s, ic) {
			return
		}
		msg, err = r.pickupCommand(ctx, ic, sub)

	case "settings":
		if !r.requireAdminOrRoles(s, ic) {
			return
		}
		msg, err = r.settingsCommand(ctx, ic, gc)

	case "panel":
		if !r.requireAdminOrRoles(s, ic) {
			return
		}
		if err = r.publishPanel(ctx, ic.GuildID, ic.ChannelID); err == nil {
			msg = "✅ Panel publicado aquí. Usá los botones para anotarte / salir / confirmar."
		}
	}

	if err != nil {
		log.Printf("[cmd] /%s guild=%s err=%v", cmd.Name, ic.GuildID, err)
		msg = "⚠️ No se pudo completar: " + err.Error()
	}
	ReplyEphemeral(s, ic, msg)
	if refreshPanel {
		r.refreshPanelSoon(ic.GuildID)
	}
}

func (r *Router) pickupCommand(ctx context.Context, ic *discordgo.InteractionCreate, sub string) (string, error) {
	switch sub {
	case "list":
		return r.pickups.List(ctx, ic.GuildID)

	case "remove":
		raw, _ := optStr(ic, "names")
		return r.pickups.Remove(ctx, ic.GuildID, parseNames(raw)...)

	case "create":
		name, _ := optStr(ic, "name")
		c := domain.PickupConfig{GuildID: ic.GuildID, Name: name}
		c.PlayerCount, _ = optInt(ic, "players")
		c.TeamCount, _ = optInt(ic, "teams")
		if m, ok := optStr(ic, "pick_mode"); ok {
			c.PickMode = domain.PickMode(m)
		}
		c.IsDefault, _ = optBool(ic, "default")
		c.AfkCheck, _ = optBool(ic, "afk_check")
		for opt, dst := range map[string]*domain.Optional[string]{
			"whitelist_role": &c.WhitelistRole,
			"blacklist_role": &c.BlacklistRole,
			"promotion_role": &c.PromotionRole,
			"captain_role":   &c.CaptainRole,
		} {
			if v := optRole(ic, opt); v != nil {
				*dst = *v
			}
		}
		return r.pickups.Create(ctx, c)

	case "set":
		name, _ := optStr(ic, "name")
		return r.pickups.Set(ctx, ic.GuildID, name, pickupPatch(ic))
	}
	return "Usa `/pickup create`, `/pickup set`, `/pickup remove` o `/pickup list`.", nil
}

func pickupPatch(ic *discordgo.InteractionCreate) storage.PickupPatch {
	var p storage.PickupPatch
	if v, ok := optInt(ic, "players"); ok {
		p.PlayerCount = &v
	}
	if v, ok := optInt(ic, "teams"); ok {
		p.TeamCount = &v
	}
	if v, ok := optStr(ic, "pick_mode"); ok {
		m := domain.PickMode(v)
		p.PickMode = &m
	}
	if v, ok := optBool(ic, "default"); ok {
		p.IsDefault = &v
	}
	if v, ok := optBool(ic, "afk_check"); ok {
		p.AfkCheck = &v
	}
	if clearRoles, _ := optBool(ic, "clear_roles"); clearRoles {
		none := domain.None[string]()
		p.WhitelistRole, p.BlacklistRole, p.PromotionRole, p.CaptainRole = &none, &none, &none, &none
	}
	if v := optRole(ic, "whitelist_role"); v != nil {
		p.WhitelistRole = v
	}
	if v := optRole(ic, "blacklist_role"); v != nil {
		p.BlacklistRole = v
	}
	if v := optRole(ic, "promotion_role"); v != nil {
		p.PromotionRole = v
	}
	if v := optRole(ic, "captain_role"); v != nil {
		p.CaptainRole = v
	}
	return p
}

func (r *Router) settingsCommand(ctx context.Context, ic *discordgo.InteractionCreate, gc service.GuildContext) (string, error) {
	if sub, _ := subcmdName(ic); sub != "set" {
		return r.guilds.Show(ctx, gc.GuildID())
	}
	patch, err := settingsPatch(ic)
	if err != nil {
		return "❌ " + err.Error(), nil
	}
	return r.guilds.Update(ctx, gc.GuildID(), patch)
}

func settingsPatch(ic *discordgo.InteractionCreate) (storage.GuildSettingsPatch, error) {
	var p storage.GuildSettingsPatch
	if v, ok := optID(ic, "channel"); ok {
		p.PickupChannelID = &v
	}
	if v, ok := optStr(ic, "start_message"); ok {
		p.StartMessage = &v
	}
	if v, ok := optStr(ic, "notify_message"); ok {
		p.NotifyMessage = &v
	}
	for opt, dst := range map[string]**time.Duration{
		"afk_check_after":   &p.AfkCheckAfter,
		"afk_check_timeout": &p.AfkCheckTimeout,
		"picking_timeout":   &p.PickingTimeout,
		"reminder_every":    &p.ReminderEvery,
	} {
		raw, ok := optStr(ic, opt)
		if !ok {
			continue
		}
		d, err := parseDuration(raw)
		if err != nil {
			return p, err
		}
		*dst = &d
	}
	return p, nil
}
