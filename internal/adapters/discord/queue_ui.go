package discord

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jose-valero/pickup-bot/internal/domain"
)

// atajos de tunning
const (
	uiDebounce   = 80 * time.Millisecond
	ctxRenderMax = 2 * time.Second
	// el arranque corre en otra goroutine: un segundo repaint lo alcanza
	uiSettle = 3 * time.Second
)

// publishPanel postea el panel en ESTE canal y lo recuerda para los refresh.
func (r *Router) publishPanel(ctx context.Context, guildID, channelID string) error {
	embed, comps, err := r.renderPanel(ctx, guildID)
	if err != nil {
		return err
	}
	msg, err := r.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: []discordgo.MessageComponent{comps},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	return r.panels.Upsert(ctx, guildID, channelID, msg.ID)
}

// refreshPanelSoon repinta ya (con debounce) y otra vez cuando el arranque
// en background pudo haber vaciado la cola.
func (r *Router) refreshPanelSoon(guildID string) {
	r.refreshPanel(guildID)
	time.AfterFunc(uiSettle, func() { r.refreshPanel(guildID) })
}

// refreshPanel: debounce + re-render + edit.
func (r *Router) refreshPanel(guildID string) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()
	if t := r.refreshTimers[guildID]; t != nil {
		t.Stop()
	}
	r.refreshTimers[guildID] = time.AfterFunc(uiDebounce, func() {
		defer step("ui.refresh")()
		ctx, cancel := context.WithTimeout(context.Background(), ctxRenderMax)
		defer cancel()

		p, err := r.panels.Get(ctx, guildID)
		if errors.Is(err, domain.ErrNotFound) {
			return
		}
		if err != nil {
			log.Printf("[ui.refresh] get panel guild=%s err=%v", guildID, err)
			return
		}
		embed, comps, err := r.renderPanel(ctx, guildID)
		if err != nil {
			log.Printf("[ui.refresh] render guild=%s err=%v", guildID, err)
			return
		}
		em := []*discordgo.MessageEmbed{embed}
		cc := []discordgo.MessageComponent{comps}
		_, err = r.s.ChannelMessageEditComplex(&discordgo.MessageEdit{
			Channel:    p.ChannelID,
			ID:         p.MessageID,
			Embeds:     &em,
			Components: &cc,
		}, discordgo.WithContext(ctx))
		if err != nil {
			var re *discordgo.RESTError
			if errors.As(err, &re) && re.Response != nil {
				log.Printf("[ui.edit] status=%d retryAfter=%s body=%s",
					re.Response.StatusCode, re.Response.Header.Get("Retry-After"), string(re.ResponseBody))
				return
			}
			log.Printf("[ui.edit] err=%v", err)
		}
	})
}

// renderPanel: el mismo texto de /who + botones.
func (r *Router) renderPanel(ctx context.Context, guildID string) (*discordgo.MessageEmbed, discordgo.MessageComponent, error) {
	who, err := r.queue.Who(ctx, guildID)
	if err != nil {
		return nil, nil, err
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Pickups",
		Description: who,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
	comps := discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{
				Style:    discordgo.PrimaryButton,
				Label:    "Anotarme",
				CustomID: btnAdd,
				Emoji:    &discordgo.ComponentEmoji{Name: "🌕"},
			},
			discordgo.Button{
				Style:    discordgo.SecondaryButton,
				Label:    "Chau",
				CustomID: btnRemove,
				Emoji:    &discordgo.ComponentEmoji{Name: "👋"},
			},
			discordgo.Button{
				Style:    discordgo.SuccessButton,
				Label:    "Ready",
				CustomID: btnReady,
				Emoji:    &discordgo.ComponentEmoji{Name: "✅"},
			},
		},
	}
	return embed, comps, nil
}
