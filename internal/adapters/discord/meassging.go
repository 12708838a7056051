package discord

import (
	"errors"
	"log"

	"github.com/bwmarrin/discordgo"
)

// Defer efímero: los comandos pegan a la DB y pueden pasar los 3s
func DeferEphemeral(s *discordgo.Session, ic *discordgo.InteractionCreate) error {
	err := s.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Printf("DeferEphemeral error: %v", err)
	}
	return err
}

// ReplyEphemeral contesta un interaction ya diferido. Las menciones no
// pinguean: los /who y /pick las muestran como texto.
func ReplyEphemeral(s *discordgo.Session, ic *discordgo.InteractionCreate, content string) {
	if content == "" {
		content = "✅"
	}
	parts := splitMessage(content, maxMessageLen)
	for _, part := range parts {
		_, err := s.FollowupMessageCreate(ic.Interaction, true, &discordgo.WebhookParams{
			Content:         part,
			Flags:           discordgo.MessageFlagsEphemeral,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		})
		if err == nil {
			continue
		}
		// Fallback sólo si todavía no hay respuesta (webhook desconocido)
		var reqErr *discordgo.RESTError
		if errors.As(err, &reqErr) && reqErr.Message != nil && reqErr.Message.Code == discordgo.ErrCodeUnknownWebhook {
			_ = s.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: part,
					Flags:   discordgo.MessageFlagsEphemeral,
				},
			})
			return
		}
		log.Printf("ReplyEphemeral error: %v", err)
		return
	}
}
