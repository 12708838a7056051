package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jose-valero/pickup-bot/internal/domain"
	"github.com/jose-valero/pickup-bot/internal/infra/storage"
)

// GuildContext viaja explícito por todo el ciclo de vida: settings del guild
// leídos de la DB + logger con el guild ya anotado.
type GuildContext struct {
	Settings domain.GuildSettings
	Log      *slog.Logger
}

func (gc GuildContext) GuildID() string { return gc.Settings.GuildID }

func (gc GuildContext) Logger() *slog.Logger {
	if gc.Log == nil {
		return slog.Default().With("guild", gc.GuildID())
	}
	return gc.Log
}

type GuildService struct {
	repo GuildStore
	log  *slog.Logger
}

func NewGuildService(r GuildStore, log *slog.Logger) *GuildService {
	if log == nil {
		log = slog.Default()
	}
	return &GuildService{repo: r, log: log}
}

// Context arma el GuildContext de un guild (crea la fila de settings si falta).
func (s *GuildService) Context(ctx context.Context, guildID string) (GuildContext, error) {
	st, err := s.repo.Get(ctx, guildID)
	if err != nil {
		return GuildContext{}, err
	}
	return GuildContext{Settings: st, Log: s.log.With("guild", guildID)}, nil
}

func (s *GuildService) Show(ctx context.Context, guildID string) (string, error) {
	st, err := s.repo.Get(ctx, guildID)
	if err != nil {
		return "", err
	}
	return formatSettings(st), nil
}

func (s *GuildService) Update(ctx context.Context, guildID string, patch storage.GuildSettingsPatch) (string, error) {
	for _, d := range []*time.Duration{patch.AfkCheckAfter, patch.AfkCheckTimeout, patch.PickingTimeout, patch.ReminderEvery} {
		if d != nil && *d < 0 {
			return "❌ Las duraciones no pueden ser negativas.", nil
		}
	}
	st, err := s.repo.Update(ctx, guildID, patch)
	if err != nil {
		return "", err
	}
	return formatSettings(st), nil
}

func formatSettings(st domain.GuildSettings) string {
	channel := "*(sin canal)*"
	if st.PickupChannelID != "" {
		channel = "<#" + st.PickupChannelID + ">"
	}
	return fmt.Sprintf(
		"**Settings de %s**\n• canal: %s\n• start_message: `%s`\n• notify_message: `%s`\n• afk_check_after: **%s**\n• afk_check_timeout: **%s**\n• picking_timeout: **%s**\n• reminder_every: **%s**",
		st.GuildID, channel, st.StartMessage, st.NotifyMessage,
		st.AfkCheckAfter, st.AfkCheckTimeout, st.PickingTimeout, st.ReminderEvery,
	)
}
