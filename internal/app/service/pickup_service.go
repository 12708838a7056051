package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jose-valero/pickup-bot/internal/domain"
	"github.com/jose-valero/pickup-bot/internal/infra/storage"
)

// PickupService: alta / baja / edición de pickups (comandos de admin).
type PickupService struct {
	repo PickupStore
}

func NewPickupService(r PickupStore) *PickupService { return &PickupService{repo: r} }

func (s *PickupService) Create(ctx context.Context, c domain.PickupConfig) (string, error) {
	if c.TeamCount == 0 {
		c.TeamCount = 2
	}
	if c.PickMode == "" {
		c.PickMode = domain.PickModeNoTeams
	}
	if err := c.Validate(); err != nil {
		return "❌ " + err.Error(), nil
	}
	if _, err := s.repo.Get(ctx, c.GuildID, domain.ByName(c.Name)); err == nil {
		return fmt.Sprintf("❌ Ya existe un pickup **%s**.", c.Name), nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	if _, err := s.repo.Create(ctx, c); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Pickup **%s** creado (%d jugadores, %d equipos, %s).", c.Name, c.PlayerCount, c.TeamCount, c.PickMode), nil
}

// Remove borra los pickups nombrados; el estado vivo cae por cascade.
func (s *PickupService) Remove(ctx context.Context, guildID string, names ...string) (string, error) {
	cfgs, err := s.repo.GetMany(ctx, guildID, names)
	if err != nil {
		return "", err
	}
	if len(cfgs) == 0 {
		return "❌ No existe ningún pickup con ese nombre.", nil
	}
	ids := make([]int64, 0, len(cfgs))
	for _, c := range cfgs {
		ids = append(ids, c.ID)
	}
	n, err := s.repo.Remove(ctx, guildID, ids...)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🗑️ %d pickup(s) borrados.", n), nil
}

func (s *PickupService) Set(ctx context.Context, guildID, name string, patch storage.PickupPatch) (string, error) {
	if patch.PickMode != nil && !patch.PickMode.Valid() {
		return fmt.Sprintf("❌ pick_mode inválido: %q", *patch.PickMode), nil
	}
	cfg, err := s.repo.Update(ctx, guildID, domain.ByName(name), patch)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "❌ No existe ese pickup.", nil
	case domain.IsStoreFailure(err):
		return "", err
	case err != nil:
		// validación
		return "❌ " + err.Error(), nil
	}
	return formatPickup(cfg), nil
}

func (s *PickupService) List(ctx context.Context, guildID string) (string, error) {
	cfgs, err := s.repo.List(ctx, guildID)
	if err != nil {
		return "", err
	}
	if len(cfgs) == 0 {
		return "ℹ️ No hay pickups configurados. Usá `/pickup create`.", nil
	}
	lines := make([]string, 0, len(cfgs))
	for _, c := range cfgs {
		lines = append(lines, formatPickup(c))
	}
	return strings.Join(lines, "\n"), nil
}

func formatPickup(c domain.PickupConfig) string {
	var flags []string
	if c.IsDefault {
		flags = append(flags, "default")
	}
	if c.AfkCheck {
		flags = append(flags, "afk check")
	}
	if r, ok := c.WhitelistRole.Get(); ok {
		flags = append(flags, "whitelist <@&"+r+">")
	}
	if r, ok := c.BlacklistRole.Get(); ok {
		flags = append(flags, "blacklist <@&"+r+">")
	}
	if r, ok := c.CaptainRole.Get(); ok {
		flags = append(flags, "capitanes <@&"+r+">")
	}
	out := fmt.Sprintf("• **%s**: %d jugadores / %d equipos · %s", c.Name, c.PlayerCount, c.TeamCount, c.PickMode)
	if len(flags) > 0 {
		out += " · " + strings.Join(flags, ", ")
	}
	return out
}
