package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jose-valero/pickup-bot/internal/domain"
)

// pickupFile es el formato de import:
//
//	guild: "123"
//	pickups:
//	  - name: 4v4
//	    players: 8
//	    pick_mode: manual
type pickupFile struct {
	Guild   string       `yaml:"guild"`
	Pickups []pickupYAML `yaml:"pickups"`
}

type pickupYAML struct {
	Name          string `yaml:"name"`
	Players       int    `yaml:"players"`
	Teams         *int   `yaml:"teams"`
	PickMode      string `yaml:"pick_mode"`
	Default       bool   `yaml:"default"`
	AfkCheck      bool   `yaml:"afk_check"`
	WhitelistRole string `yaml:"whitelist_role"`
	BlacklistRole string `yaml:"blacklist_role"`
	PromotionRole string `yaml:"promotion_role"`
	CaptainRole   string `yaml:"captain_role"`
}

func role(s string) domain.Optional[string] {
	if s = strings.TrimSpace(s); s == "" {
		return domain.None[string]()
	}
	return domain.Some(s)
}

// decodePickups lee y valida el archivo completo; un error en cualquier
// pickup aborta el import entero.
func decodePickups(r io.Reader, guildOverride string) ([]domain.PickupConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f pickupFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("archivo vacío")
		}
		return nil, err
	}
	guild := f.Guild
	if guildOverride != "" {
		guild = guildOverride
	}
	if guild == "" {
		return nil, errors.New("falta guild")
	}

	seen := map[string]bool{}
	out := make([]domain.PickupConfig, 0, len(f.Pickups))
	for i, p := range f.Pickups {
		c := domain.PickupConfig{
			GuildID:       guild,
			Name:          strings.TrimSpace(p.Name),
			PlayerCount:   p.Players,
			TeamCount:     2,
			IsDefault:     p.Default,
			AfkCheck:      p.AfkCheck,
			PickMode:      domain.PickModeNoTeams,
			WhitelistRole: role(p.WhitelistRole),
			BlacklistRole: role(p.BlacklistRole),
			PromotionRole: role(p.PromotionRole),
			CaptainRole:   role(p.CaptainRole),
		}
		if p.Teams != nil {
			c.TeamCount = *p.Teams
		}
		if p.PickMode != "" {
			c.PickMode = domain.PickMode(p.PickMode)
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("pickups[%d]: %w", i, err)
		}
		key := strings.ToLower(c.Name)
		if seen[key] {
			return nil, fmt.Errorf("pickups[%d]: %q repetido", i, c.Name)
		}
		seen[key] = true
		out = append(out, c)
	}
	return out, nil
}
