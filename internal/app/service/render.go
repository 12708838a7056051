package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jose-valero/pickup-bot/internal/domain"
)

// MessageContext es lo que puede aparecer en los templates de start / notify.
type MessageContext struct {
	PickupName string
	Players    []string
	Teams      []domain.Team
	Captains   []string
}

// TemplateRenderer reemplaza los tokens conocidos. Los desconocidos quedan tal cual.
//
//	%pickup    nombre del pickup
//	%players   menciones de todos los jugadores
//	%#players  cantidad de jugadores
//	%teams     un renglón por equipo
//	%captains  menciones de los capitanes
type TemplateRenderer struct{}

// Render devuelve "" si no hay nada que mandar.
func (TemplateRenderer) Render(tpl string, mc MessageContext) string {
	if strings.TrimSpace(tpl) == "" {
		return ""
	}
	r := strings.NewReplacer(
		"%pickup", mc.PickupName,
		"%#players", strconv.Itoa(len(mc.Players)),
		"%players", mentions(mc.Players),
		"%teams", formatTeams(mc.Teams),
		"%captains", mentions(mc.Captains),
	)
	return strings.TrimSpace(r.Replace(tpl))
}

func mention(id string) string { return "<@" + id + ">" }

func mentions(ids []string) string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, mention(id))
	}
	return strings.Join(out, " ")
}

func formatTeams(teams []domain.Team) string {
	if len(teams) == 0 {
		return ""
	}
	lines := make([]string, 0, len(teams))
	for _, t := range teams {
		ps := make([]string, 0, len(t.Players))
		for _, p := range t.Players {
			if c, ok := t.Captain.Get(); ok && c == p {
				ps = append(ps, mention(p)+" (C)")
				continue
			}
			ps = append(ps, mention(p))
		}
		lines = append(lines, fmt.Sprintf("**%s**: %s", t.Label, strings.Join(ps, ", ")))
	}
	return strings.Join(lines, "\n")
}
