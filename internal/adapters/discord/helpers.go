package discord

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jose-valero/pickup-bot/internal/domain"
)

var reMention = regexp.MustCompile(`<@[!&]?(\d+)>`)

// parseIDs acepta menciones o ids sueltos separados por espacio.
func parseIDs(raw string) []string {
	ids := []string{}
	for _, tok := range strings.Fields(raw) {
		if m := reMention.FindStringSubmatch(tok); len(m) == 2 {
			ids = append(ids, m[1])
			continue
		}
		if _, err := strconv.ParseUint(tok, 10, 64); err == nil {
			ids = append(ids, tok)
		}
	}
	return ids
}

// parseNames separa por espacios o comas y descarta vacíos.
func parseNames(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ' ' || r == ',' })
}

// parseDuration acepta "0", segundos sueltos ("90") o el formato de Go ("1h30m").
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("duración inválida %q (ej: 90, 30s, 5m, 1h30m)", raw)
	}
	return d, nil
}

// options aplana las opciones del comando (o del subcomando) por nombre.
func options(ic *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := map[string]*discordgo.ApplicationCommandInteractionDataOption{}
	if ic.Type != discordgo.InteractionApplicationCommand {
		return out
	}
	for _, o := range ic.ApplicationCommandData().Options {
		if o.Type == discordgo.ApplicationCommandOptionSubCommand {
			for _, so := range o.Options {
				out[so.Name] = so
			}
			continue
		}
		out[o.Name] = o
	}
	return out
}

func optStr(ic *discordgo.InteractionCreate, name string) (string, bool) {
	o, ok := options(ic)[name]
	if !ok || o.Type != discordgo.ApplicationCommandOptionString {
		return "", false
	}
	return o.StringValue(), true
}

func optBool(ic *discordgo.InteractionCreate, name string) (bool, bool) {
	o, ok := options(ic)[name]
	if !ok || o.Type != discordgo.ApplicationCommandOptionBoolean {
		return false, false
	}
	return o.BoolValue(), true
}

func optInt(ic *discordgo.InteractionCreate, name string) (int, bool) {
	o, ok := options(ic)[name]
	if !ok || o.Type != discordgo.ApplicationCommandOptionInteger {
		return 0, false
	}
	return int(o.IntValue()), true
}

// optID devuelve el id crudo de opciones user / role / channel.
func optID(ic *discordgo.InteractionCreate, name string) (string, bool) {
	o, ok := options(ic)[name]
	if !ok {
		return "", false
	}
	switch o.Type {
	case discordgo.ApplicationCommandOptionUser,
		discordgo.ApplicationCommandOptionRole,
		discordgo.ApplicationCommandOptionChannel,
		discordgo.ApplicationCommandOptionMentionable:
		if s, ok := o.Value.(string); ok {
			return s, true
		}
	}
	return "", false
}

func optRole(ic *discordgo.InteractionCreate, name string) *domain.Optional[string] {
	id, ok := optID(ic, name)
	if !ok {
		return nil
	}
	v := domain.Some(id)
	return &v
}

func subcmdName(ic *discordgo.InteractionCreate) (string, bool) {
	if ic.Type != discordgo.InteractionApplicationCommand {
		return "", false
	}
	for _, o := range ic.ApplicationCommandData().Options {
		if o.Type == discordgo.ApplicationCommandOptionSubCommand {
			return o.Name, true
		}
	}
	return "", false
}

// maxMessageLen es el límite de contenido de un mensaje de Discord.
const maxMessageLen = 2000

// splitMessage corta en renglones sin pasarse de max runas por parte.
func splitMessage(msg string, max int) []string {
	if len([]rune(msg)) <= max {
		return []string{msg}
	}
	var (
		parts []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			parts = append(parts, string(cur))
			cur = nil
		}
	}
	for _, line := range strings.SplitAfter(msg, "\n") {
		rl := []rune(line)
		if len(cur)+len(rl) > max {
			flush()
		}
		for len(rl) > max {
			parts = append(parts, string(rl[:max]))
			rl = rl[max:]
		}
		cur = append(cur, rl...)
	}
	flush()
	return parts
}
