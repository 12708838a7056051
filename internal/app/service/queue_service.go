package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jose-valero/pickup-bot/internal/domain"
)

// Member es lo que el adapter sabe del usuario que ejecuta el comando.
type Member struct {
	ID    string
	Nick  string
	Roles []string
}

func (m Member) hasRole(role string) bool { return slices.Contains(m.Roles, role) }

type QueueService struct {
	pickups PickupStore
	state   StateStore
	players PlayerStore
	orch    *Orchestrator
	ann     Announcer
	now     func() time.Time
}

func NewQueueService(pickups PickupStore, state StateStore, players PlayerStore, orch *Orchestrator, ann Announcer) *QueueService {
	return &QueueService{pickups: pickups, state: state, players: players, orch: orch, ann: ann, now: time.Now}
}

// Add anota al miembro en los pickups nombrados (o en los default). Si el
// add completa un pickup, el ciclo de vida arranca en otra goroutine.
func (s *QueueService) Add(ctx context.Context, gc GuildContext, m Member, names ...string) (string, error) {
	var (
		cfgs []domain.PickupConfig
		err  error
	)
	if len(names) == 0 {
		cfgs, err = s.pickups.Defaults(ctx, gc.GuildID())
	} else {
		cfgs, err = s.pickups.GetMany(ctx, gc.GuildID(), names)
	}
	if err != nil {
		return "", err
	}
	if len(cfgs) == 0 {
		if len(names) == 0 {
			return "ℹ️ No hay pickups por defecto. Usá `/add pickup:<nombre>`.", nil
		}
		return "❌ No existe ningún pickup con ese nombre.", nil
	}

	if err := s.players.Upsert(ctx, gc.GuildID(), m.ID, m.Nick); err != nil {
		return "", err
	}

	var added, skipped []string
	for _, cfg := range cfgs {
		if reason := s.restricted(cfg, m); reason != "" {
			skipped = append(skipped, fmt.Sprintf("**%s** (%s)", cfg.Name, reason))
			continue
		}
		filled, err := s.state.AddPlayer(ctx, gc.GuildID(), cfg.ID, m.ID)
		switch {
		case errors.Is(err, domain.ErrAlreadyQueued):
			continue
		case errors.Is(err, domain.ErrPickupFull):
			skipped = append(skipped, fmt.Sprintf("**%s** (lleno)", cfg.Name))
			continue
		case errors.Is(err, domain.ErrPickupInProgress):
			skipped = append(skipped, fmt.Sprintf("**%s** (ya arrancando)", cfg.Name))
			continue
		case err != nil:
			return "", err
		}
		added = append(added, "**"+cfg.Name+"**")
		if filled {
			gc.Logger().Info("pickup filled", "pickup", cfg.Name, "by", m.ID)
			s.orch.Go(gc, cfg.ID)
		}
	}

	var b strings.Builder
	if len(added) > 0 {
		fmt.Fprintf(&b, "✅ %s te anotaste en: %s", m.Nick, strings.Join(added, ", "))
	} else {
		b.WriteString("ℹ️ No te anotaste en nada nuevo.")
	}
	if len(skipped) > 0 {
		fmt.Fprintf(&b, "\n⚠️ Salteados: %s", strings.Join(skipped, ", "))
	}
	return b.String(), nil
}

func (s *QueueService) restricted(cfg domain.PickupConfig, m Member) string {
	if role, ok := cfg.WhitelistRole.Get(); ok && !m.hasRole(role) {
		return "rol requerido"
	}
	if role, ok := cfg.BlacklistRole.Get(); ok && m.hasRole(role) {
		return "rol bloqueado"
	}
	return ""
}

// Remove saca al jugador de los pickups nombrados (o de todos). Si alguno
// estaba en afk check o picking, vuelve a fill en la misma tx del dequeue.
func (s *QueueService) Remove(ctx context.Context, gc GuildContext, playerID string, names ...string) (string, error) {
	guild := gc.GuildID()
	queued, err := s.state.QueuedIn(ctx, guild, playerID)
	if err != nil {
		return "", err
	}
	targets := queued
	if len(names) > 0 {
		cfgs, err := s.pickups.GetMany(ctx, guild, names)
		if err != nil {
			return "", err
		}
		targets = nil
		for _, c := range cfgs {
			if slices.Contains(queued, c.ID) {
				targets = append(targets, c.ID)
			}
		}
	}
	if len(targets) == 0 {
		return "ℹ️ No estabas anotado en ningún pickup.", nil
	}

	// stage previo de cada target, sólo para avisar qué se canceló
	pending, err := s.pendingStages(ctx, guild, targets)
	if err != nil {
		return "", err
	}

	var keep []int64
	for _, id := range queued {
		if !slices.Contains(targets, id) {
			keep = append(keep, id)
		}
	}
	// una sola tx: la salida y la vuelta a fill (sin equipos) de los pickups
	// pendientes se ven juntas
	affected, err := s.state.DequeuePlayers(ctx, guild, []string{playerID}, keep...)
	if err != nil {
		return "", err
	}
	for _, id := range affected {
		if ap, ok := pending[id]; ok {
			s.announceAbort(ctx, gc, ap, playerID)
		}
	}
	if len(keep) == 0 {
		// ya no está en ningún pickup: fuera timers
		if err := s.players.ClearAfks(ctx, guild, []string{playerID}); err != nil {
			gc.Logger().Warn("clear afk on remove", "player", playerID, "err", err)
		}
		if err := s.players.SetExpire(ctx, guild, playerID, nil); err != nil {
			gc.Logger().Warn("clear expire on remove", "player", playerID, "err", err)
		}
		if err := s.players.ClearAos(ctx, guild, []string{playerID}); err != nil {
			gc.Logger().Warn("clear ao on remove", "player", playerID, "err", err)
		}
	}
	return fmt.Sprintf("✅ Saliste de %d pickup(s).", len(targets)), nil
}

// pendingStages lee los targets que están en afk_check o picking_manual.
func (s *QueueService) pendingStages(ctx context.Context, guild string, targets []int64) (map[int64]domain.ActivePickup, error) {
	out := map[int64]domain.ActivePickup{}
	for _, id := range targets {
		ap, err := s.state.ReadActivePickup(ctx, guild, domain.ByID(id))
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if ap.State.Stage != domain.StageFill {
			out[id] = ap
		}
	}
	return out, nil
}

func (s *QueueService) announceAbort(ctx context.Context, gc GuildContext, ap domain.ActivePickup, playerID string) {
	name := ap.Config.Name
	switch ap.State.Stage {
	case domain.StageAfkCheck:
		gc.Logger().Info("afk check aborted", "pickup", name, "player", playerID)
		s.notice(ctx, gc, fmt.Sprintf("⚠️ %s salió de **%s**: se cancela el afk check.", mention(playerID), name))
	case domain.StagePickingManual:
		gc.Logger().Info("picking aborted", "pickup", name, "player", playerID)
		s.notice(ctx, gc, fmt.Sprintf("⚠️ %s salió de **%s**: se cancela el picking.", mention(playerID), name))
	}
}

// Who lista los pickups con gente anotada.
func (s *QueueService) Who(ctx context.Context, guildID string) (string, error) {
	states, err := s.state.ListLiveStates(ctx, guildID)
	if err != nil {
		return "", err
	}
	var lines []string
	for _, ls := range states {
		ap, err := s.state.ReadActivePickup(ctx, guildID, domain.ByID(ls.ConfigID))
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		nicks := make([]string, 0, len(ap.Players))
		for _, p := range ap.Players {
			nicks = append(nicks, p.Nick)
		}
		suf := ""
		if ap.State.Stage != domain.StageFill {
			suf = fmt.Sprintf(" · *%s*", ap.State.Stage)
		}
		lines = append(lines, fmt.Sprintf("**%s** [%d/%d]%s: %s",
			ap.Config.Name, len(ap.Players), ap.Config.PlayerCount, suf, strings.Join(nicks, ", ")))
	}
	if len(lines) == 0 {
		return "ℹ️ No hay nadie anotado.", nil
	}
	return "📋 **Pickups**\n" + strings.Join(lines, "\n"), nil
}

// Pick: el capitán con turno elige a un jugador. name es opcional si el
// capitán tiene turno en un solo pickup.
func (s *QueueService) Pick(ctx context.Context, gc GuildContext, captainID, playerID, name string) (string, error) {
	guild := gc.GuildID()
	var configID int64
	if name != "" {
		cfg, err := s.pickups.Get(ctx, guild, domain.ByName(name))
		if errors.Is(err, domain.ErrNotFound) {
			return "❌ No existe ese pickup.", nil
		}
		if err != nil {
			return "", err
		}
		configID = cfg.ID
	} else {
		ids, err := s.state.TurnOf(ctx, guild, captainID)
		if err != nil {
			return "", err
		}
		switch len(ids) {
		case 0:
			return "❌ No es tu turno de pickear.", nil
		case 1:
			configID = ids[0]
		default:
			return "ℹ️ Tenés turno en más de un pickup: indicá cuál con `pickup:`.", nil
		}
	}

	res, err := s.state.PickPlayer(ctx, guild, configID, captainID, playerID)
	switch {
	case errors.Is(err, domain.ErrNotCaptainTurn):
		return "❌ No es tu turno de pickear.", nil
	case errors.Is(err, domain.ErrPlayerUnavailable):
		return "❌ Ese jugador no está disponible para pickear.", nil
	case errors.Is(err, domain.ErrAlreadyTransitioned), errors.Is(err, domain.ErrNotFound):
		return "ℹ️ Ese pickup no está en picking.", nil
	case err != nil:
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ %s va al equipo **%s**.", mention(playerID), res.Team)
	if len(res.AutoAssigned) > 0 {
		fmt.Fprintf(&b, "\n➡️ %s completan el último equipo.", mentions(res.AutoAssigned))
	}
	if res.Done {
		b.WriteString("\n🏁 Equipos completos.")
	} else if res.NextTeam != "" {
		fmt.Fprintf(&b, "\nTurno del equipo **%s**.", res.NextTeam)
	}
	return b.String(), nil
}

// Ready confirma presencia durante un afk check.
func (s *QueueService) Ready(ctx context.Context, guildID, playerID string) (string, error) {
	if err := s.players.SetAfk(ctx, guildID, []string{playerID}, false); err != nil {
		return "", err
	}
	return "✅ Listo, quedás confirmado.", nil
}

// Reset (admin) limpia un pickup que todavía no arrancó.
func (s *QueueService) Reset(ctx context.Context, gc GuildContext, name string) (string, error) {
	cfg, err := s.pickups.Get(ctx, gc.GuildID(), domain.ByName(name))
	if errors.Is(err, domain.ErrNotFound) {
		return "❌ No existe ese pickup.", nil
	}
	if err != nil {
		return "", err
	}
	if _, err := s.state.LiveState(ctx, gc.GuildID(), cfg.ID); errors.Is(err, domain.ErrNotFound) {
		return fmt.Sprintf("ℹ️ **%s** no tiene a nadie anotado.", cfg.Name), nil
	} else if err != nil {
		return "", err
	}
	if err := s.state.ResetPickup(ctx, gc.GuildID(), cfg.ID); err != nil {
		return "", err
	}
	gc.Logger().Info("pickup reset by admin", "pickup", cfg.Name)
	return fmt.Sprintf("🧹 **%s** reseteado.", cfg.Name), nil
}

// Notify activa / desactiva el DM cuando arranca un pickup del jugador.
func (s *QueueService) Notify(ctx context.Context, guildID string, m Member, on bool) (string, error) {
	if err := s.players.Upsert(ctx, guildID, m.ID, m.Nick); err != nil {
		return "", err
	}
	if err := s.players.SetNotify(ctx, guildID, m.ID, on); err != nil {
		return "", err
	}
	if on {
		return "🔔 Te vamos a avisar por DM cuando arranque tu pickup.", nil
	}
	return "🔕 Notificaciones desactivadas.", nil
}

// Expire programa la salida automática del jugador de todos sus pickups.
func (s *QueueService) Expire(ctx context.Context, guildID, playerID string, after time.Duration) (string, error) {
	if after <= 0 {
		if err := s.players.SetExpire(ctx, guildID, playerID, nil); err != nil {
			return "", err
		}
		return "✅ Expiración desactivada.", nil
	}
	at := s.now().Add(after)
	if err := s.players.SetExpire(ctx, guildID, playerID, &at); err != nil {
		return "", err
	}
	return fmt.Sprintf("⏲️ Te sacamos de la cola en %s.", after.Round(time.Minute)), nil
}

// maxAo: tope del allow-offline
const maxAo = 12 * time.Hour

// Ao activa (o con d <= 0 desactiva) el allow-offline: mientras dure, el afk
// check no le pide /ready al jugador.
func (s *QueueService) Ao(ctx context.Context, guildID, playerID string, d time.Duration) (string, error) {
	if d <= 0 {
		if err := s.players.ClearAos(ctx, guildID, []string{playerID}); err != nil {
			return "", err
		}
		return "✅ AO desactivado.", nil
	}
	if d > maxAo {
		return fmt.Sprintf("❌ El AO dura como máximo %s.", maxAo), nil
	}
	if err := s.players.SetAo(ctx, guildID, playerID, s.now().Add(d)); err != nil {
		return "", err
	}
	return fmt.Sprintf("🛡️ AO activo por %s: el afk check no te va a marcar.", d.Round(time.Minute)), nil
}

// ExpireDue saca de la cola a los jugadores con expiración vencida. Lo llama
// el poller del bot; devuelve cuántos jugadores salieron.
func (s *QueueService) ExpireDue(ctx context.Context, guilds func(ctx context.Context, guildID string) (GuildContext, error)) (int, error) {
	due, err := s.players.ExpiredPlayers(ctx, s.now())
	if err != nil {
		return 0, err
	}
	n := 0
	for guildID, ids := range due {
		gc, err := guilds(ctx, guildID)
		if err != nil {
			return n, err
		}
		for _, p := range ids {
			if _, err := s.Remove(ctx, gc, p); err != nil {
				gc.Logger().Warn("expire player", "player", p, "err", err)
				continue
			}
			// puede no haber estado anotado en nada
			if err := s.players.SetExpire(ctx, guildID, p, nil); err != nil {
				gc.Logger().Warn("clear expire", "player", p, "err", err)
			}
			n++
		}
	}
	return n, nil
}

func (s *QueueService) notice(ctx context.Context, gc GuildContext, msg string) {
	if gc.Settings.PickupChannelID == "" {
		return
	}
	if err := s.ann.SendNotice(ctx, gc.Settings.PickupChannelID, msg); err != nil {
		gc.Logger().Warn("notice failed", "err", &domain.DeliveryFailure{Target: gc.Settings.PickupChannelID, Err: err})
	}
}
