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

// Los stages no abren transacciones mientras esperan: leen el store cada
// poll y miden los timeouts desde in_stage_since, así que sobreviven a un
// reinicio (Resume los re-entra con mustSendInitial=false).

const defaultStagePoll = 2 * time.Second

// readStage devuelve ErrStageAborted si el pickup ya no está en stage.
func readStage(ctx context.Context, state StateStore, guildID string, configID int64, stage domain.Stage) (domain.ActivePickup, error) {
	ap, err := state.ReadActivePickup(ctx, guildID, domain.ByID(configID))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ActivePickup{}, domain.ErrStageAborted
	}
	if err != nil {
		return domain.ActivePickup{}, err
	}
	if ap.State.Stage != stage {
		return domain.ActivePickup{}, domain.ErrStageAborted
	}
	return ap, nil
}

// reminderDue: toca recordatorio número iteration+1.
func reminderDue(elapsed, every time.Duration, iteration int) bool {
	return every > 0 && elapsed >= every*time.Duration(iteration+1)
}

func post(ctx context.Context, ann Announcer, gc GuildContext, msg string) {
	if gc.Settings.PickupChannelID == "" {
		return
	}
	if err := ann.SendNotice(ctx, gc.Settings.PickupChannelID, msg); err != nil {
		gc.Logger().Warn("stage message failed", "err", &domain.DeliveryFailure{Target: gc.Settings.PickupChannelID, Err: err})
	}
}

func wait(ctx context.Context, t *time.Ticker) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ---------- afk check ----------

// AfkCheck marca como afk a los jugadores que se anotaron hace más de
// AfkCheckAfter y espera a que todos confirmen con /ready.
type AfkCheck struct {
	state   StateStore
	players PlayerStore
	ann     Announcer
	poll    time.Duration
	now     func() time.Time
}

func NewAfkCheck(state StateStore, players PlayerStore, ann Announcer, poll time.Duration) *AfkCheck {
	if poll <= 0 {
		poll = defaultStagePoll
	}
	return &AfkCheck{state: state, players: players, ann: ann, poll: poll, now: time.Now}
}

func (a *AfkCheck) Run(ctx context.Context, gc GuildContext, configID int64, mustSendInitial bool) error {
	guild := gc.GuildID()
	ap, err := readStage(ctx, a.state, guild, configID, domain.StageAfkCheck)
	if err != nil {
		return err
	}

	if mustSendInitial {
		// flags de un check anterior (abortado) no cuentan para éste
		if err := a.players.ClearAfks(ctx, guild, ap.PlayerIDs()); err != nil {
			return err
		}
		now := a.now()
		idle, err := a.players.IdleSince(ctx, guild, ap.PlayerIDs(), now.Add(-gc.Settings.AfkCheckAfter))
		if err != nil {
			return err
		}
		aos, err := a.players.ActiveAos(ctx, guild, idle, now)
		if err != nil {
			return err
		}
		idle = slices.DeleteFunc(idle, func(p string) bool { return slices.Contains(aos, p) })
		if len(idle) == 0 {
			return nil
		}
		if err := a.players.SetAfk(ctx, guild, idle, true); err != nil {
			return err
		}
		post(ctx, a.ann, gc, fmt.Sprintf("⏰ **%s** está lleno. %s confirmen con `/ready` (tienen %s).",
			ap.Config.Name, mentions(idle), gc.Settings.AfkCheckTimeout))
	}

	t := time.NewTicker(a.poll)
	defer t.Stop()
	for {
		ap, err := readStage(ctx, a.state, guild, configID, domain.StageAfkCheck)
		if err != nil {
			return err
		}
		afk, err := a.players.AfkPlayers(ctx, guild, ap.PlayerIDs())
		if err != nil {
			return err
		}
		if len(afk) == 0 {
			return nil
		}

		elapsed := a.now().Sub(ap.State.InStageSince)
		if elapsed >= gc.Settings.AfkCheckTimeout {
			return fmt.Errorf("%w: %d players still afk", domain.ErrStageTimeout, len(afk))
		}
		if reminderDue(elapsed, gc.Settings.ReminderEvery, ap.State.StageIteration) {
			if err := a.state.IncrementIteration(ctx, guild, configID); err != nil {
				return err
			}
			post(ctx, a.ann, gc, fmt.Sprintf("⏰ **%s**: faltan %s (`/ready`).", ap.Config.Name, mentions(afk)))
		}
		if err := wait(ctx, t); err != nil {
			return err
		}
	}
}

// ---------- picking manual ----------

// ManualPicking elige capitanes, les da turno y espera a que los equipos se
// completen via QueueService.Pick.
type ManualPicking struct {
	state StateStore
	ann   Announcer
	roles RoleResolver
	poll  time.Duration
	now   func() time.Time
}

// roles puede ser nil: los capitanes salen por orden de llegada.
func NewManualPicking(state StateStore, ann Announcer, roles RoleResolver, poll time.Duration) *ManualPicking {
	if poll <= 0 {
		poll = defaultStagePoll
	}
	return &ManualPicking{state: state, ann: ann, roles: roles, poll: poll, now: time.Now}
}

func (m *ManualPicking) Run(ctx context.Context, gc GuildContext, configID int64, mustSendInitial bool) error {
	guild := gc.GuildID()
	ap, err := readStage(ctx, m.state, guild, configID, domain.StagePickingManual)
	if err != nil {
		return err
	}

	// se cayó antes de guardar capitanes: se arranca de cero
	if mustSendInitial || len(ap.Teams) == 0 {
		rows, err := m.chooseCaptains(ctx, gc, ap)
		if err != nil {
			return err
		}
		if err := m.state.AssignTeams(ctx, guild, configID, rows); err != nil {
			return err
		}
		post(ctx, m.ann, gc, pickingMessage(ap.Config, rows))
	}

	t := time.NewTicker(m.poll)
	defer t.Stop()
	for {
		ap, err := readStage(ctx, m.state, guild, configID, domain.StagePickingManual)
		if err != nil {
			return err
		}
		if picksDone(ap) {
			return nil
		}

		elapsed := m.now().Sub(ap.State.InStageSince)
		if elapsed >= gc.Settings.PickingTimeout {
			return fmt.Errorf("%w: picking not finished", domain.ErrStageTimeout)
		}
		if reminderDue(elapsed, gc.Settings.ReminderEvery, ap.State.StageIteration) {
			if err := m.state.IncrementIteration(ctx, guild, configID); err != nil {
				return err
			}
			for _, r := range ap.Teams {
				if r.CaptainTurn {
					post(ctx, m.ann, gc, fmt.Sprintf("⏳ **%s**: te toca pickear %s (`/pick`).", ap.Config.Name, mention(r.PlayerID)))
				}
			}
		}
		if err := wait(ctx, t); err != nil {
			return err
		}
	}
}

// chooseCaptains: con captain_role, primero los que tienen el rol; después
// orden de llegada. El primer turno sale de la rotación.
func (m *ManualPicking) chooseCaptains(ctx context.Context, gc GuildContext, ap domain.ActivePickup) ([]domain.TeamAssignment, error) {
	cfg := ap.Config
	candidates := ap.PlayerIDs()
	if role, ok := cfg.CaptainRole.Get(); ok && m.roles != nil {
		var preferred, rest []string
		for _, p := range candidates {
			has, err := m.roles.HasRole(ctx, cfg.GuildID, p, role)
			if err != nil {
				gc.Logger().Warn("captain role lookup", "player", p, "err", err)
			}
			if has {
				preferred = append(preferred, p)
			} else {
				rest = append(rest, p)
			}
		}
		candidates = append(preferred, rest...)
	}

	labels := domain.TeamLabels(cfg.TeamCount)
	if len(candidates) < len(labels) {
		return nil, fmt.Errorf("need %d captains, have %d players", len(labels), len(candidates))
	}
	rows := make([]domain.TeamAssignment, 0, len(labels))
	for i, l := range labels {
		rows = append(rows, domain.TeamAssignment{
			GuildID: cfg.GuildID, ConfigID: cfg.ID, PlayerID: candidates[i], Team: l, IsCaptain: true,
		})
	}
	if next, ok := domain.NextCaptainTurn(cfg.TeamCount, domain.TeamSize(cfg.PlayerCount, cfg.TeamCount), rows, ""); ok {
		for i := range rows {
			if rows[i].Team == next {
				rows[i].CaptainTurn = true
			}
		}
	}
	return rows, nil
}

// picksDone: todos los anotados tienen equipo y no queda turno.
func picksDone(ap domain.ActivePickup) bool {
	assigned := make(map[string]bool, len(ap.Teams))
	for _, r := range ap.Teams {
		if r.CaptainTurn {
			return false
		}
		assigned[r.PlayerID] = true
	}
	for _, p := range ap.Players {
		if !assigned[p.PlayerID] {
			return false
		}
	}
	return true
}

func pickingMessage(cfg domain.PickupConfig, rows []domain.TeamAssignment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎯 Picking de **%s**\n", cfg.Name)
	turn := ""
	for _, r := range rows {
		fmt.Fprintf(&b, "• Equipo **%s**: capitán %s\n", r.Team, mention(r.PlayerID))
		if r.CaptainTurn {
			turn = r.PlayerID
		}
	}
	if turn != "" {
		fmt.Fprintf(&b, "Arranca %s con `/pick`.", mention(turn))
	}
	return strings.TrimSpace(b.String())
}
