package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jose-valero/pickup-bot/internal/domain"
)

func teamRows(ctx context.Context, q querier, guildID string, configID int64) ([]domain.TeamAssignment, error) {
	rows, err := q.QueryContext(ctx, `
SELECT player_id, team, is_captain, captain_turn
  FROM state_teams
 WHERE guild_id = $1 AND pickup_config_id = $2
 ORDER BY team, is_captain DESC, player_id
`, guildID, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TeamAssignment
	for rows.Next() {
		t := domain.TeamAssignment{GuildID: guildID, ConfigID: configID}
		if err := rows.Scan(&t.PlayerID, &t.Team, &t.IsCaptain, &t.CaptainTurn); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Teams devuelve las asignaciones actuales del pickup.
func (r *StateRepo) Teams(ctx context.Context, guildID string, configID int64) ([]domain.TeamAssignment, error) {
	rows, err := teamRows(ctx, r.db, guildID, configID)
	return rows, domain.WrapStore("teams", err)
}

// AssignTeams inserta (o pisa) asignaciones. Como mucho una puede traer captain_turn.
func (r *StateRepo) AssignTeams(ctx context.Context, guildID string, configID int64, assignments []domain.TeamAssignment) error {
	turns := 0
	for _, a := range assignments {
		if a.CaptainTurn {
			turns++
		}
	}
	if turns > 1 {
		return &domain.StoreFailure{Op: "assign teams", Err: errors.New("more than one captain turn")}
	}
	return domain.WrapStore("assign teams", withTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		if turns == 1 {
			if _, err := tx.ExecContext(ctx, `
UPDATE state_teams SET captain_turn = false
 WHERE guild_id = $1 AND pickup_config_id = $2 AND captain_turn
`, guildID, configID); err != nil {
				return err
			}
		}
		for _, a := range assignments {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO state_teams (guild_id, pickup_config_id, player_id, team, is_captain, captain_turn)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (guild_id, pickup_config_id, player_id) DO UPDATE SET
  team         = EXCLUDED.team,
  is_captain   = EXCLUDED.is_captain,
  captain_turn = EXCLUDED.captain_turn
`, guildID, configID, a.PlayerID, a.Team, a.IsCaptain, a.CaptainTurn); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (r *StateRepo) ClearTeams(ctx context.Context, guildID string, configID int64) error {
	return domain.WrapStore("clear teams", clearTeamsTx(ctx, r.db, guildID, configID))
}

func clearTeamsTx(ctx context.Context, q querier, guildID string, configID int64) error {
	_, err := q.ExecContext(ctx, `
DELETE FROM state_teams WHERE guild_id = $1 AND pickup_config_id = $2
`, guildID, configID)
	return err
}

// SetCaptainTurn limpia el turno actual y se lo da al capitán del equipo.
// Si el equipo no tiene capitán, rollback y ErrNotFound: nunca quedan dos
// turnos ni un turno perdido a medias.
func (r *StateRepo) SetCaptainTurn(ctx context.Context, guildID string, configID int64, team string) error {
	return domain.WrapStore("set captain turn", withTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		return setCaptainTurnTx(ctx, tx, guildID, configID, team)
	}))
}

func setCaptainTurnTx(ctx context.Context, tx *sql.Tx, guildID string, configID int64, team string) error {
	if _, err := tx.ExecContext(ctx, `
UPDATE state_teams SET captain_turn = false
 WHERE guild_id = $1 AND pickup_config_id = $2 AND captain_turn
`, guildID, configID); err != nil {
		return err
	}
	if team == "" {
		return nil
	}
	res, err := tx.ExecContext(ctx, `
UPDATE state_teams SET captain_turn = true
 WHERE guild_id = $1 AND pickup_config_id = $2
   AND player_id = (
         SELECT player_id FROM state_teams
          WHERE guild_id = $1 AND pickup_config_id = $2 AND team = $3 AND is_captain
          ORDER BY player_id
          LIMIT 1
   )
`, guildID, configID, team)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// PickResult describe lo que pasó con un pick.
type PickResult struct {
	Team     string
	NextTeam string
	// AutoAssigned: jugadores que cayeron solos al último equipo con lugar.
	AutoAssigned []string
	Done         bool
}

// PickPlayer: el capitán con turno elige a un jugador. En la misma tx se
// recalcula el próximo turno con la rotación (domain.NextCaptainTurn).
func (r *StateRepo) PickPlayer(ctx context.Context, guildID string, configID int64, captainID, playerID string) (PickResult, error) {
	var res PickResult
	err := withTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		var (
			stage                  string
			playerCount, teamCount int
		)
		err := tx.QueryRowContext(ctx, `
SELECT sp.stage, c.player_count, c.team_count
  FROM state_pickup sp
  JOIN pickup_configs c ON c.id = sp.pickup_config_id
 WHERE sp.guild_id = $1 AND sp.pickup_config_id = $2
   FOR UPDATE OF sp
`, guildID, configID).Scan(&stage, &playerCount, &teamCount)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if domain.Stage(stage) != domain.StagePickingManual {
			return domain.ErrAlreadyTransitioned
		}

		rows, err := teamRows(ctx, tx, guildID, configID)
		if err != nil {
			return err
		}
		current, ok := domain.CurrentTurn(rows)
		if !ok {
			return domain.ErrNotCaptainTurn
		}
		holder := false
		assigned := map[string]bool{}
		for _, a := range rows {
			assigned[a.PlayerID] = true
			if a.CaptainTurn && a.PlayerID == captainID {
				holder = true
			}
		}
		if !holder {
			return domain.ErrNotCaptainTurn
		}

		queued, err := queuedPlayers(ctx, tx, guildID, configID)
		if err != nil {
			return err
		}
		var free []string
		found := false
		for _, p := range queued {
			if assigned[p.PlayerID] {
				continue
			}
			if p.PlayerID == playerID {
				found = true
				continue
			}
			free = append(free, p.PlayerID)
		}
		if !found {
			return domain.ErrPlayerUnavailable
		}

		if err := insertTeamRow(ctx, tx, guildID, configID, playerID, current); err != nil {
			return err
		}
		rows = append(rows, domain.TeamAssignment{GuildID: guildID, ConfigID: configID, PlayerID: playerID, Team: current})
		res.Team = current

		size := domain.TeamSize(playerCount, teamCount)
		open := domain.OpenTeams(teamCount, size, rows)
		if len(open) == 1 && len(free) > 0 {
			for _, pid := range free {
				if err := insertTeamRow(ctx, tx, guildID, configID, pid, open[0]); err != nil {
					return err
				}
				rows = append(rows, domain.TeamAssignment{GuildID: guildID, ConfigID: configID, PlayerID: pid, Team: open[0]})
			}
			res.AutoAssigned = free
			free = nil
		}

		next, more := domain.NextCaptainTurn(teamCount, size, rows, current)
		if !more || len(free) == 0 {
			res.Done = true
			return setCaptainTurnTx(ctx, tx, guildID, configID, "")
		}
		res.NextTeam = next
		return setCaptainTurnTx(ctx, tx, guildID, configID, next)
	})
	if err != nil {
		return PickResult{}, domain.WrapStore("pick player", err)
	}
	return res, nil
}

func insertTeamRow(ctx context.Context, tx *sql.Tx, guildID string, configID int64, playerID, team string) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO state_teams (guild_id, pickup_config_id, player_id, team, is_captain, captain_turn)
VALUES ($1,$2,$3,$4,false,false)
`, guildID, configID, playerID, team)
	return err
}

// TurnOf: pickups donde el jugador tiene el turno de capitán ahora mismo.
func (r *StateRepo) TurnOf(ctx context.Context, guildID, playerID string) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT pickup_config_id FROM state_teams
 WHERE guild_id = $1 AND player_id = $2 AND captain_turn
 ORDER BY pickup_config_id
`, guildID, playerID)
	if err != nil {
		return nil, domain.WrapStore("turn of", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, domain.WrapStore("turn of", err)
		}
		out = append(out, id)
	}
	return out, domain.WrapStore("turn of", rows.Err())
}
