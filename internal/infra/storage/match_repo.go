package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/jose-valero/pickup-bot/internal/domain"
)

// MatchRepo guarda los pickups que arrancaron (historial / stats).
type MatchRepo struct{ db *sql.DB }

func NewMatchRepo(db *sql.DB) *MatchRepo { return &MatchRepo{db: db} }

type MatchRecord struct {
	ID        uuid.UUID
	GuildID   string
	ConfigID  *int64
	Name      string
	HasTeams  bool
	StartedAt time.Time
	Players   []MatchPlayer
}

type MatchPlayer struct {
	PlayerID  string
	Team      *string
	IsCaptain bool
}

// StorePickup persiste el match. Con teams == nil se guarda sin equipos.
func (r *MatchRepo) StorePickup(ctx context.Context, guildID string, configID int64, players []string, teams []domain.Team) (uuid.UUID, error) {
	id := uuid.New()
	err := withTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO pickups (id, guild_id, pickup_config_id, name, has_teams)
SELECT $1, $2, c.id, c.name, $4
  FROM pickup_configs c
 WHERE c.guild_id = $2 AND c.id = $3
`, id, guildID, configID, len(teams) > 0); err != nil {
			return err
		}

		insert := func(playerID string, team *string, captain bool) error {
			_, err := tx.ExecContext(ctx, `
INSERT INTO pickup_players (pickup_id, player_id, team, is_captain)
VALUES ($1,$2,$3,$4)
ON CONFLICT (pickup_id, player_id) DO NOTHING
`, id, playerID, team, captain)
			return err
		}

		if len(teams) == 0 {
			for _, p := range players {
				if err := insert(p, nil, false); err != nil {
					return err
				}
			}
			return nil
		}
		for _, t := range teams {
			label := t.Label
			capt, hasCapt := t.Captain.Get()
			for _, p := range t.Players {
				if err := insert(p, &label, hasCapt && p == capt); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, domain.WrapStore("store pickup", err)
	}
	return id, nil
}

// Recent: últimos pickups del guild, con jugadores.
func (r *MatchRepo) Recent(ctx context.Context, guildID string, limit int) ([]MatchRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, guild_id, pickup_config_id, name, has_teams, started_at
  FROM pickups
 WHERE guild_id = $1
 ORDER BY started_at DESC
 LIMIT $2
`, guildID, limit)
	if err != nil {
		return nil, domain.WrapStore("recent pickups", err)
	}
	var out []MatchRecord
	for rows.Next() {
		var m MatchRecord
		if err := rows.Scan(&m.ID, &m.GuildID, &m.ConfigID, &m.Name, &m.HasTeams, &m.StartedAt); err != nil {
			rows.Close()
			return nil, domain.WrapStore("recent pickups", err)
		}
		out = append(out, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStore("recent pickups", err)
	}

	for i := range out {
		prow, err := r.db.QueryContext(ctx, `
SELECT player_id, team, is_captain FROM pickup_players
 WHERE pickup_id = $1
 ORDER BY team NULLS FIRST, is_captain DESC, player_id
`, out[i].ID)
		if err != nil {
			return nil, domain.WrapStore("recent pickups", err)
		}
		for prow.Next() {
			var p MatchPlayer
			if err := prow.Scan(&p.PlayerID, &p.Team, &p.IsCaptain); err != nil {
				prow.Close()
				return nil, domain.WrapStore("recent pickups", err)
			}
			out[i].Players = append(out[i].Players, p)
		}
		prow.Close()
	}
	return out, nil
}
