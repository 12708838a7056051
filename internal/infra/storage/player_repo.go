package storage

import (
	"context"
	"database/sql"
	"time"

	pq "github.com/lib/pq"

	"github.com/jose-valero/pickup-bot/internal/domain"
)

// PlayerRepo: identidad de jugadores (nick, notificaciones) y sus timers
// efímeros por guild (state_guild_player).
type PlayerRepo struct{ db *sql.DB }

func NewPlayerRepo(db *sql.DB) *PlayerRepo { return &PlayerRepo{db: db} }

func (r *PlayerRepo) Upsert(ctx context.Context, guildID, playerID, nick string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO players (guild_id, user_id, current_nick)
VALUES ($1,$2,$3)
ON CONFLICT (guild_id, user_id) DO UPDATE SET
  current_nick = EXCLUDED.current_nick,
  updated_at   = now()
 WHERE players.current_nick IS DISTINCT FROM EXCLUDED.current_nick
`, guildID, playerID, nick)
	return domain.WrapStore("upsert player", err)
}

// SetNotify activa/desactiva el DM cuando arranca un pickup donde está anotado.
func (r *PlayerRepo) SetNotify(ctx context.Context, guildID, playerID string, on bool) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE players SET notifications = $3, updated_at = now()
 WHERE guild_id = $1 AND user_id = $2
`, guildID, playerID, on)
	if err != nil {
		return domain.WrapStore("set notify", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// WithNotify filtra ids a los que tienen notificaciones activas.
func (r *PlayerRepo) WithNotify(ctx context.Context, guildID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT user_id FROM players
 WHERE guild_id = $1 AND notifications AND user_id = ANY($2)
 ORDER BY user_id
`, guildID, pq.Array(ids))
	if err != nil {
		return nil, domain.WrapStore("players with notify", err)
	}
	out, err := scanStrings(rows)
	return out, domain.WrapStore("players with notify", err)
}

// ---------- timers ----------

// SetAfk marca (o desmarca) como afk.
func (r *PlayerRepo) SetAfk(ctx context.Context, guildID string, ids []string, afk bool) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO state_guild_player (guild_id, player_id, is_afk)
SELECT $1, unnest($2::text[]), $3
ON CONFLICT (guild_id, player_id) DO UPDATE SET is_afk = EXCLUDED.is_afk
`, guildID, pq.Array(ids), afk)
	return domain.WrapStore("set afk", err)
}

// ClearAfks limpia el flag (NULL = sin afk check en curso).
func (r *PlayerRepo) ClearAfks(ctx context.Context, guildID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE state_guild_player SET is_afk = NULL
 WHERE guild_id = $1 AND player_id = ANY($2)
`, guildID, pq.Array(ids))
	return domain.WrapStore("clear afks", err)
}

// AfkPlayers: de entre ids, los que siguen marcados afk.
func (r *PlayerRepo) AfkPlayers(ctx context.Context, guildID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT player_id FROM state_guild_player
 WHERE guild_id = $1 AND is_afk AND player_id = ANY($2)
 ORDER BY player_id
`, guildID, pq.Array(ids))
	if err != nil {
		return nil, domain.WrapStore("afk players", err)
	}
	out, err := scanStrings(rows)
	return out, domain.WrapStore("afk players", err)
}

// IdleSince: de entre ids, los que se anotaron por última vez antes de before
// (o nunca tuvieron last_add).
func (r *PlayerRepo) IdleSince(ctx context.Context, guildID string, ids []string, before time.Time) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT u.id
  FROM unnest($2::text[]) AS u(id)
  LEFT JOIN state_guild_player sgp ON sgp.guild_id = $1 AND sgp.player_id = u.id
 WHERE sgp.last_add IS NULL OR sgp.last_add < $3
 ORDER BY u.id
`, guildID, pq.Array(ids), before)
	if err != nil {
		return nil, domain.WrapStore("idle players", err)
	}
	out, err := scanStrings(rows)
	return out, domain.WrapStore("idle players", err)
}

// SetExpire: el jugador se auto-remueve de los pickups en fill al llegar a at.
func (r *PlayerRepo) SetExpire(ctx context.Context, guildID, playerID string, at *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO state_guild_player (guild_id, player_id, pickup_expire)
VALUES ($1,$2,$3)
ON CONFLICT (guild_id, player_id) DO UPDATE SET pickup_expire = EXCLUDED.pickup_expire
`, guildID, playerID, at)
	return domain.WrapStore("set expire", err)
}

// SetAo activa el allow-offline hasta at.
func (r *PlayerRepo) SetAo(ctx context.Context, guildID, playerID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO state_guild_player (guild_id, player_id, ao_expire)
VALUES ($1,$2,$3)
ON CONFLICT (guild_id, player_id) DO UPDATE SET ao_expire = EXCLUDED.ao_expire
`, guildID, playerID, at)
	return domain.WrapStore("set ao", err)
}

func (r *PlayerRepo) ClearAos(ctx context.Context, guildID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE state_guild_player SET ao_expire = NULL
 WHERE guild_id = $1 AND player_id = ANY($2)
`, guildID, pq.Array(ids))
	return domain.WrapStore("clear aos", err)
}

// ActiveAos: de entre ids, los que tienen AO vigente en now.
func (r *PlayerRepo) ActiveAos(ctx context.Context, guildID string, ids []string, now time.Time) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT player_id FROM state_guild_player
 WHERE guild_id = $1 AND player_id = ANY($2) AND ao_expire > $3
 ORDER BY player_id
`, guildID, pq.Array(ids), now)
	if err != nil {
		return nil, domain.WrapStore("active aos", err)
	}
	out, err := scanStrings(rows)
	return out, domain.WrapStore("active aos", err)
}

func (r *PlayerRepo) Timer(ctx context.Context, guildID, playerID string) (domain.PlayerTimer, error) {
	t := domain.PlayerTimer{GuildID: guildID, PlayerID: playerID}
	err := r.db.QueryRowContext(ctx, `
SELECT last_add, pickup_expire, is_afk, ao_expire
  FROM state_guild_player
 WHERE guild_id = $1 AND player_id = $2
`, guildID, playerID).Scan(&t.LastAdd, &t.PickupExpire, &t.IsAfk, &t.AoExpire)
	if err == sql.ErrNoRows {
		return t, domain.ErrNotFound
	}
	return t, domain.WrapStore("timer", err)
}

// ExpiredPlayers: jugadores con pickup_expire vencido, por guild.
func (r *PlayerRepo) ExpiredPlayers(ctx context.Context, now time.Time) (map[string][]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT guild_id, player_id FROM state_guild_player
 WHERE pickup_expire IS NOT NULL AND pickup_expire <= $1
 ORDER BY guild_id, player_id
`, now)
	if err != nil {
		return nil, domain.WrapStore("expired players", err)
	}
	defer rows.Close()
	out := map[string][]string{}
	for rows.Next() {
		var g, p string
		if err := rows.Scan(&g, &p); err != nil {
			return nil, domain.WrapStore("expired players", err)
		}
		out[g] = append(out[g], p)
	}
	return out, domain.WrapStore("expired players", rows.Err())
}
