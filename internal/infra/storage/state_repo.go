package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	pq "github.com/lib/pq"

	"github.com/jose-valero/pickup-bot/internal/domain"
)

// StateRepo es el único escritor del estado vivo: state_pickup,
// state_pickup_players, state_teams y los timers de state_guild_player.
// Toda operación compuesta va en una sola transacción.
type StateRepo struct{ db *sql.DB }

func NewStateRepo(db *sql.DB) *StateRepo { return &StateRepo{db: db} }

// ---------- stage ----------

func (r *StateRepo) SetStage(ctx context.Context, guildID string, configID int64, stage domain.Stage) error {
	return domain.WrapStore("set stage", setStage(ctx, r.db, guildID, configID, stage))
}

func setStage(ctx context.Context, q querier, guildID string, configID int64, stage domain.Stage) error {
	res, err := q.ExecContext(ctx, `
UPDATE state_pickup
   SET stage = $3, in_stage_since = now(), stage_iteration = 0
 WHERE guild_id = $1 AND pickup_config_id = $2
`, guildID, configID, string(stage))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// TransitionStage es un compare-and-set: sólo mueve el stage si sigue en from.
// Un segundo trigger concurrente recibe ErrAlreadyTransitioned.
func (r *StateRepo) TransitionStage(ctx context.Context, guildID string, configID int64, from, to domain.Stage) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE state_pickup
   SET stage = $4, in_stage_since = now(), stage_iteration = 0
 WHERE guild_id = $1 AND pickup_config_id = $2 AND stage = $3
`, guildID, configID, string(from), string(to))
	if err != nil {
		return domain.WrapStore("transition stage", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAlreadyTransitioned
	}
	return nil
}

func (r *StateRepo) IncrementIteration(ctx context.Context, guildID string, configID int64) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE state_pickup SET stage_iteration = stage_iteration + 1
 WHERE guild_id = $1 AND pickup_config_id = $2
`, guildID, configID)
	return domain.WrapStore("increment iteration", err)
}

func (r *StateRepo) ResetIteration(ctx context.Context, guildID string, configID int64) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE state_pickup SET stage_iteration = 0
 WHERE guild_id = $1 AND pickup_config_id = $2
`, guildID, configID)
	return domain.WrapStore("reset iteration", err)
}

// LiveState devuelve la fila de state_pickup o ErrNotFound.
func (r *StateRepo) LiveState(ctx context.Context, guildID string, configID int64) (domain.LiveState, error) {
	ls, err := liveState(ctx, r.db, guildID, configID, false)
	return ls, domain.WrapStore("live state", err)
}

func liveState(ctx context.Context, q querier, guildID string, configID int64, lock bool) (domain.LiveState, error) {
	query := `
SELECT guild_id, pickup_config_id, stage, in_stage_since, stage_iteration
  FROM state_pickup
 WHERE guild_id = $1 AND pickup_config_id = $2`
	if lock {
		query += ` FOR UPDATE`
	}
	var (
		ls    domain.LiveState
		stage string
	)
	err := q.QueryRowContext(ctx, query, guildID, configID).
		Scan(&ls.GuildID, &ls.ConfigID, &stage, &ls.InStageSince, &ls.StageIteration)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LiveState{}, domain.ErrNotFound
	}
	ls.Stage = domain.Stage(stage)
	return ls, err
}

// ListLiveStates: todos los pickups pendientes de un guild.
func (r *StateRepo) ListLiveStates(ctx context.Context, guildID string) ([]domain.LiveState, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT sp.guild_id, sp.pickup_config_id, sp.stage, sp.in_stage_since, sp.stage_iteration,
       c.player_count,
       (SELECT COUNT(*) FROM state_pickup_players spp
         WHERE spp.guild_id = sp.guild_id AND spp.pickup_config_id = sp.pickup_config_id)
  FROM state_pickup sp
  JOIN pickup_configs c ON c.id = sp.pickup_config_id
 WHERE sp.guild_id = $1
 ORDER BY sp.pickup_config_id
`, guildID)
	if err != nil {
		return nil, domain.WrapStore("list live states", err)
	}
	defer rows.Close()
	var out []domain.LiveState
	for rows.Next() {
		var (
			ls    domain.LiveState
			stage string
		)
		if err := rows.Scan(&ls.GuildID, &ls.ConfigID, &stage, &ls.InStageSince, &ls.StageIteration,
			&ls.PlayerCount, &ls.Queued); err != nil {
			return nil, domain.WrapStore("list live states", err)
		}
		ls.Stage = domain.Stage(stage)
		out = append(out, ls)
	}
	return out, domain.WrapStore("list live states", rows.Err())
}

// GuildsWithLiveState: guilds con algún pickup pendiente (input del poller).
func (r *StateRepo) GuildsWithLiveState(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT guild_id FROM state_pickup ORDER BY guild_id`)
	if err != nil {
		return nil, domain.WrapStore("live guilds", err)
	}
	out, err := scanStrings(rows)
	return out, domain.WrapStore("live guilds", err)
}

// ---------- cola ----------

// AddPlayer agrega un jugador a un pickup en fill. Bloquea la fila de
// state_pickup, así que de N adds concurrentes sólo uno ve filled=true.
func (r *StateRepo) AddPlayer(ctx context.Context, guildID string, configID int64, playerID string) (filled bool, err error) {
	err = withTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO state_pickup (guild_id, pickup_config_id)
SELECT c.guild_id, c.id FROM pickup_configs c WHERE c.guild_id = $1 AND c.id = $2
ON CONFLICT (guild_id, pickup_config_id) DO NOTHING
`, guildID, configID); err != nil {
			return err
		}

		var (
			stage       string
			playerCount int
		)
		err := tx.QueryRowContext(ctx, `
SELECT sp.stage, c.player_count
  FROM state_pickup sp
  JOIN pickup_configs c ON c.id = sp.pickup_config_id
 WHERE sp.guild_id = $1 AND sp.pickup_config_id = $2
   FOR UPDATE OF sp
`, guildID, configID).Scan(&stage, &playerCount)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if domain.Stage(stage) != domain.StageFill {
			return domain.ErrPickupInProgress
		}

		var count int
		var already bool
		if err := tx.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(bool_or(player_id = $3), false)
  FROM state_pickup_players
 WHERE guild_id = $1 AND pickup_config_id = $2
`, guildID, configID, playerID).Scan(&count, &already); err != nil {
			return err
		}
		if already {
			return domain.ErrAlreadyQueued
		}
		if count >= playerCount {
			return domain.ErrPickupFull
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO state_pickup_players (guild_id, pickup_config_id, player_id)
VALUES ($1,$2,$3)
`, guildID, configID, playerID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO state_guild_player (guild_id, player_id, last_add)
VALUES ($1,$2,now())
ON CONFLICT (guild_id, player_id) DO UPDATE SET last_add = now()
`, guildID, playerID); err != nil {
			return err
		}
		filled = count+1 == playerCount
		return nil
	})
	if err != nil {
		return false, domain.WrapStore("add player", err)
	}
	return filled, nil
}

// QueuePlayers: upsert idempotente de state_pickup + filas de cola (ignora duplicados).
func (r *StateRepo) QueuePlayers(ctx context.Context, guildID string, configID int64, playerIDs []string) error {
	if len(playerIDs) == 0 {
		return nil
	}
	return domain.WrapStore("queue players", withTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO state_pickup (guild_id, pickup_config_id)
VALUES ($1,$2)
ON CONFLICT (guild_id, pickup_config_id) DO NOTHING
`, guildID, configID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO state_pickup_players (guild_id, pickup_config_id, player_id)
SELECT $1, $2, unnest($3::text[])
ON CONFLICT (guild_id, pickup_config_id, player_id) DO NOTHING
`, guildID, configID, pq.Array(playerIDs))
		return err
	}))
}

// DequeuePlayers saca a los jugadores de todos los pickups del guild salvo
// los excluidos y borra los state_pickup que quedan vacíos, todo en una tx.
// Devuelve los config ids afectados.
func (r *StateRepo) DequeuePlayers(ctx context.Context, guildID string, playerIDs []string, excludeConfigs ...int64) ([]int64, error) {
	if len(playerIDs) == 0 {
		return nil, nil
	}
	var affected []int64
	err := withTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		var err error
		affected, err = dequeueTx(ctx, tx, guildID, playerIDs, excludeConfigs)
		return err
	})
	return affected, domain.WrapStore("dequeue players", err)
}

// dequeueTx: el paso compartido por dequeue, start y abort.
// Los pickups que pierden jugadores mientras estaban en afk_check o
// picking_manual vuelven a fill y pierden sus equipos parciales.
func dequeueTx(ctx context.Context, tx *sql.Tx, guildID string, playerIDs []string, exclude []int64) ([]int64, error) {
	if exclude == nil {
		exclude = []int64{}
	}
	rows, err := tx.QueryContext(ctx, `
DELETE FROM state_pickup_players
 WHERE guild_id = $1
   AND player_id = ANY($2)
   AND pickup_config_id <> ALL($3)
RETURNING pickup_config_id
`, guildID, pq.Array(playerIDs), pq.Array(exclude))
	if err != nil {
		return nil, err
	}
	seen := map[int64]bool{}
	var affected []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			affected = append(affected, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(affected) > 0 {
		if _, err := tx.ExecContext(ctx, `
DELETE FROM state_teams
 WHERE guild_id = $1 AND pickup_config_id = ANY($2)
`, guildID, pq.Array(affected)); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE state_pickup
   SET stage = 'fill', in_stage_since = now(), stage_iteration = 0
 WHERE guild_id = $1 AND pickup_config_id = ANY($2) AND stage <> 'fill'
`, guildID, pq.Array(affected)); err != nil {
			return nil, err
		}
	}

	if err := gcOrphans(ctx, tx, guildID); err != nil {
		return nil, err
	}
	return affected, nil
}

func gcOrphans(ctx context.Context, q querier, guildID string) error {
	_, err := q.ExecContext(ctx, `
DELETE FROM state_pickup sp
 WHERE sp.guild_id = $1
   AND NOT EXISTS (
         SELECT 1 FROM state_pickup_players spp
          WHERE spp.guild_id = sp.guild_id AND spp.pickup_config_id = sp.pickup_config_id
   )
`, guildID)
	return err
}

// TakeForStart congela el roster y saca a esos jugadores de todos los pickups
// del guild, en una sola tx. Si otro trigger ya arrancó (o alguien se fue y
// el roster no está completo) devuelve ErrAlreadyTransitioned.
func (r *StateRepo) TakeForStart(ctx context.Context, guildID string, configID int64, playerCount int) ([]domain.QueuedPlayer, error) {
	var snapshot []domain.QueuedPlayer
	err := withTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		if _, err := liveState(ctx, tx, guildID, configID, true); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrAlreadyTransitioned
			}
			return err
		}
		players, err := queuedPlayers(ctx, tx, guildID, configID)
		if err != nil {
			return err
		}
		if len(players) < playerCount {
			return domain.ErrAlreadyTransitioned
		}

		ids := make([]string, 0, len(players))
		for _, p := range players {
			ids = append(ids, p.PlayerID)
		}
		if _, err := dequeueTx(ctx, tx, guildID, ids, nil); err != nil {
			return err
		}
		snapshot = players
		return nil
	})
	if err != nil {
		return nil, domain.WrapStore("take for start", err)
	}
	return snapshot, nil
}

func queuedPlayers(ctx context.Context, q querier, guildID string, configID int64) ([]domain.QueuedPlayer, error) {
	rows, err := q.QueryContext(ctx, `
SELECT spp.player_id, COALESCE(p.current_nick, spp.player_id)
  FROM state_pickup_players spp
  LEFT JOIN players p ON p.guild_id = spp.guild_id AND p.user_id = spp.player_id
 WHERE spp.guild_id = $1 AND spp.pickup_config_id = $2
 ORDER BY spp.added_at, spp.player_id
`, guildID, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.QueuedPlayer
	for rows.Next() {
		p := domain.QueuedPlayer{GuildID: guildID, ConfigID: configID}
		if err := rows.Scan(&p.PlayerID, &p.Nick); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// QueuedIn: config ids donde está anotado el jugador.
func (r *StateRepo) QueuedIn(ctx context.Context, guildID, playerID string) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT pickup_config_id FROM state_pickup_players
 WHERE guild_id = $1 AND player_id = $2
 ORDER BY pickup_config_id
`, guildID, playerID)
	if err != nil {
		return nil, domain.WrapStore("queued in", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, domain.WrapStore("queued in", err)
		}
		out = append(out, id)
	}
	return out, domain.WrapStore("queued in", rows.Err())
}

// ---------- reset / abort ----------

// ClearPickup borra cola, equipos y estado vivo del pickup.
func (r *StateRepo) ClearPickup(ctx context.Context, guildID string, configID int64) error {
	return domain.WrapStore("clear pickup", withTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		return clearPickupTx(ctx, tx, guildID, configID)
	}))
}

func clearPickupTx(ctx context.Context, tx *sql.Tx, guildID string, configID int64) error {
	for _, q := range []string{
		`DELETE FROM state_teams WHERE guild_id = $1 AND pickup_config_id = $2`,
		`DELETE FROM state_pickup_players WHERE guild_id = $1 AND pickup_config_id = $2`,
		`DELETE FROM state_pickup WHERE guild_id = $1 AND pickup_config_id = $2`,
	} {
		if _, err := tx.ExecContext(ctx, q, guildID, configID); err != nil {
			return err
		}
	}
	return nil
}

// ResetPickup: ClearPickup + limpia timers de jugadores que ya no están en
// ningún pickup del guild. Sólo se usa antes de que el start haya sacado a
// los jugadores.
func (r *StateRepo) ResetPickup(ctx context.Context, guildID string, configID int64) error {
	return domain.WrapStore("reset pickup", withTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		if err := clearPickupTx(ctx, tx, guildID, configID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
DELETE FROM state_guild_player sgp
 WHERE sgp.guild_id = $1
   AND NOT EXISTS (
         SELECT 1 FROM state_pickup_players spp
          WHERE spp.guild_id = sgp.guild_id AND spp.player_id = sgp.player_id
   )
`, guildID)
		return err
	}))
}

// AbortAfkCheck vuelve el pickup a fill.
func (r *StateRepo) AbortAfkCheck(ctx context.Context, guildID string, configID int64) error {
	return domain.WrapStore("abort afk check", withTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		return setStage(ctx, tx, guildID, configID, domain.StageFill)
	}))
}

// AbortPicking vuelve el pickup a fill sin equipos. Con playerID saca además
// a ese jugador; vacío deja la cola como está (pickupctl abort).
func (r *StateRepo) AbortPicking(ctx context.Context, guildID string, configID int64, playerID string) error {
	return domain.WrapStore("abort picking", withTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		if err := setStage(ctx, tx, guildID, configID, domain.StageFill); err != nil {
			return err
		}
		if err := clearTeamsTx(ctx, tx, guildID, configID); err != nil {
			return err
		}
		if playerID == "" {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
DELETE FROM state_pickup_players
 WHERE guild_id = $1 AND pickup_config_id = $2 AND player_id = $3
`, guildID, configID, playerID); err != nil {
			return err
		}
		return gcOrphans(ctx, tx, guildID)
	}))
}

// ---------- lectura ----------

// ReadActivePickup: lectura puntual (repeatable read) de config + estado +
// jugadores + equipos. ErrNotFound si la config no existe o no está pendiente.
func (r *StateRepo) ReadActivePickup(ctx context.Context, guildID string, ref domain.PickupRef) (domain.ActivePickup, error) {
	var ap domain.ActivePickup
	err := withTx(ctx, r.db, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, func(tx *sql.Tx) error {
		cfg, err := getPickup(ctx, tx, guildID, ref)
		if err != nil {
			return err
		}
		ls, err := liveState(ctx, tx, guildID, cfg.ID, false)
		if err != nil {
			return err
		}
		players, err := queuedPlayers(ctx, tx, guildID, cfg.ID)
		if err != nil {
			return err
		}
		teams, err := teamRows(ctx, tx, guildID, cfg.ID)
		if err != nil {
			return err
		}
		ap = domain.ActivePickup{Config: cfg, State: ls, Players: players, Teams: teams}
		return nil
	})
	return ap, domain.WrapStore("read active pickup", err)
}

// StaleSince: pickups vivos sin cambio de stage desde before (para el janitor / pickupctl).
func (r *StateRepo) StaleSince(ctx context.Context, before time.Time) ([]domain.LiveState, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT guild_id, pickup_config_id, stage, in_stage_since, stage_iteration
  FROM state_pickup
 WHERE in_stage_since < $1
 ORDER BY in_stage_since
`, before)
	if err != nil {
		return nil, domain.WrapStore("stale states", err)
	}
	defer rows.Close()
	var out []domain.LiveState
	for rows.Next() {
		var (
			ls    domain.LiveState
			stage string
		)
		if err := rows.Scan(&ls.GuildID, &ls.ConfigID, &stage, &ls.InStageSince, &ls.StageIteration); err != nil {
			return nil, domain.WrapStore("stale states", err)
		}
		ls.Stage = domain.Stage(stage)
		out = append(out, ls)
	}
	return out, domain.WrapStore("stale states", rows.Err())
}
