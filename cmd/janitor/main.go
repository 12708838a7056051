package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type sweepStep struct {
	name string
	sql  string
	args []any
}

// timers de jugadores que ya no están anotados en nada y no tienen expire ni AO futuros
const sqlStaleTimers = `
DELETE FROM state_guild_player g
WHERE (g.pickup_expire IS NULL OR g.pickup_expire < now())
  AND (g.ao_expire IS NULL OR g.ao_expire < now())
  AND (g.last_add IS NULL OR g.last_add < now() - INTERVAL '1 day')
  AND NOT EXISTS (
    SELECT 1 FROM state_pickup_players p
    WHERE p.guild_id = g.guild_id AND p.player_id = g.player_id
  );`

// state_pickup en fill sin jugadores: quedó colgado de un remove a medias
const sqlOrphanStates = `
DELETE FROM state_pickup s
WHERE s.stage = 'fill'
  AND NOT EXISTS (
    SELECT 1 FROM state_pickup_players p
    WHERE p.guild_id = s.guild_id AND p.pickup_config_id = s.pickup_config_id
  );`

const sqlOldMatches = `DELETE FROM pickups WHERE started_at < now() - make_interval(days => $1);`

func steps(retentionDays int) []sweepStep {
	out := []sweepStep{
		{name: "stale_timers", sql: sqlStaleTimers},
		{name: "orphan_states", sql: sqlOrphanStates},
	}
	if retentionDays > 0 {
		out = append(out, sweepStep{name: "old_matches", sql: sqlOldMatches, args: []any{retentionDays}})
	}
	return out
}

// sweep corre cada paso aunque falle uno; devuelve filas borradas por paso.
func sweep(ctx context.Context, db execer, retentionDays int) (map[string]int64, error) {
	out := map[string]int64{}
	var firstErr error
	for _, st := range steps(retentionDays) {
		tag, err := db.Exec(ctx, st.sql, st.args...)
		if err != nil {
			log.Printf("[janitor] %s: %v", st.name, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", st.name, err)
			}
			continue
		}
		out[st.name] = tag.RowsAffected()
	}
	return out, firstErr
}

func handler(ctx context.Context) (string, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return "no DATABASE_URL", nil
	}
	retention, _ := strconv.Atoi(os.Getenv("MATCH_RETENTION_DAYS"))

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Sprintf("parse: %v", err), nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Sprintf("pool: %v", err), nil
	}
	defer pool.Close()

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	n, err := sweep(cctx, pool, retention)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ok %v", n), nil
}

func main() { lambda.Start(handler) }
