package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	pq "github.com/lib/pq"

	"github.com/jose-valero/pickup-bot/internal/domain"
)

type PickupRepo struct{ db *sql.DB }

func NewPickupRepo(db *sql.DB) *PickupRepo { return &PickupRepo{db: db} }

const pickupColumns = `c.id, c.guild_id, c.name, c.player_count, c.team_count, c.is_default_pickup,
       c.afk_check, c.pick_mode, c.whitelist_role, c.blacklist_role, c.promotion_role,
       c.captain_role, c.mappool_id, c.server_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPickup(row rowScanner) (domain.PickupConfig, error) {
	var (
		c                                  domain.PickupConfig
		mode                               string
		whitelist, blacklist, promo, capt *string
		mappool, server                    *int64
	)
	err := row.Scan(&c.ID, &c.GuildID, &c.Name, &c.PlayerCount, &c.TeamCount, &c.IsDefault,
		&c.AfkCheck, &mode, &whitelist, &blacklist, &promo, &capt, &mappool, &server)
	if err != nil {
		return domain.PickupConfig{}, err
	}
	c.PickMode = domain.PickMode(mode)
	c.WhitelistRole = domain.FromPtr(whitelist)
	c.BlacklistRole = domain.FromPtr(blacklist)
	c.PromotionRole = domain.FromPtr(promo)
	c.CaptainRole = domain.FromPtr(capt)
	c.MapPoolID = domain.FromPtr(mappool)
	c.ServerID = domain.FromPtr(server)
	return c, nil
}

func getPickup(ctx context.Context, q querier, guildID string, ref domain.PickupRef) (domain.PickupConfig, error) {
	var row *sql.Row
	if ref.Name != "" {
		row = q.QueryRowContext(ctx, `
SELECT `+pickupColumns+`
  FROM pickup_configs c
 WHERE c.guild_id = $1 AND c.name = $2
`, guildID, ref.Name)
	} else {
		row = q.QueryRowContext(ctx, `
SELECT `+pickupColumns+`
  FROM pickup_configs c
 WHERE c.guild_id = $1 AND c.id = $2
`, guildID, ref.ID)
	}
	c, err := scanPickup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PickupConfig{}, domain.ErrNotFound
	}
	return c, err
}

func (r *PickupRepo) Get(ctx context.Context, guildID string, ref domain.PickupRef) (domain.PickupConfig, error) {
	c, err := getPickup(ctx, r.db, guildID, ref)
	return c, domain.WrapStore("get pickup", err)
}

// GetMany resuelve nombres a configs; los que no existen se ignoran.
func (r *PickupRepo) GetMany(ctx context.Context, guildID string, names []string) ([]domain.PickupConfig, error) {
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+pickupColumns+`
  FROM pickup_configs c
 WHERE c.guild_id = $1 AND c.name = ANY($2)
 ORDER BY c.name
`, guildID, pq.Array(names))
	if err != nil {
		return nil, domain.WrapStore("get pickups", err)
	}
	return collectPickups(rows)
}

func (r *PickupRepo) List(ctx context.Context, guildID string) ([]domain.PickupConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+pickupColumns+`
  FROM pickup_configs c
 WHERE c.guild_id = $1
 ORDER BY c.player_count DESC, c.name
`, guildID)
	if err != nil {
		return nil, domain.WrapStore("list pickups", err)
	}
	return collectPickups(rows)
}

// Defaults: pickups a los que entra un jugador cuando hace /add sin nombres.
func (r *PickupRepo) Defaults(ctx context.Context, guildID string) ([]domain.PickupConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+pickupColumns+`
  FROM pickup_configs c
 WHERE c.guild_id = $1 AND c.is_default_pickup
 ORDER BY c.name
`, guildID)
	if err != nil {
		return nil, domain.WrapStore("default pickups", err)
	}
	return collectPickups(rows)
}

func collectPickups(rows *sql.Rows) ([]domain.PickupConfig, error) {
	defer rows.Close()
	var out []domain.PickupConfig
	for rows.Next() {
		c, err := scanPickup(rows)
		if err != nil {
			return nil, domain.WrapStore("scan pickup", err)
		}
		out = append(out, c)
	}
	return out, domain.WrapStore("scan pickup", rows.Err())
}

// Create inserta la config y devuelve el id asignado.
func (r *PickupRepo) Create(ctx context.Context, c domain.PickupConfig) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := r.db.QueryRowContext(ctx, `
INSERT INTO pickup_configs
  (guild_id, name, player_count, team_count, is_default_pickup, afk_check, pick_mode,
   whitelist_role, blacklist_role, promotion_role, captain_role, mappool_id, server_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING id
`, c.GuildID, c.Name, c.PlayerCount, c.TeamCount, c.IsDefault, c.AfkCheck, string(c.PickMode),
		c.WhitelistRole.Ptr(), c.BlacklistRole.Ptr(), c.PromotionRole.Ptr(), c.CaptainRole.Ptr(),
		c.MapPoolID.Ptr(), c.ServerID.Ptr(),
	).Scan(&id)
	return id, domain.WrapStore("create pickup", err)
}

// Upsert por (guild, name); lo usa el import de YAML.
func (r *PickupRepo) Upsert(ctx context.Context, c domain.PickupConfig) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := r.db.QueryRowContext(ctx, `
INSERT INTO pickup_configs
  (guild_id, name, player_count, team_count, is_default_pickup, afk_check, pick_mode,
   whitelist_role, blacklist_role, promotion_role, captain_role, mappool_id, server_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (guild_id, name) DO UPDATE SET
  player_count      = EXCLUDED.player_count,
  team_count        = EXCLUDED.team_count,
  is_default_pickup = EXCLUDED.is_default_pickup,
  afk_check         = EXCLUDED.afk_check,
  pick_mode         = EXCLUDED.pick_mode,
  whitelist_role    = EXCLUDED.whitelist_role,
  blacklist_role    = EXCLUDED.blacklist_role,
  promotion_role    = EXCLUDED.promotion_role,
  captain_role      = EXCLUDED.captain_role,
  mappool_id        = EXCLUDED.mappool_id,
  server_id         = EXCLUDED.server_id,
  updated_at        = now()
RETURNING id
`, c.GuildID, c.Name, c.PlayerCount, c.TeamCount, c.IsDefault, c.AfkCheck, string(c.PickMode),
		c.WhitelistRole.Ptr(), c.BlacklistRole.Ptr(), c.PromotionRole.Ptr(), c.CaptainRole.Ptr(),
		c.MapPoolID.Ptr(), c.ServerID.Ptr(),
	).Scan(&id)
	return id, domain.WrapStore("upsert pickup", err)
}

// PickupPatch: updates parciales desde /pickup set (sólo lo que venga).
// Para los roles, un Optional inválido dentro de un puntero no-nil limpia la restricción.
type PickupPatch struct {
	PlayerCount   *int
	TeamCount     *int
	IsDefault     *bool
	AfkCheck      *bool
	PickMode      *domain.PickMode
	WhitelistRole *domain.Optional[string]
	BlacklistRole *domain.Optional[string]
	PromotionRole *domain.Optional[string]
	CaptainRole   *domain.Optional[string]
}

func (r *PickupRepo) Update(ctx context.Context, guildID string, ref domain.PickupRef, u PickupPatch) (domain.PickupConfig, error) {
	cur, err := r.Get(ctx, guildID, ref)
	if err != nil {
		return domain.PickupConfig{}, err
	}

	sets := make([]string, 0, 9)
	args := make([]any, 0, 11)
	i := 1
	set := func(col string, v any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i))
		args = append(args, v)
		i++
	}

	if u.PlayerCount != nil {
		cur.PlayerCount = *u.PlayerCount
		set("player_count", *u.PlayerCount)
	}
	if u.TeamCount != nil {
		cur.TeamCount = *u.TeamCount
		set("team_count", *u.TeamCount)
	}
	if u.IsDefault != nil {
		set("is_default_pickup", *u.IsDefault)
	}
	if u.AfkCheck != nil {
		set("afk_check", *u.AfkCheck)
	}
	if u.PickMode != nil {
		cur.PickMode = *u.PickMode
		set("pick_mode", string(*u.PickMode))
	}
	if u.WhitelistRole != nil {
		set("whitelist_role", u.WhitelistRole.Ptr())
	}
	if u.BlacklistRole != nil {
		set("blacklist_role", u.BlacklistRole.Ptr())
	}
	if u.PromotionRole != nil {
		set("promotion_role", u.PromotionRole.Ptr())
	}
	if u.CaptainRole != nil {
		set("captain_role", u.CaptainRole.Ptr())
	}
	if len(sets) == 0 {
		// nada que cambiar
		return cur, nil
	}
	if err := cur.Validate(); err != nil {
		return domain.PickupConfig{}, err
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, guildID, cur.ID)

	_, err = r.db.ExecContext(ctx, `
UPDATE pickup_configs
   SET `+strings.Join(sets, ", ")+`
 WHERE guild_id = $`+fmt.Sprint(i)+` AND id = $`+fmt.Sprint(i+1), args...)
	if err != nil {
		return domain.PickupConfig{}, domain.WrapStore("update pickup", err)
	}
	return r.Get(ctx, guildID, domain.ByID(cur.ID))
}

// Remove borra configs; el estado vivo cae por cascade.
func (r *PickupRepo) Remove(ctx context.Context, guildID string, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
DELETE FROM pickup_configs
 WHERE guild_id = $1 AND id = ANY($2)
`, guildID, pq.Array(ids))
	if err != nil {
		return 0, domain.WrapStore("remove pickups", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
