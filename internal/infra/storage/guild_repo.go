package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jose-valero/pickup-bot/internal/domain"
)

type GuildRepo struct{ db *sql.DB }

func NewGuildRepo(db *sql.DB) *GuildRepo { return &GuildRepo{db: db} }

// Get devuelve la configuración del guild; si no existe, crea la default.
func (r *GuildRepo) Get(ctx context.Context, guildID string) (domain.GuildSettings, error) {
	var (
		s                                  domain.GuildSettings
		afkAfter, afkTimeout, pick, remind int
	)
	err := r.db.QueryRowContext(ctx, `
SELECT guild_id, pickup_channel_id, start_message, notify_message,
       afk_check_after_seconds, afk_check_timeout_seconds, picking_timeout_seconds, reminder_every_seconds
  FROM guild_settings
 WHERE guild_id = $1
`, guildID).Scan(&s.GuildID, &s.PickupChannelID, &s.StartMessage, &s.NotifyMessage,
		&afkAfter, &afkTimeout, &pick, &remind)
	if err == sql.ErrNoRows {
		// crea default
		_, err := r.db.ExecContext(ctx, `
INSERT INTO guild_settings (guild_id) VALUES ($1) ON CONFLICT (guild_id) DO NOTHING
`, guildID)
		if err != nil {
			return domain.GuildSettings{}, domain.WrapStore("create guild settings", err)
		}
		return r.Get(ctx, guildID)
	}
	if err != nil {
		return domain.GuildSettings{}, domain.WrapStore("guild settings", err)
	}
	s.AfkCheckAfter = time.Duration(afkAfter) * time.Second
	s.AfkCheckTimeout = time.Duration(afkTimeout) * time.Second
	s.PickingTimeout = time.Duration(pick) * time.Second
	s.ReminderEvery = time.Duration(remind) * time.Second
	return s, nil
}

// Para updates parciales desde /settings set
type GuildSettingsPatch struct {
	PickupChannelID *string
	StartMessage    *string
	NotifyMessage   *string
	AfkCheckAfter   *time.Duration
	AfkCheckTimeout *time.Duration
	PickingTimeout  *time.Duration
	ReminderEvery   *time.Duration
}

func (r *GuildRepo) Update(ctx context.Context, guildID string, u GuildSettingsPatch) (domain.GuildSettings, error) {
	// asegura la fila
	if _, err := r.Get(ctx, guildID); err != nil {
		return domain.GuildSettings{}, err
	}

	sets := make([]string, 0, 8)
	args := make([]any, 0, 9)
	i := 1
	set := func(col string, v any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i))
		args = append(args, v)
		i++
	}
	secs := func(d time.Duration) int { return int(d / time.Second) }

	if u.PickupChannelID != nil {
		set("pickup_channel_id", *u.PickupChannelID)
	}
	if u.StartMessage != nil {
		set("start_message", *u.StartMessage)
	}
	if u.NotifyMessage != nil {
		set("notify_message", *u.NotifyMessage)
	}
	if u.AfkCheckAfter != nil {
		set("afk_check_after_seconds", secs(*u.AfkCheckAfter))
	}
	if u.AfkCheckTimeout != nil {
		set("afk_check_timeout_seconds", secs(*u.AfkCheckTimeout))
	}
	if u.PickingTimeout != nil {
		set("picking_timeout_seconds", secs(*u.PickingTimeout))
	}
	if u.ReminderEvery != nil {
		set("reminder_every_seconds", secs(*u.ReminderEvery))
	}
	if len(sets) == 0 {
		return r.Get(ctx, guildID)
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, guildID)

	_, err := r.db.ExecContext(ctx, `
UPDATE guild_settings
   SET `+strings.Join(sets, ", ")+`
 WHERE guild_id = $`+fmt.Sprint(i), args...)
	if err != nil {
		return domain.GuildSettings{}, domain.WrapStore("update guild settings", err)
	}
	return r.Get(ctx, guildID)
}
