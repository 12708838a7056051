package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jose-valero/pickup-bot/internal/domain"
)

// Panel es el mensaje publicado con /panel que se re-edita en cada cambio de cola.
type Panel struct {
	GuildID   string
	ChannelID string
	MessageID string
	UpdatedAt time.Time
}

type PanelRepo struct{ db *sql.DB }

func NewPanelRepo(db *sql.DB) *PanelRepo { return &PanelRepo{db: db} }

func (r *PanelRepo) Get(ctx context.Context, guildID string) (Panel, error) {
	var p Panel
	err := r.db.QueryRowContext(ctx, `
SELECT guild_id, channel_id, message_id, updated_at
  FROM pickup_panels
 WHERE guild_id = $1
`, guildID).Scan(&p.GuildID, &p.ChannelID, &p.MessageID, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Panel{}, domain.ErrNotFound
	}
	return p, domain.WrapStore("get panel", err)
}

func (r *PanelRepo) Upsert(ctx context.Context, guildID, channelID, messageID string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO pickup_panels (guild_id, channel_id, message_id)
VALUES ($1,$2,$3)
ON CONFLICT (guild_id) DO UPDATE SET
  channel_id = EXCLUDED.channel_id,
  message_id = EXCLUDED.message_id,
  updated_at = now()
`, guildID, channelID, messageID)
	return domain.WrapStore("upsert panel", err)
}

func (r *PanelRepo) Delete(ctx context.Context, guildID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pickup_panels WHERE guild_id = $1`, guildID)
	return domain.WrapStore("delete panel", err)
}
