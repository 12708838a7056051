package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jose-valero/pickup-bot/internal/domain"
	"github.com/jose-valero/pickup-bot/internal/infra/storage"
)

// Lo implementa internal/infra/storage.StateRepo
type StateStore interface {
	TransitionStage(ctx context.Context, guildID string, configID int64, from, to domain.Stage) error
	IncrementIteration(ctx context.Context, guildID string, configID int64) error
	LiveState(ctx context.Context, guildID string, configID int64) (domain.LiveState, error)
	ListLiveStates(ctx context.Context, guildID string) ([]domain.LiveState, error)

	AddPlayer(ctx context.Context, guildID string, configID int64, playerID string) (bool, error)
	DequeuePlayers(ctx context.Context, guildID string, playerIDs []string, excludeConfigs ...int64) ([]int64, error)
	TakeForStart(ctx context.Context, guildID string, configID int64, playerCount int) ([]domain.QueuedPlayer, error)
	QueuedIn(ctx context.Context, guildID, playerID string) ([]int64, error)

	ResetPickup(ctx context.Context, guildID string, configID int64) error

	AssignTeams(ctx context.Context, guildID string, configID int64, assignments []domain.TeamAssignment) error
	ClearTeams(ctx context.Context, guildID string, configID int64) error
	PickPlayer(ctx context.Context, guildID string, configID int64, captainID, playerID string) (storage.PickResult, error)
	TurnOf(ctx context.Context, guildID, playerID string) ([]int64, error)

	ReadActivePickup(ctx context.Context, guildID string, ref domain.PickupRef) (domain.ActivePickup, error)
}

// Lo implementa internal/infra/storage.PickupRepo
type PickupStore interface {
	Get(ctx context.Context, guildID string, ref domain.PickupRef) (domain.PickupConfig, error)
	GetMany(ctx context.Context, guildID string, names []string) ([]domain.PickupConfig, error)
	List(ctx context.Context, guildID string) ([]domain.PickupConfig, error)
	Defaults(ctx context.Context, guildID string) ([]domain.PickupConfig, error)
	Create(ctx context.Context, c domain.PickupConfig) (int64, error)
	Update(ctx context.Context, guildID string, ref domain.PickupRef, u storage.PickupPatch) (domain.PickupConfig, error)
	Remove(ctx context.Context, guildID string, ids ...int64) (int64, error)
}

// Lo implementa internal/infra/storage.PlayerRepo
type PlayerStore interface {
	Upsert(ctx context.Context, guildID, playerID, nick string) error
	SetNotify(ctx context.Context, guildID, playerID string, on bool) error
	WithNotify(ctx context.Context, guildID string, ids []string) ([]string, error)
	SetAfk(ctx context.Context, guildID string, ids []string, afk bool) error
	ClearAfks(ctx context.Context, guildID string, ids []string) error
	AfkPlayers(ctx context.Context, guildID string, ids []string) ([]string, error)
	IdleSince(ctx context.Context, guildID string, ids []string, before time.Time) ([]string, error)
	SetExpire(ctx context.Context, guildID, playerID string, at *time.Time) error
	SetAo(ctx context.Context, guildID, playerID string, at time.Time) error
	ClearAos(ctx context.Context, guildID string, ids []string) error
	ActiveAos(ctx context.Context, guildID string, ids []string, now time.Time) ([]string, error)
	ExpiredPlayers(ctx context.Context, now time.Time) (map[string][]string, error)
}

// Lo implementa internal/infra/storage.GuildRepo
type GuildStore interface {
	Get(ctx context.Context, guildID string) (domain.GuildSettings, error)
	Update(ctx context.Context, guildID string, u storage.GuildSettingsPatch) (domain.GuildSettings, error)
}

// MatchRecorder guarda el pickup arrancado. Lo implementa storage.MatchRepo
type MatchRecorder interface {
	StorePickup(ctx context.Context, guildID string, configID int64, players []string, teams []domain.Team) (uuid.UUID, error)
}

// Announcer entrega mensajes. Lo implementa internal/adapters/discord.Announcer
type Announcer interface {
	SendStart(ctx context.Context, channelID, msg string) error
	SendDirect(ctx context.Context, playerID, msg string) error
	SendNotice(ctx context.Context, channelID, msg string) error
}

// AwayCheckStage resuelve (nil) cuando todos confirmaron. Cualquier error es
// un fallo, salvo domain.ErrStageAborted: el pickup volvió a fill.
type AwayCheckStage interface {
	Run(ctx context.Context, gc GuildContext, configID int64, mustSendInitial bool) error
}

// ManualPickingStage resuelve cuando todos los jugadores tienen equipo.
type ManualPickingStage interface {
	Run(ctx context.Context, gc GuildContext, configID int64, mustSendInitial bool) error
}

// TeamGenerator arma equipos para pick_mode=elo.
type TeamGenerator interface {
	Generate(ctx context.Context, pickup domain.ActivePickup) ([]domain.Team, error)
}

// RoleResolver responde si un miembro tiene un rol. Opcional (captain_role).
type RoleResolver interface {
	HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error)
}
