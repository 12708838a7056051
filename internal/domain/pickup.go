package domain

import (
	"fmt"
	"time"
)

type Stage string

const (
	StageFill          Stage = "fill"
	StageAfkCheck      Stage = "afk_check"
	StagePickingManual Stage = "picking_manual"
)

func (s Stage) Valid() bool {
	switch s {
	case StageFill, StageAfkCheck, StagePickingManual:
		return true
	}
	return false
}

type PickMode string

const (
	PickModeNoTeams PickMode = "no_teams"
	PickModeManual  PickMode = "manual"
	PickModeElo     PickMode = "elo"
)

func (m PickMode) Valid() bool {
	switch m {
	case PickModeNoTeams, PickModeManual, PickModeElo:
		return true
	}
	return false
}

// PickupConfig es la definición de un pickup dentro de un guild.
type PickupConfig struct {
	ID          int64
	GuildID     string
	Name        string
	PlayerCount int
	TeamCount   int
	IsDefault   bool
	AfkCheck    bool
	PickMode    PickMode

	WhitelistRole Optional[string]
	BlacklistRole Optional[string]
	PromotionRole Optional[string]
	CaptainRole   Optional[string]
	MapPoolID     Optional[int64]
	ServerID      Optional[int64]
}

func (c PickupConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("pickup sin nombre")
	}
	if c.PlayerCount < 2 {
		return fmt.Errorf("player_count debe ser >= 2 (got %d)", c.PlayerCount)
	}
	if c.TeamCount < 1 {
		return fmt.Errorf("team_count debe ser >= 1 (got %d)", c.TeamCount)
	}
	if c.PickMode != PickModeNoTeams && c.PlayerCount%c.TeamCount != 0 {
		return fmt.Errorf("player_count %d no divisible por team_count %d", c.PlayerCount, c.TeamCount)
	}
	if !c.PickMode.Valid() {
		return fmt.Errorf("pick_mode inválido: %q", c.PickMode)
	}
	return nil
}

// LiveState: fila de state_pickup. Si no existe, el pickup no está pendiente.
type LiveState struct {
	GuildID        string
	ConfigID       int64
	Stage          Stage
	InStageSince   time.Time
	StageIteration int

	// sólo los llena ListLiveStates
	Queued      int
	PlayerCount int
}

// AwaitingFill: en fill y sin el roster completo, no hay nada que disparar.
func (s LiveState) AwaitingFill() bool {
	return s.Stage == StageFill && s.PlayerCount > 0 && s.Queued < s.PlayerCount
}

type QueuedPlayer struct {
	GuildID  string
	ConfigID int64
	PlayerID string
	Nick     string
}

type TeamAssignment struct {
	GuildID     string
	ConfigID    int64
	PlayerID    string
	Team        string
	IsCaptain   bool
	CaptainTurn bool
}

// PlayerTimer agrupa los timestamps efímeros por (guild, player).
type PlayerTimer struct {
	GuildID      string
	PlayerID     string
	LastAdd      *time.Time
	PickupExpire *time.Time
	IsAfk        *bool
	// AO (allow offline): hasta AoExpire el afk check no lo marca
	AoExpire *time.Time
}

// ActivePickup es una lectura puntual de config + estado + jugadores + equipos.
type ActivePickup struct {
	Config  PickupConfig
	State   LiveState
	Players []QueuedPlayer
	Teams   []TeamAssignment
}

func (p ActivePickup) PlayerIDs() []string {
	out := make([]string, 0, len(p.Players))
	for _, pl := range p.Players {
		out = append(out, pl.PlayerID)
	}
	return out
}

func (p ActivePickup) Full() bool { return len(p.Players) >= p.Config.PlayerCount }

// Team es un roster resuelto (picking manual o generador).
type Team struct {
	Label   string
	Players []string
	Captain Optional[string]
}

// Captains devuelve los capitanes presentes, en orden de equipo.
func Captains(teams []Team) []string {
	var out []string
	for _, t := range teams {
		if c, ok := t.Captain.Get(); ok {
			out = append(out, c)
		}
	}
	return out
}

// PickupRef identifica un pickup por id o por nombre.
type PickupRef struct {
	ID   int64
	Name string
}

func ByID(id int64) PickupRef       { return PickupRef{ID: id} }
func ByName(name string) PickupRef { return PickupRef{Name: name} }

func (r PickupRef) String() string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("#%d", r.ID)
}

// GuildSettings: configuración por guild que usa el ciclo de vida.
type GuildSettings struct {
	GuildID         string
	PickupChannelID string
	StartMessage    string
	NotifyMessage   string
	AfkCheckAfter   time.Duration
	AfkCheckTimeout time.Duration
	PickingTimeout  time.Duration
	ReminderEvery   time.Duration
}
