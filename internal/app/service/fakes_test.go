package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jose-valero/pickup-bot/internal/domain"
	"github.com/jose-valero/pickup-bot/internal/infra/storage"
)

const testGuild = "g1"

// fakeStore es un State Store en memoria para un solo guild. Cada método
// toma el lock entero, como si fuera una transacción.
type fakeStore struct {
	mu sync.Mutex

	configs map[int64]domain.PickupConfig
	live    map[int64]*domain.LiveState
	queue   map[int64][]string
	teams   map[int64][]domain.TeamAssignment

	nicks   map[string]string
	notify  map[string]bool
	afk     map[string]bool
	lastAdd map[string]time.Time
	expire  map[string]time.Time
	ao      map[string]time.Time

	// fallas inyectadas
	failTake   int
	failRecord bool

	takes    int
	resets   int
	reads    int
	recorded []recordedPickup

	// corre después de cada DequeuePlayers, fuera del lock (otro proceso
	// actuando entre dos escrituras)
	afterDequeue func()
}

type recordedPickup struct {
	configID int64
	players  []string
	teams    []domain.Team
}

func newFakeStore(cfgs ...domain.PickupConfig) *fakeStore {
	s := &fakeStore{
		configs: map[int64]domain.PickupConfig{},
		live:    map[int64]*domain.LiveState{},
		queue:   map[int64][]string{},
		teams:   map[int64][]domain.TeamAssignment{},
		nicks:   map[string]string{},
		notify:  map[string]bool{},
		afk:     map[string]bool{},
		lastAdd: map[string]time.Time{},
		expire:  map[string]time.Time{},
		ao:      map[string]time.Time{},
	}
	for _, c := range cfgs {
		c.GuildID = testGuild
		if c.TeamCount == 0 {
			c.TeamCount = 2
		}
		if c.PickMode == "" {
			c.PickMode = domain.PickModeNoTeams
		}
		s.configs[c.ID] = c
	}
	return s
}

var errStoreDown = errors.New("connection reset")

// ---------- StateStore ----------

func (s *fakeStore) TransitionStage(_ context.Context, _ string, id int64, from, to domain.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.live[id]
	if !ok || ls.Stage != from {
		return domain.ErrAlreadyTransitioned
	}
	s.setStage(id, to)
	return nil
}

func (s *fakeStore) setStage(id int64, to domain.Stage) {
	ls := s.live[id]
	ls.Stage = to
	ls.InStageSince = time.Now()
	ls.StageIteration = 0
}

// forceStage deja el pickup en un stage como si lo hubiera dejado otro proceso.
func (s *fakeStore) forceStage(id int64, to domain.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStage(id, to)
}

func (s *fakeStore) IncrementIteration(_ context.Context, _ string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ls, ok := s.live[id]; ok {
		ls.StageIteration++
	}
	return nil
}

func (s *fakeStore) LiveState(_ context.Context, _ string, id int64) (domain.LiveState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.live[id]
	if !ok {
		return domain.LiveState{}, domain.ErrNotFound
	}
	return *ls, nil
}

func (s *fakeStore) ListLiveStates(_ context.Context, _ string) ([]domain.LiveState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LiveState
	for id, ls := range s.live {
		v := *ls
		v.Queued, v.PlayerCount = len(s.queue[id]), s.configs[id].PlayerCount
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b domain.LiveState) int { return int(a.ConfigID - b.ConfigID) })
	return out, nil
}

func (s *fakeStore) AddPlayer(_ context.Context, guild string, id int64, player string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	ls, ok := s.live[id]
	if !ok {
		ls = &domain.LiveState{GuildID: guild, ConfigID: id, Stage: domain.StageFill, InStageSince: time.Now()}
		s.live[id] = ls
	}
	if ls.Stage != domain.StageFill {
		return false, domain.ErrPickupInProgress
	}
	if slices.Contains(s.queue[id], player) {
		return false, domain.ErrAlreadyQueued
	}
	if len(s.queue[id]) >= cfg.PlayerCount {
		return false, domain.ErrPickupFull
	}
	s.queue[id] = append(s.queue[id], player)
	s.lastAdd[player] = time.Now()
	return len(s.queue[id]) == cfg.PlayerCount, nil
}

// queuePlayers carga la cola directo, sin disparar nada.
func (s *fakeStore) queuePlayers(id int64, players ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[id]; !ok {
		s.live[id] = &domain.LiveState{GuildID: testGuild, ConfigID: id, Stage: domain.StageFill, InStageSince: time.Now()}
	}
	for _, p := range players {
		if !slices.Contains(s.queue[id], p) {
			s.queue[id] = append(s.queue[id], p)
			s.lastAdd[p] = time.Now()
		}
	}
}

func (s *fakeStore) DequeuePlayers(_ context.Context, _ string, ids []string, exclude ...int64) ([]int64, error) {
	s.mu.Lock()
	affected := s.dequeue(ids, exclude)
	hook := s.afterDequeue
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return affected, nil
}

func (s *fakeStore) dequeue(ids []string, exclude []int64) []int64 {
	var affected []int64
	for id, q := range s.queue {
		if slices.Contains(exclude, id) {
			continue
		}
		kept := q[:0:0]
		for _, p := range q {
			if !slices.Contains(ids, p) {
				kept = append(kept, p)
			}
		}
		if len(kept) == len(q) {
			continue
		}
		affected = append(affected, id)
		s.queue[id] = kept
		delete(s.teams, id)
		if ls, ok := s.live[id]; ok && ls.Stage != domain.StageFill {
			s.setStage(id, domain.StageFill)
		}
	}
	s.gc()
	return affected
}

func (s *fakeStore) gc() {
	for id := range s.live {
		if len(s.queue[id]) == 0 {
			delete(s.live, id)
			delete(s.queue, id)
			delete(s.teams, id)
		}
	}
}

func (s *fakeStore) TakeForStart(_ context.Context, guild string, id int64, playerCount int) ([]domain.QueuedPlayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.takes++
	if s.failTake > 0 {
		s.failTake--
		return nil, &domain.StoreFailure{Op: "take for start", Err: errStoreDown}
	}
	if _, ok := s.live[id]; !ok {
		return nil, domain.ErrAlreadyTransitioned
	}
	if len(s.queue[id]) < playerCount {
		return nil, domain.ErrAlreadyTransitioned
	}
	snapshot := make([]domain.QueuedPlayer, 0, len(s.queue[id]))
	ids := make([]string, 0, len(s.queue[id]))
	for _, p := range s.queue[id] {
		snapshot = append(snapshot, domain.QueuedPlayer{GuildID: guild, ConfigID: id, PlayerID: p, Nick: s.nickOf(p)})
		ids = append(ids, p)
	}
	s.dequeue(ids, nil)
	return snapshot, nil
}

func (s *fakeStore) nickOf(p string) string {
	if n, ok := s.nicks[p]; ok {
		return n
	}
	return p
}

func (s *fakeStore) QueuedIn(_ context.Context, _ string, player string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for id, q := range s.queue {
		if slices.Contains(q, player) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *fakeStore) ResetPickup(_ context.Context, _ string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	delete(s.live, id)
	delete(s.queue, id)
	delete(s.teams, id)
	// como el DELETE de state_guild_player: cualquier fila de un jugador sin cola
	var players []string
	for p := range s.lastAdd {
		players = append(players, p)
	}
	for p := range s.ao {
		players = append(players, p)
	}
	for p := range s.expire {
		players = append(players, p)
	}
	for _, p := range players {
		if !s.queuedAnywhere(p) {
			delete(s.lastAdd, p)
			delete(s.afk, p)
			delete(s.expire, p)
			delete(s.ao, p)
		}
	}
	return nil
}

func (s *fakeStore) queuedAnywhere(p string) bool {
	for _, q := range s.queue {
		if slices.Contains(q, p) {
			return true
		}
	}
	return false
}

func (s *fakeStore) AssignTeams(_ context.Context, _ string, id int64, rows []domain.TeamAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if r.CaptainTurn {
			for i := range s.teams[id] {
				s.teams[id][i].CaptainTurn = false
			}
		}
	}
	for _, r := range rows {
		r.GuildID, r.ConfigID = testGuild, id
		s.teams[id] = slices.DeleteFunc(s.teams[id], func(a domain.TeamAssignment) bool { return a.PlayerID == r.PlayerID })
		s.teams[id] = append(s.teams[id], r)
	}
	return nil
}

func (s *fakeStore) ClearTeams(_ context.Context, _ string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.teams, id)
	return nil
}

func (s *fakeStore) PickPlayer(_ context.Context, _ string, id int64, captain, player string) (storage.PickResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.live[id]
	if !ok {
		return storage.PickResult{}, domain.ErrNotFound
	}
	if ls.Stage != domain.StagePickingManual {
		return storage.PickResult{}, domain.ErrAlreadyTransitioned
	}
	rows := s.teams[id]
	current, ok := domain.CurrentTurn(rows)
	if !ok || !slices.ContainsFunc(rows, func(a domain.TeamAssignment) bool { return a.CaptainTurn && a.PlayerID == captain }) {
		return storage.PickResult{}, domain.ErrNotCaptainTurn
	}
	assigned := map[string]bool{}
	for _, r := range rows {
		assigned[r.PlayerID] = true
	}
	var free []string
	found := false
	for _, p := range s.queue[id] {
		switch {
		case assigned[p]:
		case p == player:
			found = true
		default:
			free = append(free, p)
		}
	}
	if !found {
		return storage.PickResult{}, domain.ErrPlayerUnavailable
	}

	cfg := s.configs[id]
	res := storage.PickResult{Team: current}
	rows = append(rows, domain.TeamAssignment{GuildID: testGuild, ConfigID: id, PlayerID: player, Team: current})
	size := domain.TeamSize(cfg.PlayerCount, cfg.TeamCount)
	if open := domain.OpenTeams(cfg.TeamCount, size, rows); len(open) == 1 && len(free) > 0 {
		for _, p := range free {
			rows = append(rows, domain.TeamAssignment{GuildID: testGuild, ConfigID: id, PlayerID: p, Team: open[0]})
		}
		res.AutoAssigned = free
		free = nil
	}
	for i := range rows {
		rows[i].CaptainTurn = false
	}
	next, more := domain.NextCaptainTurn(cfg.TeamCount, size, rows, current)
	if !more || len(free) == 0 {
		res.Done = true
	} else {
		res.NextTeam = next
		for i := range rows {
			if rows[i].Team == next && rows[i].IsCaptain {
				rows[i].CaptainTurn = true
				break
			}
		}
	}
	s.teams[id] = rows
	return res, nil
}

func (s *fakeStore) TurnOf(_ context.Context, _ string, player string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for id, rows := range s.teams {
		for _, r := range rows {
			if r.CaptainTurn && r.PlayerID == player {
				out = append(out, id)
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *fakeStore) ReadActivePickup(_ context.Context, _ string, ref domain.PickupRef) (domain.ActivePickup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	cfg, err := s.config(ref)
	if err != nil {
		return domain.ActivePickup{}, err
	}
	ls, ok := s.live[cfg.ID]
	if !ok {
		return domain.ActivePickup{}, domain.ErrNotFound
	}
	ap := domain.ActivePickup{Config: cfg, State: *ls, Teams: slices.Clone(s.teams[cfg.ID])}
	for _, p := range s.queue[cfg.ID] {
		ap.Players = append(ap.Players, domain.QueuedPlayer{GuildID: testGuild, ConfigID: cfg.ID, PlayerID: p, Nick: s.nickOf(p)})
	}
	return ap, nil
}

func (s *fakeStore) config(ref domain.PickupRef) (domain.PickupConfig, error) {
	for _, c := range s.configs {
		if (ref.Name != "" && c.Name == ref.Name) || (ref.Name == "" && c.ID == ref.ID) {
			return c, nil
		}
	}
	return domain.PickupConfig{}, domain.ErrNotFound
}

// ---------- PickupStore ----------

func (s *fakeStore) Get(_ context.Context, _ string, ref domain.PickupRef) (domain.PickupConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config(ref)
}

func (s *fakeStore) GetMany(_ context.Context, _ string, names []string) ([]domain.PickupConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PickupConfig
	for _, n := range names {
		if c, err := s.config(domain.ByName(n)); err == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) List(_ context.Context, _ string) ([]domain.PickupConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PickupConfig
	for _, c := range s.configs {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.PickupConfig) int { return int(a.ID - b.ID) })
	return out, nil
}

func (s *fakeStore) Defaults(ctx context.Context, guild string) ([]domain.PickupConfig, error) {
	all, _ := s.List(ctx, guild)
	return slices.DeleteFunc(all, func(c domain.PickupConfig) bool { return !c.IsDefault }), nil
}

func (s *fakeStore) Create(_ context.Context, c domain.PickupConfig) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = int64(len(s.configs) + 1)
	s.configs[c.ID] = c
	return c.ID, nil
}

func (s *fakeStore) Update(_ context.Context, _ string, ref domain.PickupRef, u storage.PickupPatch) (domain.PickupConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.config(ref)
	if err != nil {
		return c, err
	}
	if u.PlayerCount != nil {
		c.PlayerCount = *u.PlayerCount
	}
	if u.PickMode != nil {
		c.PickMode = *u.PickMode
	}
	if err := c.Validate(); err != nil {
		return domain.PickupConfig{}, err
	}
	s.configs[c.ID] = c
	return c, nil
}

func (s *fakeStore) Remove(_ context.Context, _ string, ids ...int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := s.configs[id]; ok {
			delete(s.configs, id)
			delete(s.live, id)
			delete(s.queue, id)
			delete(s.teams, id)
			n++
		}
	}
	return n, nil
}

// ---------- PlayerStore ----------

func (s *fakeStore) Upsert(_ context.Context, _ string, player, nick string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nicks[player] = nick
	return nil
}

func (s *fakeStore) SetNotify(_ context.Context, _ string, player string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nicks[player]; !ok {
		return domain.ErrNotFound
	}
	s.notify[player] = on
	return nil
}

func (s *fakeStore) WithNotify(_ context.Context, _ string, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, p := range ids {
		if s.notify[p] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) SetAfk(_ context.Context, _ string, ids []string, afk bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range ids {
		s.afk[p] = afk
	}
	return nil
}

func (s *fakeStore) ClearAfks(_ context.Context, _ string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range ids {
		delete(s.afk, p)
	}
	return nil
}

func (s *fakeStore) AfkPlayers(_ context.Context, _ string, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, p := range ids {
		if s.afk[p] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) IdleSince(_ context.Context, _ string, ids []string, before time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, p := range ids {
		if t, ok := s.lastAdd[p]; !ok || !t.After(before) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) SetExpire(_ context.Context, _ string, player string, at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at == nil {
		delete(s.expire, player)
		return nil
	}
	s.expire[player] = *at
	return nil
}

func (s *fakeStore) SetAo(_ context.Context, _ string, player string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ao[player] = at
	return nil
}

func (s *fakeStore) ClearAos(_ context.Context, _ string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range ids {
		delete(s.ao, p)
	}
	return nil
}

func (s *fakeStore) ActiveAos(_ context.Context, _ string, ids []string, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, p := range ids {
		if at, ok := s.ao[p]; ok && at.After(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) aoOf(p string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.ao[p]
	return at, ok
}

func (s *fakeStore) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *fakeStore) ExpiredPlayers(_ context.Context, now time.Time) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string][]string{}
	for p, at := range s.expire {
		if !at.After(now) {
			out[testGuild] = append(out[testGuild], p)
		}
	}
	return out, nil
}

// ---------- MatchRecorder ----------

func (s *fakeStore) StorePickup(_ context.Context, _ string, id int64, players []string, teams []domain.Team) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRecord {
		return uuid.Nil, &domain.StoreFailure{Op: "store pickup", Err: errStoreDown}
	}
	s.recorded = append(s.recorded, recordedPickup{configID: id, players: slices.Clone(players), teams: teams})
	return uuid.New(), nil
}

// ---------- helpers de inspección ----------

func (s *fakeStore) snapshot(id int64) (live bool, queued int, teams int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, live = s.live[id]
	return live, len(s.queue[id]), len(s.teams[id])
}

func (s *fakeStore) records() []recordedPickup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.recorded)
}

func (s *fakeStore) isAfk(p string) (afk, present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	afk, present = s.afk[p]
	return afk, present
}

// ---------- Announcer ----------

type fakeAnnouncer struct {
	mu       sync.Mutex
	starts   []string
	directs  map[string]string
	notices  []string
	failUser string
}

func newFakeAnnouncer() *fakeAnnouncer { return &fakeAnnouncer{directs: map[string]string{}} }

func (a *fakeAnnouncer) SendStart(_ context.Context, _ string, msg string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.starts = append(a.starts, msg)
	return nil
}

func (a *fakeAnnouncer) SendDirect(_ context.Context, player, msg string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if player == a.failUser {
		return fmt.Errorf("cannot DM %s", player)
	}
	a.directs[player] = msg
	return nil
}

func (a *fakeAnnouncer) SendNotice(_ context.Context, _ string, msg string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notices = append(a.notices, msg)
	return nil
}

func (a *fakeAnnouncer) snapshot() (starts, notices []string, directs map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := make(map[string]string, len(a.directs))
	for k, v := range a.directs {
		d[k] = v
	}
	return slices.Clone(a.starts), slices.Clone(a.notices), d
}

// ---------- stages ----------

// stageFunc sirve de AwayCheckStage, ManualPickingStage y cuenta las llamadas.
type stageFunc struct {
	mu    sync.Mutex
	calls []bool
	fn    func(ctx context.Context, gc GuildContext, configID int64, initial bool) error
}

func (f *stageFunc) Run(ctx context.Context, gc GuildContext, configID int64, initial bool) error {
	f.mu.Lock()
	f.calls = append(f.calls, initial)
	f.mu.Unlock()
	if f.fn == nil {
		return nil
	}
	return f.fn(ctx, gc, configID, initial)
}

func (f *stageFunc) initialFlags() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func failing(err error) *stageFunc {
	return &stageFunc{fn: func(context.Context, GuildContext, int64, bool) error { return err }}
}

type teamGenFunc func(ctx context.Context, ap domain.ActivePickup) ([]domain.Team, error)

func (f teamGenFunc) Generate(ctx context.Context, ap domain.ActivePickup) ([]domain.Team, error) {
	return f(ctx, ap)
}

func (s *fakeStore) hasTimer(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lastAdd[p]
	return ok
}

func (s *fakeStore) stageOf(id int64) (domain.Stage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.live[id]
	if !ok {
		return "", false
	}
	return ls.Stage, true
}

func (s *fakeStore) queued(id int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queue[id])
}
