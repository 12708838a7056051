package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jose-valero/pickup-bot/internal/domain"
)

// Orchestrator lleva un pickup lleno por sus stages hasta que arranca o se
// resetea. No guarda estado propio: cada decisión sale de una lectura fresca
// del store, así que se puede reiniciar el proceso en cualquier momento.
type Orchestrator struct {
	state    StateStore
	players  PlayerStore
	recorder MatchRecorder
	ann      Announcer
	afk      AwayCheckStage
	picking  ManualPickingStage
	elo      TeamGenerator
	render   TemplateRenderer
	metrics  *Metrics
	now      func() time.Time
	log      *slog.Logger

	base context.Context
	wg   sync.WaitGroup

	mu sync.Mutex
	// handlers corriendo en este proceso; el bool pide una vuelta más al terminar
	running map[runKey]bool
}

type runKey struct {
	guild  string
	config int64
}

type OrchestratorDeps struct {
	State    StateStore
	Players  PlayerStore
	Recorder MatchRecorder
	Announce Announcer
	AfkCheck AwayCheckStage
	Picking  ManualPickingStage
	// opcional: sin generador, pick_mode=elo cae directo a arrancar sin equipos
	TeamGenerator TeamGenerator
	Metrics       *Metrics
	Log           *slog.Logger
	Now           func() time.Time
	// contexto de los handlers lanzados con Go; cancelarlo los corta sin resetear nada
	BaseContext context.Context
}

func NewOrchestrator(d OrchestratorDeps) *Orchestrator {
	o := &Orchestrator{
		state:    d.State,
		players:  d.Players,
		recorder: d.Recorder,
		ann:      d.Announce,
		afk:      d.AfkCheck,
		picking:  d.Picking,
		elo:      d.TeamGenerator,
		metrics:  d.Metrics,
		now:      d.Now,
		log:      d.Log,
		base:     d.BaseContext,
		running:  map[runKey]bool{},
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.base == nil {
		o.base = context.Background()
	}
	return o
}

// Go lanza Handle en su propia goroutine (el add que llenó el pickup no espera).
func (o *Orchestrator) Go(gc GuildContext, configID int64) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.Handle(o.base, gc, configID); err != nil && !errors.Is(err, context.Canceled) {
			o.logger(gc).Error("pickup handling failed", "config", configID, "err", err)
		}
	}()
}

// Wait bloquea hasta que terminen todos los handlers lanzados con Go.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Resume re-entra a los pickups vivos del guild que no tienen handler en
// este proceso: afk_check / picking_manual sin re-mandar el mensaje inicial,
// y fill con roster completo como un trigger nuevo. Los fill incompletos
// no lanzan nada.
func (o *Orchestrator) Resume(ctx context.Context, gc GuildContext) error {
	states, err := o.state.ListLiveStates(ctx, gc.GuildID())
	if err != nil {
		return err
	}
	for _, ls := range states {
		if ls.AwaitingFill() || o.isRunning(runKey{gc.GuildID(), ls.ConfigID}) {
			continue
		}
		o.Go(gc, ls.ConfigID)
	}
	return nil
}

// Handle es el punto de entrada de un trigger. Triggers duplicados dentro del
// proceso se pliegan en una sola vuelta extra; entre procesos los corta el
// compare-and-set del store.
func (o *Orchestrator) Handle(ctx context.Context, gc GuildContext, configID int64) error {
	k := runKey{gc.GuildID(), configID}
	for {
		if !o.claim(k) {
			return nil
		}
		err := o.handle(ctx, gc, configID)
		if again := o.release(k); !again || ctx.Err() != nil {
			return err
		}
	}
}

func (o *Orchestrator) claim(k runKey) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.running[k]; busy {
		o.running[k] = true
		return false
	}
	o.running[k] = false
	return true
}

func (o *Orchestrator) release(k runKey) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	again := o.running[k]
	delete(o.running, k)
	return again
}

func (o *Orchestrator) isRunning(k runKey) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[k]
	return ok
}

func (o *Orchestrator) handle(ctx context.Context, gc GuildContext, configID int64) error {
	ap, err := o.state.ReadActivePickup(ctx, gc.GuildID(), domain.ByID(configID))
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	cfg := ap.Config

	switch ap.State.Stage {
	case domain.StageFill:
		if !ap.Full() {
			return nil
		}
		if !cfg.AfkCheck {
			return o.dispatch(ctx, gc, cfg, domain.StageFill, true)
		}
		if err := o.state.TransitionStage(ctx, gc.GuildID(), cfg.ID, domain.StageFill, domain.StageAfkCheck); err != nil {
			if errors.Is(err, domain.ErrAlreadyTransitioned) {
				return nil
			}
			// nada se sacó todavía de la cola
			return o.reset(ctx, gc, cfg, err)
		}
		o.metrics.transition(string(domain.StageAfkCheck))
		return o.afkThenDispatch(ctx, gc, cfg, true)
	case domain.StageAfkCheck:
		return o.afkThenDispatch(ctx, gc, cfg, false)
	case domain.StagePickingManual:
		return o.dispatch(ctx, gc, cfg, domain.StagePickingManual, false)
	}
	return fmt.Errorf("pickup %s: unknown stage %q", cfg.Name, ap.State.Stage)
}

func (o *Orchestrator) afkThenDispatch(ctx context.Context, gc GuildContext, cfg domain.PickupConfig, initial bool) error {
	log := o.logger(gc).With("pickup", cfg.Name)
	started := o.now()

	err := o.afk.Run(ctx, gc, cfg.ID, initial)
	switch {
	case err == nil:
		o.metrics.stage(string(domain.StageAfkCheck), "ok", o.now().Sub(started).Seconds())
	case errors.Is(err, domain.ErrStageAborted):
		o.metrics.stage(string(domain.StageAfkCheck), "aborted", o.now().Sub(started).Seconds())
		log.Info("afk check aborted, pickup back to fill")
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		// un afk check fallido no cancela el pickup
		o.metrics.stage(string(domain.StageAfkCheck), "failed", o.now().Sub(started).Seconds())
		log.Warn("afk check failed, continuing", "err", &domain.CollaboratorFailure{Stage: string(domain.StageAfkCheck), Err: err})
		o.clearAfks(ctx, gc, cfg)
		o.notice(ctx, gc, fmt.Sprintf("⚠️ El afk check de **%s** no se completó. Arrancamos igual.", cfg.Name))
	}
	return o.dispatch(ctx, gc, cfg, domain.StageAfkCheck, true)
}

func (o *Orchestrator) clearAfks(ctx context.Context, gc GuildContext, cfg domain.PickupConfig) {
	ap, err := o.state.ReadActivePickup(ctx, gc.GuildID(), domain.ByID(cfg.ID))
	if err != nil {
		o.logger(gc).Warn("read pickup for afk cleanup", "pickup", cfg.Name, "err", err)
		return
	}
	if err := o.players.ClearAfks(ctx, gc.GuildID(), ap.PlayerIDs()); err != nil {
		o.logger(gc).Warn("clear afks", "pickup", cfg.Name, "err", err)
	}
}

// ---------- dispatch ----------

// tier es un intento de arranque; si falla se pasa al siguiente, y si fallan
// todos el pickup se resetea.
type tier struct {
	name    string
	attempt func(ctx context.Context) error
	// aviso al canal cuando este tier falla y queda otro
	fallbackNotice string
}

func (o *Orchestrator) tiers(gc GuildContext, cfg domain.PickupConfig, from domain.Stage, initial bool) []tier {
	withoutTeams := tier{
		name: "no_teams",
		attempt: func(ctx context.Context) error {
			if cfg.PickMode == domain.PickModeManual {
				if err := o.state.ClearTeams(ctx, gc.GuildID(), cfg.ID); err != nil {
					return err
				}
			}
			return o.StartPickup(ctx, gc, cfg, nil)
		},
	}

	switch cfg.PickMode {
	case domain.PickModeManual:
		return []tier{{
			name:           "manual",
			attempt:        func(ctx context.Context) error { return o.manualTier(ctx, gc, cfg, from, initial) },
			fallbackNotice: fmt.Sprintf("⚠️ El picking de **%s** falló. Arrancamos sin equipos.", cfg.Name),
		}, withoutTeams}
	case domain.PickModeElo:
		return []tier{{
			name:           "elo",
			attempt:        func(ctx context.Context) error { return o.eloTier(ctx, gc, cfg) },
			fallbackNotice: fmt.Sprintf("⚠️ No se pudieron armar equipos para **%s**. Arrancamos sin equipos.", cfg.Name),
		}, withoutTeams}
	default:
		return []tier{withoutTeams}
	}
}

// dispatch recorre los tiers. Ningún tier devuelve error después de haber
// sacado a los jugadores de la cola, así que el reset del final nunca pisa
// un pickup arrancado.
func (o *Orchestrator) dispatch(ctx context.Context, gc GuildContext, cfg domain.PickupConfig, from domain.Stage, initial bool) error {
	log := o.logger(gc).With("pickup", cfg.Name)
	var lastErr error
	tiers := o.tiers(gc, cfg, from, initial)
	for i, t := range tiers {
		err := t.attempt(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrStageAborted) || errors.Is(err, domain.ErrAlreadyTransitioned) {
			log.Info("dispatch stopped", "tier", t.name, "reason", err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("dispatch tier failed", "tier", t.name, "err", err)
		lastErr = err
		if i < len(tiers)-1 && t.fallbackNotice != "" {
			o.notice(ctx, gc, t.fallbackNotice)
		}
	}
	return o.reset(ctx, gc, cfg, lastErr)
}

func (o *Orchestrator) manualTier(ctx context.Context, gc GuildContext, cfg domain.PickupConfig, from domain.Stage, initial bool) error {
	if from != domain.StagePickingManual {
		if err := o.state.TransitionStage(ctx, gc.GuildID(), cfg.ID, from, domain.StagePickingManual); err != nil {
			return err
		}
		o.metrics.transition(string(domain.StagePickingManual))
		initial = true
	}

	started := o.now()
	if err := o.picking.Run(ctx, gc, cfg.ID, initial); err != nil {
		if errors.Is(err, domain.ErrStageAborted) {
			o.metrics.stage(string(domain.StagePickingManual), "aborted", o.now().Sub(started).Seconds())
			return err
		}
		o.metrics.stage(string(domain.StagePickingManual), "failed", o.now().Sub(started).Seconds())
		return &domain.CollaboratorFailure{Stage: string(domain.StagePickingManual), Err: err}
	}
	o.metrics.stage(string(domain.StagePickingManual), "ok", o.now().Sub(started).Seconds())

	ap, err := o.state.ReadActivePickup(ctx, gc.GuildID(), domain.ByID(cfg.ID))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrAlreadyTransitioned
	}
	if err != nil {
		return err
	}
	if ap.State.Stage != domain.StagePickingManual {
		return domain.ErrStageAborted
	}
	return o.StartPickup(ctx, gc, cfg, domain.ResolveTeams(cfg.TeamCount, ap.Teams))
}

func (o *Orchestrator) eloTier(ctx context.Context, gc GuildContext, cfg domain.PickupConfig) error {
	if o.elo == nil {
		return &domain.CollaboratorFailure{Stage: "elo", Err: errors.New("no team generator configured")}
	}
	ap, err := o.state.ReadActivePickup(ctx, gc.GuildID(), domain.ByID(cfg.ID))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrAlreadyTransitioned
	}
	if err != nil {
		return err
	}
	teams, err := o.elo.Generate(ctx, ap)
	if err != nil {
		return &domain.CollaboratorFailure{Stage: "elo", Err: err}
	}
	return o.StartPickup(ctx, gc, cfg, teams)
}

func (o *Orchestrator) reset(ctx context.Context, gc GuildContext, cfg domain.PickupConfig, cause error) error {
	log := o.logger(gc).With("pickup", cfg.Name)
	if err := o.state.ResetPickup(ctx, gc.GuildID(), cfg.ID); err != nil {
		log.Error("reset failed", "cause", cause, "err", err)
		return fmt.Errorf("reset %s: %w", cfg.Name, err)
	}
	o.metrics.outcome(outcomeReset)
	log.Warn("pickup reset", "cause", cause)
	o.notice(ctx, gc, fmt.Sprintf("❌ **%s** no pudo arrancar y se reseteó. Anotense de nuevo con `/add`.", cfg.Name))
	return fmt.Errorf("pickup %s reset: %w", cfg.Name, cause)
}

// ---------- start ----------

// StartPickup es el final común de todos los caminos. El único error posible
// es el de TakeForStart (nada commiteado todavía); de ahí en adelante el
// pickup ya arrancó y los fallos sólo se avisan.
func (o *Orchestrator) StartPickup(ctx context.Context, gc GuildContext, cfg domain.PickupConfig, teams []domain.Team) error {
	snapshot, err := o.state.TakeForStart(ctx, gc.GuildID(), cfg.ID, cfg.PlayerCount)
	if err != nil {
		return err
	}

	// ya no hay vuelta atrás: que un shutdown no corte los avisos
	ctx = context.WithoutCancel(ctx)
	log := o.logger(gc).With("pickup", cfg.Name)

	ids := make([]string, 0, len(snapshot))
	for _, p := range snapshot {
		ids = append(ids, p.PlayerID)
	}
	if len(teams) > 0 {
		o.metrics.outcome(outcomeStarted)
	} else {
		o.metrics.outcome(outcomeStartedWithoutTeams)
	}

	mc := MessageContext{
		PickupName: cfg.Name,
		Players:    ids,
		Teams:      teams,
		Captains:   domain.Captains(teams),
	}
	if msg := o.render.Render(gc.Settings.StartMessage, mc); msg != "" && gc.Settings.PickupChannelID != "" {
		o.deliver(gc, "start", gc.Settings.PickupChannelID, o.ann.SendStart(ctx, gc.Settings.PickupChannelID, msg))
	}
	o.notifyPlayers(ctx, gc, ids, mc)

	if _, err := o.recorder.StorePickup(ctx, gc.GuildID(), cfg.ID, ids, teams); err != nil {
		o.metrics.outcome(outcomeRecordFailed)
		log.Error("store pickup failed", "err", err)
		o.notice(ctx, gc, fmt.Sprintf("⚠️ **%s** arrancó pero no se pudo guardar en el historial.", cfg.Name))
	}
	log.Info("pickup started", "players", len(ids), "teams", len(teams))
	return nil
}

func (o *Orchestrator) notifyPlayers(ctx context.Context, gc GuildContext, ids []string, mc MessageContext) {
	msg := o.render.Render(gc.Settings.NotifyMessage, mc)
	if msg == "" {
		return
	}
	targets, err := o.players.WithNotify(ctx, gc.GuildID(), ids)
	if err != nil {
		o.logger(gc).Warn("players with notify", "pickup", mc.PickupName, "err", err)
		return
	}
	for _, p := range targets {
		o.deliver(gc, "direct", p, o.ann.SendDirect(ctx, p, msg))
	}
}

func (o *Orchestrator) notice(ctx context.Context, gc GuildContext, msg string) {
	if gc.Settings.PickupChannelID == "" {
		o.logger(gc).Info("notice without channel", "msg", msg)
		return
	}
	o.deliver(gc, "notice", gc.Settings.PickupChannelID, o.ann.SendNotice(ctx, gc.Settings.PickupChannelID, msg))
}

// deliver sólo loguea y cuenta: un envío fallido nunca cambia el ciclo de vida.
func (o *Orchestrator) deliver(gc GuildContext, kind, target string, err error) {
	if err == nil {
		return
	}
	o.metrics.delivery(kind)
	o.logger(gc).Warn("delivery failed", "kind", kind, "err", &domain.DeliveryFailure{Target: target, Err: err})
}

func (o *Orchestrator) logger(gc GuildContext) *slog.Logger {
	if gc.Log != nil {
		return gc.Log
	}
	return o.log.With("guild", gc.GuildID())
}
