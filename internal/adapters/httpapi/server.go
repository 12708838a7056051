package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jose-valero/pickup-bot/internal/domain"
	"github.com/jose-valero/pickup-bot/internal/infra/storage"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

// LiveReader: lo mínimo del State Store para mostrar pickups pendientes.
type LiveReader interface {
	ListLiveStates(ctx context.Context, guildID string) ([]domain.LiveState, error)
	ReadActivePickup(ctx context.Context, guildID string, ref domain.PickupRef) (domain.ActivePickup, error)
}

type MatchReader interface {
	Recent(ctx context.Context, guildID string, limit int) ([]storage.MatchRecord, error)
}

// Server: healthz, métricas y estado read-only de los pickups.
type Server struct {
	db      Pinger
	live    LiveReader
	matches MatchReader
	metrics prometheus.Gatherer
	router  chi.Router
}

func New(db Pinger, live LiveReader, matches MatchReader, metrics prometheus.Gatherer) *Server {
	s := &Server{db: db, live: live, matches: matches, metrics: metrics}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	r.Route("/guilds/{guild}", func(r chi.Router) {
		r.Get("/pickups", s.pickups)
		r.Get("/matches", s.recentMatches)
	})
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

// Start bloquea hasta que ctx se cancela y después hace shutdown ordenado.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Printf("🌐 HTTP listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		log.Printf("[healthz] db: %v", err)
		http.Error(w, "db unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pickupView struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Stage        string     `json:"stage"`
	InStageSince time.Time  `json:"in_stage_since"`
	Players      []string   `json:"players"`
	PlayerCount  int        `json:"player_count"`
	Teams        []teamView `json:"teams,omitempty"`
}

type teamView struct {
	Label   string   `json:"label"`
	Captain string   `json:"captain,omitempty"`
	Players []string `json:"players"`
}

func (s *Server) pickups(w http.ResponseWriter, r *http.Request) {
	guild := chi.URLParam(r, "guild")
	states, err := s.live.ListLiveStates(r.Context(), guild)
	if err != nil {
		internalError(w, "list live states", err)
		return
	}
	out := make([]pickupView, 0, len(states))
	for _, ls := range states {
		ap, err := s.live.ReadActivePickup(r.Context(), guild, domain.ByID(ls.ConfigID))
		if errors.Is(err, domain.ErrNotFound) {
			// arrancó o se vació entre las dos lecturas
			continue
		}
		if err != nil {
			internalError(w, "read pickup", err)
			return
		}
		v := pickupView{
			ID:           ap.Config.ID,
			Name:         ap.Config.Name,
			Stage:        string(ap.State.Stage),
			InStageSince: ap.State.InStageSince,
			Players:      ap.PlayerIDs(),
			PlayerCount:  ap.Config.PlayerCount,
		}
		if len(ap.Teams) > 0 {
			for _, t := range domain.ResolveTeams(ap.Config.TeamCount, ap.Teams) {
				c, _ := t.Captain.Get()
				v.Teams = append(v.Teams, teamView{Label: t.Label, Captain: c, Players: t.Players})
			}
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) recentMatches(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			http.Error(w, "limit must be 1..100", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.matches.Recent(r.Context(), chi.URLParam(r, "guild"), limit)
	if err != nil {
		internalError(w, "recent matches", err)
		return
	}
	out := make([]matchView, 0, len(recs))
	for _, m := range recs {
		v := matchView{ID: m.ID.String(), ConfigID: m.ConfigID, Name: m.Name, HasTeams: m.HasTeams, StartedAt: m.StartedAt}
		for _, p := range m.Players {
			v.Players = append(v.Players, matchPlayerView{PlayerID: p.PlayerID, Team: p.Team, Captain: p.IsCaptain})
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

type matchView struct {
	ID        string            `json:"id"`
	ConfigID  *int64            `json:"config_id,omitempty"`
	Name      string            `json:"name"`
	HasTeams  bool              `json:"has_teams"`
	StartedAt time.Time         `json:"started_at"`
	Players   []matchPlayerView `json:"players"`
}

type matchPlayerView struct {
	PlayerID string  `json:"player_id"`
	Team     *string `json:"team,omitempty"`
	Captain  bool    `json:"captain,omitempty"`
}

func internalError(w http.ResponseWriter, op string, err error) {
	log.Printf("[http] %s: %v", op, err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
