package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	discordrouter "github.com/jose-valero/pickup-bot/internal/adapters/discord"
	"github.com/jose-valero/pickup-bot/internal/adapters/httpapi"
	"github.com/jose-valero/pickup-bot/internal/app/service"
	"github.com/jose-valero/pickup-bot/internal/infra/config"
	"github.com/jose-valero/pickup-bot/internal/infra/storage"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// contexto raíz: la señal lo cancela y corta handlers, poller y http
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	if err := storage.Migrate(db); err != nil {
		log.Fatal("migrate:", err)
	}
	log.Println("✅ DB lista y migrada")

	// Repos
	stateRepo := storage.NewStateRepo(db)
	pickupRepo := storage.NewPickupRepo(db)
	playerRepo := storage.NewPlayerRepo(db)
	guildRepo := storage.NewGuildRepo(db)
	matchRepo := storage.NewMatchRepo(db)
	panelRepo := storage.NewPanelRepo(db)

	// Discord session
	s, err := discordgo.New(cfg.BotAuth())
	if err != nil {
		log.Fatal(err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds
	if err := s.Open(); err != nil {
		log.Fatal(err)
	}
	defer s.Close()
	log.Printf("✅ Conectado como %s (%s)", s.State.User.Username, s.State.User.ID)

	announcer := discordrouter.NewAnnouncer(s)
	roles := discordrouter.NewRoles(s)

	// Métricas
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := service.NewMetrics(reg)

	// Orquestador + stages
	orch := service.NewOrchestrator(service.OrchestratorDeps{
		State:       stateRepo,
		Players:     playerRepo,
		Recorder:    matchRepo,
		Announce:    announcer,
		AfkCheck:    service.NewAfkCheck(stateRepo, playerRepo, announcer, cfg.StagePollInterval),
		Picking:     service.NewManualPicking(stateRepo, announcer, roles, cfg.StagePollInterval),
		Metrics:     metrics,
		Log:         logger,
		BaseContext: ctx,
	})

	// Services
	guildSvc := service.NewGuildService(guildRepo, logger)
	queueSvc := service.NewQueueService(pickupRepo, stateRepo, playerRepo, orch, announcer)
	pickupSvc := service.NewPickupService(pickupRepo)

	// HTTP: healthz, métricas, estado
	web := httpapi.New(db, stateRepo, matchRepo, reg)
	go func() {
		if err := web.Start(ctx, cfg.HTTPAddr); err != nil {
			log.Printf("[http] %v", err)
		}
	}()

	// Router
	r := discordrouter.NewRouter(s, cfg.DiscordGuild, guildSvc, queueSvc, pickupSvc, panelRepo, cfg.AdminRoleIDs)
	if err := r.Register(); err != nil {
		log.Fatalf("registrando comandos: %v", err)
	}
	r.Handlers()
	if cfg.DiscordGuild != "" {
		log.Printf("✅ comandos registrados en guild %s", cfg.DiscordGuild)
	} else {
		log.Println("✅ comandos globales registrados")
	}

	// pickups que quedaron a mitad de camino en un proceso anterior
	resumeAll(ctx, stateRepo, guildSvc, orch)

	// Poller: re-entra stages huérfanos y vence expiraciones
	go func() {
		t := time.NewTicker(cfg.StagePollInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			resumeAll(ctx, stateRepo, guildSvc, orch)

			pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			n, err := queueSvc.ExpireDue(pctx, guildSvc.Context)
			cancel()
			if err != nil {
				logger.Warn("expire due", "err", err)
			} else if n > 0 {
				logger.Info("expired players removed", "count", n)
			}
		}
	}()

	<-ctx.Done()
	log.Println("👋 apagando: esperando handlers en curso")
	orch.Wait()
}

func resumeAll(ctx context.Context, state *storage.StateRepo, guilds *service.GuildService, orch *service.Orchestrator) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ids, err := state.GuildsWithLiveState(ctx)
	if err != nil {
		slog.Warn("list guilds with live state", "err", err)
		return
	}
	for _, id := range ids {
		gc, err := guilds.Context(ctx, id)
		if err != nil {
			slog.Warn("guild context", "guild", id, "err", err)
			continue
		}
		if err := orch.Resume(ctx, gc); err != nil {
			gc.Logger().Warn("resume", "err", err)
		}
	}
}
