package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jose-valero/pickup-bot/internal/domain"
	"github.com/jose-valero/pickup-bot/internal/infra/storage"
)

const programName = "pickupctl"

var globalFlags = struct {
	databaseURL string
	debug       bool
}{}

func openDB(ctx context.Context) (*sql.DB, error) {
	if globalFlags.databaseURL == "" {
		return nil, errors.New("falta --database-url (o DATABASE_URL)")
	}
	return storage.Open(ctx, globalFlags.databaseURL)
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			if err := storage.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ migraciones aplicadas")
			return nil
		},
	}
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			return storage.MigrationStatus(db)
		},
	}
}

func importCommand() *cobra.Command {
	var (
		guild  string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Create or update pickup configs from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			cfgs, err := decodePickups(f, guild)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if dryRun {
				for _, c := range cfgs {
					fmt.Fprintf(cmd.OutOrStdout(), "ok %s/%s (%d jugadores, %s)\n", c.GuildID, c.Name, c.PlayerCount, c.PickMode)
				}
				return nil
			}
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			repo := storage.NewPickupRepo(db)
			for _, c := range cfgs {
				id, err := repo.Upsert(cmd.Context(), c)
				if err != nil {
					return fmt.Errorf("pickup %s: %w", c.Name, err)
				}
				slog.Debug("pickup upserted", "guild", c.GuildID, "name", c.Name, "id", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %d pickups importados\n", len(cfgs))
			return nil
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "guild id (overrides the file's guild)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate only, do not write")
	return cmd
}

func pendingCommand() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List live pickups that have not changed stage recently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			states, err := storage.NewStateRepo(db).StaleSince(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			printStates(cmd, states)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only pickups stuck in their stage for at least this long")
	return cmd
}

func printStates(cmd *cobra.Command, states []domain.LiveState) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GUILD\tCONFIG\tSTAGE\tSINCE\tITERATION")
	for _, s := range states {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\n", s.GuildID, s.ConfigID, s.Stage, s.InStageSince.Format(time.RFC3339), s.StageIteration)
	}
	_ = w.Flush()
}

func resetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset GUILD PICKUP",
		Short: "Clear a pickup's players, teams and stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			cfg, err := storage.NewPickupRepo(db).Get(cmd.Context(), args[0], domain.ByName(args[1]))
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("no existe el pickup %q en %s", args[1], args[0])
			}
			if err != nil {
				return err
			}
			if err := storage.NewStateRepo(db).ResetPickup(cmd.Context(), cfg.GuildID, cfg.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s reseteado\n", cfg.Name)
			return nil
		},
	}
}

func abortCommand() *cobra.Command {
	var player string
	cmd := &cobra.Command{
		Use:   "abort GUILD PICKUP",
		Short: "Send a pickup stuck in afk_check or picking_manual back to fill",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			cfg, err := storage.NewPickupRepo(db).Get(cmd.Context(), args[0], domain.ByName(args[1]))
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("no existe el pickup %q en %s", args[1], args[0])
			}
			if err != nil {
				return err
			}
			state := storage.NewStateRepo(db)
			ls, err := state.LiveState(cmd.Context(), cfg.GuildID, cfg.ID)
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%s no está pendiente", cfg.Name)
			}
			if err != nil {
				return err
			}
			switch ls.Stage {
			case domain.StageAfkCheck:
				err = state.AbortAfkCheck(cmd.Context(), cfg.GuildID, cfg.ID)
			case domain.StagePickingManual:
				err = state.AbortPicking(cmd.Context(), cfg.GuildID, cfg.ID, player)
			default:
				return fmt.Errorf("%s ya está en %s", cfg.Name, ls.Stage)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s volvió a fill\n", cfg.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&player, "player", "", "also dequeue this player (picking only)")
	return cmd
}

func rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Admin tool for the pickup bot database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			level := slog.LevelInfo
			if globalFlags.debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().
		StringVar(&globalFlags.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "postgres connection string")
	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")

	rootCmd.AddCommand(
		migrateCommand(),
		statusCommand(),
		importCommand(),
		pendingCommand(),
		resetCommand(),
		abortCommand(),
	)
	return rootCmd
}

func main() {
	_ = godotenv.Load()
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		os.Exit(1)
	}
}
