package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/satindergrewal/nyanrace/internal/app"
	"github.com/satindergrewal/nyanrace/internal/config"
	"github.com/satindergrewal/nyanrace/internal/server"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfg *config.Config

	cmd := &cobra.Command{
		Use:           "racer",
		Short:         "Petition race with a generative soundtrack",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Msg("could not load .env file")
			}

			loaded, err := config.Load()
			if err != nil {
				log.Error().Err(err).Msg("config")
				return err
			}
			cfg = loaded
			setupLogging(cfg.LogLevel)
			return nil
		},
	}

	cmd.AddCommand(newServeCommand(&cfg))
	cmd.AddCommand(newPollCommand(&cfg))
	return cmd
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func newServeCommand(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll both petitions and serve the race, controls and soundtrack",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			c := *cfg
			eng := app.New(c, app.Deps{})
			if err := eng.Start(ctx); err != nil {
				return err
			}
			defer eng.Stop()

			handlers := server.Handlers{
				View:  eng.Hub(),
				MP3:   eng.MP3(),
				Offer: eng.WebRTC(),
			}
			if c.Metrics {
				handlers.Metrics = eng.Metrics().Handler()
			}

			log.Info().
				Str("addr", c.Addr).
				Str("a", c.EntityAName).
				Str("b", c.EntityBName).
				Msg("racer starting")

			if err := server.ListenAndServe(ctx, c.Addr, server.New(eng, handlers)); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		},
	}
}

func newPollCommand(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Poll both petitions once and print the race view as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			eng := app.New(*cfg, app.Deps{})
			defer eng.Stop()

			c := eng.PollOnce(ctx)
			if c.Notice != "" {
				log.Warn().Msg(c.Notice)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(eng.Snapshot())
		},
	}
}
