package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/milleriumage/drarena/internal/app"
	"github.com/milleriumage/drarena/internal/config"
	"github.com/milleriumage/drarena/internal/storage"
)

func main() {
	// Missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "drarena",
		Short:         "DR ARENA - argue with an AI opponent in real time",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("drarena: %v", err)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the arena server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := result.Cleanup(); err != nil {
					log.Printf("cleanup: %v", err)
				}
			}()

			result.Sessions.StartJanitor(ctx, 5*time.Second)

			server := &http.Server{
				Addr:    cfg.BindAddr,
				Handler: result.API.Router(),
			}

			errCh := make(chan error, 1)
			go func() {
				log.Printf("drarena listening on %s", cfg.BindAddr)
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				log.Printf("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required for migrate")
			}
			pool, err := storage.Connect(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := storage.Migrate(pool); err != nil {
				return err
			}
			log.Printf("migrations applied")
			return nil
		},
	}
}
