// Command charactersd serves the character directory API.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ubk8751/cathyAI/internal/character"
	"github.com/ubk8751/cathyAI/internal/config"
	"github.com/ubk8751/cathyAI/internal/server"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "charactersd",
		Short: "Character directory service with conditional-request caching",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("charactersd: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.CharDir); err != nil {
		slog.Warn("character directory not accessible", "dir", cfg.CharDir, "error", err)
	}

	store := character.NewStore(character.Config{
		CharDir:   cfg.CharDir,
		PromptDir: cfg.PromptDir,
		InfoDir:   cfg.InfoDir,
		AvatarDir: cfg.AvatarDir,
		HostURL:   cfg.HostURL,
	})
	srv := server.New(store, cfg.APIKey)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Watch(ctx, cfg.CharDir, cfg.PromptDir, cfg.InfoDir); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("directory watcher stopped", "error", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("serving character directory", "addr", cfg.Addr, "char_dir", cfg.CharDir)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
