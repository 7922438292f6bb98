// Package main is the entry point for the flexreport server binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"flexreport/internal/app"
	"flexreport/internal/cache"
	"flexreport/internal/config"
)

const shutdownGrace = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "flexreport",
		Short:         "Reporting backend: load, cache, filter, and export tabular sources",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file loaded before reading the environment")

	root.AddCommand(newServeCmd(&envFile))
	root.AddCommand(newCacheCmd(&envFile))
	return root
}

// loadConfig reads the optional .env file, then the environment, and
// builds the logger from the configured level.
func loadConfig(envFile string) (*config.Config, *slog.Logger, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load %s: %v\n", envFile, err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	return cfg, logger, nil
}

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*envFile)
			if err != nil {
				return err
			}

			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a.Start(ctx)

			srv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           a.Handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server listening", "addr", cfg.ListenAddr, "env", cfg.Env)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
}

func newCacheCmd(envFile *string) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the persistent cache",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List cached sources with age and size",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			store := cache.New(cfg.CacheDir, cfg.CacheMaxAge(), logger)
			defer store.Close() //nolint:errcheck

			entries := store.Status()
			if len(entries) == 0 {
				cmd.Println("cache is empty")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tCACHED AT\tAGE (H)\tROWS\tSIZE (B)\tFORMAT\tEXPIRED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%.1f\t%d\t%d\t%s\t%v\n",
					e.SourceName, e.CachedAt.Format(time.RFC3339), e.AgeHours, e.RowCount, e.SizeBytes, e.Format, e.Expired)
			}
			return tw.Flush()
		},
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear <source>",
		Short: "Remove one source's cache entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			store := cache.New(cfg.CacheDir, cfg.CacheMaxAge(), logger)
			defer store.Close() //nolint:errcheck

			if !store.Clear(args[0]) {
				return fmt.Errorf("no cache entry for %q", args[0])
			}
			cmd.Printf("cleared cache for %s\n", args[0])
			return nil
		},
	})

	return cacheCmd
}
