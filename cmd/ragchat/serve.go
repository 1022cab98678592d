package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	srv "github.com/mohammad-safakhou/ragchat/internal/server"
)

func serveCMD(load configLoader) *cobra.Command {
	var (
		addr       string
		withWorker bool
	)
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.Server.Validate(); err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Address
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Server.AutoMigrate {
				if err := srv.Migrate(cfg.Server.MigrationsDir, cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
					return err
				}
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			server := srv.New(srv.Deps{
				Chat:      a.chat,
				Articles:  a.pipeline,
				JWTSecret: []byte(cfg.Server.JWTSecret),
				Checks: map[string]srv.Check{
					"postgres": a.store.Ping,
					"redis":    func(ctx context.Context) error { return a.redis.Ping(ctx).Err() },
				},
				Logger: a.logger,
			})

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return server.Run(ctx, addr) })
			if withWorker {
				a.logger.Info("running reindex consumers in-process")
				g.Go(func() error { return a.runner().Start(ctx) })
			}
			err = g.Wait()
			a.logger.Info("serve stopped", zap.Error(err))
			return err
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	serve.Flags().BoolVar(&withWorker, "with-worker", false, "also consume article event streams")
	return serve
}
