package main

import (
	"github.com/spf13/cobra"

	srv "github.com/mohammad-safakhou/ragchat/internal/server"
)

func migrateCMD(load configLoader) *cobra.Command {
	var (
		dir       string
		direction string
		steps     int
	)
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Server.MigrationsDir
			}
			return srv.Migrate(dir, cfg.Storage.Postgres.DSN(), direction, steps)
		},
	}
	migrate.Flags().StringVar(&dir, "dir", "", "migrations source (default server.migrations_dir)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return migrate
}
