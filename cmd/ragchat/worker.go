package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func workerCMD(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume article events and keep the vector index in sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(context.Background())
			return a.runner().Start(ctx)
		},
	}
}
