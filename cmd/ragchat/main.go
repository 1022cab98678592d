package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/ragchat/config"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "ragchat",
		Short:         "Retrieval-augmented chat over an article corpus",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env is optional; real environment variables win.
			_ = godotenv.Load()
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ./config/config.*)")

	load := func() (*config.Config, error) { return config.LoadConfig(cfgPath) }
	root.AddCommand(
		serveCMD(load),
		workerCMD(load),
		migrateCMD(load),
		emitCMD(load),
		tokenCMD(load),
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type configLoader func() (*config.Config, error)
