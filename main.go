package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coalaura/logger"
	"github.com/spf13/cobra"
)

var (
	config     PicConfig
	configPath string

	log = logger.New()
)

func main() {
	root := &cobra.Command{
		Use:           "picsearch",
		Short:         "Photo gallery with natural language search",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCommand,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yml", "path to the config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the web server",
			RunE:  serveCommand,
		},
		configTask(),
		reindexTask(),
		backupTask(),
	)

	log.MustPanic(root.Execute())
}

func loadConfig() error {
	log.Info("Loading config...")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	config = *cfg

	return nil
}

func serveCommand(cmd *cobra.Command, args []string) error {
	err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runServer(ctx, &config)
}
