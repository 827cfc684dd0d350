package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deskthing-dev/deskthing/internal/config"
	"github.com/deskthing-dev/deskthing/internal/emulator"
)

func devCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Run the app against the local emulator",
		Long: `Starts the emulator session for the app in the current directory:
the message bus, the app server process with hot restart, the simulated
client, and the dev HTTP server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev()
		},
	}
	return cmd
}

func runDev() error {
	printBanner()

	cfg, err := config.LoadFromWorkingDir()
	if err != nil {
		return err
	}

	session := emulator.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := session.Start(ctx); err != nil {
		return err
	}

	success("emulator started")
	info("client:   %s", cfg.DevURL())
	info("link:     ws://localhost:%d", cfg.Development.Client.LinkPort)
	info("watching: %s", cfg.ServerPath())
	info("press Ctrl+C to stop")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	info("shutting down...")
	session.Stop()
	success("emulator stopped")
	return nil
}
