package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deskrelay/auth-session-service/internal/app"
	"github.com/deskrelay/auth-session-service/internal/config"
)

func main() {
	cmd := &cobra.Command{
		Use:   "auth-session-service",
		Short: "Authentication and session security service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
