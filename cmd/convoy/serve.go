package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/convoy/internal/sweep"
	"github.com/zulandar/convoy/internal/webhook"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and reply sweep",
		Long: `Starts the HTTP server that receives platform webhooks and the task API,
together with the periodic sweep that sends due consumer replies and tops up
running tasks. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to convoy config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	if a.notifier != nil {
		if err := a.notifier.Start(ctx); err != nil {
			log.Warn("operator notifications disabled", zap.Error(err))
		}
	}

	sw, err := sweep.New(sweep.Opts{
		Orchestrator: a.orch,
		Tracker:      a.tracker,
		Responder:    a.responder,
		Schedule:     cfg.Sweep.Schedule,
		BatchSize:    cfg.Sweep.BatchSize,
		Logger:       log.Named("sweep"),
	})
	if err != nil {
		return err
	}
	sweepErr := make(chan error, 1)
	go func() { sweepErr <- sw.Run(ctx) }()

	srv, err := webhook.New(webhook.Opts{
		Orchestrator:  a.orch,
		Tracker:       a.tracker,
		Logger:        log.Named("webhook"),
		Secret:        cfg.Server.WebhookSecret.Value(),
		RatePerSecond: cfg.Server.RatePerSecond,
		RateBurst:     cfg.Server.RateBurst,
	})
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	fmt.Fprintf(cmd.OutOrStdout(), "Convoy listening on %s\n", addr)
	if err := srv.Start(ctx, addr); err != nil {
		cancel()
		<-sweepErr
		return err
	}
	cancel()
	return <-sweepErr
}
