package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dalnet/luna/internal/bot"
	"github.com/dalnet/luna/internal/config"
	"github.com/dalnet/luna/internal/irc"
	"github.com/dalnet/luna/internal/log"
)

// how long a QUIT gets to leave before the session is torn down
const shutdownGrace = 5 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		pidFile    string
	)

	root := &cobra.Command{
		Use:          "luna",
		Short:        "luna is an IRC bot",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, pidFile)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to config file")
	root.Flags().StringVar(&pidFile, "pidfile", "", "write the process id to this file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("luna version %s\n", bot.Version)
			fmt.Printf("Built: %s\n", bot.BuildDate)
			fmt.Printf("Commit: %s\n", bot.GitCommit)
		},
	})
	return root
}

func run(parent context.Context, configPath, pidFile string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := log.New(cfg.LogLevel)

	if pidFile != "" {
		if err := writePIDFile(pidFile); err != nil {
			logger.Warn().Err(err).Msg("could not write PID file")
		} else {
			defer os.Remove(pidFile)
		}
	}

	b, err := bot.New(cfg, logger)
	if err != nil {
		return err
	}

	opts := []irc.Option{
		irc.WithLogger(logger),
		irc.WithRateLimit(cfg.RateCapacity, cfg.RateFill, cfg.RateFloor),
		irc.WithIdleInterval(cfg.IdleInterval),
		irc.WithRetryDelay(cfg.RetryDelay),
		irc.WithPassword(cfg.ServerPass),
	}
	if cfg.TLS {
		opts = append(opts, irc.WithTLS(&tls.Config{
			ServerName:         cfg.Server,
			InsecureSkipVerify: cfg.TLSInsecure,
		}))
	}
	client := irc.NewClient(cfg.Nick, cfg.Username, cfg.RealName, b.Events(), opts...)

	runCtx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		select {
		case <-sigCtx.Done():
		case <-runCtx.Done():
			return
		}
		logger.Info().Msg("received shutdown signal")
		client.Post(func(c *irc.Client) {
			c.Stop()
			c.Disconnect("Shutting down")
		})
		select {
		case <-time.After(shutdownGrace):
			logger.Warn().Msg("QUIT did not complete, closing connection")
			cancel()
		case <-runCtx.Done():
		}
	}()

	logger.Info().Str("server", cfg.Server).Int("port", cfg.Port).Str("nick", cfg.Nick).Msg("starting luna")
	err = client.Run(runCtx, cfg.Server, cfg.Port)
	if err != nil && runCtx.Err() != nil && parent.Err() == nil {
		// hard cancel after the grace period is still a clean shutdown
		err = nil
	}
	logger.Info().Msg("shutdown complete")
	return err
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}
