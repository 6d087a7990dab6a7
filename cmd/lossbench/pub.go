// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"

	"github.com/absmach/lossbench/config"
	"github.com/absmach/lossbench/loss"
	"github.com/absmach/lossbench/notify"
	"github.com/absmach/lossbench/transport"
	"github.com/spf13/cobra"
)

const publisherName = "LossPublisher"

func newPubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pub [server count rate subject size]",
		Short: "Publish a fixed number of messages at a target rate",
		Args:  exactArgs(0, 5),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := applyPubArgs(&cfg.Publisher, args); err != nil {
				return err
			}
			run := loss.RunConfig{
				Server:  cfg.Publisher.Server,
				Subject: cfg.Publisher.Subject,
				Count:   cfg.Publisher.Count,
				Rate:    cfg.Publisher.Rate,
				Size:    cfg.Publisher.Size,
			}
			if err := run.Validate(); err != nil {
				return err
			}
			return runPublisher(cmd, cfg, run)
		},
	}
}

// applyPubArgs overrides pc with the positional arguments
// server, count, rate, subject and size.
func applyPubArgs(pc *config.PublisherConfig, args []string) error {
	if len(args) == 0 {
		return nil
	}

	count, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid message count %q: %w", args[1], err)
	}
	rate, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid rate %q: %w", args[2], err)
	}
	size, err := strconv.Atoi(args[4])
	if err != nil {
		return fmt.Errorf("invalid message size %q: %w", args[4], err)
	}

	pc.Server = args[0]
	pc.Count = count
	pc.Rate = rate
	pc.Subject = args[3]
	pc.Size = size
	return nil
}

func runPublisher(cmd *cobra.Command, cfg *config.Config, run loss.RunConfig) error {
	a, err := newApp(cfg, loss.RolePublisher)
	if err != nil {
		return err
	}
	defer a.close()

	opts := transportOptions(cfg.Transport, publisherName, a.logger)
	opts.ReconnectWait = cfg.Publisher.ReconnectWait
	opts.ReconnectBufSize = transport.ReconnectBufferFor(run.Size, run.Rate)

	pub, err := loss.NewPublisher(run, newDialer(opts), loss.PublisherOptions{
		FlushTimeout: cfg.Publisher.FlushTimeout,
		DrainTimeout: cfg.Transport.DrainTimeout,
		Backoff:      cfg.Publisher.Backoff,
		Logger:       a.logger,
		Metrics:      a.metrics,
	})
	if err != nil {
		return err
	}

	ctx, stop := a.signalContext()
	defer stop()

	if err := a.startControl(ctx, pub); err != nil {
		return err
	}

	a.logger.Info("starting publisher",
		"server", run.Server,
		"subject", run.Subject,
		"count", run.Count,
		"rate", run.Rate,
		"size", run.Size)
	a.emit(ctx, notify.RunStarted{
		Role:    loss.RolePublisher,
		Server:  run.Server,
		Subject: run.Subject,
		Count:   run.Count,
		Rate:    run.Rate,
		Size:    run.Size,
	})

	report, err := pub.Run(ctx)
	if report != nil {
		a.finish(ctx, cmd.OutOrStdout(), report)
	}
	return err
}
