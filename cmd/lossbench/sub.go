// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/absmach/lossbench/config"
	"github.com/absmach/lossbench/loss"
	"github.com/absmach/lossbench/notify"
	"github.com/spf13/cobra"
)

const subscriberName = "LossSubscriber"

func newSubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sub [server subject]",
		Short: "Count messages of one publisher run and report the loss",
		Args:  exactArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			applySubArgs(&cfg.Subscriber, args)
			if cfg.Subscriber.Subject == "" {
				return loss.ErrEmptySubject
			}
			return runSubscriber(cmd, cfg)
		},
	}
}

// applySubArgs overrides sc with the positional arguments server and
// subject.
func applySubArgs(sc *config.SubscriberConfig, args []string) {
	if len(args) == 0 {
		return
	}
	sc.Server = args[0]
	sc.Subject = args[1]
}

func runSubscriber(cmd *cobra.Command, cfg *config.Config) error {
	a, err := newApp(cfg, loss.RoleSubscriber)
	if err != nil {
		return err
	}
	defer a.close()

	opts := transportOptions(cfg.Transport, subscriberName, a.logger)
	opts.ReconnectWait = cfg.Subscriber.ReconnectWait

	run := loss.RunConfig{Server: cfg.Subscriber.Server, Subject: cfg.Subscriber.Subject}
	sub, err := loss.NewSubscriber(run, newDialer(opts), loss.SubscriberOptions{
		QueueGroup:       cfg.Subscriber.QueueGroup,
		FlushTimeout:     cfg.Subscriber.FlushTimeout,
		DrainTimeout:     cfg.Transport.DrainTimeout,
		StallPeriod:      cfg.Subscriber.StallPeriod,
		PropagationDelay: cfg.Subscriber.PropagationDelay,
		Logger:           a.logger,
		Metrics:          a.metrics,
	})
	if err != nil {
		return err
	}

	ctx, stop := a.signalContext()
	defer stop()

	if err := sub.Connect(ctx); err != nil {
		return err
	}
	if err := a.startControl(ctx, sub); err != nil {
		return err
	}

	a.emit(ctx, notify.RunStarted{
		Role:    loss.RoleSubscriber,
		Server:  run.Server,
		Subject: run.Subject,
	})

	report, err := sub.Run(ctx)
	if report != nil {
		a.finish(ctx, cmd.OutOrStdout(), report)
	}
	return err
}
