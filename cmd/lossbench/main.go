// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	jsonOut    string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lossbench",
		Short: "Measure message loss across live connection migrations",
		Long: `lossbench runs a fixed-rate publisher or a counting subscriber on a
subject and reports throughput and loss. While a run is in progress its
connection can be moved to another server through the control subject
or the HTTP control endpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&jsonOut, "json-out", "", "Append the final report as a JSON line to this file")

	root.AddCommand(newPubCmd(), newSubCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
