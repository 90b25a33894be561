// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root quarry command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "quarry",
		Short:         "Quarry — chunked document ingestion and retrieval",
		Long:          "Quarry ingests documents from object storage, splits and embeds them, and serves similarity search over the result.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newStartCmd(),
		newVersionCmd(),
	)

	return root
}
