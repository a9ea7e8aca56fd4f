package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const serviceName = "escrowd"

var configPath string

func main() {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Run the NFT-gated escrow ledger node.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./escrow.toml", "path to the TOML or YAML configuration file")
	root.AddCommand(newInitCmd(), newServeCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config if missing and apply the genesis allocations.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := openNode(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer n.Close(context.Background())
			created, err := n.applyGenesis()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config: %s\nmints created: %d\n", configPath, created)
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON-RPC API until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			n, err := openNode(ctx, configPath)
			if err != nil {
				return err
			}
			defer n.Close(context.Background())
			if _, err := n.applyGenesis(); err != nil {
				return err
			}
			return n.Run(ctx)
		},
	}
}
