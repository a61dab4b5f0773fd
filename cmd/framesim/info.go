package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gogpu/gpuframe/backend"
	"github.com/gogpu/gpuframe/internal/config"
)

func init() {
	rootCmd.AddCommand(newBackendsCmd(), newConfigCmd())
}

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the registered backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range backend.Available() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `The config command prints the configuration after defaults and the
--config file have been applied, in the format --config accepts.

Example:
  framesim config > framesim.yaml
  framesim config -c framesim.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
