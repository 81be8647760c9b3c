package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/AlchemyMachine/internal/version"
)

type rootOptions struct {
	configPath string
	debug      bool
	brokerURL  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "alchemy",
		Short:         "Alchemy Machine puzzle prop controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "alchemy.yaml",
		"Path to the deployment file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the puzzle controller, MQTT bridge and operator API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProp(cmd.Context(), opts)
		},
	}
	runCmd.Flags().BoolVar(&opts.debug, "debug", false, "Print debug events on stdout")

	sendCmd := &cobra.Command{
		Use:       "send solve|reset",
		Short:     "Publish a remote command to a running prop",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"solve", "reset"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd, opts, args[0])
		},
	}
	sendCmd.Flags().StringVar(&opts.brokerURL, "broker", "", "Broker URL (overrides the deployment file)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	}

	rootCmd.AddCommand(runCmd, sendCmd, versionCmd)
	return rootCmd
}
