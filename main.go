// autofleet: fleet state fed by asynchronous results
//
// Usage:
//
//	autofleet run     : load the inventory, apply results from the bus, serve RPC
//	autofleet watch   : show the fleet as seen by a running autofleet
//	autofleet facts   : collect local facts, optionally publish them
//	autofleet publish : hand a result payload to a running autofleet
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"autofleet/cmd/facts"
	"autofleet/cmd/publish"
	"autofleet/cmd/run"
	"autofleet/cmd/watch"
)

const (
	defaultSystemPath = "/etc/autofleet/config.toml"
	defaultLocalPath  = "config.toml"
	version           = "0.3.0"
)

var (
	configPath   string
	watchOpts    watch.Options
	publishOpts  publish.Options
	publishFacts bool

	rootCmd = &cobra.Command{
		Use:           "autofleet",
		Short:         "Fleet state fed by asynchronous results",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Auto-discover config if not specified
			if configPath != "" {
				return
			}
			if _, err := os.Stat(defaultLocalPath); err == nil {
				configPath = defaultLocalPath
			} else {
				configPath = defaultSystemPath
			}
		},
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Load the inventory and apply results from the bus until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run.Run(configPath)
		},
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Show the nodes of a running autofleet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch.Run(configPath, watchOpts)
		},
	}

	factsCmd = &cobra.Command{
		Use:   "facts",
		Short: "Collect local facts and optionally publish them for local nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return facts.Run(configPath, publishFacts)
		},
	}

	publishCmd = &cobra.Command{
		Use:   "publish [payload]",
		Short: "Publish a result payload (argument or stdin) to a running autofleet",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				publishOpts.Payload = args[0]
			}
			publishOpts.Stdin = cmd.InOrStdin()
			return publish.Run(configPath, publishOpts)
		},
	}

	editCmd = &cobra.Command{
		Use:   "edit",
		Short: "Edit the configuration file in your system editor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run.EditConfig(configPath)
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("autofleet v%s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		fmt.Sprintf("Path to config file (default: ./%s, then %s)", defaultLocalPath, defaultSystemPath))

	rootCmd.AddCommand(runCmd)

	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&watchOpts.Group, "group", "g", "", "Only show nodes of this group")
	watchCmd.Flags().DurationVarP(&watchOpts.Interval, "interval", "n", 0, "Refresh every interval (0 prints once)")
	watchCmd.Flags().BoolVar(&watchOpts.Watches, "watches", false, "Also show rules registered on the monitor channel")

	rootCmd.AddCommand(factsCmd)
	factsCmd.Flags().BoolVar(&publishFacts, "publish", false, "Publish setup results for nodes with connection=local")

	rootCmd.AddCommand(publishCmd)
	publishCmd.Flags().StringVarP(&publishOpts.Channel, "channel", "c", "", "Channel to publish on (default: the result channel)")
	publishCmd.Flags().BoolVar(&publishOpts.Goodbye, "goodbye", false, "Publish the shutdown sentinel")

	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
