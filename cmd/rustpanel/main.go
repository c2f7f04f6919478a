// RustPanel - control panel for Rust servers running the Carbon
// WebControlPanel bridge.
//
// RustPanel holds a WebSocket connection to the bridge, decodes its binary
// RPC replies into live server status, map and player views, keeps a local
// history and exposes everything through a console, a REST API and MQTT.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ____            _   ____                  _
 |  _ \ _   _ ___| |_|  _ \ __ _ _ __   ___| |
 | |_) | | | / __| __| |_) / _' | '_ \ / _ \ |
 |  _ <| |_| \__ \ |_|  __/ (_| | | | |  __/ |
 |_| \_\\__,_|___/\__|_|   \__,_|_| |_|\___|_|  %s
`

func main() {
	opts := &runOptions{}

	rootCmd := &cobra.Command{
		Use:   "rustpanel",
		Short: "Control panel for Rust servers via the Carbon WebControlPanel bridge",
		Long: `RustPanel connects to a Rust server's WebControlPanel bridge and keeps a
live view of server status, the map, entities and players.

Running without a subcommand starts the panel.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	opts.bind(rootCmd)

	rootCmd.AddCommand(
		runCmd(),
		setupCmd(),
		rpcidCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Printf(banner, version)
	fmt.Println()
}
