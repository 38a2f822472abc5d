// cursedboard: zero-config clipboard sync over the local network.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.klb.dev/cursedboard/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "cursedboard",
		Short: "Zero-config clipboard sync over the local network",
		Long: `cursedboard keeps the text clipboard of every machine on your LAN in
agreement. Each host runs the same daemon: instances find each other via
multicast DNS, authenticate against a shared secret, and broadcast
clipboard edits to every authenticated peer.

Run "cursedboard daemon" on each machine with the same --psk. Use
"cursedboard pair" to open a time-boxed window during which unknown
peers (or peers from another group) may join the mesh.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newDaemonCmd(),
		newPairCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("cursedboard %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}
