package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/torswitch/internal/config"
	"github.com/nao1215/torswitch/internal/tor"
)

// NewRootCmd creates the root command for torswitch.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "torswitch",
		Short: "Rotate the Tor exit node through the control port",
		Long: `torswitch drives Tor's control port to change the exit node your traffic
leaves the Tor network from. Every rotation asks Tor for a new identity, closes
the open streams and waits until an IP-echo service reports a new address.

By default torswitch talks to a Tor daemon on 127.0.0.1 (SOCKS 9050, control
9051). Use --embedded to start a private Tor daemon instead.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	flags := cmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "Enable verbose logging, including every rotation state")
	flags.Bool("log-json", false, "Write logs as JSON")
	flags.StringP("config", "c", "",
		"Configuration file path (default: .torswitch in current or home directory)")

	// Tor connection flags
	flags.Bool("disable-tor", false, "Bypass Tor: probes go direct and rotation is a no-op")
	flags.StringP("address", "a", tor.DefaultAddress, "Host of Tor's SOCKS and control ports")
	flags.IntP("port", "p", tor.DefaultPort, "Tor SOCKS port")
	flags.Int("control-port", tor.DefaultControlPort, "Tor control port")
	flags.String("control-password", "", "Password for the control port")
	flags.DurationP("circuit-timeout", "t", tor.DefaultCircuitBuildTimeout,
		"How long a rotation waits for the exit address to change")
	flags.String("probe-url", tor.DefaultProbeURL, "IP-echo endpoint used to read the exit address")

	// Embedded daemon flags
	flags.BoolP("embedded", "e", false, "Start a private Tor daemon instead of using --address")
	flags.DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout,
		"Timeout for embedded Tor startup")

	flags.String("db-dir", config.XDGDataDir(), "Directory of the rotation history database")

	// Add subcommands
	cmd.AddCommand(NewIPCmd())
	cmd.AddCommand(NewRotateCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
