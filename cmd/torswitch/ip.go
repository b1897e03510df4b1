package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewIPCmd creates the ip command.
func NewIPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ip",
		Short: "Print the current exit address",
		Long: `Print the address the IP-echo endpoint sees, routed through Tor's SOCKS
port. With --disable-tor the request goes direct.

Examples:
  torswitch ip
  torswitch ip --probe-url https://api.ipify.org`,
		Args: cobra.NoArgs,
		RunE: runIPCmd,
	}
}

// runIPCmd executes the ip command.
func runIPCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cmd, cfg.Verbose)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck // best effort shutdown

	return printExitNode(ctx, cmd, s)
}

func printExitNode(ctx context.Context, cmd *cobra.Command, s *session) error {
	p, err := s.newProxy()
	if err != nil {
		return err
	}
	defer p.Close() //nolint:errcheck // releases idle connections only

	addr, err := p.CurrentExitNode(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), addr)
	return nil
}
