package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/torswitch/internal/control"
	"github.com/nao1215/torswitch/internal/tor"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the SOCKS port, exit address and open streams",
		Long: `Status checks that the SOCKS port speaks SOCKS5, reads the current exit
address and lists the streams Tor has open. Streams to v3 onion services are
marked in the ONION column.

Examples:
  torswitch status
  torswitch status --control-password secret`,
		Args: cobra.NoArgs,
		RunE: runStatusCmd,
	}
}

// torStatus is everything the status command collects.
type torStatus struct {
	socks      tor.ProxyStatus
	exitNode   string
	exitErr    error
	streams    []control.StreamRecord
	streamsErr error
}

// runStatusCmd executes the status command.
func runStatusCmd(cmd *cobra.Command, _ []string) error {
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

	p, err := s.newProxy()
	if err != nil {
		return err
	}
	defer p.Close() //nolint:errcheck // releases idle connections only

	st := collectStatus(ctx, p)
	writeStatus(cmd.OutOrStdout(), p, st)

	if p.Disabled() {
		return st.exitErr
	}
	return errors.Join(st.socks.Err(), st.exitErr, st.streamsErr)
}

// collectStatus runs the SOCKS check, the address probe and the stream
// listing concurrently.
func collectStatus(ctx context.Context, p *tor.TorProxy) *torStatus {
	st := &torStatus{}

	var eg errgroup.Group
	eg.Go(func() error {
		st.exitNode, st.exitErr = p.CurrentExitNode(ctx)
		return nil
	})
	if !p.Disabled() {
		eg.Go(func() error {
			st.socks = tor.CheckSocks(ctx, p.Config().SocksAddr())
			return nil
		})
		eg.Go(func() error {
			st.streams, st.streamsErr = p.Streams(ctx)
			return nil
		})
	}
	_ = eg.Wait() //nolint:errcheck // every task records its own error

	return st
}

func writeStatus(w io.Writer, p *tor.TorProxy, st *torStatus) {
	if p.Disabled() {
		fmt.Fprintln(w, "Tor:          disabled")
	} else {
		fmt.Fprintf(w, "Tor:          %s (SOCKS %d, control %d)\n", p.Address(), p.Port(), p.ControlPort())
		fmt.Fprintf(w, "SOCKS:        %s\n", st.socks)
	}

	if st.exitErr != nil {
		fmt.Fprintf(w, "Exit address: error: %v\n", st.exitErr)
	} else {
		fmt.Fprintf(w, "Exit address: %s\n", st.exitNode)
	}

	if p.Disabled() {
		return
	}
	if st.streamsErr != nil {
		fmt.Fprintf(w, "Streams:      error: %v\n", st.streamsErr)
		return
	}
	fmt.Fprintf(w, "Streams:      %d open\n", len(st.streams))
	if len(st.streams) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCIRCUIT\tTARGET\tONION")
	for _, s := range st.streams {
		onion := ""
		if tor.IsOnionTarget(s.Target) {
			onion = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.StreamID, s.StreamStatus, s.CircuitID, s.Target, onion)
	}
	_ = tw.Flush() //nolint:errcheck // output errors surface on the next write
}
