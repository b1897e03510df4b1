package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/torswitch/internal/config"
	"github.com/nao1215/torswitch/internal/database"
	"github.com/nao1215/torswitch/internal/tor"
)

const (
	defaultPollInterval = time.Second
	defaultSettleDelay  = 10 * time.Second
)

// NewRotateCmd creates the rotate command.
func NewRotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Change the Tor exit node",
		Long: `Rotate asks Tor for a new identity, closes every open stream and polls the
IP-echo endpoint until the exit address changes. Every rotation is recorded in
the history database unless --no-history is given.

With --parallel, several independent clients rotate against the same daemon at
the same time. Each keeps its own success counter.

Examples:
  # Change the exit node once
  torswitch rotate

  # Rotate three times, thirty seconds apart
  torswitch rotate -n 3 -i 30s

  # Use a control port password and a shorter circuit timeout
  torswitch rotate --control-password secret -t 30s`,
		Args: cobra.NoArgs,
		RunE: runRotateCmd,
	}

	cmd.Flags().IntP("count", "n", config.DefaultCount, "Number of rotations per client")
	cmd.Flags().DurationP("interval", "i", 0, "Wait between consecutive rotations")
	cmd.Flags().IntP("parallel", "P", config.DefaultParallel, "Number of clients rotating concurrently")
	cmd.Flags().Bool("no-history", false, "Do not record rotations in the history database")
	cmd.Flags().Duration("poll-interval", defaultPollInterval, "Wait between address probes while polling")
	cmd.Flags().Duration("settle-delay", defaultSettleDelay, "Wait after the address changed before reporting success")

	return cmd
}

// rotateOptions are the timing flags that tune the rotation engine.
type rotateOptions struct {
	pollInterval time.Duration
	settleDelay  time.Duration
}

// runRotateCmd executes the rotate command.
func runRotateCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.Count, err = cmd.Flags().GetInt("count"); err != nil {
		return err
	}
	if cfg.Interval, err = cmd.Flags().GetDuration("interval"); err != nil {
		return err
	}
	if cfg.Parallel, err = cmd.Flags().GetInt("parallel"); err != nil {
		return err
	}
	noHistory, err := cmd.Flags().GetBool("no-history")
	if err != nil {
		return err
	}
	cfg.SaveHistory = !noHistory

	var opts rotateOptions
	if opts.pollInterval, err = cmd.Flags().GetDuration("poll-interval"); err != nil {
		return err
	}
	if opts.settleDelay, err = cmd.Flags().GetDuration("settle-delay"); err != nil {
		return err
	}
	if opts.pollInterval <= 0 {
		return errors.New("configuration error: poll interval must be positive")
	}
	if opts.settleDelay < 0 {
		return errors.New("configuration error: settle delay must not be negative")
	}

	logger := setupLogger(cmd, cfg.Verbose)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck // best effort shutdown

	if cfg.Disabled {
		fmt.Fprintln(cmd.OutOrStdout(), "Tor is disabled, exit node not changed")
		return nil
	}

	var history *database.HistoryDB
	if cfg.SaveHistory {
		history, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer history.Close() //nolint:errcheck // read-only after the run
	}

	return runRotations(ctx, cmd.OutOrStdout(), s, history, opts)
}

// runRotations drives cfg.Parallel rotators and prints a summary.
func runRotations(ctx context.Context, w io.Writer, s *session, history *database.HistoryDB, opts rotateOptions) error {
	sessionID := database.NewSessionID()
	out := &syncWriter{w: w}

	rotators := make([]*rotator, s.cfg.Parallel)
	for i := range rotators {
		r := &rotator{
			instance:  i + 1,
			sessionID: sessionID,
			count:     s.cfg.Count,
			interval:  s.cfg.Interval,
			history:   history,
			logger:    s.logger.With("instance", i+1),
			out:       out,
		}
		p, err := s.newProxy(
			tor.WithPollInterval(opts.pollInterval),
			tor.WithSettleDelay(opts.settleDelay),
			tor.WithStateObserver(r.observe),
			tor.WithAddressObserver(r.observeAddress),
		)
		if err != nil {
			return err
		}
		defer p.Close() //nolint:errcheck // releases idle connections only
		r.proxy = p
		rotators[i] = r
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, r := range rotators {
		eg.Go(func() error {
			return r.run(ctx)
		})
	}
	runErr := eg.Wait()

	var total, failed int
	var used int64
	for _, r := range rotators {
		total += len(r.records)
		for _, rec := range r.records {
			if rec.Outcome != tor.StateSucceeded.String() {
				failed++
			}
		}
		used += r.proxy.ProxiesUsed()
	}
	fmt.Fprintf(out, "session %s: %d of %d rotations succeeded, %d exit identities used\n",
		sessionID, total-failed, total, used)

	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d rotations failed", failed, total)
	}
	return nil
}

// rotator performs the rotations of one TorProxy instance.
type rotator struct {
	instance  int
	sessionID string
	count     int
	interval  time.Duration
	proxy     *tor.TorProxy
	history   *database.HistoryDB
	logger    *slog.Logger
	out       io.Writer

	// last is the most recent state reported by the proxy. The observers run
	// on the goroutine calling ChangeExitNode.
	last tor.State

	// addresses are the probe results of the current rotation, baseline first.
	addresses []string
	records   []database.Rotation
}

func (r *rotator) observe(s tor.State) {
	r.last = s
}

func (r *rotator) observeAddress(address string) {
	r.addresses = append(r.addresses, address)
}

// run performs count rotations, interval apart. Rotation failures are
// recorded and do not stop the loop; cancellation does.
func (r *rotator) run(ctx context.Context) error {
	for i := 1; i <= r.count; i++ {
		if i > 1 {
			if err := wait(ctx, r.interval); err != nil {
				return err
			}
		}

		rec := r.rotate(ctx)
		r.records = append(r.records, rec)
		r.print(i, rec)

		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// rotate changes the exit node once and records the result.
func (r *rotator) rotate(ctx context.Context) database.Rotation {
	rec := database.Rotation{
		SessionID: r.sessionID,
		Instance:  r.instance,
		StartedAt: time.Now(),
	}
	r.last = tor.StateIdle
	r.addresses = r.addresses[:0]

	// Before is the engine's baseline, After its last probe.
	err := r.proxy.ChangeExitNode(ctx)
	if len(r.addresses) > 0 {
		rec.Before = r.addresses[0]
	}
	if err == nil {
		if len(r.addresses) > 1 {
			rec.After = r.addresses[len(r.addresses)-1]
		}
	} else {
		rec.Error = err.Error()
		r.logger.Error("rotation failed", "state", r.last.String(), "error", err)
	}

	rec.Outcome = r.last.String()
	if !r.last.Terminal() {
		rec.Outcome = tor.StateFailed.String()
	}
	rec.ProxiesUsed = r.proxy.ProxiesUsed()
	rec.FinishedAt = time.Now()

	if r.history != nil {
		// A cancelled rotation is still worth keeping.
		id, err := r.history.InsertRotation(context.WithoutCancel(ctx), &rec)
		if err != nil {
			r.logger.Error("failed to record rotation", "error", err)
		} else {
			rec.ID = id
		}
	}
	return rec
}

func (r *rotator) print(n int, rec database.Rotation) {
	prefix := fmt.Sprintf("[%d] rotation %d/%d:", r.instance, n, r.count)
	if rec.Error != "" {
		fmt.Fprintf(r.out, "%s %s (%s)\n", prefix, rec.Outcome, rec.Error)
		return
	}
	fmt.Fprintf(r.out, "%s %s %s -> %s in %s\n", prefix, rec.Outcome,
		orUnknown(rec.Before), orUnknown(rec.After), rec.Duration().Round(time.Millisecond))
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// syncWriter serializes writes from concurrent rotators.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
