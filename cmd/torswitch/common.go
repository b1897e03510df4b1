package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nao1215/torswitch/internal/config"
	"github.com/nao1215/torswitch/internal/log"
	"github.com/nao1215/torswitch/internal/tor"
)

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// setupLogger creates a redacting logger on the command's stderr.
func setupLogger(cmd *cobra.Command, verbose bool) *slog.Logger {
	if jsonLogs, err := cmd.Flags().GetBool("log-json"); err == nil && jsonLogs {
		return log.NewSecureJSONLogger(cmd.ErrOrStderr(), verbose)
	}
	return log.NewSecureLogger(cmd.ErrOrStderr(), verbose)
}

// buildConfig creates a Config from defaults, the configuration file and the
// global flags, in that order. Flags only win when given on the command line.
// The result is not validated; callers add their own flags first.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	cfg.ConfigFilePath, err = flags.GetString("config")
	if err != nil {
		return nil, err
	}
	if _, err := cfg.Load(); err != nil {
		return nil, err
	}

	cfg.Verbose = getVerboseFlag(cmd)

	if flags.Changed("disable-tor") {
		if cfg.Disabled, err = flags.GetBool("disable-tor"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("address") {
		if cfg.Address, err = flags.GetString("address"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("port") {
		if cfg.Port, err = flags.GetInt("port"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("control-port") {
		if cfg.ControlPort, err = flags.GetInt("control-port"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("control-password") {
		if cfg.ControlPassword, err = flags.GetString("control-password"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("circuit-timeout") {
		if cfg.CircuitBuildTimeout, err = flags.GetDuration("circuit-timeout"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("probe-url") {
		if cfg.ProbeURL, err = flags.GetString("probe-url"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("db-dir") {
		if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
			return nil, err
		}
	}

	if cfg.Embedded, err = flags.GetBool("embedded"); err != nil {
		return nil, err
	}
	if cfg.TorStartupTimeout, err = flags.GetDuration("tor-timeout"); err != nil {
		return nil, err
	}

	return cfg, nil
}

// session is the Tor connection shared by the TorProxy instances of one
// command. It owns the embedded daemon when one was started.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	embedded *tor.EmbeddedTor
	options  []tor.ProxyOption
}

// openSession validates cfg and, with --embedded, starts the private daemon.
func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	s := &session{
		cfg:     cfg,
		logger:  logger,
		options: cfg.ProxyOptions(),
	}
	if !cfg.Embedded || cfg.Disabled {
		return s, nil
	}

	logger.Info("starting embedded Tor daemon", "timeout", cfg.TorStartupTimeout)
	s.embedded = tor.NewEmbeddedTor(
		tor.WithStartupTimeout(cfg.TorStartupTimeout),
		tor.WithEmbeddedLogger(logger),
	)
	if err := s.embedded.Start(ctx); err != nil {
		return nil, err
	}
	opts, err := s.embedded.ProxyOptions()
	if err != nil {
		_ = s.embedded.Stop() //nolint:errcheck // already failing
		return nil, err
	}
	s.options = append(s.options, opts...)
	logger.Info("embedded Tor daemon ready",
		"socks", s.embedded.SocksAddr(), "control", s.embedded.ControlAddr())
	return s, nil
}

// proxyConfig returns the ProxyConfig every instance of the session uses.
func (s *session) proxyConfig() tor.ProxyConfig {
	return tor.NewProxyConfig(s.options...)
}

// newProxy creates a TorProxy wired to the session logger.
func (s *session) newProxy(opts ...tor.Option) (*tor.TorProxy, error) {
	opts = append([]tor.Option{tor.WithLogger(s.logger)}, opts...)
	return tor.New(s.proxyConfig(), opts...)
}

// Close stops the embedded daemon, if any.
func (s *session) Close() error {
	if s.embedded == nil {
		return nil
	}
	s.logger.Info("stopping embedded Tor daemon")
	return s.embedded.Stop()
}
