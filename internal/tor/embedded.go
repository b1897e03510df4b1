package tor

import (
	"context"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // Tor's S2K is defined over SHA-1
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/tornago"
)

const (
	// defaultStartupTimeout bounds how long Start waits for the daemon.
	defaultStartupTimeout = 3 * time.Minute

	// s2kSaltSize is the salt length of Tor's hashed control password.
	s2kSaltSize = 8

	// s2kIndicator encodes an iteration count of 65536 bytes.
	s2kIndicator = 0x60
)

// EmbeddedTor runs a private Tor daemon through tornago. The daemon accepts
// password authentication on its control port so TorProxy can rotate it.
type EmbeddedTor struct {
	process         *tornago.TorProcess
	socksAddr       string
	controlAddr     string
	startupTimeout  time.Duration
	controlPassword string
	dataDir         string
	logger          *slog.Logger
}

// EmbeddedTorOption configures an EmbeddedTor instance.
type EmbeddedTorOption func(*EmbeddedTor)

// WithStartupTimeout sets the maximum time to wait for Tor to come up.
func WithStartupTimeout(timeout time.Duration) EmbeddedTorOption {
	return func(e *EmbeddedTor) {
		e.startupTimeout = timeout
	}
}

// WithEmbeddedPassword sets the control password. A random one is generated
// when none is given.
func WithEmbeddedPassword(password string) EmbeddedTorOption {
	return func(e *EmbeddedTor) {
		e.controlPassword = password
	}
}

// WithEmbeddedDataDir sets the Tor DataDirectory. tornago uses a temporary
// directory otherwise.
func WithEmbeddedDataDir(dir string) EmbeddedTorOption {
	return func(e *EmbeddedTor) {
		e.dataDir = dir
	}
}

// WithEmbeddedLogger forwards the daemon's launch logs to logger.
func WithEmbeddedLogger(logger *slog.Logger) EmbeddedTorOption {
	return func(e *EmbeddedTor) {
		e.logger = logger
	}
}

// NewEmbeddedTor creates a new embedded Tor manager.
// Call Start() to actually launch the Tor daemon.
func NewEmbeddedTor(opts ...EmbeddedTorOption) *EmbeddedTor {
	e := &EmbeddedTor{
		startupTimeout: defaultStartupTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the daemon on free local ports and waits until its SOCKS and
// control ports accept connections.
func (e *EmbeddedTor) Start(ctx context.Context) error {
	if e.controlPassword == "" {
		e.controlPassword = uuid.NewString()
	}

	salt := make([]byte, s2kSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate control password salt: %w", err)
	}

	launchOpts := []tornago.TorLaunchOption{
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(e.startupTimeout),
		tornago.WithTorExtraArgs("--HashedControlPassword", HashControlPassword(e.controlPassword, salt)),
	}
	if e.dataDir != "" {
		launchOpts = append(launchOpts, tornago.WithTorDataDir(e.dataDir))
	}
	if e.logger != nil {
		launchOpts = append(launchOpts, tornago.WithTorLogger(tornago.NewSlogAdapter(e.logger)))
	}

	launchCfg, err := tornago.NewTorLaunchConfig(launchOpts...)
	if err != nil {
		return fmt.Errorf("failed to create Tor launch config: %w", err)
	}

	type result struct {
		process *tornago.TorProcess
		err     error
	}
	done := make(chan result, 1)
	go func() {
		process, err := tornago.StartTorDaemon(launchCfg)
		done <- result{process, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.process != nil {
				_ = r.process.Stop() //nolint:errcheck // best effort cleanup
			}
		}()
		return ctx.Err()
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("failed to start embedded Tor daemon: %w", r.err)
		}
		e.process = r.process
		e.socksAddr = r.process.SocksAddr()
		e.controlAddr = r.process.ControlAddr()
	}
	return nil
}

// Stop shuts the daemon down. It is safe to call on a stopped instance.
func (e *EmbeddedTor) Stop() error {
	if e.process == nil {
		return nil
	}
	err := e.process.Stop()
	e.process = nil
	e.socksAddr = ""
	e.controlAddr = ""
	return err
}

// SocksAddr returns the SOCKS5 address, or "" when not running.
func (e *EmbeddedTor) SocksAddr() string {
	return e.socksAddr
}

// ControlAddr returns the control port address, or "" when not running.
func (e *EmbeddedTor) ControlAddr() string {
	return e.controlAddr
}

// ControlPassword returns the password the daemon was started with.
func (e *EmbeddedTor) ControlPassword() string {
	return e.controlPassword
}

// IsRunning returns true if the embedded Tor daemon is currently running.
func (e *EmbeddedTor) IsRunning() bool {
	return e.process != nil
}

// ProxyOptions returns options that point a ProxyConfig at the running daemon.
func (e *EmbeddedTor) ProxyOptions() ([]ProxyOption, error) {
	if !e.IsRunning() {
		return nil, ErrEmbeddedNotRunning
	}

	host, socksPort, err := splitHostPort(e.socksAddr)
	if err != nil {
		return nil, err
	}
	_, controlPort, err := splitHostPort(e.controlAddr)
	if err != nil {
		return nil, err
	}
	if host == "" {
		host = DefaultAddress
	}

	return []ProxyOption{
		WithDisabled(false),
		WithAddress(host),
		WithPort(socksPort),
		WithControlPort(controlPort),
		WithControlPassword(e.controlPassword),
	}, nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return host, port, nil
}

// HashControlPassword returns the HashedControlPassword value Tor expects for
// password, using the iterated and salted S2K with an 8-byte salt.
func HashControlPassword(password string, salt []byte) string {
	count := (16 + int(s2kIndicator&15)) << ((s2kIndicator >> 4) + 6)

	secret := make([]byte, 0, len(salt)+len(password))
	secret = append(secret, salt...)
	secret = append(secret, password...)

	h := sha1.New() //nolint:gosec // Tor's S2K is defined over SHA-1
	for count > 0 {
		if count >= len(secret) {
			h.Write(secret)
			count -= len(secret)
			continue
		}
		h.Write(secret[:count])
		count = 0
	}

	out := make([]byte, 0, len(salt)+1+sha1.Size)
	out = append(out, salt...)
	out = append(out, s2kIndicator)
	out = h.Sum(out)
	return "16:" + strings.ToUpper(hex.EncodeToString(out))
}
