package config

import (
	"net/url"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/torswitch/internal/control"
	"github.com/nao1215/torswitch/internal/tor"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "torswitch"

	// DefaultCount is the number of rotations `torswitch rotate` performs.
	DefaultCount = 1

	// DefaultParallel is the number of TorProxy instances rotated side by side.
	DefaultParallel = 1

	// DefaultTorStartupTimeout bounds how long the embedded Tor daemon may take
	// to come up.
	DefaultTorStartupTimeout = 3 * time.Minute
)

// Config holds every setting of a torswitch run. It is filled from defaults,
// then the configuration file, then command line flags.
type Config struct {
	// Disabled turns Tor off. Probes go direct and rotation is a no-op.
	Disabled bool

	// Address is the host of Tor's SOCKS and control ports.
	Address string

	// Port is Tor's SOCKS port.
	Port int

	// ControlPort is Tor's control port.
	ControlPort int

	// ControlPassword is sent with AUTHENTICATE.
	ControlPassword string

	// CircuitBuildTimeout bounds how long a rotation polls for a new address.
	CircuitBuildTimeout time.Duration

	// ProbeURL is the IP-echo endpoint.
	ProbeURL string

	// LineTerminator ends every control protocol line.
	LineTerminator string

	// Verbose enables trace output.
	Verbose bool

	// ConfigFilePath is an explicit configuration file. When empty,
	// FindConfigFile searches the default locations.
	ConfigFilePath string

	// Count is the number of rotations to perform.
	Count int

	// Interval is the wait between consecutive rotations.
	Interval time.Duration

	// Parallel is the number of TorProxy instances rotated concurrently
	// against the same daemon.
	Parallel int

	// Embedded starts a private Tor daemon instead of using Address.
	Embedded bool

	// TorStartupTimeout bounds the embedded daemon's startup.
	TorStartupTimeout time.Duration

	// DBDir is the directory of the rotation history database.
	DBDir string

	// SaveHistory records every rotation in the history database.
	SaveHistory bool

	// MarkdownReport prints history as Markdown instead of plain text.
	MarkdownReport bool
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Address:             tor.DefaultAddress,
		Port:                tor.DefaultPort,
		ControlPort:         tor.DefaultControlPort,
		CircuitBuildTimeout: tor.DefaultCircuitBuildTimeout,
		ProbeURL:            tor.DefaultProbeURL,
		LineTerminator:      control.DefaultTerminator,
		Count:               DefaultCount,
		Parallel:            DefaultParallel,
		TorStartupTimeout:   DefaultTorStartupTimeout,
		DBDir:               XDGDataDir(),
		SaveHistory:         true,
	}
}

// XDGDataDir returns the XDG data directory for torswitch.
// On Linux: ~/.local/share/torswitch
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for torswitch.
// On Linux: ~/.config/torswitch
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// ProxyOptions converts the Tor settings into options for tor.NewProxyConfig.
func (c *Config) ProxyOptions() []tor.ProxyOption {
	return []tor.ProxyOption{
		tor.WithDisabled(c.Disabled),
		tor.WithAddress(c.Address),
		tor.WithPort(c.Port),
		tor.WithControlPort(c.ControlPort),
		tor.WithControlPassword(c.ControlPassword),
		tor.WithCircuitBuildTimeout(c.CircuitBuildTimeout),
		tor.WithProbeURL(c.ProbeURL),
		tor.WithLineTerminator(c.LineTerminator),
	}
}

// Validate checks the configuration and returns the first problem found.
// Address and ports are not checked for an embedded daemon, which picks its own.
func (c *Config) Validate() error {
	if !c.Disabled && !c.Embedded {
		if c.Address == "" {
			return ErrEmptyAddress
		}
		if !validPort(c.Port) {
			return ErrInvalidPort
		}
		if !validPort(c.ControlPort) {
			return ErrInvalidControlPort
		}
	}

	if c.CircuitBuildTimeout <= 0 {
		return ErrInvalidCircuitBuildTimeout
	}

	u, err := url.Parse(c.ProbeURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidProbeURL
	}

	if c.Count <= 0 {
		return ErrInvalidCount
	}
	if c.Interval < 0 {
		return ErrInvalidInterval
	}
	if c.Parallel <= 0 {
		return ErrInvalidParallel
	}
	if c.Embedded && c.TorStartupTimeout <= 0 {
		return ErrInvalidTorStartupTimeout
	}
	return nil
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}
