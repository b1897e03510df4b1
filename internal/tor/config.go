package tor

import (
	"net"
	"strconv"
	"time"

	"github.com/nao1215/torswitch/internal/control"
)

// Default proxy settings.
const (
	// DefaultAddress is the host of Tor's SOCKS and control ports.
	DefaultAddress = "127.0.0.1"

	// DefaultPort is Tor's default SOCKS port.
	DefaultPort = 9050

	// DefaultControlPort is Tor's default control port.
	DefaultControlPort = 9051

	// DefaultCircuitBuildTimeout bounds how long rotation polls for a new exit node.
	DefaultCircuitBuildTimeout = 60 * time.Second

	// DefaultProbeURL is the IP-echo endpoint used to read the exit address.
	DefaultProbeURL = "http://checkip.amazonaws.com"
)

// ProxyConfig holds the settings of a TorProxy. It is immutable once built;
// read it through the accessor methods.
type ProxyConfig struct {
	disabled            bool
	address             string
	port                int
	controlPort         int
	controlPassword     string
	circuitBuildTimeout time.Duration
	probeURL            string
	lineTerminator      string
}

// ProxyOption sets one field of a ProxyConfig.
type ProxyOption func(*ProxyConfig)

// WithDisabled turns Tor proxying off. A disabled proxy probes directly and
// ChangeExitNode is a no-op.
func WithDisabled(disabled bool) ProxyOption {
	return func(c *ProxyConfig) {
		c.disabled = disabled
	}
}

// WithAddress sets the host of the SOCKS and control ports.
func WithAddress(address string) ProxyOption {
	return func(c *ProxyConfig) {
		c.address = address
	}
}

// WithPort sets the SOCKS port.
func WithPort(port int) ProxyOption {
	return func(c *ProxyConfig) {
		c.port = port
	}
}

// WithControlPort sets the control port.
func WithControlPort(port int) ProxyOption {
	return func(c *ProxyConfig) {
		c.controlPort = port
	}
}

// WithControlPassword sets the password sent with AUTHENTICATE.
func WithControlPassword(password string) ProxyOption {
	return func(c *ProxyConfig) {
		c.controlPassword = password
	}
}

// WithCircuitBuildTimeout bounds the polling phase of a rotation.
func WithCircuitBuildTimeout(timeout time.Duration) ProxyOption {
	return func(c *ProxyConfig) {
		c.circuitBuildTimeout = timeout
	}
}

// WithProbeURL sets the IP-echo endpoint.
func WithProbeURL(url string) ProxyOption {
	return func(c *ProxyConfig) {
		c.probeURL = url
	}
}

// WithLineTerminator sets the control protocol line terminator.
func WithLineTerminator(terminator string) ProxyOption {
	return func(c *ProxyConfig) {
		c.lineTerminator = terminator
	}
}

// NewProxyConfig builds a ProxyConfig from the defaults and opts.
func NewProxyConfig(opts ...ProxyOption) ProxyConfig {
	c := ProxyConfig{
		address:             DefaultAddress,
		port:                DefaultPort,
		controlPort:         DefaultControlPort,
		circuitBuildTimeout: DefaultCircuitBuildTimeout,
		probeURL:            DefaultProbeURL,
		lineTerminator:      control.DefaultTerminator,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Disabled reports whether Tor proxying is turned off.
func (c ProxyConfig) Disabled() bool { return c.disabled }

// Address returns the host of the SOCKS and control ports.
func (c ProxyConfig) Address() string { return c.address }

// Port returns the SOCKS port.
func (c ProxyConfig) Port() int { return c.port }

// ControlPort returns the control port.
func (c ProxyConfig) ControlPort() int { return c.controlPort }

// ControlPassword returns the control port password.
func (c ProxyConfig) ControlPassword() string { return c.controlPassword }

// CircuitBuildTimeout returns the polling bound of a rotation.
func (c ProxyConfig) CircuitBuildTimeout() time.Duration { return c.circuitBuildTimeout }

// ProbeURL returns the IP-echo endpoint.
func (c ProxyConfig) ProbeURL() string { return c.probeURL }

// LineTerminator returns the control protocol line terminator.
func (c ProxyConfig) LineTerminator() string { return c.lineTerminator }

// SocksAddr returns the SOCKS5 address in "host:port" format.
func (c ProxyConfig) SocksAddr() string {
	return net.JoinHostPort(c.address, strconv.Itoa(c.port))
}

// ControlAddr returns the control port address in "host:port" format.
func (c ProxyConfig) ControlAddr() string {
	return net.JoinHostPort(c.address, strconv.Itoa(c.controlPort))
}
