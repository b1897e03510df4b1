package tor

import (
	"errors"
	"fmt"
)

var (
	// ErrRotationTimeout is returned when the exit address did not change
	// within the circuit build timeout.
	ErrRotationTimeout = errors.New("failed to change the exit node")

	// ErrRotationInProgress is returned when ChangeExitNode is called while
	// another rotation on the same TorProxy is still running.
	ErrRotationInProgress = errors.New("exit node rotation already in progress")

	// ErrEmbeddedNotRunning is returned when an embedded Tor daemon is used
	// before Start succeeded.
	ErrEmbeddedNotRunning = errors.New("embedded Tor daemon is not running")

	// ErrProxyNotTor is returned when the SOCKS address answers but does not
	// behave like a Tor SOCKS5 proxy.
	ErrProxyNotTor = errors.New("proxy is not a Tor SOCKS5 proxy")

	// ErrProxyCannotConnect is returned when no TCP connection can be made to
	// the SOCKS address.
	ErrProxyCannotConnect = errors.New("cannot connect to Tor proxy")

	// ErrProxyTimeout is returned when the SOCKS handshake times out.
	ErrProxyTimeout = errors.New("timeout connecting to Tor proxy")
)

// NetworkError reports a failed address probe.
type NetworkError struct {
	// URL is the probed endpoint.
	URL string
	// StatusCode is the HTTP status, or 0 when no response arrived.
	StatusCode int
	// Err is the underlying cause, if any.
	Err error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("address probe %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("address probe %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ProxyError is returned by ChangeExitNode. State is the rotation state that
// was active when the failure happened.
type ProxyError struct {
	State State
	Err   error
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("change exit node (%s): %v", e.State, e.Err)
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}

// ProxyStatus is the result of CheckSocks.
type ProxyStatus int

const (
	// ProxyStatusOK indicates the address is a working SOCKS5 proxy.
	ProxyStatusOK ProxyStatus = iota
	// ProxyStatusWrongType indicates the address answered with something other than SOCKS5.
	ProxyStatusWrongType
	// ProxyStatusCannotConnect indicates no connection could be made.
	ProxyStatusCannotConnect
	// ProxyStatusTimeout indicates the handshake timed out.
	ProxyStatusTimeout
)

// String returns a human-readable description of the proxy status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "OK"
	case ProxyStatusWrongType:
		return "wrong type (not Tor)"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Err returns the sentinel error for this status, or nil if OK.
func (s ProxyStatus) Err() error {
	switch s {
	case ProxyStatusOK:
		return nil
	case ProxyStatusWrongType:
		return ErrProxyNotTor
	case ProxyStatusCannotConnect:
		return ErrProxyCannotConnect
	case ProxyStatusTimeout:
		return ErrProxyTimeout
	default:
		return errors.New("unknown proxy status")
	}
}
