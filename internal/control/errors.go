package control

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIncompleteResponse is returned when the control port closes the
// connection before a final reply line arrives.
var ErrIncompleteResponse = errors.New("control port closed the connection before the reply was complete")

// TransportError reports a failure to connect to, write to or read from the
// control port. It is never retried.
type TransportError struct {
	// Op is the failed operation: "dial", "write" or "read".
	Op string
	// Addr is the control port address in "host:port" format.
	Addr string
	// Err is the underlying network error.
	Err error
}

// Error returns a message naming the operation and the address.
func (e *TransportError) Error() string {
	return fmt.Sprintf("tor control %s %s: %v", e.Op, e.Addr, e.Err)
}

// Unwrap exposes the underlying network error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a reply that did not match the expected grammar. It
// carries the raw reply so that Tor-side misconfiguration (for example a wrong
// control password) can be diagnosed from the error alone.
type ProtocolError struct {
	// Command is the command that produced Response. Secrets are redacted.
	Command string
	// Response is the raw reply text.
	Response string
	// Reason is an optional detail added by the codec.
	Reason string
}

// Error returns the trimmed reply and the command that produced it.
func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("tor control responded:\n%s\non the command %s", strings.TrimSpace(e.Response), e.Command)
	if e.Reason != "" {
		msg = e.Reason + ": " + msg
	}
	return msg
}

// StatusCode returns the three digit status code of the last reply line, or
// zero when the reply does not start with one.
func (e *ProtocolError) StatusCode() int {
	last := strings.TrimSpace(e.Response)
	if i := strings.LastIndexAny(last, "\r\n"); i >= 0 {
		last = last[i+1:]
	}
	if len(last) < 3 {
		return 0
	}
	code := 0
	for _, c := range last[:3] {
		if c < '0' || c > '9' {
			return 0
		}
		code = code*10 + int(c-'0')
	}
	return code
}

// IsAuthenticationFailure reports whether the control port rejected the
// credentials (status 515).
func (e *ProtocolError) IsAuthenticationFailure() bool {
	return e.StatusCode() == 515
}

// redactCommand hides the argument of commands that carry credentials.
func redactCommand(command string) string {
	const authenticate = "AUTHENTICATE"
	if strings.HasPrefix(strings.ToUpper(command), authenticate) && len(command) > len(authenticate) {
		return authenticate + " ***"
	}
	return command
}
