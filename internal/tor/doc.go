// Package tor rotates the Tor exit node on demand and reports the current
// externally visible address.
//
// TorProxy is the entry point. ChangeExitNode drives a small state machine
// over the control port:
//
//	Idle -> Authenticating -> SignalingNewIdentity -> ClosingStreams
//	     -> PollingForChange -> Succeeded | TimedOut
//
// Failures end in Failed, and cancellation of the caller's context ends in
// Cancelled. The address before and after rotation comes from an AddressProbe,
// by default an HTTP GET to an IP-echo endpoint routed through Tor's SOCKS5
// port with golang.org/x/net/proxy.
//
// A TorProxy is safe to read from several goroutines, but ChangeExitNode is
// not reentrant: a concurrent second call returns ErrRotationInProgress.
// Independent TorProxy values may rotate concurrently. They share the Tor
// daemon's exit state, so one instance's NEWNYM can affect another's polling.
//
// EmbeddedTor launches a private Tor daemon through tornago with password
// authentication so that the same rotation engine can drive it.
package tor
