package tor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/nao1215/torswitch/internal/control"
	"github.com/nao1215/torswitch/internal/log"
)

const (
	// defaultPollInterval is the wait before each address probe while polling.
	defaultPollInterval = time.Second

	// defaultSettleDelay is the wait after a change is seen, giving Tor time to
	// settle the new circuit before callers use it.
	defaultSettleDelay = 10 * time.Second
)

// TorProxy rotates the exit node of one Tor daemon and reads the current
// exit address.
type TorProxy struct {
	config       ProxyConfig
	codec        control.Codec
	dialer       control.Dialer
	probe        AddressProbe
	transport    *http.Transport
	logger       *slog.Logger
	pollInterval time.Duration
	settleDelay  time.Duration
	observer     func(State)

	addressObserver func(string)

	exitNodesChanged atomic.Int64
	rotating         atomic.Bool
}

// Option customizes a TorProxy.
type Option func(*TorProxy)

// WithLogger sets the logger used for trace output.
func WithLogger(logger *slog.Logger) Option {
	return func(p *TorProxy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDialer replaces the dialer used for the control port.
func WithDialer(dialer control.Dialer) Option {
	return func(p *TorProxy) {
		p.dialer = dialer
	}
}

// WithProbe replaces the HTTP address probe.
func WithProbe(probe AddressProbe) Option {
	return func(p *TorProxy) {
		p.probe = probe
	}
}

// WithPollInterval sets the wait before each probe while polling for a change.
func WithPollInterval(d time.Duration) Option {
	return func(p *TorProxy) {
		p.pollInterval = d
	}
}

// WithSettleDelay sets the wait between seeing a new address and reporting success.
func WithSettleDelay(d time.Duration) Option {
	return func(p *TorProxy) {
		p.settleDelay = d
	}
}

// WithStateObserver registers fn to be called on every rotation state
// transition. fn runs on the rotating goroutine and must not block.
func WithStateObserver(fn func(State)) Option {
	return func(p *TorProxy) {
		p.observer = fn
	}
}

// WithAddressObserver registers fn to receive every address the probe reports
// during a rotation: the baseline first, then each polled value. fn runs on the
// rotating goroutine and must not block.
func WithAddressObserver(fn func(address string)) Option {
	return func(p *TorProxy) {
		p.addressObserver = fn
	}
}

// New creates a TorProxy for cfg. It does not contact Tor.
func New(cfg ProxyConfig, opts ...Option) (*TorProxy, error) {
	p := &TorProxy{
		config:       cfg,
		codec:        control.NewCodec(cfg.LineTerminator()),
		logger:       slog.Default(),
		pollInterval: defaultPollInterval,
		settleDelay:  defaultSettleDelay,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.probe == nil {
		client, transport, err := newProbeClient(cfg)
		if err != nil {
			return nil, err
		}
		p.transport = transport
		p.probe = NewHTTPProbe(client, cfg.ProbeURL())
	}

	return p, nil
}

// Config returns the configuration the proxy was built with.
func (p *TorProxy) Config() ProxyConfig { return p.config }

// Disabled reports whether Tor proxying is turned off.
func (p *TorProxy) Disabled() bool { return p.config.Disabled() }

// Address returns the host of the SOCKS and control ports.
func (p *TorProxy) Address() string { return p.config.Address() }

// Port returns the SOCKS port.
func (p *TorProxy) Port() int { return p.config.Port() }

// ControlPort returns the control port.
func (p *TorProxy) ControlPort() int { return p.config.ControlPort() }

// ControlPassword returns the control port password.
func (p *TorProxy) ControlPassword() string { return p.config.ControlPassword() }

// CircuitBuildTimeout returns the polling bound of a rotation.
func (p *TorProxy) CircuitBuildTimeout() time.Duration { return p.config.CircuitBuildTimeout() }

// ExitNodesChanged returns how many rotations on this proxy succeeded.
func (p *TorProxy) ExitNodesChanged() int64 {
	return p.exitNodesChanged.Load()
}

// ProxiesUsed returns how many exit identities this proxy has used: zero when
// disabled, otherwise one more than the number of successful rotations.
func (p *TorProxy) ProxiesUsed() int64 {
	if p.config.Disabled() {
		return 0
	}
	return p.exitNodesChanged.Load() + 1
}

// Close releases idle probe connections.
func (p *TorProxy) Close() error {
	if p.transport != nil {
		p.transport.CloseIdleConnections()
	}
	return nil
}

// CurrentExitNode returns the externally visible address as seen by the probe.
func (p *TorProxy) CurrentExitNode(ctx context.Context) (string, error) {
	return p.probe.CurrentAddress(ctx)
}

// Streams authenticates and returns the streams Tor currently has open.
func (p *TorProxy) Streams(ctx context.Context) ([]control.StreamRecord, error) {
	var streams []control.StreamRecord
	err := control.Converse(ctx, p.dialer, p.config.ControlAddr(), p.codec, func(ch *control.Channel) error {
		if err := ch.Authenticate(ctx, p.config.ControlPassword()); err != nil {
			return err
		}
		var err error
		streams, err = ch.StreamStatus(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return streams, nil
}

// ChangeExitNode asks Tor for a new identity, closes the open streams and
// waits until the probe reports a different address. It returns nil
// immediately when the proxy is disabled.
//
// Errors are *ProxyError. The cause is ErrRotationTimeout when the address
// did not change within CircuitBuildTimeout, the context error when ctx ended,
// or a control or probe error otherwise. The success counter only moves on
// success.
func (p *TorProxy) ChangeExitNode(ctx context.Context) error {
	if p.config.Disabled() {
		p.trace(ctx, "tor proxy is disabled, exit node not changed")
		return nil
	}
	if !p.rotating.CompareAndSwap(false, true) {
		return ErrRotationInProgress
	}
	defer p.rotating.Store(false)

	r := &rotation{proxy: p, state: StateIdle}
	p.trace(ctx, "changing the exit node")

	baseline, err := r.signalNewIdentity(ctx)
	if err != nil {
		return r.fail(ctx, err)
	}
	if err := r.closeStreams(ctx); err != nil {
		return r.fail(ctx, err)
	}
	if err := r.pollForChange(ctx, baseline); err != nil {
		return r.fail(ctx, err)
	}

	p.exitNodesChanged.Add(1)
	r.enter(ctx, StateSucceeded)
	return nil
}

func (p *TorProxy) trace(ctx context.Context, msg string, args ...any) {
	p.logger.Log(ctx, log.LevelTrace, msg, args...)
}

// rotation carries the state of one ChangeExitNode call.
type rotation struct {
	proxy *TorProxy
	state State
}

func (r *rotation) enter(ctx context.Context, s State) {
	r.state = s
	r.proxy.trace(ctx, "rotation state", "state", s.String())
	if r.proxy.observer != nil {
		r.proxy.observer(s)
	}
}

func (r *rotation) observeAddress(address string) {
	if r.proxy.addressObserver != nil {
		r.proxy.addressObserver(address)
	}
}

// fail moves to the terminal state matching err and wraps it.
func (r *rotation) fail(ctx context.Context, err error) error {
	failed := r.state
	switch {
	case ctx.Err() != nil:
		r.enter(ctx, StateCancelled)
		if !errors.Is(err, ctx.Err()) {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	case errors.Is(err, ErrRotationTimeout):
		r.enter(ctx, StateTimedOut)
	default:
		r.enter(ctx, StateFailed)
	}
	return &ProxyError{State: failed, Err: err}
}

// signalNewIdentity records the baseline address, then authenticates and
// sends NEWNYM on one short dialogue.
func (r *rotation) signalNewIdentity(ctx context.Context) (string, error) {
	p := r.proxy

	r.enter(ctx, StateAuthenticating)
	baseline, err := p.probe.CurrentAddress(ctx)
	if err != nil {
		return "", err
	}
	p.trace(ctx, "the old exit node", "address", baseline)
	r.observeAddress(baseline)

	err = control.Converse(ctx, p.dialer, p.config.ControlAddr(), p.codec, func(ch *control.Channel) error {
		if err := ch.Authenticate(ctx, p.config.ControlPassword()); err != nil {
			return err
		}
		r.enter(ctx, StateSignalingNewIdentity)
		return ch.SignalNewIdentity(ctx)
	})
	return baseline, err
}

// closeStreams closes every open stream so in-flight connections move to the
// new circuit.
func (r *rotation) closeStreams(ctx context.Context) error {
	p := r.proxy

	r.enter(ctx, StateClosingStreams)
	return control.Converse(ctx, p.dialer, p.config.ControlAddr(), p.codec, func(ch *control.Channel) error {
		if err := ch.Authenticate(ctx, p.config.ControlPassword()); err != nil {
			return err
		}
		streams, err := ch.StreamStatus(ctx)
		if err != nil {
			return err
		}
		for _, s := range streams {
			if err := ch.CloseStream(ctx, s.StreamID); err != nil {
				return err
			}
			p.trace(ctx, "closed stream", "stream", s.StreamID, "target", s.Target)
		}
		return nil
	})
}

// pollForChange probes once per poll interval, at most one attempt per whole
// second of the circuit build timeout, until the address differs from baseline.
func (r *rotation) pollForChange(ctx context.Context, baseline string) error {
	p := r.proxy

	r.enter(ctx, StatePollingForChange)
	attempts := int(p.config.CircuitBuildTimeout() / time.Second)
	for range attempts {
		if err := sleep(ctx, p.pollInterval); err != nil {
			return err
		}
		current, err := p.probe.CurrentAddress(ctx)
		if err != nil {
			return err
		}
		r.observeAddress(current)
		if current != baseline {
			p.trace(ctx, "the new exit node", "address", current)
			return sleep(ctx, p.settleDelay)
		}
	}
	return ErrRotationTimeout
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
