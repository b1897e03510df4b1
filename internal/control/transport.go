package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

const (
	// readChunkSize is the size of a single read from the control socket.
	readChunkSize = 4096

	// maxResponseSize bounds the bytes accepted for one reply.
	maxResponseSize = 1 << 20

	// closeStreamReason is REASON_MISC, the reason sent with CLOSESTREAM.
	closeStreamReason = 1

	// streamStatusKey is the GETINFO key listing open streams.
	streamStatusKey = "stream-status"
)

// Dialer opens network connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Channel is one open control connection. It is only valid inside the
// function passed to Converse and must not be retained.
type Channel struct {
	conn  net.Conn
	addr  string
	codec Codec
}

// Converse dials the control port at addr, runs fn with a Channel bound to the
// connection and closes the connection when fn returns, whatever the outcome.
// A nil dialer uses a zero net.Dialer. There is no pooling: every call opens
// its own socket.
func Converse(ctx context.Context, dialer Dialer, addr string, codec Codec, fn func(*Channel) error) error {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if codec.terminator == "" {
		codec = NewCodec(DefaultTerminator)
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &TransportError{Op: "dial", Addr: addr, Err: contextError(ctx, err)}
	}
	defer conn.Close()

	return fn(&Channel{conn: conn, addr: addr, codec: codec})
}

// Execute sends one command and reads exactly one reply. The reply is
// returned verbatim, terminators included. Cancelling ctx aborts the exchange.
func (ch *Channel) Execute(ctx context.Context, command string) (string, error) {
	// The deadline is only moved once ctx is done, so ctx.Err() is already
	// set when the blocked read or write returns.
	stop := context.AfterFunc(ctx, func() {
		//nolint:errcheck // unblocks pending I/O; the connection is closed by Converse.
		ch.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := ch.conn.Write(ch.codec.Encode(command)); err != nil {
		return "", &TransportError{Op: "write", Addr: ch.addr, Err: contextError(ctx, err)}
	}

	var reply strings.Builder
	chunk := make([]byte, readChunkSize)
	for {
		n, err := ch.conn.Read(chunk)
		reply.Write(chunk[:n])
		if ch.codec.Complete(reply.String()) {
			return reply.String(), nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("%w: %q", ErrIncompleteResponse, reply.String())
			}
			return "", &TransportError{Op: "read", Addr: ch.addr, Err: contextError(ctx, err)}
		}
		if reply.Len() > maxResponseSize {
			return "", &TransportError{Op: "read", Addr: ch.addr, Err: fmt.Errorf("reply exceeds %d bytes", maxResponseSize)}
		}
	}
}

// Authenticate sends AUTHENTICATE with the quoted password and requires 250 OK.
func (ch *Channel) Authenticate(ctx context.Context, password string) error {
	return ch.ack(ctx, "AUTHENTICATE "+quoteString(password))
}

// SignalNewIdentity sends SIGNAL NEWNYM and requires 250 OK.
func (ch *Channel) SignalNewIdentity(ctx context.Context) error {
	return ch.ack(ctx, "SIGNAL NEWNYM")
}

// CloseStream sends CLOSESTREAM for id and requires 250 OK.
func (ch *Channel) CloseStream(ctx context.Context, id string) error {
	return ch.ack(ctx, fmt.Sprintf("CLOSESTREAM %s %d", id, closeStreamReason))
}

// GetInfo sends GETINFO key and returns the reply rows.
func (ch *Channel) GetInfo(ctx context.Context, key string) ([][]string, error) {
	command := "GETINFO " + key
	reply, err := ch.Execute(ctx, command)
	if err != nil {
		return nil, err
	}
	return ch.codec.ParseInfo(command, key, reply)
}

// StreamStatus lists the streams Tor currently has open.
func (ch *Channel) StreamStatus(ctx context.Context) ([]StreamRecord, error) {
	rows, err := ch.GetInfo(ctx, streamStatusKey)
	if err != nil {
		return nil, err
	}
	return ch.codec.ParseStreams("GETINFO "+streamStatusKey, rows)
}

// ack executes command and validates the reply with ParseAck.
func (ch *Channel) ack(ctx context.Context, command string) error {
	reply, err := ch.Execute(ctx, command)
	if err != nil {
		return err
	}
	return ch.codec.ParseAck(command, reply)
}

// contextError prefers the context's error once it is done, so that
// cancellation stays distinguishable from network failures.
func contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
