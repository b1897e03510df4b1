package control_test

import (
	"context"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/nao1215/torswitch/internal/control"
	"github.com/nao1215/torswitch/internal/control/controltest"
)

// TestConverse tests full dialogues against a fake control port.
func TestConverse(t *testing.T) {
	t.Parallel()

	codec := control.NewCodec(control.DefaultTerminator)

	t.Run("authenticate and signal new identity", func(t *testing.T) {
		t.Parallel()
		server := controltest.NewServer(t, controltest.WithPassword("111"))

		err := control.Converse(context.Background(), nil, server.Addr(), codec, func(ch *control.Channel) error {
			if err := ch.Authenticate(context.Background(), "111"); err != nil {
				return err
			}
			return ch.SignalNewIdentity(context.Background())
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if server.NewIdentityCount() != 1 {
			t.Errorf("NewIdentityCount() = %d, expected 1", server.NewIdentityCount())
		}
		expected := []string{`AUTHENTICATE "111"`, "SIGNAL NEWNYM"}
		if got := server.Commands(); !reflect.DeepEqual(got, expected) {
			t.Errorf("Commands() = %q, expected %q", got, expected)
		}
	})

	t.Run("wrong password surfaces the raw reply", func(t *testing.T) {
		t.Parallel()
		server := controltest.NewServer(t, controltest.WithPassword("right"))

		err := control.Converse(context.Background(), nil, server.Addr(), codec, func(ch *control.Channel) error {
			return ch.Authenticate(context.Background(), "wrong")
		})
		var perr *control.ProtocolError
		if !errors.As(err, &perr) {
			t.Fatalf("expected *ProtocolError, got %v", err)
		}
		if !perr.IsAuthenticationFailure() {
			t.Errorf("expected status 515, got %d (%q)", perr.StatusCode(), perr.Response)
		}
	})

	t.Run("stream status and close streams", func(t *testing.T) {
		t.Parallel()
		server := controltest.NewServer(t,
			controltest.WithStreams("1 SUCCEEDED 4 a.example:443", "2 SUCCEEDED 4 b.example:80", "3 NEW 0 c.example:22"),
		)

		err := control.Converse(context.Background(), nil, server.Addr(), codec, func(ch *control.Channel) error {
			ctx := context.Background()
			if err := ch.Authenticate(ctx, ""); err != nil {
				return err
			}
			streams, err := ch.StreamStatus(ctx)
			if err != nil {
				return err
			}
			if len(streams) != 3 {
				t.Errorf("expected 3 streams, got %d", len(streams))
			}
			for _, s := range streams {
				if err := ch.CloseStream(ctx, s.StreamID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := []string{"1", "2", "3"}
		if got := server.ClosedStreams(); !reflect.DeepEqual(got, expected) {
			t.Errorf("ClosedStreams() = %q, expected %q", got, expected)
		}
	})

	t.Run("replies split across reads are reassembled", func(t *testing.T) {
		t.Parallel()
		server := controltest.NewServer(t,
			controltest.WithChunkedReplies(3),
			controltest.WithStreams("1 SUCCEEDED 4 a.example:443", "2 NEW 0 b.example:80"),
		)

		var streams []control.StreamRecord
		err := control.Converse(context.Background(), nil, server.Addr(), codec, func(ch *control.Channel) error {
			if err := ch.Authenticate(context.Background(), ""); err != nil {
				return err
			}
			var err error
			streams, err = ch.StreamStatus(context.Background())
			return err
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(streams) != 2 || streams[1].Target != "b.example:80" {
			t.Errorf("unexpected streams %+v", streams)
		}
	})

	t.Run("LF terminator end to end", func(t *testing.T) {
		t.Parallel()
		server := controltest.NewServer(t, controltest.WithTerminator("\n"))

		err := control.Converse(context.Background(), nil, server.Addr(), control.NewCodec("\n"), func(ch *control.Channel) error {
			if err := ch.Authenticate(context.Background(), ""); err != nil {
				return err
			}
			return ch.SignalNewIdentity(context.Background())
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("each dialogue opens its own connection", func(t *testing.T) {
		t.Parallel()
		server := controltest.NewServer(t)

		for range 3 {
			err := control.Converse(context.Background(), nil, server.Addr(), codec, func(ch *control.Channel) error {
				return ch.Authenticate(context.Background(), "")
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if server.Connections() != 3 {
			t.Errorf("Connections() = %d, expected 3", server.Connections())
		}
	})

	t.Run("callback error is returned", func(t *testing.T) {
		t.Parallel()
		server := controltest.NewServer(t)
		sentinel := errors.New("boom")

		err := control.Converse(context.Background(), nil, server.Addr(), codec, func(*control.Channel) error {
			return sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Errorf("expected sentinel error, got %v", err)
		}
	})
}

// TestConverseTransportErrors tests dial and read failures.
func TestConverseTransportErrors(t *testing.T) {
	t.Parallel()

	codec := control.NewCodec(control.DefaultTerminator)

	t.Run("dial failure is a TransportError", func(t *testing.T) {
		t.Parallel()

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("failed to listen: %v", err)
		}
		addr := ln.Addr().String()
		_ = ln.Close()

		err = control.Converse(context.Background(), nil, addr, codec, func(*control.Channel) error {
			t.Error("callback must not run")
			return nil
		})
		var terr *control.TransportError
		if !errors.As(err, &terr) {
			t.Fatalf("expected *TransportError, got %v", err)
		}
		if terr.Op != "dial" {
			t.Errorf("Op = %q, expected dial", terr.Op)
		}
	})

	t.Run("peer closing mid-reply is a TransportError", func(t *testing.T) {
		t.Parallel()
		addr := serveOnce(t, "250-stream-status=\r\n")

		err := control.Converse(context.Background(), nil, addr, codec, func(ch *control.Channel) error {
			_, err := ch.Execute(context.Background(), "GETINFO stream-status")
			return err
		})
		var terr *control.TransportError
		if !errors.As(err, &terr) {
			t.Fatalf("expected *TransportError, got %v", err)
		}
		if !errors.Is(err, control.ErrIncompleteResponse) {
			t.Errorf("expected ErrIncompleteResponse, got %v", err)
		}
	})

	t.Run("cancellation aborts a pending read", func(t *testing.T) {
		t.Parallel()
		addr := serveSilently(t)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(50*time.Millisecond, cancel)

		err := control.Converse(ctx, nil, addr, codec, func(ch *control.Channel) error {
			_, err := ch.Execute(ctx, "SIGNAL NEWNYM")
			return err
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("deadline aborts a pending read", func(t *testing.T) {
		t.Parallel()
		addr := serveSilently(t)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := control.Converse(ctx, nil, addr, codec, func(ch *control.Channel) error {
			_, err := ch.Execute(ctx, "SIGNAL NEWNYM")
			return err
		})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected context.DeadlineExceeded, got %v", err)
		}
	})
}

// serveOnce accepts one connection, writes reply after the first read and closes.
func serveOnce(t *testing.T, reply string) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 512)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		_, _ = conn.Write([]byte(reply))
	}()

	return ln.Addr().String()
}

// serveSilently accepts connections and never replies.
func serveSilently(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	done := make(chan struct{})
	t.Cleanup(func() {
		close(done)
		_ = ln.Close()
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				<-done
				_ = conn.Close()
			}()
		}
	}()

	return ln.Addr().String()
}
