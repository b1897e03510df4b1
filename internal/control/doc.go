// Package control speaks the small subset of Tor's control-port protocol that
// exit node rotation needs: AUTHENTICATE, SIGNAL NEWNYM, GETINFO stream-status
// and CLOSESTREAM.
//
// The package has two halves:
//   - The codec (Codec) is pure. It validates replies and extracts GETINFO rows.
//     The line terminator is a field of the codec rather than a host-dependent
//     constant, because the protocol is text over TCP regardless of the OS.
//   - The transport (Converse) opens one TCP connection per dialogue, hands the
//     caller a Channel that sends a command and reads exactly one reply, and
//     closes the connection when the dialogue ends.
//
// # Usage
//
//	codec := control.NewCodec(control.DefaultTerminator)
//	err := control.Converse(ctx, nil, "127.0.0.1:9051", codec, func(ch *control.Channel) error {
//	    if err := ch.Authenticate(ctx, "secret"); err != nil {
//	        return err
//	    }
//	    return ch.SignalNewIdentity(ctx)
//	})
package control
