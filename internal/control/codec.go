package control

import (
	"regexp"
	"strings"
)

// DefaultTerminator is the line terminator of the Tor control protocol.
const DefaultTerminator = "\r\n"

// okLine is the reply line that acknowledges a command.
const okLine = "250 OK"

// StreamRecord is one row of "GETINFO stream-status".
type StreamRecord struct {
	// StreamID identifies the stream for CLOSESTREAM.
	StreamID string
	// StreamStatus is the stream state, e.g. "SUCCEEDED" or "NEW".
	StreamStatus string
	// CircuitID is the circuit the stream is attached to.
	CircuitID string
	// Target is the destination "host:port".
	Target string
}

// Codec parses control-port replies. It performs no I/O.
// The zero value is not usable; create one with NewCodec.
type Codec struct {
	terminator string
}

// NewCodec returns a Codec that frames lines with terminator.
// An empty terminator selects DefaultTerminator.
func NewCodec(terminator string) Codec {
	if terminator == "" {
		terminator = DefaultTerminator
	}
	return Codec{terminator: terminator}
}

// Terminator returns the line terminator used by the codec.
func (c Codec) Terminator() string {
	return c.terminator
}

// Encode frames a command for the wire.
func (c Codec) Encode(command string) []byte {
	return []byte(command + c.terminator)
}

// ParseAck succeeds iff response is exactly "250 OK" followed by the terminator.
func (c Codec) ParseAck(command, response string) error {
	if response == okLine+c.terminator {
		return nil
	}
	return &ProtocolError{Command: redactCommand(command), Response: response}
}

// ParseInfo extracts the rows of a GETINFO reply for key. Two shapes are
// accepted (T is the terminator):
//
//	250-<key>=<value>T250 OKT               zero rows if value is empty, else one
//	250+<key>=T<row>T...<row>T.T250 OKT     one row per line before "."
//
// Each row is split on ASCII space. Any other reply is a *ProtocolError.
func (c Codec) ParseInfo(command, key, response string) ([][]string, error) {
	single, multi := c.infoPatterns(key)

	if m := single.FindStringSubmatch(response); m != nil {
		if m[1] == "" {
			return [][]string{}, nil
		}
		return [][]string{splitRow(m[1])}, nil
	}

	if m := multi.FindStringSubmatch(response); m != nil {
		body := strings.TrimSuffix(m[1], c.terminator)
		if body == "" {
			return [][]string{}, nil
		}
		lines := strings.Split(body, c.terminator)
		rows := make([][]string, 0, len(lines))
		for _, line := range lines {
			rows = append(rows, splitRow(line))
		}
		return rows, nil
	}

	return nil, &ProtocolError{Command: redactCommand(command), Response: response}
}

// ParseStreams converts GETINFO stream-status rows into stream records.
// A row with fewer than four fields fails the whole parse.
func (c Codec) ParseStreams(command string, rows [][]string) ([]StreamRecord, error) {
	streams := make([]StreamRecord, 0, len(rows))
	for _, row := range rows {
		if len(row) < 4 {
			return nil, &ProtocolError{
				Command:  command,
				Response: strings.Join(row, " "),
				Reason:   "wrong tor stream status string",
			}
		}
		streams = append(streams, StreamRecord{
			StreamID:     row[0],
			StreamStatus: row[1],
			CircuitID:    row[2],
			Target:       row[3],
		})
	}
	return streams, nil
}

// Complete reports whether response holds a whole reply: a final "NNN " line
// outside of any "NNN+" data block, ended by the terminator.
func (c Codec) Complete(response string) bool {
	inData := false
	rest := response
	for {
		i := strings.Index(rest, c.terminator)
		if i < 0 {
			return false
		}
		line := rest[:i]
		rest = rest[i+len(c.terminator):]

		if inData {
			if line == "." {
				inData = false
			}
			continue
		}
		if len(line) < 4 || !isStatusCode(line[:3]) {
			continue
		}
		switch line[3] {
		case ' ':
			return true
		case '+':
			inData = true
		}
	}
}

// infoPatterns builds the anchored single-line and multi-line GETINFO grammars.
func (c Codec) infoPatterns(key string) (single, multi *regexp.Regexp) {
	k := regexp.QuoteMeta(key)
	t := regexp.QuoteMeta(c.terminator)
	notT := "[^" + classEscape(c.terminator) + "]"
	ok := okLine + t

	single = regexp.MustCompile(`^250-` + k + `=(` + notT + `*)` + t + ok + `$`)
	multi = regexp.MustCompile(`^250\+` + k + `=` + t + `((?:` + notT + `+` + t + `)*)\.` + t + ok + `$`)
	return single, multi
}

// classEscape escapes s for use inside a regexp character class.
func classEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`\]^-[`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// splitRow splits a row on ASCII space, keeping empty fields.
func splitRow(row string) []string {
	return strings.Split(row, " ")
}

// isStatusCode reports whether s is three ASCII digits.
func isStatusCode(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) == 3
}

// quoteString wraps s in double quotes, escaping backslashes and quotes.
func quoteString(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + replacer.Replace(s) + `"`
}
