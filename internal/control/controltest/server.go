// Package controltest provides an in-process Tor control port for tests.
//
// The Server understands the commands the rotation engine sends
// (AUTHENTICATE, SIGNAL NEWNYM, GETINFO stream-status, CLOSESTREAM) and keeps
// enough state to assert on them afterwards. SocksServer stands in for the
// SOCKS port so address probes can be routed the way they are through Tor.
package controltest

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// Server is a fake Tor control port listening on 127.0.0.1.
type Server struct {
	password   string
	terminator string
	chunkSize  int

	listener net.Listener
	wg       sync.WaitGroup

	mu          sync.Mutex
	streams     []string
	commands    []string
	closed      []string
	newIdentity int
	connections int
	overrides   map[string]string
	onNewnym    func()
	open        map[net.Conn]struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithPassword sets the password AUTHENTICATE must present.
func WithPassword(password string) Option {
	return func(s *Server) {
		s.password = password
	}
}

// WithTerminator sets the line terminator of the server. Default "\r\n".
func WithTerminator(terminator string) Option {
	return func(s *Server) {
		s.terminator = terminator
	}
}

// WithChunkedReplies makes the server write every reply in pieces of n bytes.
func WithChunkedReplies(n int) Option {
	return func(s *Server) {
		s.chunkSize = n
	}
}

// WithStreams seeds the stream table. Each row is "<id> <status> <circuit> <target>".
func WithStreams(rows ...string) Option {
	return func(s *Server) {
		s.streams = append(s.streams, rows...)
	}
}

// WithReply forces the raw reply (without terminator handling) for a command
// verb such as "SIGNAL" or "GETINFO".
func WithReply(verb, reply string) Option {
	return func(s *Server) {
		s.overrides[strings.ToUpper(verb)] = reply
	}
}

// OnNewIdentity registers fn to run whenever SIGNAL NEWNYM is accepted.
func OnNewIdentity(fn func()) Option {
	return func(s *Server) {
		s.onNewnym = fn
	}
}

// NewServer starts a Server and registers its shutdown with t.Cleanup.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		terminator: "\r\n",
		overrides:  make(map[string]string),
		open:       make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("controltest: failed to listen: %v", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.serve()

	t.Cleanup(s.Close)
	return s
}

// Addr returns the "host:port" address of the server.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the host part of Addr.
func (s *Server) Host() string {
	return s.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the port part of Addr.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Close stops accepting connections, drops open ones and waits for handlers
// to finish. It is safe to call more than once.
func (s *Server) Close() {
	_ = s.listener.Close()
	s.mu.Lock()
	for conn := range s.open {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// SetStreams replaces the stream table.
func (s *Server) SetStreams(rows ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = append([]string(nil), rows...)
}

// Commands returns every command received, in order. AUTHENTICATE arguments
// are kept verbatim.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// ClosedStreams returns the ids passed to successful CLOSESTREAM commands.
func (s *Server) ClosedStreams() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.closed...)
}

// NewIdentityCount returns how many SIGNAL NEWNYM commands were accepted.
func (s *Server) NewIdentityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newIdentity
}

// Connections returns how many connections were accepted.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.connections++
		s.open[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.open, conn)
				s.mu.Unlock()
				_ = conn.Close()
			}()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	reader := bufio.NewReader(conn)
	authenticated := false
	last := s.terminator[len(s.terminator)-1]

	for {
		line, err := reader.ReadString(last)
		if err != nil {
			return
		}
		command := strings.TrimSuffix(line, s.terminator)

		s.mu.Lock()
		s.commands = append(s.commands, command)
		s.mu.Unlock()

		reply, keepOpen := s.respond(command, &authenticated)
		if err := s.write(conn, reply); err != nil || !keepOpen {
			return
		}
	}
}

// respond computes the reply for command and whether the connection stays open.
func (s *Server) respond(command string, authenticated *bool) (string, bool) {
	verb, args, _ := strings.Cut(command, " ")
	verb = strings.ToUpper(verb)

	s.mu.Lock()
	override, overridden := s.overrides[verb]
	s.mu.Unlock()
	if overridden {
		if verb == "AUTHENTICATE" {
			*authenticated = true
		}
		return override, true
	}

	if verb == "AUTHENTICATE" {
		password, err := unquote(args)
		if err != nil || password != s.password {
			return s.line("515 Authentication failed: Password did not match HashedControlPassword value from configuration"), false
		}
		*authenticated = true
		return s.line("250 OK"), true
	}
	if !*authenticated {
		return s.line("514 Authentication required."), false
	}

	switch verb {
	case "SIGNAL":
		if strings.ToUpper(args) != "NEWNYM" {
			return s.line(fmt.Sprintf("552 Unrecognized signal code \"%s\"", args)), true
		}
		s.mu.Lock()
		s.newIdentity++
		hook := s.onNewnym
		s.mu.Unlock()
		if hook != nil {
			hook()
		}
		return s.line("250 OK"), true
	case "GETINFO":
		if args != "stream-status" {
			return s.line(fmt.Sprintf("552 Unrecognized key \"%s\"", args)), true
		}
		return s.streamStatus(), true
	case "CLOSESTREAM":
		return s.closeStream(args), true
	default:
		return s.line(fmt.Sprintf("510 Unrecognized command \"%s\"", verb)), true
	}
}

// streamStatus renders the stream table in the single-line form for zero or
// one stream and in the data-block form otherwise, as Tor does.
func (s *Server) streamStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch len(s.streams) {
	case 0:
		return s.line("250-stream-status=") + s.line("250 OK")
	case 1:
		return s.line("250-stream-status="+s.streams[0]) + s.line("250 OK")
	}

	var b strings.Builder
	b.WriteString(s.line("250+stream-status="))
	for _, row := range s.streams {
		b.WriteString(s.line(row))
	}
	b.WriteString(s.line("."))
	b.WriteString(s.line("250 OK"))
	return b.String()
}

func (s *Server) closeStream(args string) string {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return s.line("512 Missing argument to CLOSESTREAM")
	}
	if _, err := strconv.Atoi(fields[1]); err != nil {
		return s.line(fmt.Sprintf("552 Unrecognized reason \"%s\"", fields[1]))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, row := range s.streams {
		if strings.SplitN(row, " ", 2)[0] == fields[0] {
			s.streams = append(s.streams[:i], s.streams[i+1:]...)
			s.closed = append(s.closed, fields[0])
			return s.line("250 OK")
		}
	}
	return s.line(fmt.Sprintf("552 Unknown stream \"%s\"", fields[0]))
}

func (s *Server) write(conn net.Conn, reply string) error {
	if s.chunkSize <= 0 {
		_, err := conn.Write([]byte(reply))
		return err
	}
	for start := 0; start < len(reply); start += s.chunkSize {
		end := min(start+s.chunkSize, len(reply))
		if _, err := conn.Write([]byte(reply[start:end])); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) line(text string) string {
	return text + s.terminator
}

// unquote reverses the control protocol's QuotedString encoding.
func unquote(arg string) (string, error) {
	if len(arg) < 2 || arg[0] != '"' || arg[len(arg)-1] != '"' {
		return "", errors.New("not a quoted string")
	}
	var b strings.Builder
	escaped := false
	for _, r := range arg[1 : len(arg)-1] {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}
