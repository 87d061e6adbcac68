package ftp

import (
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockServer provides a simple way to script server replies. Handlers
// must be registered before start. Every accepted connection is served
// by its own mockSession.
type mockServer struct {
	listener net.Listener
	addr     string

	// greeting is sent on every new connection
	greeting string

	// handlers maps an upper-case verb ("USER", "RETR") to its behavior.
	// Verbs without a handler get the defaults in mockSession.handle.
	handlers map[string]func(s *mockSession, args string)

	mu       sync.Mutex
	commands []string
	conns    int
	sessions []*mockSession

	wg sync.WaitGroup
}

// mockSession is one control connection on the mock server.
type mockSession struct {
	server *mockServer
	raw    net.Conn
	conn   *textproto.Conn
	id     int

	// data is the passive listener opened by the last EPSV or PASV
	data net.Listener
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &mockServer{
		listener: l,
		addr:     l.Addr().String(),
		greeting: "220 Service ready",
		handlers: make(map[string]func(*mockSession, string)),
	}
	t.Cleanup(s.stop)
	return s
}

func (s *mockServer) handle(verb string, h func(sess *mockSession, args string)) {
	s.handlers[strings.ToUpper(verb)] = h
}

// reply registers a handler that answers verb with a fixed line.
func (s *mockServer) reply(verb, line string) {
	s.handle(verb, func(sess *mockSession, _ string) {
		_ = sess.conn.PrintfLine("%s", line)
	})
}

func (s *mockServer) start() {
	s.wg.Go(func() {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns++
			sess := &mockSession{server: s, raw: conn, conn: textproto.NewConn(conn), id: s.conns}
			s.sessions = append(s.sessions, sess)
			s.mu.Unlock()

			s.wg.Go(sess.serve)
		}
	})
}

func (s *mockServer) stop() {
	s.listener.Close()
	s.mu.Lock()
	for _, sess := range s.sessions {
		sess.raw.Close()
		if sess.data != nil {
			sess.data.Close()
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// received returns a snapshot of every command line received so far,
// across all connections.
func (s *mockServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// receivedVerbs returns the verbs of received, in order.
func (s *mockServer) receivedVerbs() []string {
	var verbs []string
	for _, line := range s.received() {
		verb, _, _ := strings.Cut(line, " ")
		verbs = append(verbs, strings.ToUpper(verb))
	}
	return verbs
}

// connections returns the number of accepted control connections.
func (s *mockServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (sess *mockSession) serve() {
	defer sess.conn.Close()
	if sess.server.greeting != "" {
		_ = sess.conn.PrintfLine("%s", sess.server.greeting)
	}

	for {
		line, err := sess.conn.ReadLine()
		if err != nil {
			return
		}

		sess.server.mu.Lock()
		sess.server.commands = append(sess.server.commands, line)
		sess.server.mu.Unlock()

		verb, args, _ := strings.Cut(line, " ")
		verb = strings.ToUpper(verb)
		if h, ok := sess.server.handlers[verb]; ok {
			h(sess, args)
			continue
		}
		if !sess.handle(verb) {
			return
		}
	}
}

// handle answers verb with the default reply. It returns false when the
// connection must be closed.
func (sess *mockSession) handle(verb string) bool {
	switch verb {
	case "USER":
		_ = sess.conn.PrintfLine("331 User name okay, need password.")
	case "PASS":
		_ = sess.conn.PrintfLine("230 User logged in, proceed.")
	case "QUIT":
		_ = sess.conn.PrintfLine("221 Service closing control connection.")
		return false
	case "TYPE", "NOOP":
		_ = sess.conn.PrintfLine("200 Command okay.")
	case "PWD":
		_ = sess.conn.PrintfLine(`257 "/" is the current directory`)
	case "CWD":
		_ = sess.conn.PrintfLine("250 Directory changed.")
	case "REST":
		_ = sess.conn.PrintfLine("350 Restart position accepted.")
	case "EPSV":
		sess.passive()
	default:
		_ = sess.conn.PrintfLine("502 Command not implemented.")
	}
	return true
}

// passive opens a data listener and announces it with a 229 reply.
func (sess *mockSession) passive() {
	port, err := sess.listenData()
	if err != nil {
		_ = sess.conn.PrintfLine("425 Can't open data connection.")
		return
	}
	_ = sess.conn.PrintfLine("229 Entering Extended Passive Mode (|||%d|)", port)
}

// listenData replaces the session's passive listener and returns its port.
func (sess *mockSession) listenData() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	sess.server.mu.Lock()
	if sess.data != nil {
		sess.data.Close()
	}
	sess.data = l
	sess.server.mu.Unlock()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// acceptData accepts the client's connection to the passive listener.
func (sess *mockSession) acceptData() (net.Conn, error) {
	sess.server.mu.Lock()
	l := sess.data
	sess.server.mu.Unlock()
	if l == nil {
		return nil, fmt.Errorf("no passive listener")
	}
	if tl, ok := l.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(5 * time.Second))
	}
	return l.Accept()
}

// sendData runs a complete download on the data connection: 150, the
// payload, then 226.
func (sess *mockSession) sendData(payload []byte) {
	_ = sess.conn.PrintfLine("150 Opening data connection.")
	conn, err := sess.acceptData()
	if err != nil {
		_ = sess.conn.PrintfLine("425 Can't open data connection.")
		return
	}
	_, _ = conn.Write(payload)
	conn.Close()
	_ = sess.conn.PrintfLine("226 Transfer complete.")
}

// writeRaw sends bytes on the control connection without framing.
func (sess *mockSession) writeRaw(s string) {
	_, _ = sess.raw.Write([]byte(s))
}
