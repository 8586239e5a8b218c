package chat

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeIRCServer speaks just enough IRC for the adapters. In the twitch dialect
// it welcomes on NICK, in the standard dialect on USER; with ack set it echoes
// JOIN and PART back as the bot's own. A server with welcome unset never
// completes registration.
type fakeIRCServer struct {
	ln      net.Listener
	welcome string // "twitch", "standard" or ""
	ack     bool

	mu     sync.Mutex
	lines  []string
	conns  []net.Conn
	closed int
}

func newFakeIRCServer(t *testing.T, welcome string, ack bool) *fakeIRCServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeIRCServer{ln: ln, welcome: welcome, ack: ack}
	go s.serve()
	t.Cleanup(s.close)
	return s
}

func (s *fakeIRCServer) addr() string { return s.ln.Addr().String() }

func (s *fakeIRCServer) port() int { return s.ln.Addr().(*net.TCPAddr).Port }

func (s *fakeIRCServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *fakeIRCServer) botPrefix() string {
	if s.welcome == "twitch" {
		return ":relaybot!relaybot@relaybot.tmi.twitch.tv"
	}
	return ":relaybot!relaybot@relay.example.org"
}

func (s *fakeIRCServer) handle(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		s.closed++
		s.mu.Unlock()
	}()
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		s.mu.Lock()
		s.lines = append(s.lines, line)
		s.mu.Unlock()
		switch {
		case strings.HasPrefix(line, "NICK ") && s.welcome == "twitch":
			s.write(conn, ":tmi.twitch.tv 001 "+strings.TrimPrefix(line, "NICK ")+" :Welcome, GLHF!")
		case strings.HasPrefix(line, "USER ") && s.welcome == "standard":
			s.write(conn, ":irc.example.org 001 relaybot :Welcome to the network")
		case strings.HasPrefix(line, "JOIN ") && s.ack:
			for _, ch := range strings.Split(strings.TrimPrefix(line, "JOIN "), ",") {
				s.write(conn, s.botPrefix()+" JOIN "+ch)
			}
		case strings.HasPrefix(line, "PART ") && s.ack:
			s.write(conn, s.botPrefix()+" "+line)
		case strings.HasPrefix(line, "PING"):
			s.write(conn, "PONG :"+strings.TrimPrefix(strings.TrimPrefix(line, "PING"), " :"))
		}
	}
}

func (s *fakeIRCServer) write(conn net.Conn, line string) {
	_, _ = conn.Write([]byte(line + "\r\n"))
}

// broadcast sends line to every connected client.
func (s *fakeIRCServer) broadcast(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		s.write(c, line)
	}
}

func (s *fakeIRCServer) close() {
	_ = s.ln.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
}

// received reports whether the server has already read want.
func (s *fakeIRCServer) received(want string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lines {
		if l == want {
			return true
		}
	}
	return false
}

// countOf returns how many times want was received.
func (s *fakeIRCServer) countOf(want string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.lines {
		if l == want {
			n++
		}
	}
	return n
}

// indexOf returns the position of want among received lines, or -1.
func (s *fakeIRCServer) indexOf(want string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.lines {
		if l == want {
			return i
		}
	}
	return -1
}

func (s *fakeIRCServer) waitForLine(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.received(want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Fatalf("server never received %q; got %q", want, s.lines)
}

// waitAllClosed waits until every accepted connection was closed by the peer.
func (s *fakeIRCServer) waitAllClosed(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		done := len(s.conns) > 0 && s.closed == len(s.conns)
		s.mu.Unlock()
		if done {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Fatalf("connections still open: accepted %d, closed %d", len(s.conns), s.closed)
}
