package chat

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// bridge relays a library's loopback connection to the real chat server over
// a connection the adapter owns. go-twitch-irc dials on its own and cannot be
// stopped before the server's welcome; closing the bridge cuts both sides and
// refuses the library's redial, which makes its Connect return.
type bridge struct {
	ln     net.Listener
	target string
	tls    *tls.Config

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	err    error
	conns  []net.Conn
}

func newBridge(target string, tlsConf *tls.Config) (*bridge, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &bridge{ln: ln, target: target, tls: tlsConf, ctx: ctx, cancel: cancel}
	go b.serve()
	return b, nil
}

// Addr is the loopback address the library should dial.
func (b *bridge) Addr() string { return b.ln.Addr().String() }

func (b *bridge) serve() {
	for {
		local, err := b.ln.Accept()
		if err != nil {
			return
		}
		go b.relay(local)
	}
}

func (b *bridge) relay(local net.Conn) {
	remote, err := b.dial()
	if err != nil {
		b.fail(err)
		_ = local.Close()
		return
	}
	if !b.track(local, remote) {
		_ = local.Close()
		_ = remote.Close()
		return
	}
	go func() {
		_, _ = io.Copy(remote, local)
		_ = remote.Close()
	}()
	_, _ = io.Copy(local, remote)
	_ = local.Close()
}

func (b *bridge) dial() (net.Conn, error) {
	d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 10 * time.Second}
	if b.tls != nil {
		return (&tls.Dialer{NetDialer: d, Config: b.tls}).DialContext(b.ctx, "tcp", b.target)
	}
	return d.DialContext(b.ctx, "tcp", b.target)
}

func (b *bridge) track(conns ...net.Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.conns = append(b.conns, conns...)
	return true
}

// fail records the upstream dial error and shuts the bridge so the library
// stops redialing.
func (b *bridge) fail(err error) {
	b.mu.Lock()
	if b.err == nil && !b.closed {
		b.err = err
	}
	b.mu.Unlock()
	slog.Debug("chat bridge dial failed", slog.String("addr", b.target), slog.Any("err", err))
	_ = b.Close()
}

// Err returns the upstream dial error, if any.
func (b *bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Close stops accepting, aborts a pending dial and closes both sides of every
// relayed connection. It is safe to call more than once.
func (b *bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conns := b.conns
	b.conns = nil
	b.mu.Unlock()

	b.cancel()
	err := b.ln.Close()
	for _, c := range conns {
		_ = c.Close()
	}
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}
