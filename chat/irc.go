package chat

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/lrstanley/girc"
)

// IRCOptions configures an IRCClient.
type IRCOptions struct {
	Server string
	Port   int
	TLS    bool
	Nick   string
	// Password is sent as the server password (PASS) when set.
	Password string
	// Colors keeps formatting codes in inbound messages when true.
	Colors bool
}

// IRCClient adapts girc to Client for standard (RFC 1459/2812) servers.
type IRCClient struct {
	client *girc.Client
	opts   IRCOptions

	dialCtx    context.Context
	cancelDial context.CancelFunc

	welcomeOnce sync.Once
	welcomed    chan struct{}
	done        chan struct{}

	joins *waiters
	parts *waiters

	mu        sync.Mutex
	started   bool
	conn      net.Conn
	connErr   error
	onMessage func(InboundMessage)
}

var _ Client = (*IRCClient)(nil)

// NewIRCClient builds a client for opts. The nick doubles as user and real name.
func NewIRCClient(opts IRCOptions) *IRCClient {
	dialCtx, cancel := context.WithCancel(context.Background())
	c := &IRCClient{
		opts:       opts,
		dialCtx:    dialCtx,
		cancelDial: cancel,
		welcomed:   make(chan struct{}),
		done:       make(chan struct{}),
		joins:      newWaiters(),
		parts:      newWaiters(),
	}
	conf := girc.Config{
		Server:                opts.Server,
		Port:                  opts.Port,
		Nick:                  opts.Nick,
		User:                  opts.Nick,
		Name:                  opts.Nick,
		ServerPass:            opts.Password,
		SSL:                   opts.TLS,
		AllowFlood:            true,
		DisableAutoWHOOnJoin:  true,
		DisableAutoMODEOnJoin: true,
	}
	if opts.TLS {
		conf.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: opts.Server}
	}
	c.client = girc.New(conf)

	c.client.Handlers.Add(girc.CONNECTED, func(_ *girc.Client, _ girc.Event) {
		c.welcomeOnce.Do(func() { close(c.welcomed) })
	})
	c.client.Handlers.Add(girc.JOIN, func(cl *girc.Client, e girc.Event) {
		if ch, ok := c.selfChannel(cl, e); ok {
			c.joins.release(ch)
		}
	})
	c.client.Handlers.Add(girc.PART, func(cl *girc.Client, e girc.Event) {
		if ch, ok := c.selfChannel(cl, e); ok {
			c.parts.release(ch)
		}
	})
	c.client.Handlers.Add(girc.PRIVMSG, func(_ *girc.Client, e girc.Event) {
		if !e.IsFromChannel() || e.Echo {
			return
		}
		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		if fn == nil {
			return
		}
		text := e.Last()
		if !c.opts.Colors {
			text = StripFormatting(text)
		}
		fn(InboundMessage{
			Time:    e.Timestamp,
			Channel: NormalizeChannel(e.Params[0]),
			User:    User{Nick: e.Source.Name, Username: e.Source.Ident, Host: e.Source.Host},
			Text:    text,
		})
	})
	return c
}

// selfChannel returns the normalized channel of a JOIN/PART sent by the bot itself.
func (c *IRCClient) selfChannel(cl *girc.Client, e girc.Event) (string, bool) {
	if e.Source == nil || len(e.Params) == 0 {
		return "", false
	}
	if e.Source.ID() != girc.ToRFC1459(cl.GetNick()) {
		return "", false
	}
	return NormalizeChannel(e.Params[0]), true
}

// Dial implements girc.Dialer. The connection is kept so the session can be
// cut before the server's welcome.
func (c *IRCClient) Dial(network, address string) (net.Conn, error) {
	d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 10 * time.Second}
	conn, err := d.DialContext(c.dialCtx, network, address)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	if c.dialCtx.Err() != nil {
		_ = conn.Close()
		return nil, c.dialCtx.Err()
	}
	return conn, nil
}

// OnMessage implements Client.
func (c *IRCClient) OnMessage(fn func(InboundMessage)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// Connect implements Client. When ctx ends before the welcome, the session is
// torn down before Connect returns.
func (c *IRCClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	addr := net.JoinHostPort(c.opts.Server, strconv.Itoa(c.opts.Port))
	go func() {
		err := c.client.DialerConnect(c)
		if err != nil {
			slog.Debug("chat connection ended", slog.String("addr", addr), slog.Any("err", err))
		}
		c.mu.Lock()
		c.connErr = err
		c.mu.Unlock()
		close(c.done)
	}()

	select {
	case <-c.welcomed:
		return nil
	case <-c.done:
		c.mu.Lock()
		err := c.connErr
		c.mu.Unlock()
		if err == nil {
			err = errors.New("connection closed before welcome")
		}
		return fmt.Errorf("connect %s: %w", addr, err)
	case <-ctx.Done():
		c.teardown()
		return fmt.Errorf("connect %s: %w", addr, ctx.Err())
	}
}

func (c *IRCClient) teardown() {
	_ = c.Close()
	select {
	case <-c.done:
	case <-time.After(teardownGrace):
		slog.Warn("chat connection still winding down", slog.String("server", c.opts.Server))
	}
}

// Join implements Client.
func (c *IRCClient) Join(ctx context.Context, channel string) error {
	ch := NormalizeChannel(channel)
	if ch == "" {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	if !c.connected() {
		return ErrNotConnected
	}
	if err := c.joins.await(ctx, c.done, ch, func() { c.client.Cmd.Join("#" + ch) }); err != nil {
		return fmt.Errorf("join #%s: %w", ch, err)
	}
	return nil
}

// Say implements Client.
func (c *IRCClient) Say(channel, text string) {
	c.client.Cmd.Message("#"+NormalizeChannel(channel), text)
}

// Part implements Client. Events are written in order, so once the server
// echoed the PART every earlier message has been written too.
func (c *IRCClient) Part(ctx context.Context, channel string) error {
	ch := NormalizeChannel(channel)
	if ch == "" {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	if !c.connected() {
		return ErrNotConnected
	}
	if err := c.parts.await(ctx, c.done, ch, func() { c.client.Cmd.Part("#" + ch) }); err != nil {
		return fmt.Errorf("part #%s: %w", ch, err)
	}
	return nil
}

// Close implements Client. It also aborts a dial in progress.
func (c *IRCClient) Close() error {
	c.cancelDial()
	c.client.Close()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	return nil
}

// Wait implements Client.
func (c *IRCClient) Wait(ctx context.Context) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Alive implements Client.
func (c *IRCClient) Alive() bool {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *IRCClient) connected() bool {
	select {
	case <-c.welcomed:
		return c.Alive()
	default:
		return false
	}
}
