package chat

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// teardownGrace bounds how long an aborted Connect waits for the library.
const teardownGrace = 5 * time.Second

// TwitchOptions configures a TwitchClient.
type TwitchOptions struct {
	Addr     string // host:port
	TLS      bool
	BotName  string
	BotToken string
	// Colors keeps formatting codes in inbound messages when true.
	Colors bool
}

// TwitchClient adapts go-twitch-irc to Client. The library runs its read loop
// inside its blocking Connect; the adapter runs that on its own goroutine and
// turns the callbacks into blocking Connect/Join/Part calls. The library dials
// the adapter's bridge, so the session can be cut at any point.
type TwitchClient struct {
	client *twitch.Client
	opts   TwitchOptions
	bridge *bridge

	welcomeOnce sync.Once
	welcomed    chan struct{}
	done        chan struct{}

	joins *waiters
	parts *waiters

	mu        sync.Mutex
	started   bool
	connErr   error
	onMessage func(InboundMessage)
}

var _ Client = (*TwitchClient)(nil)

// NewTwitchClient builds a client for opts. The bot name is used as nick,
// username and real name, as Twitch only knows one identity.
func NewTwitchClient(opts TwitchOptions) *TwitchClient {
	token := opts.BotToken
	if token != "" && !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	nick := strings.ToLower(opts.BotName)
	c := &TwitchClient{
		client:   twitch.NewClient(nick, token),
		opts:     opts,
		welcomed: make(chan struct{}),
		done:     make(chan struct{}),
		joins:    newWaiters(),
		parts:    newWaiters(),
	}
	c.client.SendPings = true

	c.client.OnConnect(func() {
		c.welcomeOnce.Do(func() { close(c.welcomed) })
	})
	c.client.OnSelfJoinMessage(func(msg twitch.UserJoinMessage) {
		c.joins.release(NormalizeChannel(msg.Channel))
	})
	c.client.OnSelfPartMessage(func(msg twitch.UserPartMessage) {
		c.parts.release(NormalizeChannel(msg.Channel))
	})
	c.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		if fn == nil {
			return
		}
		text := msg.Message
		if !c.opts.Colors {
			text = StripFormatting(text)
		}
		fn(InboundMessage{
			Time:    msg.Time,
			Channel: NormalizeChannel(msg.Channel),
			User: User{
				Nick:     msg.User.DisplayName,
				Username: msg.User.Name,
				Host:     prefixHost(msg.Raw),
			},
			Text: text,
		})
	})
	return c
}

// OnMessage implements Client.
func (c *TwitchClient) OnMessage(fn func(InboundMessage)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// Connect implements Client. When ctx ends before the welcome, the session is
// torn down before Connect returns.
func (c *TwitchClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	var tlsConf *tls.Config
	if c.opts.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostOf(c.opts.Addr)}
	}
	b, err := newBridge(c.opts.Addr, tlsConf)
	if err != nil {
		close(c.done)
		return fmt.Errorf("connect %s: %w", c.opts.Addr, err)
	}
	c.mu.Lock()
	c.bridge = b
	c.mu.Unlock()
	c.client.IrcAddress = b.Addr()
	c.client.TLS = false

	go func() {
		err := c.client.Connect()
		_ = b.Close()
		if upstream := b.Err(); upstream != nil {
			err = upstream
		}
		if err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
			slog.Debug("chat connection ended", slog.String("addr", c.opts.Addr), slog.Any("err", err))
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
		return fmt.Errorf("connect %s: %w", c.opts.Addr, err)
	case <-ctx.Done():
		c.teardown()
		return fmt.Errorf("connect %s: %w", c.opts.Addr, ctx.Err())
	}
}

// teardown cuts the session regardless of its progress and waits briefly for
// the library to return.
func (c *TwitchClient) teardown() {
	_ = c.client.Disconnect()
	c.mu.Lock()
	b := c.bridge
	c.mu.Unlock()
	_ = b.Close()
	select {
	case <-c.done:
	case <-time.After(teardownGrace):
		slog.Warn("chat connection still winding down", slog.String("addr", c.opts.Addr))
	}
}

// Join implements Client.
func (c *TwitchClient) Join(ctx context.Context, channel string) error {
	ch := NormalizeChannel(channel)
	if ch == "" {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	if !c.connected() {
		return ErrNotConnected
	}
	if err := c.joins.await(ctx, c.done, ch, func() { c.client.Join(ch) }); err != nil {
		return fmt.Errorf("join #%s: %w", ch, err)
	}
	return nil
}

// Say implements Client.
func (c *TwitchClient) Say(channel, text string) {
	c.client.Say(NormalizeChannel(channel), text)
}

// Part implements Client. The library writes in order, so once the server
// echoed the PART every earlier message has been written too.
func (c *TwitchClient) Part(ctx context.Context, channel string) error {
	ch := NormalizeChannel(channel)
	if ch == "" {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	if !c.connected() {
		return ErrNotConnected
	}
	if err := c.parts.await(ctx, c.done, ch, func() { c.client.Depart(ch) }); err != nil {
		return fmt.Errorf("part #%s: %w", ch, err)
	}
	return nil
}

// Close implements Client. Closing a connection that is not open is not an error.
func (c *TwitchClient) Close() error {
	err := c.client.Disconnect()
	if errors.Is(err, twitch.ErrConnectionIsNotOpen) {
		c.mu.Lock()
		b := c.bridge
		c.mu.Unlock()
		if b != nil {
			return b.Close()
		}
		return nil
	}
	return err
}

// Wait implements Client.
func (c *TwitchClient) Wait(ctx context.Context) error {
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
func (c *TwitchClient) Alive() bool {
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

func (c *TwitchClient) connected() bool {
	select {
	case <-c.welcomed:
		return c.Alive()
	default:
		return false
	}
}

// prefixHost extracts the host part of the ":nick!user@host" prefix of a raw line.
func prefixHost(raw string) string {
	if strings.HasPrefix(raw, "@") {
		if i := strings.IndexByte(raw, ' '); i >= 0 {
			raw = raw[i+1:]
		}
	}
	if !strings.HasPrefix(raw, ":") {
		return ""
	}
	prefix := raw[1:]
	if i := strings.IndexByte(prefix, ' '); i >= 0 {
		prefix = prefix[:i]
	}
	if i := strings.IndexByte(prefix, '@'); i >= 0 {
		return prefix[i+1:]
	}
	return ""
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
