package sink

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/irc-relay/chat"
	"github.com/onnwee/irc-relay/config"
	"github.com/onnwee/irc-relay/telemetry"
	"github.com/onnwee/irc-relay/version"
)

// State is the lifecycle position of a Task.
type State int

const (
	StateUninitialized State = iota
	StateConnected
	StateJoined
	StateShuttingDown
	StateTerminated
	StateFailed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ClientFactory builds the chat client for a configuration.
type ClientFactory func(cfg *config.Config) chat.Client

// DefaultClientFactory picks the chat adapter for the configured dialect.
func DefaultClientFactory(cfg *config.Config) chat.Client {
	if cfg.ChatDialect() == config.DialectTwitch {
		return chat.NewTwitchClient(chat.TwitchOptions{
			Addr:     cfg.Addr(),
			TLS:      cfg.TLS,
			BotName:  cfg.IRCBotName,
			BotToken: cfg.IRCBotAuth,
			Colors:   cfg.Colors,
		})
	}
	return chat.NewIRCClient(chat.IRCOptions{
		Server:   cfg.IRCServer,
		Port:     cfg.IRCPort,
		TLS:      cfg.TLS,
		Nick:     cfg.IRCBotName,
		Password: cfg.IRCBotAuth,
		Colors:   cfg.Colors,
	})
}

// Option customizes a Task.
type Option func(*Task)

// WithClientFactory replaces the chat client constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(t *Task) { t.newClient = f }
}

// WithMessageHandler receives every chat message seen on the connection.
func WithMessageHandler(fn func(chat.InboundMessage)) Option {
	return func(t *Task) { t.onMessage = fn }
}

// Task relays queue records into chat channels. Start, Put and Stop are called
// sequentially by the queue host; State and Channels may be read concurrently.
type Task struct {
	newClient ClientFactory
	onMessage func(chat.InboundMessage)

	mu     sync.Mutex
	state  State
	cfg    *config.Config
	client chat.Client
	joined []string
	index  map[string]struct{}
}

// New returns an uninitialized task.
func New(opts ...Option) *Task {
	t := &Task{newClient: DefaultClientFactory, index: make(map[string]struct{})}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Version reports the relay build version.
func (t *Task) Version() string { return version.String() }

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Channels returns the joined channels in join order.
func (t *Task) Channels() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.joined)
}

// Start parses props and opens the chat session. See StartConfig.
func (t *Task) Start(ctx context.Context, props map[string]string) error {
	if st := t.State(); st != StateUninitialized {
		return fmt.Errorf("relay: start called in state %s", st)
	}
	cfg, err := config.Parse(props)
	if err == nil {
		err = cfg.ValidateAuth()
	}
	if err != nil {
		t.setState(StateFailed)
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return t.StartConfig(ctx, cfg)
}

// StartConfig connects to the chat server and joins every configured channel
// in order. The first join failure aborts startup and closes the connection.
func (t *Task) StartConfig(ctx context.Context, cfg *config.Config) (err error) {
	t.mu.Lock()
	if t.state != StateUninitialized {
		st := t.state
		t.mu.Unlock()
		return fmt.Errorf("relay: start called in state %s", st)
	}
	t.cfg = cfg
	t.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "relay.start",
		attribute.String("irc.server", cfg.Addr()),
		attribute.Int("irc.channels", len(cfg.Channels)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	client := t.newClient(cfg)
	if t.onMessage != nil {
		client.OnMessage(t.onMessage)
	}

	slog.Info("connecting to chat server", slog.String("server", cfg.Addr()), slog.String("bot", cfg.IRCBotName))
	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	err = client.Connect(cctx)
	cancel()
	if err != nil {
		t.setState(StateFailed)
		return fmt.Errorf("%w %s: %w", ErrConnection, cfg.Addr(), err)
	}
	t.mu.Lock()
	t.client = client
	t.state = StateConnected
	t.mu.Unlock()
	telemetry.SetConnectionUp(true)

	for _, ch := range cfg.Channels {
		slog.Info("joining channel", slog.String("channel", ch))
		jctx, cancel := context.WithTimeout(ctx, cfg.JoinTimeout)
		err = client.Join(jctx, ch)
		cancel()
		if err != nil {
			telemetry.IncCounter(telemetry.JoinFailures)
			t.abort(ctx, client)
			return fmt.Errorf("%w %s: %w", ErrChannelJoin, ch, err)
		}
		t.mu.Lock()
		t.joined = append(t.joined, ch)
		t.index[chat.NormalizeChannel(ch)] = struct{}{}
		t.state = StateJoined
		n := len(t.joined)
		t.mu.Unlock()
		telemetry.SetChannelsJoined(n)
	}
	slog.Info("relay started", slog.Int("channels", len(cfg.Channels)))
	return nil
}

// abort tears down a half-started session after a join failure.
func (t *Task) abort(ctx context.Context, client chat.Client) {
	if err := client.Close(); err != nil {
		slog.Warn("close chat connection after failed start", slog.Any("err", err))
	}
	wctx, cancel := context.WithTimeout(ctx, t.cfg.ShutdownTimeout)
	defer cancel()
	if err := client.Wait(wctx); err != nil {
		slog.Warn("chat connection did not end after failed start", slog.Any("err", err))
	}
	t.mu.Lock()
	t.state = StateFailed
	t.joined = nil
	clear(t.index)
	t.mu.Unlock()
	telemetry.SetConnectionUp(false)
	telemetry.SetChannelsJoined(0)
}

// Put sends each well-formed record to its channel, in order. Malformed
// records and records for channels that were not joined are logged and
// skipped; they never fail the batch.
func (t *Task) Put(ctx context.Context, records []Record) error {
	t.mu.Lock()
	state, client := t.state, t.client
	t.mu.Unlock()
	if state != StateConnected && state != StateJoined {
		return fmt.Errorf("%w: state %s", ErrNotRunning, state)
	}
	if len(records) == 0 {
		return nil
	}

	_, span := telemetry.StartSpan(ctx, "relay.put", attribute.Int("records", len(records)))
	defer span.End()

	log := telemetry.LoggerWithCorr(ctx)
	sent := 0
	for _, r := range records {
		msg, err := Extract(r.Value)
		if err != nil {
			log.Warn("unexpected record value; skipping",
				slog.String("topic", r.Topic),
				slog.Int("partition", r.Partition),
				slog.Int64("offset", r.Offset),
				slog.Any("err", err))
			telemetry.IncSkipped(telemetry.SkipMalformed)
			continue
		}
		if !t.isJoined(msg.Channel) {
			log.Warn("record for channel not joined; skipping",
				slog.String("channel", msg.Channel),
				slog.String("topic", r.Topic),
				slog.Int64("offset", r.Offset))
			telemetry.IncSkipped(telemetry.SkipNotJoined)
			continue
		}
		client.Say(msg.Channel, msg.Message)
		telemetry.IncCounter(telemetry.MessagesSent)
		sent++
	}
	span.SetAttributes(attribute.Int("sent", sent))
	log.Debug("batch delivered", slog.Int("records", len(records)), slog.Int("sent", sent))
	return nil
}

func (t *Task) isJoined(channel string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.index[chat.NormalizeChannel(channel)]
	return ok
}

// Stop leaves every joined channel, closes the connection and waits for it to
// end. Each leave waits for the server's acknowledgement up to the join
// timeout; the final wait is bounded by ctx and the shutdown timeout. Stop on
// a task that is not connected does nothing.
func (t *Task) Stop(ctx context.Context) (err error) {
	t.mu.Lock()
	if t.state != StateConnected && t.state != StateJoined {
		t.mu.Unlock()
		return nil
	}
	t.state = StateShuttingDown
	client, channels, cfg := t.client, slices.Clone(t.joined), t.cfg
	t.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "relay.stop", attribute.Int("irc.channels", len(channels)))
	defer func() { telemetry.EndSpan(span, err) }()

	for _, ch := range channels {
		slog.Info("leaving channel", slog.String("channel", ch))
		pctx, cancel := context.WithTimeout(ctx, cfg.JoinTimeout)
		if err := client.Part(pctx, ch); err != nil {
			slog.Warn("leave not acknowledged", slog.String("channel", ch), slog.Any("err", err))
		}
		cancel()
	}
	t.mu.Lock()
	t.joined = nil
	clear(t.index)
	t.mu.Unlock()
	telemetry.SetChannelsJoined(0)

	if err := client.Close(); err != nil {
		slog.Warn("close chat connection", slog.Any("err", err))
	}

	wctx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := client.Wait(wctx); err != nil {
		t.setState(StateFailed)
		return fmt.Errorf("%w: %s: %w", ErrShutdownInterrupted, cfg.Addr(), err)
	}
	if client.Alive() {
		t.setState(StateFailed)
		return fmt.Errorf("%w: %s", ErrShutdownIncomplete, cfg.Addr())
	}
	t.setState(StateTerminated)
	telemetry.SetConnectionUp(false)
	slog.Info("relay stopped", slog.String("server", cfg.Addr()))
	return nil
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}
