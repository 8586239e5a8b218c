// Package config turns the string-keyed settings handed to the relay at startup
// into a typed, immutable Config. Settings come either from the queue host as a
// props map (Parse) or from environment variables (Load), which are mapped onto
// the same keys so both paths share defaults and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Property keys understood by Parse.
const (
	KeyIRCServer       = "irc.server"
	KeyIRCPort         = "irc.server.port"
	KeyIRCBotName      = "irc.bot.name"
	KeyIRCBotAuth      = "irc.bot.auth"
	KeyIRCChannels     = "irc.channels"
	KeyIRCTLS          = "irc.tls"
	KeyIRCColors       = "irc.colors"
	KeyIRCDialect      = "irc.dialect"
	KeyConnectTimeout  = "irc.connect.timeout"
	KeyJoinTimeout     = "irc.join.timeout"
	KeyShutdownTimeout = "irc.shutdown.timeout"
	KeyKafkaTopic      = "kafka.topic"
	KeyKafkaTopics     = "kafka.topics"
	KeyKafkaBrokers    = "kafka.brokers"
	KeyKafkaGroupID    = "kafka.group.id"
	KeyBatchSize       = "kafka.batch.size"
	KeyBatchLinger     = "kafka.batch.linger"
	KeySourceEnabled   = "kafka.source.enabled"
)

// Defaults applied when a key is absent.
const (
	DefaultIRCPort         = 6697
	DefaultConnectTimeout  = 30 * time.Second
	DefaultJoinTimeout     = 10 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultKafkaGroupID    = "irc-relay"
	DefaultBatchSize       = 100
	DefaultBatchLinger     = 250 * time.Millisecond
)

// Chat dialects accepted by irc.dialect. DialectAuto picks Twitch for
// *.twitch.tv hosts and standard IRC otherwise.
const (
	DialectAuto     = "auto"
	DialectTwitch   = "twitch"
	DialectStandard = "standard"
)

// ErrInvalid is wrapped by every error returned from Parse and Load.
var ErrInvalid = errors.New("invalid configuration")

// envKeys maps environment variables onto property keys.
var envKeys = []struct{ env, key string }{
	{"IRC_SERVER", KeyIRCServer},
	{"IRC_PORT", KeyIRCPort},
	{"IRC_BOT_NAME", KeyIRCBotName},
	{"IRC_BOT_AUTH", KeyIRCBotAuth},
	{"IRC_CHANNELS", KeyIRCChannels},
	{"IRC_TLS", KeyIRCTLS},
	{"IRC_COLORS", KeyIRCColors},
	{"IRC_DIALECT", KeyIRCDialect},
	{"IRC_CONNECT_TIMEOUT", KeyConnectTimeout},
	{"IRC_JOIN_TIMEOUT", KeyJoinTimeout},
	{"IRC_SHUTDOWN_TIMEOUT", KeyShutdownTimeout},
	{"KAFKA_TOPIC", KeyKafkaTopic},
	{"KAFKA_TOPICS", KeyKafkaTopics},
	{"KAFKA_BROKERS", KeyKafkaBrokers},
	{"KAFKA_GROUP_ID", KeyKafkaGroupID},
	{"KAFKA_BATCH_SIZE", KeyBatchSize},
	{"KAFKA_BATCH_LINGER", KeyBatchLinger},
	{"KAFKA_SOURCE_ENABLED", KeySourceEnabled},
}

// Config is a snapshot of relay settings. It is never mutated after Parse.
type Config struct {
	// IRC
	IRCServer  string
	IRCPort    int
	IRCBotName string
	IRCBotAuth string
	Channels   []string
	TLS        bool
	// Colors keeps mIRC formatting codes in inbound chat text when true.
	Colors bool
	// Dialect is one of the Dialect* constants as configured.
	Dialect string

	ConnectTimeout  time.Duration
	JoinTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Kafka
	Topic         string // target topic for chat -> queue records
	Topics        []string
	Brokers       []string
	GroupID       string
	BatchSize     int
	BatchLinger   time.Duration
	SourceEnabled bool

	// Process-level knobs, only populated by Load.
	HTTPAddr              string
	TwitchClientID        string
	TwitchClientSecret    string
	TwitchBotRefreshToken string
}

// Parse builds a Config from a props map and validates it.
func Parse(props map[string]string) (*Config, error) {
	p := propReader{props: props}
	cfg := &Config{
		IRCServer:       p.str(KeyIRCServer),
		IRCPort:         p.int(KeyIRCPort, DefaultIRCPort),
		IRCBotName:      p.str(KeyIRCBotName),
		IRCBotAuth:      p.str(KeyIRCBotAuth),
		Channels:        p.list(KeyIRCChannels),
		ConnectTimeout:  p.duration(KeyConnectTimeout, DefaultConnectTimeout),
		JoinTimeout:     p.duration(KeyJoinTimeout, DefaultJoinTimeout),
		ShutdownTimeout: p.duration(KeyShutdownTimeout, DefaultShutdownTimeout),
		Topic:           p.str(KeyKafkaTopic),
		Topics:          p.list(KeyKafkaTopics),
		Brokers:         p.list(KeyKafkaBrokers),
		GroupID:         p.str(KeyKafkaGroupID),
		BatchSize:       p.int(KeyBatchSize, DefaultBatchSize),
		BatchLinger:     p.duration(KeyBatchLinger, DefaultBatchLinger),
		SourceEnabled:   p.bool(KeySourceEnabled, false),
		Dialect:         strings.ToLower(p.str(KeyIRCDialect)),
	}
	// Plaintext is the norm on 6667; anything else defaults to TLS.
	cfg.TLS = p.bool(KeyIRCTLS, cfg.IRCPort != 6667)
	cfg.Colors = p.bool(KeyIRCColors, false)
	if cfg.GroupID == "" {
		cfg.GroupID = DefaultKafkaGroupID
	}
	if cfg.Dialect == "" {
		cfg.Dialect = DialectAuto
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the relay settings from environment variables (see envKeys) and
// the process-level knobs that are not part of the props map.
func Load() (*Config, error) {
	cfg, err := Parse(EnvProps())
	if err != nil {
		return nil, err
	}
	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchBotRefreshToken = os.Getenv("TWITCH_BOT_REFRESH_TOKEN")
	return cfg, nil
}

// EnvProps collects the relay settings present in the environment.
func EnvProps() map[string]string {
	props := make(map[string]string, len(envKeys))
	for _, e := range envKeys {
		if v, ok := os.LookupEnv(e.env); ok {
			props[e.key] = v
		}
	}
	return props
}

// Validate checks required fields and cross-field constraints.
func (c *Config) Validate() error {
	var missing []string
	if c.IRCServer == "" {
		missing = append(missing, KeyIRCServer)
	}
	if c.IRCBotName == "" {
		missing = append(missing, KeyIRCBotName)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}
	if c.IRCPort < 1 || c.IRCPort > 65535 {
		return fmt.Errorf("%w: %s out of range: %d", ErrInvalid, KeyIRCPort, c.IRCPort)
	}
	switch c.Dialect {
	case DialectAuto, DialectTwitch, DialectStandard:
	default:
		return fmt.Errorf("%w: %s must be one of %s, %s, %s: %q", ErrInvalid, KeyIRCDialect, DialectAuto, DialectTwitch, DialectStandard, c.Dialect)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalid, KeyBatchSize)
	}
	if c.SourceEnabled {
		if c.Topic == "" {
			return fmt.Errorf("%w: %s is required when %s is set", ErrInvalid, KeyKafkaTopic, KeySourceEnabled)
		}
		if slices.Contains(c.Topics, c.Topic) {
			return fmt.Errorf("%w: %s %q is also consumed; chat would loop back", ErrInvalid, KeyKafkaTopic, c.Topic)
		}
	}
	return nil
}

// ChatDialect resolves DialectAuto against the server host.
func (c *Config) ChatDialect() string {
	if c.Dialect != DialectAuto && c.Dialect != "" {
		return c.Dialect
	}
	host := strings.ToLower(c.IRCServer)
	if host == "twitch.tv" || strings.HasSuffix(host, ".twitch.tv") {
		return DialectTwitch
	}
	return DialectStandard
}

// ValidateAuth reports whether the bot has a token, or the means to obtain one.
// Standard servers may not require a password, so only Twitch needs one.
func (c *Config) ValidateAuth() error {
	if c.IRCBotAuth != "" || c.ChatDialect() != DialectTwitch {
		return nil
	}
	if c.TwitchClientID != "" && c.TwitchClientSecret != "" && c.TwitchBotRefreshToken != "" {
		return nil
	}
	return fmt.Errorf("%w: missing %s (or TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET, TWITCH_BOT_REFRESH_TOKEN)", ErrInvalid, KeyIRCBotAuth)
}

// Addr is the host:port of the chat server.
func (c *Config) Addr() string {
	return c.IRCServer + ":" + strconv.Itoa(c.IRCPort)
}

// ConsumedTopics returns the topics records are consumed from. When none are
// configured and the reverse direction is off, the target topic is consumed.
func (c *Config) ConsumedTopics() []string {
	if len(c.Topics) > 0 || c.SourceEnabled || c.Topic == "" {
		return c.Topics
	}
	return []string{c.Topic}
}

// WithBotAuth returns a copy of c using token as the bot's auth token.
func (c *Config) WithBotAuth(token string) *Config {
	cp := *c
	cp.Channels = slices.Clone(c.Channels)
	cp.Topics = slices.Clone(c.Topics)
	cp.Brokers = slices.Clone(c.Brokers)
	cp.IRCBotAuth = token
	return &cp
}

// Props renders the relay settings back to a props map accepted by Parse.
func (c *Config) Props() map[string]string {
	return map[string]string{
		KeyIRCServer:       c.IRCServer,
		KeyIRCPort:         strconv.Itoa(c.IRCPort),
		KeyIRCBotName:      c.IRCBotName,
		KeyIRCBotAuth:      c.IRCBotAuth,
		KeyIRCChannels:     strings.Join(c.Channels, ","),
		KeyIRCTLS:          strconv.FormatBool(c.TLS),
		KeyIRCColors:       strconv.FormatBool(c.Colors),
		KeyIRCDialect:      c.Dialect,
		KeyConnectTimeout:  c.ConnectTimeout.String(),
		KeyJoinTimeout:     c.JoinTimeout.String(),
		KeyShutdownTimeout: c.ShutdownTimeout.String(),
		KeyKafkaTopic:      c.Topic,
		KeyKafkaTopics:     strings.Join(c.Topics, ","),
		KeyKafkaBrokers:    strings.Join(c.Brokers, ","),
		KeyKafkaGroupID:    c.GroupID,
		KeyBatchSize:       strconv.Itoa(c.BatchSize),
		KeyBatchLinger:     c.BatchLinger.String(),
		KeySourceEnabled:   strconv.FormatBool(c.SourceEnabled),
	}
}

// propReader remembers the first conversion error so Parse can report it once.
type propReader struct {
	props map[string]string
	err   error
}

func (p *propReader) str(key string) string {
	return strings.TrimSpace(p.props[key])
}

func (p *propReader) list(key string) []string {
	v := p.str(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (p *propReader) int(key string, def int) int {
	v := p.str(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *propReader) bool(key string, def bool) bool {
	v := p.str(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}

func (p *propReader) duration(key string, def time.Duration) time.Duration {
	v := p.str(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		if err == nil {
			err = errors.New("must be positive")
		}
		p.fail(key, v, err)
		return def
	}
	return d
}

func (p *propReader) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s=%q: %w", ErrInvalid, key, value, err)
	}
}
