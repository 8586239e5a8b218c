// Command irc-relay relays records from Kafka topics into IRC channels on
// Twitch or a standard IRC network.
// It:
//   - Loads configuration from the environment (and .env) and initializes structured logging.
//   - Obtains the bot's chat token, refreshing it via OAuth when only a refresh token is configured.
//   - Starts the relay task: connect, join every configured channel in order.
//   - Consumes record batches and forwards each well-formed record to its channel.
//   - Optionally publishes messages seen in the joined channels to a target topic.
//   - Exposes /healthz, /readyz, /status and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM: the batch in flight is delivered,
// channels are parted and the chat connection is torn down before the process
// exits.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/irc-relay/config"
	"github.com/onnwee/irc-relay/queue"
	"github.com/onnwee/irc-relay/server"
	"github.com/onnwee/irc-relay/sink"
	"github.com/onnwee/irc-relay/source"
	"github.com/onnwee/irc-relay/telemetry"
	"github.com/onnwee/irc-relay/twitchapi"
	"github.com/onnwee/irc-relay/version"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("version", version.String()))

	if err := run(); err != nil {
		slog.Error("relay failed", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateAuth(); err != nil {
		return err
	}
	if len(cfg.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if len(cfg.ConsumedTopics()) == 0 {
		return errors.New("KAFKA_TOPICS (or KAFKA_TOPIC) is required")
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("irc-relay", version.String())
	if err != nil {
		return err
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Refresh the bot's user token when no static token is configured.
	if cfg.IRCBotAuth == "" && cfg.ChatDialect() == config.DialectTwitch {
		tctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		tok, err := (&twitchapi.BotTokenSource{
			ClientID:     cfg.TwitchClientID,
			ClientSecret: cfg.TwitchClientSecret,
			RefreshToken: cfg.TwitchBotRefreshToken,
		}).Token(tctx)
		cancel()
		if err != nil {
			return err
		}
		if !tok.Expiry.IsZero() {
			slog.Info("twitch bot token refreshed", slog.Time("expires_at", tok.Expiry))
		}
		cfg = cfg.WithBotAuth(twitchapi.ChatPassword(tok))
	}

	var opts []sink.Option
	var listener *source.Listener
	if cfg.SourceEnabled {
		listener = source.NewListener(cfg.Topic, source.DefaultBuffer)
		opts = append(opts, sink.WithMessageHandler(listener.Handle))
	}
	task := sink.New(opts...)

	// The HTTP server outlives the relay loops so /readyz reports the shutdown.
	srvCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	srvDone := make(chan error, 1)
	go func() {
		err := server.Start(srvCtx, cfg.HTTPAddr, task)
		if err != nil {
			stop()
		}
		srvDone <- err
	}()

	if err := task.Start(ctx, cfg.Props()); err != nil {
		stopServer()
		<-srvDone
		return err
	}

	reader := queue.NewReader(cfg)
	defer func() {
		if err := reader.Close(); err != nil {
			slog.Warn("close kafka reader", slog.Any("err", err))
		}
	}()
	slog.Info("consuming records", slog.Any("topics", cfg.ConsumedTopics()), slog.String("group", cfg.GroupID))
	loops := []func(context.Context) error{
		queue.NewConsumer(reader, task, cfg.BatchSize, cfg.BatchLinger).Run,
	}

	if listener != nil {
		writer := queue.NewWriter(cfg)
		defer func() {
			if err := writer.Close(); err != nil {
				slog.Warn("close kafka writer", slog.Any("err", err))
			}
		}()
		slog.Info("publishing chat messages", slog.String("topic", cfg.Topic))
		loops = append(loops, queue.NewProducer(listener, writer, cfg.BatchSize).Run)
	}

	runErr := drainThenStop(ctx, func() error {
		slog.Info("shutting down", slog.String("state", task.State().String()))
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
		defer cancel()
		return task.Stop(stopCtx)
	}, loops...)

	stopServer()
	return errors.Join(runErr, <-srvDone)
}

// drainThenStop runs loops until ctx ends or one of them fails, then calls
// stopTask once every loop has returned. A batch being delivered when ctx ends
// therefore completes before the chat connection is torn down.
func drainThenStop(ctx context.Context, stopTask func() error, loops ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, loop := range loops {
		g.Go(func() error { return loop(gctx) })
	}
	loopErr := g.Wait()
	return errors.Join(loopErr, stopTask())
}
