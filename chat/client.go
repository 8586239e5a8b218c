package chat

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotConnected is returned by Join before Connect has succeeded or after the connection ended.
	ErrNotConnected = errors.New("chat: not connected")
	// ErrAlreadyStarted is returned by a second Connect on the same client.
	ErrAlreadyStarted = errors.New("chat: connect already attempted")
	// ErrInvalidChannel is returned for an empty channel name.
	ErrInvalidChannel = errors.New("chat: invalid channel name")
)

// Client is a single session on the chat network.
type Client interface {
	// Connect blocks until the server has welcomed the bot or the attempt failed.
	Connect(ctx context.Context) error
	// Join blocks until the server acknowledged the join or ctx is done.
	Join(ctx context.Context, channel string) error
	// Say sends text to channel without waiting for delivery.
	Say(channel, text string)
	// Part blocks until the server acknowledged leaving channel or ctx is done.
	// The leave request has been written once Part returns, even on timeout.
	Part(ctx context.Context, channel string) error
	// Close asks the connection worker to stop. It does not wait.
	Close() error
	// Wait blocks until the connection worker has exited or ctx is done.
	Wait(ctx context.Context) error
	// Alive reports whether the connection worker is still running.
	Alive() bool
	// OnMessage registers the handler for channel messages. Must be called before Connect.
	OnMessage(fn func(InboundMessage))
}

// User identifies the sender of a chat message.
type User struct {
	Nick     string `json:"nick"`
	Username string `json:"username"`
	Host     string `json:"host"`
}

// InboundMessage is a message received on a joined channel.
type InboundMessage struct {
	Time    time.Time
	Channel string
	User    User
	Text    string
}

// NormalizeChannel lower-cases name and strips the leading '#'.
func NormalizeChannel(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))
}
