package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/onnwee/irc-relay/chat"
)

// ErrFake is the error injected by FakeChatClient failure knobs.
var ErrFake = errors.New("fake chat failure")

// FakeChatClient is an in-memory chat.Client that records every call in order.
type FakeChatClient struct {
	// ConnectErr fails Connect when set.
	ConnectErr error
	// FailJoin fails Join for the named channel (as configured, e.g. "#ops").
	FailJoin string
	// FailPart fails Part for the named channel after recording it.
	FailPart string
	// StuckOnClose keeps the worker alive after Close; Wait then blocks until ctx is done.
	StuckOnClose bool
	// AliveAfterWait makes Wait return but Alive keep reporting true.
	AliveAfterWait bool

	mu        sync.Mutex
	calls     []string
	alive     bool
	closed    chan struct{}
	onMessage func(chat.InboundMessage)
}

var _ chat.Client = (*FakeChatClient)(nil)

// NewFakeChatClient returns a client ready to connect.
func NewFakeChatClient() *FakeChatClient {
	return &FakeChatClient{closed: make(chan struct{})}
}

func (f *FakeChatClient) record(format string, args ...any) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

// Calls returns the recorded calls, e.g. "connect", "join #a", "say #a build passed".
func (f *FakeChatClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallsWithPrefix returns recorded calls starting with prefix.
func (f *FakeChatClient) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Connect implements chat.Client.
func (f *FakeChatClient) Connect(ctx context.Context) error {
	f.record("connect")
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.mu.Lock()
	f.alive = true
	f.mu.Unlock()
	return nil
}

// Join implements chat.Client.
func (f *FakeChatClient) Join(ctx context.Context, channel string) error {
	f.record("join %s", channel)
	if f.FailJoin != "" && channel == f.FailJoin {
		return ErrFake
	}
	return nil
}

// Say implements chat.Client.
func (f *FakeChatClient) Say(channel, text string) { f.record("say %s %s", channel, text) }

// Part implements chat.Client.
func (f *FakeChatClient) Part(ctx context.Context, channel string) error {
	f.record("part %s", channel)
	if f.FailPart != "" && channel == f.FailPart {
		return ErrFake
	}
	return nil
}

// Close implements chat.Client.
func (f *FakeChatClient) Close() error {
	f.record("close")
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	if !f.StuckOnClose && !f.AliveAfterWait {
		f.alive = false
	}
	return nil
}

// Wait implements chat.Client.
func (f *FakeChatClient) Wait(ctx context.Context) error {
	if f.StuckOnClose {
		<-ctx.Done()
		return ctx.Err()
	}
	select {
	case <-f.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Alive implements chat.Client.
func (f *FakeChatClient) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

// OnMessage implements chat.Client.
func (f *FakeChatClient) OnMessage(fn func(chat.InboundMessage)) {
	f.mu.Lock()
	f.onMessage = fn
	f.mu.Unlock()
}

// Emit delivers m to the registered message handler, as the network would.
func (f *FakeChatClient) Emit(m chat.InboundMessage) {
	f.mu.Lock()
	fn := f.onMessage
	f.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}
