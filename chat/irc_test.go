package chat

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func newTestIRCClient(port int, password string) *IRCClient {
	return NewIRCClient(IRCOptions{Server: "127.0.0.1", Port: port, Nick: "relaybot", Password: password})
}

func TestIRCClientLifecycle(t *testing.T) {
	srv := newFakeIRCServer(t, "standard", true)
	c := newTestIRCClient(srv.port(), "hunter2")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if !c.Alive() {
		t.Fatal("client should be alive after connect")
	}
	srv.waitForLine(t, "PASS hunter2")
	srv.waitForLine(t, "NICK relaybot")

	if err := c.Join(ctx, "#Alerts"); err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	srv.waitForLine(t, "JOIN #alerts")

	c.Say("#alerts", "build passed")
	if err := c.Part(ctx, "#alerts"); err != nil {
		t.Fatalf("Part() error: %v", err)
	}
	if !srv.received("PRIVMSG #alerts :build passed") || !srv.received("PART #alerts") {
		t.Fatal("Part returned before the message and the leave reached the server")
	}
	if srv.indexOf("PRIVMSG #alerts :build passed") > srv.indexOf("PART #alerts") {
		t.Error("message written after the leave")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if c.Alive() {
		t.Error("client still alive after Wait")
	}
	if err := c.Connect(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Connect() = %v, want ErrAlreadyStarted", err)
	}
}

func TestIRCClientConnectTimeoutTearsDown(t *testing.T) {
	srv := newFakeIRCServer(t, "", false)
	c := newTestIRCClient(srv.port(), "")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := c.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect() = %v, want deadline exceeded", err)
	}
	if c.Alive() {
		t.Error("client alive after timed out connect")
	}
	wctx, wcancel := context.WithTimeout(context.Background(), time.Second)
	defer wcancel()
	if err := c.Wait(wctx); err != nil {
		t.Errorf("Wait() after timed out connect: %v", err)
	}
	srv.waitAllClosed(t)
}

func TestIRCClientConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	c := newTestIRCClient(port, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err == nil {
		t.Fatal("Connect() to closed port succeeded")
	}
	if err := c.Wait(ctx); err != nil {
		t.Errorf("Wait() after failed connect: %v", err)
	}
	if c.Alive() {
		t.Error("client alive after failed connect")
	}
}

func TestIRCClientJoinTimeout(t *testing.T) {
	srv := newFakeIRCServer(t, "standard", false)
	c := newTestIRCClient(srv.port(), "")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer func() { _ = c.Close() }()

	jctx, jcancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer jcancel()
	if err := c.Join(jctx, "#alerts"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Join() = %v, want deadline exceeded", err)
	}
	if pending := c.joins.len(); pending != 0 {
		t.Errorf("join waiter leaked: %d pending", pending)
	}
}

func TestIRCClientInboundMessage(t *testing.T) {
	srv := newFakeIRCServer(t, "standard", true)
	c := newTestIRCClient(srv.port(), "")

	got := make(chan InboundMessage, 1)
	c.OnMessage(func(m InboundMessage) { got <- m })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer func() { _ = c.Close() }()
	if err := c.Join(ctx, "#alerts"); err != nil {
		t.Fatalf("Join() error: %v", err)
	}

	srv.broadcast(":alice!alice@alice.example.org PRIVMSG #alerts :\x0304deploy\x03 done")

	select {
	case m := <-got:
		if m.Channel != "alerts" || m.Text != "deploy done" {
			t.Errorf("unexpected message: %+v", m)
		}
		if m.User != (User{Nick: "alice", Username: "alice", Host: "alice.example.org"}) {
			t.Errorf("unexpected user: %+v", m.User)
		}
	case <-ctx.Done():
		t.Fatal("no inbound message delivered")
	}
}
