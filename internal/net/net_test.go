package net

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dronearena/server/internal/config"
	"github.com/dronearena/server/internal/core/geom"
	"github.com/dronearena/server/internal/protocol"
	"github.com/dronearena/server/internal/pubsub"
	"go.uber.org/zap"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if got := buf.Bytes(); got[0] != 5 || got[1] != 0 {
		t.Fatalf("header = % x", got[:2])
	}
	payload, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(payload, []byte{1, 2, 3}) {
		t.Fatalf("payload = % x", payload)
	}
	if err := WriteFrame(&buf, nil); err == nil {
		t.Fatal("empty frame accepted")
	}
	if _, err := ReadFrame(bytes.NewReader([]byte{2, 0})); err == nil {
		t.Fatal("zero-length frame accepted")
	}
}

func startServer(t *testing.T) (*Server, context.CancelFunc) {
	t.Helper()
	s, err := NewServer(config.NetworkConfig{
		BindAddress:  "127.0.0.1:0",
		InQueueSize:  8,
		OutQueueSize: 64,
		WriteTimeout: time.Second,
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go s.AcceptLoop()
	go s.Dispatch(ctx)
	t.Cleanup(func() {
		cancel()
		s.Shutdown()
	})
	return s, cancel
}

func send(t *testing.T, conn net.Conn, msg protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteFrame(conn, data); err != nil {
		t.Fatal(err)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPublishReachesSubscribedClients(t *testing.T) {
	s, _ := startServer(t)

	subscriber, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer subscriber.Close()
	bystander, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer bystander.Close()

	send(t, subscriber, protocol.SubscribeMessage{Name: protocol.TopicStateUpdates})
	waitUntil(t, func() bool { return s.Subscribers(protocol.TopicStateUpdates) == 1 })

	kill := protocol.KillMessage{Identifier: "drone-1", EntityType: protocol.EntityDrone}
	if err := s.Publish(protocol.TopicStateUpdates, kill); err != nil {
		t.Fatal(err)
	}

	subscriber.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := ReadFrame(subscriber)
	if err != nil {
		t.Fatal(err)
	}
	got, err := protocol.Decode(payload)
	if err != nil {
		t.Fatal(err)
	}
	if got != kill {
		t.Fatalf("received %+v", got)
	}

	bystander.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, err := ReadFrame(bystander); err == nil {
		t.Fatal("unsubscribed client received a message")
	}
}

func TestInboundMessagesReachHandlers(t *testing.T) {
	s, _ := startServer(t)
	if err := s.AddTopic(protocol.TopicMovements); err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	var got []protocol.Message
	s.AddHandler(protocol.KindMovement, pubsub.HandlerFunc(func(m protocol.Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	}))

	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	acc := geom.V(0, 0, 1)
	// garbage first: the session must drop it and keep reading
	if err := WriteFrame(conn, []byte{0xff, 0x00}); err != nil {
		t.Fatal(err)
	}
	send(t, conn, protocol.MovementMessage{Identifier: "d", Acceleration: &acc})
	// not subscribed by the server, so never handled
	send(t, conn, protocol.LifecycleMessage{Action: "start"})
	send(t, conn, protocol.MovementMessage{Identifier: "e"})

	waitUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	first := got[0].(protocol.MovementMessage)
	if first.Identifier != "d" || first.Acceleration == nil || *first.Acceleration != acc {
		t.Fatalf("first = %+v", first)
	}
	if got[1].(protocol.MovementMessage).Identifier != "e" {
		t.Fatalf("second = %+v", got[1])
	}
}

func TestShutdownClosesSessions(t *testing.T) {
	s, _ := startServer(t)
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	send(t, conn, protocol.SubscribeMessage{Name: protocol.TopicStateUpdates})
	waitUntil(t, func() bool { return s.Subscribers(protocol.TopicStateUpdates) == 1 })

	s.Shutdown()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := ReadFrame(conn); err == nil {
		t.Fatal("read succeeded after shutdown")
	}
	waitUntil(t, func() bool { return s.Subscribers(protocol.TopicStateUpdates) == 0 })
}
