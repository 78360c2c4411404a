// Package net is the TCP message transport. Clients exchange length-framed
// messages; a client receives a topic's messages after sending a subscribe
// message for it. Inbound messages are dispatched on the subscribed topics
// of the server's own registry.
package net

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dronearena/server/internal/config"
	"github.com/dronearena/server/internal/protocol"
	"github.com/dronearena/server/internal/pubsub"
	"go.uber.org/zap"
)

// Server accepts TCP connections and implements pubsub.Publisher and
// pubsub.Subscriber over them.
type Server struct {
	*pubsub.Registry

	listener     net.Listener
	nextID       atomic.Uint64
	inbound      chan protocol.Message
	outSize      int
	writeTimeout time.Duration
	log          *zap.Logger

	mu       sync.RWMutex
	sessions map[uint64]*Session

	closeCh   chan struct{}
	closeOnce sync.Once
}

func NewServer(cfg config.NetworkConfig, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.BindAddress)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Registry:     pubsub.NewRegistry(log),
		listener:     ln,
		inbound:      make(chan protocol.Message, cfg.InQueueSize),
		outSize:      cfg.OutQueueSize,
		writeTimeout: cfg.WriteTimeout,
		log:          log,
		sessions:     make(map[uint64]*Session),
		closeCh:      make(chan struct{}),
	}
	return s, nil
}

// AcceptLoop runs in its own goroutine. It accepts connections and starts a
// session for each until Shutdown.
func (s *Server) AcceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return // server shutting down
			default:
			}
			s.log.Error("accept failed", zap.Error(err))
			continue
		}

		id := s.nextID.Add(1)
		sess := newSession(conn, id, s.outSize, s.writeTimeout, s.deliver, s.log)

		s.mu.Lock()
		s.sessions[id] = sess
		s.mu.Unlock()

		sess.Start()
		s.log.Info(fmt.Sprintf("client connected  session=%d  ip=%s", id, sess.IP))
		go s.reap(sess)
	}
}

func (s *Server) reap(sess *Session) {
	<-sess.Done()
	s.mu.Lock()
	delete(s.sessions, sess.ID)
	s.mu.Unlock()
	s.log.Info(fmt.Sprintf("client disconnected  session=%d", sess.ID))
}

// deliver blocks until the dispatcher accepts msg, the session closes, or
// the server shuts down.
func (s *Server) deliver(msg protocol.Message, sessClosed <-chan struct{}) bool {
	select {
	case s.inbound <- msg:
		return true
	case <-sessClosed:
		return false
	case <-s.closeCh:
		return false
	}
}

// Dispatch hands inbound messages to the registry until ctx ends. Run it on
// one goroutine; handlers are called sequentially.
func (s *Server) Dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.inbound:
			if err := s.Registry.Dispatch(msg); err != nil {
				s.log.Warn("dispatch failed", zap.String("kind", msg.Kind().String()), zap.Error(err))
			}
		}
	}
}

// Publish encodes msg once and queues it on every session subscribed to
// topic.
func (s *Server) Publish(topic protocol.Topic, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if len(data) > MaxPayload {
		return fmt.Errorf("publish %s: %d bytes exceeds frame size", msg.Kind(), len(data))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.Subscribed(topic) {
			sess.Send(data)
		}
	}
	return nil
}

// Subscribers counts the sessions subscribed to topic.
func (s *Server) Subscribers(topic protocol.Topic) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.Subscribed(topic) {
			n++
		}
	}
	return n
}

// Shutdown stops accepting new connections and closes every session.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.listener.Close()
		s.mu.RLock()
		for _, sess := range s.sessions {
			sess.Close()
		}
		s.mu.RUnlock()
	})
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
