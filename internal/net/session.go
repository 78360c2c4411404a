package net

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dronearena/server/internal/protocol"
	"go.uber.org/zap"
)

// Session represents a single client connection. The reader decodes frames
// and hands messages to the server; the writer drains OutQueue.
type Session struct {
	ID   uint64
	conn net.Conn
	IP   string

	OutQueue chan []byte

	topicsMu sync.RWMutex
	topics   map[protocol.Topic]bool

	deliver      func(protocol.Message, <-chan struct{}) bool
	writeTimeout time.Duration

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	log *zap.Logger
}

func newSession(conn net.Conn, id uint64, outSize int, writeTimeout time.Duration,
	deliver func(protocol.Message, <-chan struct{}) bool, log *zap.Logger) *Session {
	return &Session{
		ID:           id,
		conn:         conn,
		IP:           conn.RemoteAddr().String(),
		OutQueue:     make(chan []byte, outSize),
		topics:       make(map[protocol.Topic]bool),
		deliver:      deliver,
		writeTimeout: writeTimeout,
		closeCh:      make(chan struct{}),
		log:          log.With(zap.Uint64("session", id)),
	}
}

// Start launches the reader and writer goroutines.
func (s *Session) Start() {
	go s.readLoop()
	go s.writeLoop()
}

// Subscribed reports whether the client asked for topic.
func (s *Session) Subscribed(topic protocol.Topic) bool {
	s.topicsMu.RLock()
	defer s.topicsMu.RUnlock()
	return s.topics[topic]
}

func (s *Session) subscribe(topic protocol.Topic) {
	s.topicsMu.Lock()
	s.topics[topic] = true
	s.topicsMu.Unlock()
	s.log.Debug("client subscribed", zap.String("topic", string(topic)))
}

// Send queues an encoded message. Non-blocking: if OutQueue is full, the
// session is disconnected (backpressure).
func (s *Session) Send(data []byte) {
	if s.closed.Load() {
		return
	}
	select {
	case s.OutQueue <- data:
	default:
		s.log.Warn("output queue full, dropping slow client")
		s.Close()
	}
}

// Close gracefully shuts down the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
		s.conn.Close()
	})
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.closeCh }

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// readLoop reads frames, handles subscription control messages itself and
// delivers everything else to the server. Undecodable frames are dropped.
func (s *Session) readLoop() {
	defer s.Close()

	for {
		payload, err := ReadFrame(s.conn)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}

		msg, err := protocol.Decode(payload)
		if err != nil {
			s.log.Warn("dropping malformed message", zap.Error(err))
			continue
		}
		if sub, ok := msg.(protocol.SubscribeMessage); ok {
			s.subscribe(sub.Name)
			continue
		}

		// Blocking here only stalls this client.
		if !s.deliver(msg, s.closeCh) {
			return
		}
	}
}

// writeLoop writes queued messages as frames until the session closes.
func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case data := <-s.OutQueue:
			if s.writeTimeout > 0 {
				s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			}
			if err := WriteFrame(s.conn, data); err != nil {
				if !s.closed.Load() && !errors.Is(err, net.ErrClosed) {
					s.log.Debug("write error", zap.Error(err))
				}
				return
			}
		case <-s.closeCh:
			return
		}
	}
}
