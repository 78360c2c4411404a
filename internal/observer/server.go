// Package observer streams outbound messages to websocket listeners such as
// visualisers. It is a pubsub.Publisher; listeners never send commands.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dronearena/server/internal/config"
	"github.com/dronearena/server/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// Envelope is the JSON frame sent to listeners.
type Envelope struct {
	Topic   protocol.Topic   `json:"topic"`
	Kind    string           `json:"kind"`
	Payload protocol.Message `json:"payload"`
}

type client struct {
	id     uint64
	out    chan []byte
	zstd   bool
	topics map[protocol.Topic]bool
}

type Server struct {
	upgrader websocket.Upgrader
	buffer   int
	enc      *zstd.Encoder
	log      *zap.Logger

	nextID  atomic.Uint64
	dropped atomic.Uint64

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewServer(cfg config.ObserverConfig, log *zap.Logger) (*Server, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	buffer := cfg.ClientBuffer
	if buffer <= 0 {
		buffer = 256
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		buffer:  buffer,
		enc:     enc,
		log:     log,
		clients: make(map[*client]struct{}),
	}, nil
}

// Clients returns the number of connected listeners.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Dropped returns how many frames were dropped for slow listeners.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// Publish sends msg to every listener of topic. A listener whose buffer is
// full misses the frame.
func (s *Server) Publish(topic protocol.Topic, msg protocol.Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.clients) == 0 {
		return nil
	}

	plain, err := json.Marshal(Envelope{Topic: topic, Kind: msg.Kind().String(), Payload: msg})
	if err != nil {
		return fmt.Errorf("observer encode %s: %w", msg.Kind(), err)
	}
	var packed []byte
	for c := range s.clients {
		if !c.topics[topic] {
			continue
		}
		frame := plain
		if c.zstd {
			if packed == nil {
				packed = s.enc.EncodeAll(plain, nil)
			}
			frame = packed
		}
		select {
		case c.out <- frame:
		default:
			s.dropped.Add(1)
		}
	}
	return nil
}

// Handler upgrades a request to a listener connection. Query parameters:
// topics (comma separated, default stateupdates) and encoding=zstd for
// compressed binary frames.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		topics := map[protocol.Topic]bool{protocol.TopicStateUpdates: true}
		if raw := q.Get("topics"); raw != "" {
			topics = make(map[protocol.Topic]bool)
			for _, t := range strings.Split(raw, ",") {
				if t = strings.TrimSpace(t); t != "" {
					topics[protocol.Topic(t)] = true
				}
			}
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := &client{
			id:     s.nextID.Add(1),
			out:    make(chan []byte, s.buffer),
			zstd:   q.Get("encoding") == "zstd",
			topics: topics,
		}
		s.mu.Lock()
		s.clients[c] = struct{}{}
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.clients, c)
			s.mu.Unlock()
		}()
		s.log.Info("observer connected",
			zap.Uint64("observer", c.id),
			zap.String("remote", r.RemoteAddr),
			zap.Bool("zstd", c.zstd),
		)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Reader: listeners send nothing; reading detects the close.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		kind := websocket.TextMessage
		if c.zstd {
			kind = websocket.BinaryMessage
		}
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
				s.log.Info("observer disconnected", zap.Uint64("observer", c.id))
				return
			case b := <-c.out:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(kind, b); err != nil {
					return
				}
			}
		}
	}
}

// ListenAndServe serves the observer endpoint at /observe until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/observe", s.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) Close() {
	s.enc.Close()
}
