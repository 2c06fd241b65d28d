package broadcast

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/mmacy/modul8r/models"
)

// recentHashWindow is the per-subscriber dedup horizon: the last delivered
// hashes a subscriber remembers to avoid duplicate delivery.
const recentHashWindow = 64

// Conn is the transport a subscriber writes to. *websocket.Conn from
// gorilla/websocket satisfies it.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Subscriber is one connected observer with an independent outbound queue,
// so a slow observer cannot stall delivery to others.
type Subscriber struct {
	ID   string
	conn Conn
	out  chan models.Envelope
	done chan struct{}
	once sync.Once
	log  zerolog.Logger

	mu          sync.Mutex
	recent      map[string]struct{}
	recentOrder []string
}

func newSubscriber(id string, conn Conn, queueSize int, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		ID:     id,
		conn:   conn,
		out:    make(chan models.Envelope, queueSize),
		done:   make(chan struct{}),
		log:    log,
		recent: make(map[string]struct{}, recentHashWindow),
	}
}

// start runs the writer until the subscriber is closed or a write fails.
func (s *Subscriber) start() {
	go func() {
		for {
			select {
			case <-s.done:
				return
			case env := <-s.out:
				if err := s.conn.WriteJSON(env); err != nil {
					s.log.Warn().Str("subscriber", s.ID).Err(err).Msg("subscriber write failed")
					s.close()
					return
				}
			}
		}
	}()
}

// enqueue offers an envelope to the outbound queue without blocking.
// Returns false when the queue is full, which disconnects the subscriber
// rather than letting the queue grow unbounded.
func (s *Subscriber) enqueue(env models.Envelope) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- env:
		return true
	default:
		return false
	}
}

// seen records the event hash and reports whether it was already delivered
// within the recent-hash window.
func (s *Subscriber) seen(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recent[hash]; ok {
		return true
	}
	s.recent[hash] = struct{}{}
	s.recentOrder = append(s.recentOrder, hash)
	if len(s.recentOrder) > recentHashWindow {
		oldest := s.recentOrder[0]
		s.recentOrder = s.recentOrder[1:]
		delete(s.recent, oldest)
	}
	return false
}

func (s *Subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Done is closed when the subscriber has been disconnected.
func (s *Subscriber) Done() <-chan struct{} { return s.done }
