package ws

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/docserver/docserver/internal/job"
)

const (
	subscriberBuffer = 64
	writeTimeout     = 5 * time.Second
)

type subscriber struct {
	filter  uint64 // 0 means every upload
	events  chan job.Event
	mu      sync.Mutex
	dropped int
}

// Server streams dispatcher events to websocket watchers. Publish is
// registered as a dispatcher observer and never blocks: events for a watcher
// whose buffer is full are counted and dropped.
type Server struct {
	log  logrus.FieldLogger
	now  func() time.Time
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func NewServer(log logrus.FieldLogger) *Server {
	return &Server{
		log:  log,
		now:  time.Now,
		subs: make(map[*subscriber]struct{}),
	}
}

func (s *Server) Publish(ev job.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for sub := range s.subs {
		if sub.filter != 0 && sub.filter != ev.ID {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			sub.mu.Lock()
			sub.dropped++
			sub.mu.Unlock()
		}
	}
}

// Watchers returns the number of connected watchers.
func (s *Server) Watchers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *Server) subscribe(filter uint64) *subscriber {
	sub := &subscriber{filter: filter, events: make(chan job.Event, subscriberBuffer)}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

func (s *Server) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// HandleWatch upgrades the request and streams upload events until the
// client goes away. ?id=<upload id> restricts the stream to one upload.
func (s *Server) HandleWatch(w http.ResponseWriter, r *http.Request) {
	var filter uint64
	if raw := r.URL.Query().Get("id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			http.Error(w, "invalid upload id", http.StatusBadRequest)
			return
		}
		filter = id
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.WithError(err).Warn("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "goodbye")

	sub := s.subscribe(filter)
	defer s.unsubscribe(sub)

	log := s.log.WithField("remote", r.RemoteAddr)
	log.WithField("watchers", s.Watchers()).Info("watcher connected")
	defer log.Info("watcher disconnected")

	// Watchers never send anything; CloseRead handles control frames and
	// cancels ctx once the peer closes.
	ctx := conn.CloseRead(r.Context())

	ack := AckMessage{Type: "ack", Message: "watching uploads"}
	if filter != 0 {
		ack.UploadID = strconv.FormatUint(filter, 10)
	}
	if err := s.write(ctx, conn, ack); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.events:
			if err := s.flushDropped(ctx, conn, sub); err != nil {
				return
			}
			msg := EventMessage{
				Type:      "event",
				Event:     ev.Type,
				UploadID:  strconv.FormatUint(ev.ID, 10),
				Status:    ev.Status,
				Timestamp: s.now().UTC(),
			}
			if err := s.write(ctx, conn, msg); err != nil {
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					log.WithError(err).Warn("failed to send upload event")
				}
				return
			}
		}
	}
}

func (s *Server) flushDropped(ctx context.Context, conn *websocket.Conn, sub *subscriber) error {
	sub.mu.Lock()
	n := sub.dropped
	sub.dropped = 0
	sub.mu.Unlock()
	if n == 0 {
		return nil
	}
	return s.write(ctx, conn, DroppedMessage{Type: "dropped", Dropped: n})
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
