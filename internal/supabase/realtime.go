package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"video-effects-backend/internal/logging"
	"video-effects-backend/internal/models"
)

// NotifyChannel is the Postgres channel the notify trigger writes to.
const NotifyChannel = "transformation_updates"

const subscriberBuffer = 16

// Hub fans out record changes to per-record subscribers. Records arrive over
// LISTEN/NOTIFY when started with a listener, or through Publish.
type Hub struct {
	listener *pq.Listener
	log      *logrus.Entry

	mu   sync.Mutex
	subs map[uuid.UUID]map[chan models.Transformation]struct{}
}

func NewHub(log *logrus.Entry) *Hub {
	if log == nil {
		log = logging.Component(nil, "realtime")
	}
	return &Hub{
		log:  log,
		subs: make(map[uuid.UUID]map[chan models.Transformation]struct{}),
	}
}

// Listen connects a pq.Listener and pumps notifications until ctx is done.
func (h *Hub) Listen(ctx context.Context, connectionString string) error {
	h.listener = pq.NewListener(connectionString, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				h.log.WithError(err).WithField("event", ev).Warn("listener connection event")
			}
		})
	if err := h.listener.Listen(NotifyChannel); err != nil {
		h.listener.Close()
		return fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}
	go h.pump(ctx)
	return nil
}

func (h *Hub) pump(ctx context.Context) {
	defer h.listener.Close()
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-h.listener.Notify:
			// nil after a reconnect
			if n == nil {
				continue
			}
			var t models.Transformation
			if err := json.Unmarshal([]byte(n.Extra), &t); err != nil {
				h.log.WithError(err).Warn("failed to decode notification")
				continue
			}
			h.Publish(t)
		case <-ping.C:
			if err := h.listener.Ping(); err != nil {
				h.log.WithError(err).Warn("listener ping failed")
			}
		}
	}
}

// Publish delivers t to subscribers of its id. A slow subscriber loses its
// oldest pending snapshot rather than blocking the hub; each snapshot is a
// full record so the newest one is enough.
func (h *Hub) Publish(t models.Transformation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[t.ID] {
		select {
		case ch <- t:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- t:
			default:
			}
		}
	}
}

func (h *Hub) Subscribe(ctx context.Context, id uuid.UUID) (<-chan models.Transformation, error) {
	ch := make(chan models.Transformation, subscriberBuffer)
	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[chan models.Transformation]struct{})
	}
	h.subs[id][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[id], ch)
		if len(h.subs[id]) == 0 {
			delete(h.subs, id)
		}
		close(ch)
		h.mu.Unlock()
	}()
	return ch, nil
}

// Subscribers reports how many channels are open for id.
func (h *Hub) Subscribers(id uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[id])
}

type recordGetter interface {
	GetTransformation(ctx context.Context, id uuid.UUID) (*models.Transformation, error)
}

// PollingFeed re-reads the record on an interval. It backs subscriptions
// when only the REST API is available.
type PollingFeed struct {
	store    recordGetter
	interval time.Duration
	log      *logrus.Entry
}

func NewPollingFeed(store recordGetter, interval time.Duration, log *logrus.Entry) *PollingFeed {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if log == nil {
		log = logging.Component(nil, "realtime")
	}
	return &PollingFeed{store: store, interval: interval, log: log}
}

func (p *PollingFeed) Subscribe(ctx context.Context, id uuid.UUID) (<-chan models.Transformation, error) {
	out := make(chan models.Transformation, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		var last *models.Transformation
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			t, err := p.store.GetTransformation(ctx, id)
			if err != nil {
				p.log.WithError(err).WithField("transformation_id", id).Debug("poll failed")
				continue
			}
			if last != nil && t.UpdatedAt.Equal(last.UpdatedAt) && t.Status == last.Status && t.Progress == last.Progress {
				continue
			}
			select {
			case out <- *t:
			case <-ctx.Done():
				return
			}
			last = t
			if t.Status.IsTerminal() {
				return
			}
		}
	}()
	return out, nil
}
