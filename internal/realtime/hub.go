package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/findmydocs/backend/internal/domain"
	"go.uber.org/zap"
)

const defaultQueueSize = 64

// Hub is an in-process ChangeFeed. Every subscription gets its own queue and
// goroutine so a slow handler only delays its own events.
type Hub struct {
	mu        sync.RWMutex
	subs      map[*hubSubscription]struct{}
	closed    bool
	queueSize int
	logger    *zap.Logger
}

// NewHub creates a hub. queueSize bounds the events buffered per
// subscription; events beyond it are dropped.
func NewHub(queueSize int, logger *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Hub{
		subs:      make(map[*hubSubscription]struct{}),
		queueSize: queueSize,
		logger:    logger,
	}
}

type hubSubscription struct {
	hub      *Hub
	table    string
	filter   Filter
	onChange func(ChangeEvent)
	queue    chan ChangeEvent
	done     chan struct{}
	once     sync.Once
}

// Subscribe registers onChange for matching events on table.
func (h *Hub) Subscribe(ctx context.Context, table string, filter Filter, onChange func(ChangeEvent)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &hubSubscription{
		hub:      h,
		table:    table,
		filter:   filter,
		onChange: onChange,
		queue:    make(chan ChangeEvent, h.queueSize),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrFeedClosed
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go sub.run()
	return sub, nil
}

// Publish fans an event out to matching subscriptions without blocking.
func (h *Hub) Publish(ev ChangeEvent) {
	var row map[string]any
	if err := json.Unmarshal(ev.New, &row); err != nil {
		h.logger.Warn("dropping change event with undecodable record",
			zap.String("table", ev.Table),
			zap.Error(err),
		)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.table != ev.Table || !sub.filter.Matches(row) {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			h.logger.Warn("subscriber queue full, dropping change event", zap.String("table", ev.Table))
		}
	}
}

// PublishChange implements domain.ChangePublisher.
func (h *Hub) PublishChange(table string, op domain.ChangeOp, record any) {
	raw, err := json.Marshal(record)
	if err != nil {
		h.logger.Error("failed to marshal change record", zap.String("table", table), zap.Error(err))
		return
	}
	h.Publish(ChangeEvent{Table: table, Type: op, New: raw})
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close stops every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*hubSubscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (s *hubSubscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.done)
	})
}

func (s *hubSubscription) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			select {
			case <-s.done:
				return
			default:
			}
			s.onChange(ev)
		}
	}
}
