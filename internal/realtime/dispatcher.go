package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/findmydocs/backend/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationsChannel is the channel key of the caller's notification stream.
const NotificationsChannel = "notifications"

const defaultEnrichTimeout = 3 * time.Second

var (
	ErrDispatcherClosed = errors.New("dispatcher is closed")
	ErrInvalidChannel   = errors.New("invalid channel")
)

// ChannelState is the lifecycle state of one channel.
type ChannelState int

const (
	StateUnsubscribed ChannelState = iota
	StateSubscribing
	StateActive
)

func (s ChannelState) String() string {
	switch s {
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	default:
		return "unsubscribed"
	}
}

// ChannelSession is everything a channel subscription needs to know about who
// is listening and to what. It replaces ambient "current chat" state.
type ChannelSession struct {
	Key           string
	CurrentUserID uuid.UUID
	Thread        *domain.ThreadKey
}

// NewChannelSession validates a channel key for the user. Thread keys of a
// user pair must include the user.
func NewChannelSession(key string, currentUserID uuid.UUID) (ChannelSession, error) {
	s := ChannelSession{Key: key, CurrentUserID: currentUserID}
	if key == NotificationsChannel {
		return s, nil
	}

	tk, err := domain.ParseThreadKey(key)
	if err != nil {
		return ChannelSession{}, fmt.Errorf("%w: %q", ErrInvalidChannel, key)
	}
	if !tk.IsDocument() && !tk.Includes(currentUserID) {
		return ChannelSession{}, fmt.Errorf("%w: %q is not your conversation", ErrInvalidChannel, key)
	}
	s.Key = tk.String()
	s.Thread = &tk
	return s, nil
}

func (s ChannelSession) table() string {
	if s.Thread == nil {
		return domain.TableNotifications
	}
	return domain.TableMessages
}

// filter limits message channels to rows addressed to the current user, so a
// document channel never leaks other people's conversations.
func (s ChannelSession) filter() Filter {
	me := s.CurrentUserID.String()
	if s.Thread == nil {
		return Filter{Eq("user_id", me)}
	}
	if s.Thread.IsDocument() {
		return Filter{Eq("document_id", s.Thread.DocumentID.String()), Eq("receiver_id", me)}
	}
	return Filter{
		IsNull("document_id"),
		Eq("receiver_id", me),
		Eq("sender_id", s.Thread.Other(s.CurrentUserID).String()),
	}
}

// DeliveryType names what a Delivery carries.
type DeliveryType string

const (
	DeliveryNewMessage     DeliveryType = "new_message"
	DeliveryMessageUpdated DeliveryType = "message_updated"
	DeliveryNotification   DeliveryType = "notification"
)

// Delivery is an enriched change handed to a channel callback.
type Delivery struct {
	Channel      string                 `json:"channel"`
	Type         DeliveryType           `json:"type"`
	Op           domain.ChangeOp        `json:"op"`
	Message      *domain.Message        `json:"message,omitempty"`
	Sender       *domain.DisplayProfile `json:"sender,omitempty"`
	Notification *domain.Notification   `json:"notification,omitempty"`
}

// SenderResolver resolves a display profile and never fails.
// domain.ProfileResolver implements it.
type SenderResolver interface {
	ResolveOne(ctx context.Context, id uuid.UUID) domain.DisplayProfile
}

type channel struct {
	session  ChannelSession
	callback func(Delivery)

	// mu is held for reading while a callback runs and for writing when the
	// channel changes state, so Unsubscribe returns only after in-flight
	// callbacks finished.
	mu         sync.RWMutex
	state      ChannelState
	generation uint64
	sub        Subscription
}

// Dispatcher routes change events to per-channel callbacks for one listener.
type Dispatcher struct {
	feed          ChangeFeed
	profiles      SenderResolver
	enrichTimeout time.Duration
	logger        *zap.Logger

	mu       sync.Mutex
	channels map[string]*channel
	closed   bool
}

func NewDispatcher(feed ChangeFeed, profiles SenderResolver, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		feed:          feed,
		profiles:      profiles,
		enrichTimeout: defaultEnrichTimeout,
		logger:        logger,
		channels:      make(map[string]*channel),
	}
}

// Subscribe opens the channel described by session and routes its events to
// callback. Subscribing an already open key replaces the previous channel.
// Callbacks run on the feed's delivery goroutine and must not call
// Unsubscribe for their own channel synchronously.
func (d *Dispatcher) Subscribe(ctx context.Context, session ChannelSession, callback func(Delivery)) error {
	ch := &channel{
		session:    session,
		callback:   callback,
		state:      StateSubscribing,
		generation: 1,
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	previous := d.channels[session.Key]
	d.channels[session.Key] = ch
	d.mu.Unlock()

	if previous != nil {
		previous.stop()
	}

	gen := ch.generation
	sub, err := d.feed.Subscribe(ctx, session.table(), session.filter(), func(ev ChangeEvent) {
		d.handle(ch, gen, ev)
	})
	if err != nil {
		ch.stop()
		d.forget(session.Key, ch)
		return fmt.Errorf("subscribe %s: %w", session.Key, err)
	}

	ch.mu.Lock()
	if ch.generation == gen && ch.state == StateSubscribing {
		ch.sub = sub
		ch.state = StateActive
		ch.mu.Unlock()
		return nil
	}
	ch.mu.Unlock()

	// unsubscribed while the feed was acknowledging
	sub.Close()
	return nil
}

// Unsubscribe closes a channel. When it returns no callback for the channel is
// running and none will run. It reports whether the channel was open.
func (d *Dispatcher) Unsubscribe(key string) bool {
	d.mu.Lock()
	ch, ok := d.channels[key]
	if ok {
		delete(d.channels, key)
	}
	d.mu.Unlock()

	if !ok {
		return false
	}
	ch.stop()
	return true
}

// State returns the state of a channel.
func (d *Dispatcher) State(key string) ChannelState {
	d.mu.Lock()
	ch, ok := d.channels[key]
	d.mu.Unlock()
	if !ok {
		return StateUnsubscribed
	}

	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.state
}

// Keys lists the open channels.
func (d *Dispatcher) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.channels))
	for k := range d.channels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close unsubscribes every channel and rejects new subscriptions.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	channels := d.channels
	d.channels = make(map[string]*channel)
	d.mu.Unlock()

	for _, ch := range channels {
		ch.stop()
	}
}

func (d *Dispatcher) forget(key string, ch *channel) {
	d.mu.Lock()
	if d.channels[key] == ch {
		delete(d.channels, key)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) handle(ch *channel, gen uint64, ev ChangeEvent) {
	if !ch.live(gen) {
		return
	}

	delivery, ok := d.prepare(ch.session, ev)
	if !ok {
		return
	}

	ch.mu.RLock()
	defer ch.mu.RUnlock()
	if ch.generation != gen || ch.state == StateUnsubscribed {
		return
	}
	ch.callback(delivery)
}

// prepare decodes an event, drops echoes of the listener's own messages and
// attaches the sender's profile.
func (d *Dispatcher) prepare(session ChannelSession, ev ChangeEvent) (Delivery, bool) {
	delivery := Delivery{Channel: session.Key, Op: ev.Type}

	switch ev.Table {
	case domain.TableMessages:
		var msg domain.Message
		if err := json.Unmarshal(ev.New, &msg); err != nil {
			d.logger.Warn("dropping undecodable message event", zap.String("channel", session.Key), zap.Error(err))
			return Delivery{}, false
		}
		if msg.SenderID == session.CurrentUserID {
			return Delivery{}, false
		}

		ctx, cancel := context.WithTimeout(context.Background(), d.enrichTimeout)
		sender := d.profiles.ResolveOne(ctx, msg.SenderID)
		cancel()

		delivery.Type = DeliveryNewMessage
		if ev.Type == domain.ChangeUpdate {
			delivery.Type = DeliveryMessageUpdated
		}
		delivery.Message = &msg
		delivery.Sender = &sender
		return delivery, true

	case domain.TableNotifications:
		var n domain.Notification
		if err := json.Unmarshal(ev.New, &n); err != nil {
			d.logger.Warn("dropping undecodable notification event", zap.String("channel", session.Key), zap.Error(err))
			return Delivery{}, false
		}
		delivery.Type = DeliveryNotification
		delivery.Notification = &n
		return delivery, true
	}
	return Delivery{}, false
}

func (c *channel) live(gen uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation == gen && c.state != StateUnsubscribed
}

// stop moves the channel to Unsubscribed. It waits for a running callback.
func (c *channel) stop() {
	c.mu.Lock()
	c.generation++
	c.state = StateUnsubscribed
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}
