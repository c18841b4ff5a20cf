// Package presence tracks ephemeral typing signals. Signals live only in
// memory with a short TTL: a crashed client stops "typing" on its own once
// the TTL lapses, and a broadcaster restart loses nothing that matters.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"messaging-core/internal/models"
	"messaging-core/internal/observability"
)

// Notifier receives typing change notifications for fan-out.
type Notifier interface {
	TypingChanged(conversationID, participantID string, isTyping bool)
}

// Broadcaster is the typing signal registry.
type Broadcaster struct {
	mu      sync.Mutex
	signals map[string]map[string]time.Time // conversation -> participant -> expiry
	ttl     time.Duration

	notifier Notifier
	stop     chan struct{}
	stopOnce sync.Once
	log      *logrus.Entry
}

// NewBroadcaster builds a Broadcaster with the given signal TTL.
func NewBroadcaster(notifier Notifier, ttl time.Duration) *Broadcaster {
	if ttl <= 0 {
		ttl = 6 * time.Second
	}
	return &Broadcaster{
		signals:  make(map[string]map[string]time.Time),
		ttl:      ttl,
		notifier: notifier,
		stop:     make(chan struct{}),
		log:      logrus.WithField("component", "presence"),
	}
}

// Start runs the expiry janitor until Stop is called.
func (b *Broadcaster) Start() {
	go b.janitor()
}

// Stop halts the janitor. In-flight signals are simply dropped.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
}

// StartTyping records the participant as typing and notifies subscribers.
// Repeated calls refresh the TTL without re-notifying.
func (b *Broadcaster) StartTyping(conversationID, participantID string) {
	b.mu.Lock()
	typers, ok := b.signals[conversationID]
	if !ok {
		typers = make(map[string]time.Time)
		b.signals[conversationID] = typers
	}
	_, alreadyTyping := typers[participantID]
	typers[participantID] = time.Now().Add(b.ttl)
	b.mu.Unlock()

	if !alreadyTyping {
		observability.IncTypingEvent("start")
		b.notifier.TypingChanged(conversationID, participantID, true)
		b.publishTyping(conversationID, participantID, true)
	}
}

// StopTyping removes the signal immediately and notifies.
func (b *Broadcaster) StopTyping(conversationID, participantID string) {
	b.mu.Lock()
	typers, ok := b.signals[conversationID]
	if ok {
		_, ok = typers[participantID]
		delete(typers, participantID)
		if len(typers) == 0 {
			delete(b.signals, conversationID)
		}
	}
	b.mu.Unlock()

	if ok {
		observability.IncTypingEvent("stop")
		b.notifier.TypingChanged(conversationID, participantID, false)
		b.publishTyping(conversationID, participantID, false)
	}
}

// ActiveTypers returns the participants currently typing in a conversation.
func (b *Broadcaster) ActiveTypers(conversationID string) []string {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	var active []string
	for participantID, expiry := range b.signals[conversationID] {
		if expiry.After(now) {
			active = append(active, participantID)
		}
	}
	return active
}

func (b *Broadcaster) janitor() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case now := <-ticker.C:
			b.expire(now)
		}
	}
}

// publishTyping mirrors the change to the broker for external consumers,
// such as push-notification workers.
func (b *Broadcaster) publishTyping(conversationID, participantID string, isTyping bool) {
	err := observability.PublishEvent(context.Background(), "presence.typing", observability.EventEnvelope{
		EventType: "presence",
		EventName: "typing",
		Payload: models.TypingEvent{
			ConversationID: conversationID,
			ParticipantID:  participantID,
			IsTyping:       isTyping,
		},
	}, nil)
	if err != nil {
		b.log.WithError(err).Warn("typing publish failed")
	}
}

type expiredSignal struct {
	conversationID string
	participantID  string
}

func (b *Broadcaster) expire(now time.Time) {
	var expired []expiredSignal

	b.mu.Lock()
	for conversationID, typers := range b.signals {
		for participantID, expiry := range typers {
			if !expiry.After(now) {
				delete(typers, participantID)
				expired = append(expired, expiredSignal{conversationID, participantID})
			}
		}
		if len(typers) == 0 {
			delete(b.signals, conversationID)
		}
	}
	b.mu.Unlock()

	for _, sig := range expired {
		observability.IncTypingEvent("expire")
		b.notifier.TypingChanged(sig.conversationID, sig.participantID, false)
		b.publishTyping(sig.conversationID, sig.participantID, false)
	}
	if len(expired) > 0 {
		b.log.WithField("count", len(expired)).Debug("typing signals expired")
	}
}
