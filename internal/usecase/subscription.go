package usecase

import (
	"context"
	"sync"
	"time"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
)

const (
	// FeedBacklog is how many recent messages a freshly opened feed replays
	// before switching to live delivery.
	FeedBacklog = 50

	// pendingWindow is how close an authoritative message must be to an
	// optimistic placeholder, in time, to reconcile the two. The sweep at
	// twice the window is the safety net for placeholders that never match.
	pendingWindow = 30 * time.Second
)

// MessageEvent is one delivery to the view. TempID is set when the message is
// the authoritative result of an optimistic send tracked via TrackPending, so
// the view can replace its placeholder instead of rendering a duplicate.
type MessageEvent struct {
	Message *entity.Message
	TempID  string
}

type pendingSend struct {
	tempID   string
	senderID string
	at       time.Time
}

// feedState is the delivery state of one feed generation. Open creates a new
// one and Close deactivates it, so a late event from a torn-down feed can
// never reach the view.
type feedState struct {
	mu      sync.Mutex
	active  bool
	seen    map[string]struct{}
	lastAt  time.Time
	lastID  string
	deliver func(MessageEvent)
}

// SubscriptionManager owns the live message feed for a single view. At most
// one feed is active at a time: opening a different conversation tears the
// previous feed down first, and reopening the same conversation reuses the
// existing feed. Events are deduplicated by message ID and delivered in
// non-decreasing (createdAt, ID) order.
type SubscriptionManager struct {
	feed repository.MessageFeed

	mu             sync.Mutex
	conversationID string
	state          *feedState
	stop           func()

	pendingMu sync.Mutex
	pending   []pendingSend
}

func NewSubscriptionManager(feed repository.MessageFeed) *SubscriptionManager {
	return &SubscriptionManager{
		feed: feed,
	}
}

// Conversation returns the currently subscribed conversation ID, or "" when
// idle.
func (m *SubscriptionManager) Conversation() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationID
}

// Open registers a feed that replays up to FeedBacklog recent messages oldest
// to newest and then keeps delivering new appends.
func (m *SubscriptionManager) Open(ctx context.Context, conversationID string, onMessage func(MessageEvent)) error {
	if conversationID == "" {
		return errors.BadRequest("Conversation id is required", nil)
	}

	m.mu.Lock()
	if m.state != nil && m.conversationID == conversationID {
		// Already listening here; reuse the feed instead of stacking a second.
		m.mu.Unlock()
		return nil
	}
	m.teardownLocked()

	state := &feedState{
		active:  true,
		seen:    make(map[string]struct{}),
		deliver: onMessage,
	}
	m.state = state
	m.conversationID = conversationID
	m.mu.Unlock()

	stop, err := m.feed.ListenMessages(ctx, conversationID, FeedBacklog, func(message *entity.Message) {
		m.dispatch(state, message)
	})
	if err != nil {
		m.mu.Lock()
		if m.state == state {
			m.state = nil
			m.conversationID = ""
		}
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	if m.state != state {
		// Closed or replaced while the feed was registering.
		m.mu.Unlock()
		stop()
		return nil
	}
	m.stop = stop
	m.mu.Unlock()

	return nil
}

// Close unregisters the active feed. Safe to call repeatedly, from any
// goroutine, and from inside a delivery callback; once the feed is torn down,
// pending feed events are dropped instead of delivered.
func (m *SubscriptionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

func (m *SubscriptionManager) teardownLocked() {
	if m.state != nil {
		// Everything behind the deactivated state is dropped in dispatch; a
		// delivery that already cleared the active check still completes.
		m.state.mu.Lock()
		m.state.active = false
		m.state.mu.Unlock()
		m.state = nil
	}
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
	m.conversationID = ""

	m.pendingMu.Lock()
	m.pending = nil
	m.pendingMu.Unlock()
}

// dispatch filters one raw feed event and, if it survives, hands it to the
// view. The underlying transport may redeliver freely; everything the view
// sees is unique and ordered. The callback runs outside the state lock so it
// may call back into the manager, including Close.
func (m *SubscriptionManager) dispatch(state *feedState, message *entity.Message) {
	state.mu.Lock()
	if !state.active {
		state.mu.Unlock()
		return
	}
	if _, delivered := state.seen[message.ID]; delivered {
		state.mu.Unlock()
		return
	}
	// Never hand the view a message older than one it already has.
	if message.CreatedAt.Before(state.lastAt) ||
		(message.CreatedAt.Equal(state.lastAt) && message.ID < state.lastID) {
		state.mu.Unlock()
		return
	}

	state.seen[message.ID] = struct{}{}
	state.lastAt = message.CreatedAt
	state.lastID = message.ID
	deliver := state.deliver
	state.mu.Unlock()

	deliver(MessageEvent{
		Message: message,
		TempID:  m.takePending(message),
	})
}

// TrackPending records a client correlation token for an in-flight optimistic
// send, to be matched against the authoritative message when it arrives.
func (m *SubscriptionManager) TrackPending(tempID, senderID string, at time.Time) {
	if tempID == "" {
		return
	}

	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	m.sweepPendingLocked(time.Now())
	m.pending = append(m.pending, pendingSend{
		tempID:   tempID,
		senderID: senderID,
		at:       at,
	})
}

// takePending reconciles by sender and coarse time window; the placeholder has
// no server identifier, so identity matching is impossible by construction.
func (m *SubscriptionManager) takePending(message *entity.Message) string {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	m.sweepPendingLocked(time.Now())

	for i, p := range m.pending {
		if p.senderID != message.SenderID {
			continue
		}
		delta := message.CreatedAt.Sub(p.at)
		if delta < 0 {
			delta = -delta
		}
		if delta <= pendingWindow {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return p.tempID
		}
	}

	return ""
}

func (m *SubscriptionManager) sweepPendingLocked(now time.Time) {
	kept := m.pending[:0]
	for _, p := range m.pending {
		if now.Sub(p.at) <= 2*pendingWindow {
			kept = append(kept, p)
		}
	}
	m.pending = kept
}
