package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"marketchat/internal/domain/entity"
)

// fakeMessageFeed hands the registered deliver callback back to the test so it
// can replay events, including duplicates and reordered batches.
type fakeMessageFeed struct {
	mu        sync.Mutex
	deliver   func(*entity.Message)
	listens   []string
	stops     int
	listenErr error
}

func (f *fakeMessageFeed) ListenMessages(ctx context.Context, conversationID string, limit int, deliver func(*entity.Message)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listenErr != nil {
		return nil, f.listenErr
	}
	f.deliver = deliver
	f.listens = append(f.listens, conversationID)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.stops++
	}, nil
}

func (f *fakeMessageFeed) emit(message *entity.Message) {
	f.mu.Lock()
	deliver := f.deliver
	f.mu.Unlock()
	if deliver != nil {
		deliver(message)
	}
}

func testMessage(id, senderID string, at time.Time) *entity.Message {
	return &entity.Message{
		ID:             id,
		ConversationID: "conv-1",
		SenderID:       senderID,
		Type:           entity.MessageTypeText,
		Text:           "hello",
		CreatedAt:      at,
	}
}

func TestSubscriptionDedupesRedeliveredMessages(t *testing.T) {
	feed := &fakeMessageFeed{}
	m := NewSubscriptionManager(feed)

	var got []MessageEvent
	err := m.Open(context.Background(), "conv-1", func(e MessageEvent) {
		got = append(got, e)
	})
	assert.NoError(t, err)

	at := time.Now()
	msg := testMessage("0000000000001-a", "buyer-1", at)
	feed.emit(msg)
	feed.emit(msg)
	feed.emit(msg)

	assert.Len(t, got, 1)
	assert.Equal(t, "0000000000001-a", got[0].Message.ID)
}

func TestSubscriptionDropsOutOfOrderMessages(t *testing.T) {
	feed := &fakeMessageFeed{}
	m := NewSubscriptionManager(feed)

	var got []string
	err := m.Open(context.Background(), "conv-1", func(e MessageEvent) {
		got = append(got, e.Message.ID)
	})
	assert.NoError(t, err)

	base := time.Now()
	feed.emit(testMessage("0000000000002-b", "buyer-1", base.Add(time.Second)))
	// Older than the last delivered message: never reaches the view.
	feed.emit(testMessage("0000000000001-a", "buyer-1", base))
	feed.emit(testMessage("0000000000003-c", "buyer-1", base.Add(2*time.Second)))

	assert.Equal(t, []string{"0000000000002-b", "0000000000003-c"}, got)
}

func TestSubscriptionSameTimestampOrderedByID(t *testing.T) {
	feed := &fakeMessageFeed{}
	m := NewSubscriptionManager(feed)

	var got []string
	err := m.Open(context.Background(), "conv-1", func(e MessageEvent) {
		got = append(got, e.Message.ID)
	})
	assert.NoError(t, err)

	at := time.Now()
	feed.emit(testMessage("0000000000001-b", "buyer-1", at))
	// Same createdAt but smaller ID: already behind the view.
	feed.emit(testMessage("0000000000001-a", "buyer-1", at))

	assert.Equal(t, []string{"0000000000001-b"}, got)
}

func TestSubscriptionReusesFeedForSameConversation(t *testing.T) {
	feed := &fakeMessageFeed{}
	m := NewSubscriptionManager(feed)

	assert.NoError(t, m.Open(context.Background(), "conv-1", func(MessageEvent) {}))
	assert.NoError(t, m.Open(context.Background(), "conv-1", func(MessageEvent) {}))

	assert.Equal(t, []string{"conv-1"}, feed.listens)
	assert.Equal(t, 0, feed.stops)
}

func TestSubscriptionReplacesFeedForDifferentConversation(t *testing.T) {
	feed := &fakeMessageFeed{}
	m := NewSubscriptionManager(feed)

	assert.NoError(t, m.Open(context.Background(), "conv-1", func(MessageEvent) {}))
	assert.NoError(t, m.Open(context.Background(), "conv-2", func(MessageEvent) {}))

	assert.Equal(t, []string{"conv-1", "conv-2"}, feed.listens)
	assert.Equal(t, 1, feed.stops)
	assert.Equal(t, "conv-2", m.Conversation())
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	feed := &fakeMessageFeed{}
	m := NewSubscriptionManager(feed)

	var got []MessageEvent
	assert.NoError(t, m.Open(context.Background(), "conv-1", func(e MessageEvent) {
		got = append(got, e)
	}))

	m.Close()
	m.Close() // idempotent

	feed.emit(testMessage("0000000000001-a", "buyer-1", time.Now()))

	assert.Empty(t, got)
	assert.Equal(t, 1, feed.stops)
	assert.Equal(t, "", m.Conversation())
}

func TestSubscriptionCloseFromDeliveryCallback(t *testing.T) {
	feed := &fakeMessageFeed{}
	m := NewSubscriptionManager(feed)

	var got []string
	assert.NoError(t, m.Open(context.Background(), "conv-1", func(e MessageEvent) {
		got = append(got, e.Message.ID)
		m.Close()
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		feed.emit(testMessage("0000000000001-a", "buyer-1", time.Now()))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery callback blocked while closing its own feed")
	}

	// The feed is down: later events are dropped and the manager is reusable.
	feed.emit(testMessage("0000000000002-b", "buyer-1", time.Now()))

	assert.Equal(t, []string{"0000000000001-a"}, got)
	assert.Equal(t, "", m.Conversation())
	assert.Equal(t, 1, feed.stops)

	assert.NoError(t, m.Open(context.Background(), "conv-2", func(MessageEvent) {}))
	assert.Equal(t, "conv-2", m.Conversation())
}

func TestSubscriptionReconcilesOptimisticSend(t *testing.T) {
	feed := &fakeMessageFeed{}
	m := NewSubscriptionManager(feed)

	var got []MessageEvent
	assert.NoError(t, m.Open(context.Background(), "conv-1", func(e MessageEvent) {
		got = append(got, e)
	}))

	at := time.Now()
	m.TrackPending("temp-123", "buyer-1", at)

	feed.emit(testMessage("0000000000001-a", "buyer-1", at.Add(2*time.Second)))

	assert.Len(t, got, 1)
	assert.Equal(t, "temp-123", got[0].TempID)
}

func TestSubscriptionPendingMatchesBySenderOnly(t *testing.T) {
	feed := &fakeMessageFeed{}
	m := NewSubscriptionManager(feed)

	var got []MessageEvent
	assert.NoError(t, m.Open(context.Background(), "conv-1", func(e MessageEvent) {
		got = append(got, e)
	}))

	at := time.Now()
	m.TrackPending("temp-123", "buyer-1", at)

	// The counterparty's message must not consume the buyer's placeholder.
	feed.emit(testMessage("0000000000001-a", "seller-1", at.Add(time.Second)))
	feed.emit(testMessage("0000000000002-b", "buyer-1", at.Add(2*time.Second)))

	assert.Len(t, got, 2)
	assert.Equal(t, "", got[0].TempID)
	assert.Equal(t, "temp-123", got[1].TempID)
}

func TestSubscriptionPendingConsumedOnce(t *testing.T) {
	feed := &fakeMessageFeed{}
	m := NewSubscriptionManager(feed)

	var got []MessageEvent
	assert.NoError(t, m.Open(context.Background(), "conv-1", func(e MessageEvent) {
		got = append(got, e)
	}))

	at := time.Now()
	m.TrackPending("temp-123", "buyer-1", at)

	feed.emit(testMessage("0000000000001-a", "buyer-1", at.Add(time.Second)))
	feed.emit(testMessage("0000000000002-b", "buyer-1", at.Add(2*time.Second)))

	assert.Len(t, got, 2)
	assert.Equal(t, "temp-123", got[0].TempID)
	assert.Equal(t, "", got[1].TempID)
}

func TestSubscriptionPendingOutsideWindowNotMatched(t *testing.T) {
	feed := &fakeMessageFeed{}
	m := NewSubscriptionManager(feed)

	var got []MessageEvent
	assert.NoError(t, m.Open(context.Background(), "conv-1", func(e MessageEvent) {
		got = append(got, e)
	}))

	at := time.Now()
	m.TrackPending("temp-123", "buyer-1", at.Add(-time.Minute))

	feed.emit(testMessage("0000000000001-a", "buyer-1", at))

	assert.Len(t, got, 1)
	assert.Equal(t, "", got[0].TempID)
}

func TestSubscriptionOpenPropagatesFeedError(t *testing.T) {
	feed := &fakeMessageFeed{listenErr: assert.AnError}
	m := NewSubscriptionManager(feed)

	err := m.Open(context.Background(), "conv-1", func(MessageEvent) {})

	assert.Error(t, err)
	assert.Equal(t, "", m.Conversation())
}

func TestSubscriptionOpenRequiresConversationID(t *testing.T) {
	m := NewSubscriptionManager(&fakeMessageFeed{})

	err := m.Open(context.Background(), "", func(MessageEvent) {})

	assert.Error(t, err)
}
