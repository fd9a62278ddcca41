package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_PublishSyncOrder(t *testing.T) {
	b := NewEventBus()

	var got []string
	b.Subscribe(EventTypeClipChanged, func(e Event) { got = append(got, "first:"+e.Data["name"].(string)) })
	b.Subscribe(EventTypeClipChanged, func(e Event) { got = append(got, "second:"+e.Data["name"].(string)) })
	b.Subscribe(EventTypeStateChanged, func(e Event) { got = append(got, "wrong") })

	b.PublishSync(Event{Type: EventTypeClipChanged, Data: map[string]any{"name": "wave"}})

	assert.Equal(t, []string{"first:wave", "second:wave"}, got)
}

func TestEventBus_PublishAsync(t *testing.T) {
	b := NewEventBus()

	var wg sync.WaitGroup
	wg.Add(2)
	b.SubscribeMultiple([]EventType{EventTypeTurnStarted, EventTypeTurnFailed}, func(Event) { wg.Done() })

	b.Publish(Event{Type: EventTypeTurnStarted})
	b.Publish(Event{Type: EventTypeTurnFailed})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handlers not called")
	}
}

func TestEventBus_NilAndClear(t *testing.T) {
	var nilBus *EventBus
	assert.NotPanics(t, func() { nilBus.Publish(Event{Type: EventTypeReply}) })

	b := NewEventBus()
	called := false
	b.Subscribe(EventTypeReply, func(Event) { called = true })
	b.Clear()
	b.PublishSync(Event{Type: EventTypeReply})
	assert.False(t, called)
}
