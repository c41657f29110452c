package events

import (
	"testing"
	"time"
)

func TestMemoryPublishSubscribe(t *testing.T) {
	b := NewMemory()
	ch := b.Subscribe("VS-1")

	evt := New(TypeShippingUpdated, "VS-1", map[string]any{"waybillCode": "AWB1"})
	Emit(b, evt)

	select {
	case got := <-ch:
		if got.Type != evt.Type || got.Data["waybillCode"] != "AWB1" {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe("VS-1", ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// second unsubscribe is a no-op
	b.Unsubscribe("VS-1", ch)
}

func TestMemoryFirehoseAndSlowSubscriber(t *testing.T) {
	b := NewMemory()
	all := b.Subscribe(TopicAll)
	for i := 0; i < 40; i++ {
		Emit(b, New(TypeOrderSaved, "VS-2", nil))
	}
	if n := len(all); n != cap(all) {
		t.Fatalf("expected a full buffer of %d, got %d", cap(all), n)
	}
	Emit(b, New(TypeSyncCompleted, "", nil))
}
