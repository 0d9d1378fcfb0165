package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestBroadcasterSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	if b.Count() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", b.Count())
	}

	b.Unsubscribe(ch1)
	b.Unsubscribe(ch1)
	if b.Count() != 1 {
		t.Fatalf("expected 1 subscriber after unsubscribe, got %d", b.Count())
	}
	b.Unsubscribe(ch2)
	if b.Count() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.Count())
	}
}

func TestBroadcasterAlert(t *testing.T) {
	b := NewBroadcaster()
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	defer b.Unsubscribe(ch1)
	defer b.Unsubscribe(ch2)

	b.Alert(context.Background(), "Successfully saved document to Laserfiche")

	for i, ch := range []chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Type != EventAlert || got.Message != "Successfully saved document to Laserfiche" {
				t.Errorf("subscriber %d: unexpected event %+v", i, got)
			}
			if got.Timestamp == 0 {
				t.Errorf("subscriber %d: expected non-zero timestamp", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestBroadcasterDropsForSlowConsumer(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: EventState})
	}

	count := 0
	for len(ch) > 0 {
		<-ch
		count++
	}
	if count != 64 {
		t.Errorf("expected 64 buffered events, got %d", count)
	}
}

func TestMarshalEvent(t *testing.T) {
	data, err := MarshalEvent(Event{Type: EventLogout, Timestamp: 1234567890})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["message"]; ok {
		t.Error("expected empty message to be omitted")
	}
}
