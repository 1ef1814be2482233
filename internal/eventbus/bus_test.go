package eventbus

import "testing"

func TestBus_FanOutAndUnsubscribe(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubC()

	Publish(b, TypePollTick, TickData{Chats: 2})
	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != TypePollTick || e.Time.IsZero() {
			t.Fatalf("unexpected event %+v", e)
		}
		if d, ok := e.Data.(TickData); !ok || d.Chats != 2 {
			t.Fatalf("unexpected data %+v", e.Data)
		}
	}

	unsubA()
	if _, ok := <-a; ok {
		t.Fatalf("channel must be closed after unsubscribe")
	}
	Publish(b, TypePollTick, TickData{})
}

func TestBus_SlowSubscriberDrops(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if e := <-ch; e.Type != "a" {
		t.Fatalf("got %q", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("second event must be dropped, got %q", e.Type)
	default:
	}
}

func TestPublish_NilBus(t *testing.T) {
	Publish(nil, TypePollTick, nil)
}
