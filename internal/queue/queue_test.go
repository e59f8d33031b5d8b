package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryDeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	for _, id := range []string{"a", "b"} {
		msg, err := NewMessage("visit.checkin", map[string]string{"id": id})
		if err != nil {
			t.Fatal(err)
		}
		if err := q.Publish(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	ch, _ := q.Consume(ctx)
	for _, want := range []string{"a", "b"} {
		select {
		case msg := <-ch:
			var body map[string]string
			if err := msg.Decode(&body); err != nil {
				t.Fatal(err)
			}
			if msg.Type != "visit.checkin" || body["id"] != want {
				t.Fatalf("got %s %v, want id %s", msg.Type, body, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestInMemoryConsumeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewInMemory(1)
	ch, _ := q.Consume(ctx)

	_ = q.Publish(context.Background(), Message{Type: "x"})
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("consumer did not stop")
		}
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Publish(ctx, Message{Type: "x"}); err == nil {
		t.Fatal("expected error publishing to a full queue with a cancelled context")
	}
}
