package pubsub

import (
	"context"
	"testing"
	"time"
)

func TestTopicPublishReachesSubscribers(t *testing.T) {
	t.Parallel()

	topic := NewTopic[int]("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := topic.Subscribe(ctx)
	b := topic.Subscribe(ctx)

	topic.Publish(7)

	for _, ch := range []<-chan int{a, b} {
		select {
		case v := <-ch:
			if v != 7 {
				t.Fatalf("expected 7, got %d", v)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for published value")
		}
	}
}

func TestTopicUnsubscribeOnCancel(t *testing.T) {
	t.Parallel()

	topic := NewTopic[string]("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch := topic.Subscribe(ctx)

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after cancel")
	}
	if topic.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", topic.Len())
	}
}

func TestTopicPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	t.Parallel()

	topic := NewTopic[int]("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = topic.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBufferSize*4; i++ {
			topic.Publish(i)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}
