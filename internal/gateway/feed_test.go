package gateway

import (
	"fmt"
	"testing"
	"time"
)

func TestFeedPublishSubscribe(t *testing.T) {
	feed := NewFeed()
	sub := feed.Subscribe()
	defer feed.Unsubscribe(sub)

	feed.Publish(&Event{Stage: "dispatched", EventID: "n1", Repo: "acme/widgets", Actor: "alice"})

	select {
	case event := <-sub:
		if event.Stage != "dispatched" || event.EventID != "n1" {
			t.Errorf("event = %+v", event)
		}
		if event.Time.IsZero() {
			t.Error("publish must stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestFeedBacklogBounded(t *testing.T) {
	feed := NewFeed()
	for i := 0; i < feedBacklog+10; i++ {
		feed.Publish(&Event{Stage: "dispatched", EventID: fmt.Sprintf("n%d", i)})
	}

	recent := feed.Recent()
	if len(recent) != feedBacklog {
		t.Fatalf("backlog = %d, want %d", len(recent), feedBacklog)
	}
	if recent[len(recent)-1].EventID != fmt.Sprintf("n%d", feedBacklog+9) {
		t.Errorf("backlog tail = %q, want the newest event", recent[len(recent)-1].EventID)
	}
}

func TestFeedSlowSubscriberDoesNotBlock(t *testing.T) {
	feed := NewFeed()
	sub := feed.Subscribe()
	defer feed.Unsubscribe(sub)

	// Never read from sub; publishing past its buffer must not hang.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			feed.Publish(&Event{Stage: "dispatched"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestFeedUnsubscribeCloses(t *testing.T) {
	feed := NewFeed()
	sub := feed.Subscribe()
	if feed.Count() != 1 {
		t.Errorf("Count = %d, want 1", feed.Count())
	}

	feed.Unsubscribe(sub)
	if feed.Count() != 0 {
		t.Errorf("Count = %d, want 0", feed.Count())
	}
	if _, ok := <-sub; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}
