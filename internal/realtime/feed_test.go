package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestFeed(t *testing.T) *Feed {
	t.Helper()
	s := miniredis.RunT(t)
	feed, err := NewFeed("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewFeed failed: %v", err)
	}
	t.Cleanup(func() { _ = feed.Close() })
	return feed
}

func TestNewFeedRejectsBadURL(t *testing.T) {
	if _, err := NewFeed("not-a-url"); err == nil {
		t.Fatal("expected NewFeed to fail for an unparsable URL")
	}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	feed := setupTestFeed(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, stop := feed.Subscribe(ctx, TableChatMessages)
	defer stop()

	// Give the subscription a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)

	want := Event{Table: TableChatMessages, Op: "insert", ID: "m_1"}
	if err := feed.Publish(ctx, want); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-events:
		if got != want {
			t.Fatalf("received %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestSubscriberOnlySeesItsTables(t *testing.T) {
	feed := setupTestFeed(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, stop := feed.Subscribe(ctx, TableNotifications)
	defer stop()

	time.Sleep(50 * time.Millisecond)

	if err := feed.Publish(ctx, Event{Table: TableComplaints, Op: "update", ID: "c_1"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := feed.Publish(ctx, Event{Table: TableNotifications, Op: "insert", ID: "n_1"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-events:
		if got.Table != TableNotifications || got.ID != "n_1" {
			t.Fatalf("expected the notifications event, got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestStopTearsDownSubscription(t *testing.T) {
	feed := setupTestFeed(t)

	ctx := context.Background()
	events, stop := feed.Subscribe(ctx, TableChatMessages)
	stop()

	select {
	case _, open := <-events:
		if open {
			t.Fatal("expected event channel to close after stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event channel did not close after stop")
	}
}
