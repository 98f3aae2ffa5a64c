package subscription

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"tick-relay/src/logger"
)

// -----------------------------------------------------------------------------

func testRegistry() *Registry {
	return NewRegistry(logger.NewLogger("ERROR", "test"))
}

// -----------------------------------------------------------------------------

func TestSubscribeEdges(t *testing.T) {
	r := testRegistry()

	count, vacated := r.Subscribe("s1", "h1", "price.005930")
	if count != 1 || vacated != "" {
		t.Fatalf("first subscriber: count=%d vacated=%q", count, vacated)
	}

	count, _ = r.Subscribe("s2", "h1", "price.005930")
	if count != 2 {
		t.Fatalf("second session: count=%d", count)
	}

	// Two handles from the same session are still one subscriber
	count, _ = r.Subscribe("s1", "h2", "price.005930")
	if count != 2 {
		t.Fatalf("same session, second handle: count=%d", count)
	}
}

// -----------------------------------------------------------------------------

func TestSubscribeSameHandleSameChannelIsIdempotent(t *testing.T) {
	r := testRegistry()

	r.Subscribe("s1", "h1", "price.005930")
	count, vacated := r.Subscribe("s1", "h1", "price.005930")
	if count != 1 || vacated != "" {
		t.Fatalf("duplicate subscribe: count=%d vacated=%q", count, vacated)
	}

	// Still a single reference: one unsubscribe must empty the channel
	_, remaining, ok := r.Unsubscribe("s1", "h1")
	if !ok || remaining != 0 {
		t.Fatalf("unsubscribe after duplicate: remaining=%d ok=%v", remaining, ok)
	}
}

// -----------------------------------------------------------------------------

func TestSubscribeHandleRemapVacatesOldChannel(t *testing.T) {
	r := testRegistry()

	r.Subscribe("s1", "h1", "price.005930")
	count, vacated := r.Subscribe("s1", "h1", "price.000660")

	if count != 1 {
		t.Errorf("new channel count=%d", count)
	}
	if vacated != "price.005930" {
		t.Errorf("vacated=%q, want old channel", vacated)
	}
	if got := len(r.ActiveChannels()); got != 1 {
		t.Errorf("active channels=%d, want 1", got)
	}
}

// -----------------------------------------------------------------------------

func TestSubscribeHandleRemapKeepsSharedChannel(t *testing.T) {
	r := testRegistry()

	r.Subscribe("s1", "h1", "price.005930")
	r.Subscribe("s2", "h1", "price.005930")

	// s1 moves its handle away; s2 still holds the old channel
	_, vacated := r.Subscribe("s1", "h1", "price.000660")
	if vacated != "" {
		t.Errorf("old channel still has a subscriber, vacated=%q", vacated)
	}
}

// -----------------------------------------------------------------------------

func TestUnsubscribe(t *testing.T) {
	r := testRegistry()

	r.Subscribe("s1", "h1", "price.005930")
	r.Subscribe("s2", "h1", "price.005930")

	key, remaining, ok := r.Unsubscribe("s1", "h1")
	if !ok || key != "price.005930" || remaining != 1 {
		t.Fatalf("first unsubscribe: key=%q remaining=%d ok=%v", key, remaining, ok)
	}

	key, remaining, ok = r.Unsubscribe("s2", "h1")
	if !ok || remaining != 0 {
		t.Fatalf("last unsubscribe: key=%q remaining=%d ok=%v", key, remaining, ok)
	}

	// Unknown handle is a no-op
	if _, _, ok := r.Unsubscribe("s1", "h1"); ok {
		t.Error("repeated unsubscribe should report ok=false")
	}
	if _, _, ok := r.Unsubscribe("ghost", "h9"); ok {
		t.Error("unknown session should report ok=false")
	}
}

// -----------------------------------------------------------------------------

func TestDisconnectReportsEachEmptiedChannelOnce(t *testing.T) {
	r := testRegistry()

	// Two handles on the same channel plus one shared channel
	r.Subscribe("s1", "h1", "price.005930")
	r.Subscribe("s1", "h2", "price.005930")
	r.Subscribe("s1", "h3", "price.000660")
	r.Subscribe("s2", "h1", "price.000660")

	emptied := r.Disconnect("s1")
	sort.Strings(emptied)

	if len(emptied) != 1 || emptied[0] != "price.005930" {
		t.Fatalf("emptied=%v, want exactly [price.005930]", emptied)
	}

	if r.SessionCount() != 1 {
		t.Errorf("session count=%d after disconnect", r.SessionCount())
	}
	if emptied := r.Disconnect("s1"); emptied != nil {
		t.Errorf("second disconnect should be a no-op, got %v", emptied)
	}
}

// -----------------------------------------------------------------------------

func TestSubscribeAfterDisconnectStartsFreshSession(t *testing.T) {
	r := testRegistry()
	r.Subscribe("s1", "h1", "price.005930")

	r.mu.RLock()
	stale := r.sessions["s1"]
	r.mu.RUnlock()

	r.Disconnect("s1")
	stale.mu.Lock()
	dead := stale.dead
	stale.mu.Unlock()
	if !dead {
		t.Fatal("disconnect did not mark the session dead")
	}

	// Re-subscribing must not land on the torn-down session
	count, _ := r.Subscribe("s1", "h1", "price.005930")
	if count != 1 {
		t.Fatalf("count=%d, want 1", count)
	}

	r.mu.RLock()
	fresh := r.sessions["s1"]
	r.mu.RUnlock()
	if fresh == stale {
		t.Fatal("dead session reused")
	}

	stale.mu.Lock()
	orphaned := len(stale.handles)
	stale.mu.Unlock()
	if orphaned != 0 {
		t.Fatalf("%d handles registered on the dead session", orphaned)
	}
}

// -----------------------------------------------------------------------------

func TestSubscriberSessions(t *testing.T) {
	r := testRegistry()

	r.Subscribe("s1", "h1", "price.005930")
	r.Subscribe("s2", "h1", "price.005930")
	r.Subscribe("s3", "h1", "price.000660")

	sessions := r.SubscriberSessions("price.005930")
	sort.Strings(sessions)
	if len(sessions) != 2 || sessions[0] != "s1" || sessions[1] != "s2" {
		t.Errorf("sessions=%v", sessions)
	}

	if got := r.SubscriberSessions("price.999999"); got != nil {
		t.Errorf("unknown channel sessions=%v", got)
	}
}

// -----------------------------------------------------------------------------

// Concurrent subscribe/unsubscribe cycles across many sessions must leave the
// registry empty and never panic or deadlock.
func TestConcurrentChurn(t *testing.T) {
	r := testRegistry()

	const sessions = 16
	const rounds = 200

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			sid := fmt.Sprintf("s%d", id)
			for j := 0; j < rounds; j++ {
				key := fmt.Sprintf("price.%06d", j%4)
				r.Subscribe(sid, "h1", key)
				r.Subscribe(sid, "h2", key)
				r.Unsubscribe(sid, "h1")
				r.Unsubscribe(sid, "h2")
			}
			r.Disconnect(sid)
		}(i)
	}
	wg.Wait()

	if got := r.ActiveChannels(); len(got) != 0 {
		t.Errorf("channels left after churn: %v", got)
	}
	if r.SessionCount() != 0 {
		t.Errorf("sessions left after churn: %d", r.SessionCount())
	}
}
