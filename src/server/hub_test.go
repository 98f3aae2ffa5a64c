package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tick-relay/src/alert"
	"tick-relay/src/logger"
	"tick-relay/src/models"
	"tick-relay/src/subscription"
	"tick-relay/src/upstream"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type fakeSource struct {
	mu       sync.Mutex
	commands []string
}

func (f *fakeSource) Name() string { return "fake" }
func (f *fakeSource) Start(ctx context.Context, out chan<- models.MTick, wg *sync.WaitGroup) error {
	return nil
}
func (f *fakeSource) Stop() error { return nil }

func (f *fakeSource) OpenFeed(code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, "open:"+code)
	return nil
}

func (f *fakeSource) CloseFeed(code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, "close:"+code)
	return nil
}

func (f *fakeSource) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	copy(out, f.commands)
	return out
}

// -----------------------------------------------------------------------------

type fakeIdentity struct{}

func (fakeIdentity) Resolve(token string) (string, error) {
	if token == "" {
		return "", errors.New("missing token")
	}
	return "user-" + token, nil
}

// -----------------------------------------------------------------------------
// Harness
// -----------------------------------------------------------------------------

func testServer() (*RelayServer, *fakeSource) {
	log := logger.NewLogger("ERROR", "test")
	cfg := &models.MConfig{
		Name:          "test",
		LogLevel:      "ERROR",
		ChannelPrefix: "price",
	}

	src := &fakeSource{}
	gw := upstream.NewGateway(src, cfg.ChannelPrefix, 0, log)
	reg := subscription.NewRegistry(log)
	coord := subscription.NewCoordinator(reg, gw, log)
	targets := alert.NewTargetService(nil, log)

	s := NewRelayServer(cfg, reg, coord, gw, targets, fakeIdentity{}, log)
	go s.runHub()
	return s, src
}

// -----------------------------------------------------------------------------

func connect(s *RelayServer, sessionID, userID string) *Client {
	c := &Client{
		hub:       s,
		sessionID: sessionID,
		userID:    userID,
		send:      make(chan interface{}, 64),
	}
	s.register <- c
	return c
}

func subscribeCmd(handle, destination string) []byte {
	return []byte(fmt.Sprintf(`{"command":"subscribe","id":"%s","destination":"%s"}`, handle, destination))
}

func unsubscribeCmd(handle string) []byte {
	return []byte(fmt.Sprintf(`{"command":"unsubscribe","id":"%s"}`, handle))
}

func recvFrame(t *testing.T, c *Client) interface{} {
	t.Helper()
	select {
	case frame := <-c.send:
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

// recvTick receives the next TICK frame, skipping queued SNAPSHOT replays
// whose position in the stream depends on hub select ordering.
func recvTick(t *testing.T, c *Client) models.MOutboundTick {
	t.Helper()
	for {
		frame := recvFrame(t, c).(models.MOutboundTick)
		if frame.Type != "SNAPSHOT" {
			return frame
		}
	}
}

func tick(code, price string) models.MTick {
	p, _ := decimal.NewFromString(price)
	return models.MTick{
		InstrumentCode: code,
		LastPrice:      p,
		Timestamp:      time.Now().UTC(),
	}
}

// -----------------------------------------------------------------------------

func TestFanoutToSubscribers(t *testing.T) {
	s, src := testServer()

	c1 := connect(s, "s1", "u1")
	c2 := connect(s, "s2", "u2")

	s.HandleClientMessage(c1, subscribeCmd("h1", "price.005930"))
	s.HandleClientMessage(c2, subscribeCmd("h1", "price.005930"))

	// Two subscribers, one upstream open
	if got := src.recorded(); len(got) != 1 || got[0] != "open:005930" {
		t.Fatalf("upstream commands=%v, want a single open", got)
	}

	s.Broadcast(tick("005930", "71000"))
	s.Broadcast(tick("005930", "71100"))

	for _, c := range []*Client{c1, c2} {
		first := recvTick(t, c)
		second := recvTick(t, c)

		if first.Type != "TICK" || first.Destination != "price.005930" {
			t.Fatalf("first frame=%+v", first)
		}
		if first.Tick.LastPrice.String() != "71000" || second.Tick.LastPrice.String() != "71100" {
			t.Fatalf("out of order: %s then %s", first.Tick.LastPrice, second.Tick.LastPrice)
		}
	}
}

// -----------------------------------------------------------------------------

func TestTickForOtherInstrumentNotDelivered(t *testing.T) {
	s, _ := testServer()

	c1 := connect(s, "s1", "u1")
	s.HandleClientMessage(c1, subscribeCmd("h1", "price.005930"))

	s.Broadcast(tick("000660", "120000"))
	s.Broadcast(tick("005930", "71000"))

	frame := recvFrame(t, c1).(models.MOutboundTick)
	if frame.Tick.InstrumentCode != "005930" {
		t.Fatalf("received tick for %s", frame.Tick.InstrumentCode)
	}
	select {
	case extra := <-c1.send:
		t.Fatalf("unexpected extra frame %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

// -----------------------------------------------------------------------------

func TestSnapshotOnLateSubscribe(t *testing.T) {
	s, _ := testServer()

	c1 := connect(s, "s1", "u1")
	s.HandleClientMessage(c1, subscribeCmd("h1", "price.005930"))

	s.Broadcast(tick("005930", "71000"))
	recvFrame(t, c1) // wait until the hub has processed the tick

	c2 := connect(s, "s2", "u2")
	s.HandleClientMessage(c2, subscribeCmd("h1", "price.005930"))

	frame := recvFrame(t, c2).(models.MOutboundTick)
	if frame.Type != "SNAPSHOT" {
		t.Fatalf("frame type=%s, want SNAPSHOT", frame.Type)
	}
	if frame.Tick.LastPrice.String() != "71000" {
		t.Fatalf("snapshot price=%s", frame.Tick.LastPrice)
	}
}

// -----------------------------------------------------------------------------

func TestUnsubscribeClosesFeedOnce(t *testing.T) {
	s, src := testServer()

	c1 := connect(s, "s1", "u1")
	c2 := connect(s, "s2", "u2")
	s.HandleClientMessage(c1, subscribeCmd("h1", "price.005930"))
	s.HandleClientMessage(c2, subscribeCmd("h1", "price.005930"))

	s.HandleClientMessage(c1, unsubscribeCmd("h1"))
	if got := src.recorded(); len(got) != 1 {
		t.Fatalf("close issued while a subscriber remains: %v", got)
	}

	s.HandleClientMessage(c2, unsubscribeCmd("h1"))
	got := src.recorded()
	if len(got) != 2 || got[1] != "close:005930" {
		t.Fatalf("commands=%v, want exactly one close after the last unsubscribe", got)
	}
}

// -----------------------------------------------------------------------------

func TestMalformedSubscribeIgnored(t *testing.T) {
	s, src := testServer()

	c1 := connect(s, "s1", "u1")
	s.HandleClientMessage(c1, subscribeCmd("h1", "nonsense"))
	s.HandleClientMessage(c1, subscribeCmd("", "price.005930"))
	s.HandleClientMessage(c1, []byte(`{"command":"dance"}`))

	if got := src.recorded(); len(got) != 0 {
		t.Fatalf("malformed commands reached upstream: %v", got)
	}
}

// -----------------------------------------------------------------------------

func TestSubscribeAfterSlowClientDrop(t *testing.T) {
	s, _ := testServer()

	slow := &Client{
		hub:       s,
		sessionID: "slow",
		userID:    "u1",
		send:      make(chan interface{}, 1),
	}
	s.register <- slow
	s.HandleClientMessage(slow, subscribeCmd("h1", "price.005930"))

	// Healthy subscriber acting as a barrier: once it has received both
	// ticks, the hub has processed both broadcasts.
	barrier := connect(s, "barrier", "u3")
	s.HandleClientMessage(barrier, subscribeCmd("h1", "price.005930"))

	// Second tick overflows the one-slot buffer, so the hub drops the
	// session and closes its send channel.
	s.Broadcast(tick("005930", "71000"))
	s.Broadcast(tick("005930", "71100"))

	recvTick(t, barrier)
	recvTick(t, barrier)

	deadline := time.After(time.Second)
drained:
	for {
		select {
		case _, open := <-slow.send:
			if !open {
				break drained
			}
		case <-deadline:
			t.Fatal("hub never dropped the slow client")
		}
	}

	// The readPump may still deliver a command after the drop. The snapshot
	// replay must not touch the closed channel.
	s.HandleClientMessage(slow, subscribeCmd("h2", "price.005930"))

	// Hub still serves healthy sessions.
	c2 := connect(s, "s2", "u2")
	s.HandleClientMessage(c2, subscribeCmd("h1", "price.005930"))

	frame := recvFrame(t, c2).(models.MOutboundTick)
	if frame.Type != "SNAPSHOT" || frame.Tick.LastPrice.String() != "71100" {
		t.Fatalf("frame=%+v, want snapshot of the latest tick", frame)
	}

	s.Broadcast(tick("005930", "71200"))
	live := recvFrame(t, c2).(models.MOutboundTick)
	if live.Type != "TICK" || live.Tick.LastPrice.String() != "71200" {
		t.Fatalf("live frame=%+v", live)
	}
}

// -----------------------------------------------------------------------------

func TestAlertPushReachesOwnerOnly(t *testing.T) {
	s, _ := testServer()

	c1 := connect(s, "s1", "u1")
	c2 := connect(s, "s2", "u2")

	price, _ := decimal.NewFromString("100")
	s.PushAlert(models.MAlertEvent{
		UserID:         "u1",
		InstrumentCode: "005930",
		Direction:      models.DirectionUpper,
		TargetPrice:    price,
		TriggerPrice:   price,
		TriggeredAt:    time.Now().UTC(),
	})

	frame := recvFrame(t, c1).(models.MOutboundAlert)
	if frame.Type != "ALERT" || frame.Alert.UserID != "u1" {
		t.Fatalf("frame=%+v", frame)
	}

	select {
	case extra := <-c2.send:
		t.Fatalf("alert leaked to another user: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}
