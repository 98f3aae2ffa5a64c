package upstream

import (
	"strings"
	"sync"
	"time"

	"tick-relay/src/interfaces"
	"tick-relay/src/logger"
)

// -----------------------------------------------------------------------------
// Gateway maintains exactly one open upstream feed per instrument with a
// subscriber count above zero, and none otherwise.
//
// Opens are idempotent. Closes are debounced for a short grace window so
// rapid unsubscribe/resubscribe churn never produces duplicate upstream
// state. Command delivery failures are logged only: the subscription
// bookkeeping stays authoritative and Reconcile re-issues opens for any
// channel with subscribers but no confirmed feed.
// -----------------------------------------------------------------------------

type Gateway struct {
	Source interfaces.ITickSource
	Logger *logger.Logger
	Grace  time.Duration

	// Channel keys are "<prefix>.<instrumentCode>"; feed commands carry the
	// bare code.
	prefix string

	mu      sync.Mutex
	open    map[string]bool
	pending map[string]*time.Timer
}

// -----------------------------------------------------------------------------

func NewGateway(source interfaces.ITickSource, channelPrefix string, grace time.Duration, log *logger.Logger) *Gateway {
	return &Gateway{
		Source:  source,
		Logger:  log,
		Grace:   grace,
		prefix:  channelPrefix + ".",
		open:    make(map[string]bool),
		pending: make(map[string]*time.Timer),
	}
}

// -----------------------------------------------------------------------------

func (g *Gateway) instrumentCode(channelKey string) string {
	return strings.TrimPrefix(channelKey, g.prefix)
}

// -----------------------------------------------------------------------------

// OnChannelActive opens the instrument's feed. Invoking it for an already
// open channel is a no-op; a pending debounced close is cancelled instead of
// issuing a second open.
func (g *Gateway) OnChannelActive(channelKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t, ok := g.pending[channelKey]; ok {
		t.Stop()
		delete(g.pending, channelKey)
	}

	if g.open[channelKey] {
		return
	}
	g.issueOpen(channelKey)
}

// -----------------------------------------------------------------------------

// OnChannelInactive schedules the feed close after the grace window. A
// reopen inside the window absorbs the churn without any upstream traffic.
func (g *Gateway) OnChannelInactive(channelKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.open[channelKey] {
		return
	}
	if _, ok := g.pending[channelKey]; ok {
		return
	}

	if g.Grace <= 0 {
		g.issueClose(channelKey)
		return
	}

	var t *time.Timer
	t = time.AfterFunc(g.Grace, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.pending[channelKey] != t {
			// Superseded by a reopen inside the grace window.
			return
		}
		delete(g.pending, channelKey)
		g.issueClose(channelKey)
	})
	g.pending[channelKey] = t
}

// -----------------------------------------------------------------------------

// Reconcile re-issues opens for every active channel without a confirmed
// feed and closes feeds no active channel references. Run periodically and
// after every upstream reconnect.
func (g *Gateway) Reconcile(activeChannels []string) {
	active := make(map[string]struct{}, len(activeChannels))
	for _, key := range activeChannels {
		active[key] = struct{}{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for key := range active {
		if !g.open[key] {
			g.Logger.Info("Reconcile: reopening feed %s", key)
			g.issueOpen(key)
		}
	}

	for key := range g.open {
		if _, want := active[key]; want {
			continue
		}
		if _, closing := g.pending[key]; closing {
			continue
		}
		g.Logger.Info("Reconcile: closing stray feed %s", key)
		g.issueClose(key)
	}
}

// -----------------------------------------------------------------------------

// InvalidateAll forgets every confirmed feed. Called after a reconnect: the
// new upstream connection starts with no subscriptions, so the next
// Reconcile reopens everything that still has subscribers.
func (g *Gateway) InvalidateAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for key, t := range g.pending {
		t.Stop()
		delete(g.pending, key)
	}
	g.open = make(map[string]bool)
}

// -----------------------------------------------------------------------------

// OpenFeeds returns the instruments with a confirmed open feed.
func (g *Gateway) OpenFeeds() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]string, 0, len(g.open))
	for key := range g.open {
		out = append(out, key)
	}
	return out
}

// -----------------------------------------------------------------------------
// Internals (mu held)
// -----------------------------------------------------------------------------

func (g *Gateway) issueOpen(channelKey string) {
	if err := g.Source.OpenFeed(g.instrumentCode(channelKey)); err != nil {
		g.Logger.Error("Feed-open command failed for %s: %v", channelKey, err)
		return
	}
	g.open[channelKey] = true
}

// -----------------------------------------------------------------------------

func (g *Gateway) issueClose(channelKey string) {
	delete(g.open, channelKey)
	if err := g.Source.CloseFeed(g.instrumentCode(channelKey)); err != nil {
		g.Logger.Error("Feed-close command failed for %s: %v", channelKey, err)
	}
}
