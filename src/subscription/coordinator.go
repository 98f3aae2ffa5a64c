package subscription

import (
	"tick-relay/src/interfaces"
	"tick-relay/src/logger"
)

// -----------------------------------------------------------------------------
// Coordinator pairs the registry with the feed controller: every 0->1 edge
// opens the instrument's upstream feed, every 1->0 edge closes it. It is the
// only component that translates subscription bookkeeping into feed commands.
//
// Constructed once at startup; no teardown beyond process exit.
// -----------------------------------------------------------------------------

type Coordinator struct {
	Registry *Registry
	Feeds    interfaces.IFeedController
	Logger   *logger.Logger
}

// -----------------------------------------------------------------------------

func NewCoordinator(reg *Registry, feeds interfaces.IFeedController, log *logger.Logger) *Coordinator {
	return &Coordinator{
		Registry: reg,
		Feeds:    feeds,
		Logger:   log,
	}
}

// -----------------------------------------------------------------------------

// Subscribe registers a session's interest in a channel and opens the
// upstream feed on the first subscriber.
func (c *Coordinator) Subscribe(sessionID, handle, channelKey string) {
	count, vacated := c.Registry.Subscribe(sessionID, handle, channelKey)

	if vacated != "" {
		c.Logger.Info("Channel %s emptied by handle re-mapping", vacated)
		c.Feeds.OnChannelInactive(vacated)
	}

	if count == 1 {
		c.Logger.Info("Channel %s active (first subscriber %s)", channelKey, sessionID)
		c.Feeds.OnChannelActive(channelKey)
	}
}

// -----------------------------------------------------------------------------

// Unsubscribe removes one registration and closes the feed if the channel
// lost its last subscriber. Unknown handles are a no-op.
func (c *Coordinator) Unsubscribe(sessionID, handle string) {
	channelKey, remaining, ok := c.Registry.Unsubscribe(sessionID, handle)
	if !ok {
		return
	}

	if remaining == 0 {
		c.Logger.Info("Channel %s inactive (last subscriber %s left)", channelKey, sessionID)
		c.Feeds.OnChannelInactive(channelKey)
	}
}

// -----------------------------------------------------------------------------

// Disconnect treats a dropped session as a bulk unsubscribe, issuing at most
// one feed-close per channel the session was the last subscriber of.
func (c *Coordinator) Disconnect(sessionID string) {
	emptied := c.Registry.Disconnect(sessionID)
	for _, channelKey := range emptied {
		c.Logger.Info("Channel %s inactive (session %s disconnected)", channelKey, sessionID)
		c.Feeds.OnChannelInactive(channelKey)
	}
}
