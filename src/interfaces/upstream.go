package interfaces

import (
	"context"
	"sync"

	"tick-relay/src/models"
)

// -----------------------------------------------------------------------------
// ITickSource is the upstream feed connection. It owns the wire transport:
// open/close commands go out on it, decoded ticks come back on the output
// channel in upstream arrival order.
// -----------------------------------------------------------------------------

type ITickSource interface {

	// Name returns the unique identifier of the source
	Name() string

	// -----------------------------------------------------------------------------

	// Start begins receiving. Cancelling ctx stops the source; wg is signalled
	// when it has fully stopped. The source never closes outputChan on
	// transient errors, only on shutdown.
	Start(ctx context.Context, outputChan chan<- models.MTick, wg *sync.WaitGroup) error

	// -----------------------------------------------------------------------------

	// Stop terminates the connection (legacy/manual stop).
	Stop() error

	// -----------------------------------------------------------------------------

	// OpenFeed asks the upstream to start sending frames for one instrument.
	// Delivery failure is returned for logging but must not be treated as
	// fatal by callers: subscription bookkeeping stays authoritative.
	OpenFeed(instrumentCode string) error

	// -----------------------------------------------------------------------------

	// CloseFeed asks the upstream to stop sending frames for one instrument.
	CloseFeed(instrumentCode string) error
}

// -----------------------------------------------------------------------------
// IMarketSchedule gates the upstream connection on exchange trading hours.
// -----------------------------------------------------------------------------

type IMarketSchedule interface {

	// MarketOpen reports whether the tracked exchange is trading right now.
	MarketOpen() bool
}

// -----------------------------------------------------------------------------
// IFeedController receives subscriber-count edge transitions. The gateway
// implements it; the subscription coordinator drives it.
// -----------------------------------------------------------------------------

type IFeedController interface {

	// OnChannelActive is called on a 0 -> 1 subscriber transition.
	OnChannelActive(channelKey string)

	// -----------------------------------------------------------------------------

	// OnChannelInactive is called on a 1 -> 0 subscriber transition.
	OnChannelInactive(channelKey string)
}
