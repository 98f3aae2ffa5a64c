package utils

import (
	"time"

	"tick-relay/src/logger"
)

// -----------------------------------------------------------------------------
// MarketScheduler gates the upstream connection on the trading hours of the
// single exchange the feed belongs to.
// -----------------------------------------------------------------------------

type MarketScheduler struct {
	Calendar *TradingCalendar
	Logger   *logger.Logger
}

// -----------------------------------------------------------------------------

func NewMarketScheduler(mic string, l *logger.Logger) *MarketScheduler {
	ms := &MarketScheduler{
		Calendar: GetCalendar(mic, l),
		Logger:   l,
	}
	l.Info("MarketScheduler: tracking exchange calendar '%s'", mic)
	return ms
}

// -----------------------------------------------------------------------------

// MarketOpen checks if the tracked exchange is currently open.
func (ms *MarketScheduler) MarketOpen() bool {
	return ms.Calendar.IsOpenOnMinute(time.Now().UTC())
}
