package utils

import (
	"time"

	"tick-relay/src/logger"

	"github.com/scmhub/calendar"
)

// -----------------------------------------------------------------------------
// TradingCalendar answers "is the exchange open right now" using
// scmhub/calendar (ISO 10383 MIC codes). The upstream feed only carries data
// while its exchange trades, so the connection is gated on this.
// -----------------------------------------------------------------------------

type TradingCalendar struct {
	Calendar *calendar.Calendar
	Fallback bool
	Timezone *time.Location
}

// -----------------------------------------------------------------------------

func GetCalendar(mic string, log *logger.Logger) *TradingCalendar {
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		log.Warning("Failed to load calendar for MIC '%s'. Using simple fallback (Mon-Fri 09:00-15:30 KST).", mic)
		loc, _ := time.LoadLocation("Asia/Seoul")
		if loc == nil {
			loc = time.UTC // Worst case
		}
		return &TradingCalendar{Fallback: true, Timezone: loc}
	}

	return &TradingCalendar{Calendar: cal, Fallback: false, Timezone: cal.Loc}
}

// -----------------------------------------------------------------------------

func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	if tc.Timezone != nil {
		date = date.In(tc.Timezone)
	}

	if tc.Fallback {
		weekday := date.Weekday()
		return weekday != time.Saturday && weekday != time.Sunday
	}
	return tc.Calendar.IsBusinessDay(date)
}

// -----------------------------------------------------------------------------

// IsOpenOnMinute checks if the market is open at a specific minute.
func (tc *TradingCalendar) IsOpenOnMinute(t time.Time) bool {
	if tc.Timezone != nil {
		t = t.In(tc.Timezone)
	}

	if tc.Fallback {
		if !tc.IsTradingDay(t) {
			return false
		}

		hour := t.Hour()
		minute := t.Minute()

		// 09:00 - 15:30 local exchange time
		if hour >= 9 && (hour < 15 || (hour == 15 && minute <= 30)) {
			return true
		}
		return false
	}

	return tc.Calendar.IsOpen(t)
}
