package protocol

import (
	"strconv"
	"strings"
	"time"

	"tick-relay/src/logger"
	"tick-relay/src/models"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Wire format
//
// A frame is a single line of text in one of two shapes:
//   - the heartbeat token, to be echoed back verbatim
//   - "<flag>|<messageType>|<fieldCount>|<payload>" where flag "0" marks a
//     plaintext data frame and payload is caret-delimited positional fields
// -----------------------------------------------------------------------------

const (
	envelopeSeparator = "|"
	fieldSeparator    = "^"
	plaintextFlag     = "0"
	envelopeParts     = 4
)

// Positional field indices within a tick payload.
const (
	fieldCode        = 0
	fieldTradeTime   = 1
	fieldLastPrice   = 2
	fieldDelta       = 4
	fieldDeltaRate   = 5
	fieldOpen        = 7
	fieldHigh        = 8
	fieldLow         = 9
	fieldBestAsk     = 10
	fieldBestBid     = 11
	fieldVolume      = 13
	fieldTurnover    = 14
	fieldTotalAskQty = 19
	fieldTotalBidQty = 20
)

// -----------------------------------------------------------------------------
// Decode result
// -----------------------------------------------------------------------------

type ResultKind int

const (
	// KindDiscard means the frame was noise; processing continues.
	KindDiscard ResultKind = iota
	// KindHeartbeat means Echo must be written back verbatim.
	KindHeartbeat
	// KindTick means Tick carries one decoded update.
	KindTick
)

type MDecodeResult struct {
	Kind ResultKind
	Echo string
	Tick models.MTick
}

// -----------------------------------------------------------------------------
// Decoder
// -----------------------------------------------------------------------------

type Decoder struct {
	HeartbeatToken string
	MessageType    string
	MinFields      int
	Logger         *logger.Logger
}

// -----------------------------------------------------------------------------

func NewDecoder(cfg models.MUpstreamConfig, log *logger.Logger) *Decoder {
	return &Decoder{
		HeartbeatToken: cfg.HeartbeatToken,
		MessageType:    cfg.MessageType,
		MinFields:      cfg.MinFields,
		Logger:         log,
	}
}

// -----------------------------------------------------------------------------

// Decode converts one raw frame into a heartbeat echo, a tick, or a discard.
// Malformed frames never return an error: partial frames are expected under
// real network conditions and must not interrupt the feed.
func (d *Decoder) Decode(frame string) MDecodeResult {
	if frame == d.HeartbeatToken {
		return MDecodeResult{Kind: KindHeartbeat, Echo: frame}
	}

	parts := strings.SplitN(frame, envelopeSeparator, envelopeParts)
	if len(parts) < envelopeParts {
		d.Logger.Debug("Discarding frame without envelope (%d parts)", len(parts))
		return MDecodeResult{Kind: KindDiscard}
	}

	if parts[0] != plaintextFlag {
		d.Logger.Debug("Discarding non-plaintext frame (flag %q)", parts[0])
		return MDecodeResult{Kind: KindDiscard}
	}

	if parts[1] != d.MessageType {
		d.Logger.Debug("Discarding frame of type %q (want %q)", parts[1], d.MessageType)
		return MDecodeResult{Kind: KindDiscard}
	}

	fields := strings.Split(parts[3], fieldSeparator)
	if len(fields) < d.MinFields {
		d.Logger.Debug("Discarding short frame: %d/%d fields", len(fields), d.MinFields)
		return MDecodeResult{Kind: KindDiscard}
	}

	if fields[fieldCode] == "" {
		d.Logger.Debug("Discarding frame without instrument code")
		return MDecodeResult{Kind: KindDiscard}
	}

	tick := models.MTick{
		InstrumentCode: fields[fieldCode],
		TradeTime:      fields[fieldTradeTime],
		Timestamp:      time.Now().UTC(),
		LastPrice:      safeDecimal(fields, fieldLastPrice),
		Delta:          safeDecimal(fields, fieldDelta),
		DeltaRate:      safeFloat64(fields, fieldDeltaRate),
		Open:           safeDecimal(fields, fieldOpen),
		High:           safeDecimal(fields, fieldHigh),
		Low:            safeDecimal(fields, fieldLow),
		BestAsk:        safeDecimal(fields, fieldBestAsk),
		BestBid:        safeDecimal(fields, fieldBestBid),
		Volume:         safeInt64(fields, fieldVolume),
		Turnover:       safeInt64(fields, fieldTurnover),
		TotalAskQty:    safeInt64(fields, fieldTotalAskQty),
		TotalBidQty:    safeInt64(fields, fieldTotalBidQty),
	}

	return MDecodeResult{Kind: KindTick, Tick: tick}
}

// -----------------------------------------------------------------------------
// Field helpers: a single corrupt numeric field defaults to zero rather than
// dropping an otherwise-usable tick.
// -----------------------------------------------------------------------------

func safeDecimal(fields []string, idx int) decimal.Decimal {
	if idx >= len(fields) {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.TrimSpace(fields[idx]))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// -----------------------------------------------------------------------------

func safeFloat64(fields []string, idx int) float64 {
	if idx >= len(fields) {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(fields[idx]), 64)
	if err != nil {
		return 0
	}
	return f
}

// -----------------------------------------------------------------------------

func safeInt64(fields []string, idx int) int64 {
	if idx >= len(fields) {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(fields[idx]), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
