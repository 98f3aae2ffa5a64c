package protocol

import (
	"strings"
	"testing"

	"tick-relay/src/logger"
	"tick-relay/src/models"
)

// -----------------------------------------------------------------------------

func testDecoder() *Decoder {
	cfg := models.MUpstreamConfig{
		HeartbeatToken: "PINGPONG",
		MessageType:    "H0STCNT0",
		MinFields:      32,
	}
	return NewDecoder(cfg, logger.NewLogger("ERROR", "test"))
}

// buildFrame assembles a data frame with the given field overrides on top of
// 32 zeroed fields.
func buildFrame(overrides map[int]string) string {
	fields := make([]string, 32)
	for i := range fields {
		fields[i] = "0"
	}
	for idx, v := range overrides {
		fields[idx] = v
	}
	return "0|H0STCNT0|001|" + strings.Join(fields, "^")
}

// -----------------------------------------------------------------------------

func TestDecodeHeartbeat(t *testing.T) {
	d := testDecoder()

	res := d.Decode("PINGPONG")
	if res.Kind != KindHeartbeat {
		t.Fatalf("expected heartbeat, got kind %d", res.Kind)
	}
	if res.Echo != "PINGPONG" {
		t.Errorf("heartbeat must echo verbatim, got %q", res.Echo)
	}
}

// -----------------------------------------------------------------------------

func TestDecodeTick(t *testing.T) {
	d := testDecoder()

	frame := buildFrame(map[int]string{
		0:  "005930",
		1:  "093015",
		2:  "71200",
		4:  "-300",
		5:  "-0.42",
		13: "1234567",
	})

	res := d.Decode(frame)
	if res.Kind != KindTick {
		t.Fatalf("expected tick, got kind %d", res.Kind)
	}

	tick := res.Tick
	if tick.InstrumentCode != "005930" {
		t.Errorf("instrument code = %q", tick.InstrumentCode)
	}
	if tick.TradeTime != "093015" {
		t.Errorf("trade time = %q", tick.TradeTime)
	}
	if tick.LastPrice.String() != "71200" {
		t.Errorf("last price = %s", tick.LastPrice)
	}
	if tick.Delta.String() != "-300" {
		t.Errorf("delta = %s", tick.Delta)
	}
	if tick.DeltaRate != -0.42 {
		t.Errorf("delta rate = %f", tick.DeltaRate)
	}
	if tick.Volume != 1234567 {
		t.Errorf("volume = %d", tick.Volume)
	}
}

// -----------------------------------------------------------------------------

func TestDecodeIsRepeatable(t *testing.T) {
	d := testDecoder()

	frame := buildFrame(map[int]string{0: "005930", 2: "71200"})

	first := d.Decode(frame)
	second := d.Decode(frame)

	if first.Kind != KindTick || second.Kind != KindTick {
		t.Fatalf("both decodes should yield ticks")
	}
	if !first.Tick.LastPrice.Equal(second.Tick.LastPrice) {
		t.Errorf("same frame decoded to different prices: %s vs %s",
			first.Tick.LastPrice, second.Tick.LastPrice)
	}
}

// -----------------------------------------------------------------------------

func TestDecodeDiscards(t *testing.T) {
	d := testDecoder()

	cases := []struct {
		name  string
		frame string
	}{
		{"empty", ""},
		{"no envelope", "just some garbage"},
		{"encrypted flag", "1|H0STCNT0|001|a^b^c"},
		{"wrong message type", "0|H0STASP0|001|a^b^c"},
		{"too few fields", "0|H0STCNT0|001|005930^093015^71200"},
		{"missing code", buildFrame(map[int]string{0: ""})},
	}

	for _, tc := range cases {
		if res := d.Decode(tc.frame); res.Kind != KindDiscard {
			t.Errorf("%s: expected discard, got kind %d", tc.name, res.Kind)
		}
	}
}

// -----------------------------------------------------------------------------

func TestDecodeCorruptNumericDefaultsToZero(t *testing.T) {
	d := testDecoder()

	frame := buildFrame(map[int]string{
		0:  "005930",
		2:  "not-a-number",
		13: "garbage",
	})

	res := d.Decode(frame)
	if res.Kind != KindTick {
		t.Fatalf("corrupt numeric field must not drop the tick")
	}
	if !res.Tick.LastPrice.IsZero() {
		t.Errorf("corrupt price should decode to zero, got %s", res.Tick.LastPrice)
	}
	if res.Tick.Volume != 0 {
		t.Errorf("corrupt volume should decode to zero, got %d", res.Tick.Volume)
	}
}
