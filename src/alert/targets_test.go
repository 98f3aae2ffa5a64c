package alert

import (
	"errors"
	"testing"
	"time"

	"tick-relay/src/helpers"
	"tick-relay/src/logger"
)

// -----------------------------------------------------------------------------

func testService(db *memDB) *TargetService {
	return NewTargetService(db, logger.NewLogger("ERROR", "test"))
}

// -----------------------------------------------------------------------------

func TestSetTargets(t *testing.T) {
	db := newMemDB()
	svc := testService(db)

	target, err := svc.SetUpperTarget("u1", "005930", dec("100"))
	if err != nil {
		t.Fatal(err)
	}
	if target.UpperTarget.String() != "100" || !target.Enabled {
		t.Fatalf("target=%+v", target)
	}

	target, err = svc.SetLowerTarget("u1", "005930", dec("50"))
	if err != nil {
		t.Fatal(err)
	}
	if target.UpperTarget.String() != "100" || target.LowerTarget.String() != "50" {
		t.Fatalf("directions should coexist: %+v", target)
	}
}

// -----------------------------------------------------------------------------

func TestConflictingTargetsRejected(t *testing.T) {
	db := newMemDB()
	svc := testService(db)

	if _, err := svc.SetLowerTarget("u1", "005930", dec("150")); err != nil {
		t.Fatal(err)
	}

	// Upper at or below the existing lower is a rule violation
	_, err := svc.SetUpperTarget("u1", "005930", dec("150"))
	if !helpers.IsBusinessRuleError(err) {
		t.Fatalf("upper == lower: err=%v, want rule violation", err)
	}
	_, err = svc.SetUpperTarget("u1", "005930", dec("120"))
	if !helpers.IsBusinessRuleError(err) {
		t.Fatalf("upper < lower: err=%v, want rule violation", err)
	}

	// And upper strictly above is fine
	if _, err := svc.SetUpperTarget("u1", "005930", dec("151")); err != nil {
		t.Fatalf("valid upper rejected: %v", err)
	}

	// Symmetric check for lower vs existing upper
	_, err = svc.SetLowerTarget("u2", "005930", dec("100"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SetUpperTarget("u2", "005930", dec("200")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SetLowerTarget("u2", "005930", dec("200")); !helpers.IsBusinessRuleError(err) {
		t.Fatalf("lower == upper: err=%v, want rule violation", err)
	}
}

// -----------------------------------------------------------------------------

func TestNonPositivePriceRejected(t *testing.T) {
	svc := testService(newMemDB())

	if _, err := svc.SetUpperTarget("u1", "005930", dec("0")); !helpers.IsBusinessRuleError(err) {
		t.Errorf("zero price: err=%v", err)
	}
	if _, err := svc.SetLowerTarget("u1", "005930", dec("-5")); !helpers.IsBusinessRuleError(err) {
		t.Errorf("negative price: err=%v", err)
	}
}

// -----------------------------------------------------------------------------

func TestClearLastDirectionDeletesRecord(t *testing.T) {
	db := newMemDB()
	svc := testService(db)

	svc.SetUpperTarget("u1", "005930", dec("100"))
	svc.SetLowerTarget("u1", "005930", dec("50"))

	if err := svc.ClearUpperTarget("u1", "005930"); err != nil {
		t.Fatal(err)
	}

	// Lower remains, record survives
	target, _ := db.GetPriceTarget("u1", "005930")
	if target == nil || target.UpperTarget != nil || target.LowerTarget == nil {
		t.Fatalf("target after clearing upper: %+v", target)
	}

	if err := svc.ClearLowerTarget("u1", "005930"); err != nil {
		t.Fatal(err)
	}

	// Both directions cleared: no record at all
	target, _ = db.GetPriceTarget("u1", "005930")
	if target != nil {
		t.Fatalf("record should be deleted, got %+v", target)
	}
}

// -----------------------------------------------------------------------------

func TestClearUnsetDirection(t *testing.T) {
	db := newMemDB()
	svc := testService(db)

	if err := svc.ClearUpperTarget("u1", "005930"); !errors.Is(err, ErrTargetNotFound) {
		t.Errorf("clear on missing record: err=%v", err)
	}

	svc.SetLowerTarget("u1", "005930", dec("50"))
	if err := svc.ClearUpperTarget("u1", "005930"); !errors.Is(err, ErrTargetNotFound) {
		t.Errorf("clear on unset direction: err=%v", err)
	}
}

// -----------------------------------------------------------------------------

// Setting a direction again resets only that direction's trigger state.
func TestSetResetsOwnTriggerStateOnly(t *testing.T) {
	db := newMemDB()
	svc := testService(db)

	svc.SetUpperTarget("u1", "005930", dec("100"))
	svc.SetLowerTarget("u1", "005930", dec("50"))

	now := time.Now().UTC()
	db.MarkTriggered("u1", "005930", "UPPER", now)
	db.MarkTriggered("u1", "005930", "LOWER", now)

	if _, err := svc.SetUpperTarget("u1", "005930", dec("120")); err != nil {
		t.Fatal(err)
	}

	target, _ := db.GetPriceTarget("u1", "005930")
	if target.UpperTriggered || target.UpperTriggeredAt != nil {
		t.Errorf("upper trigger state should be reset: %+v", target)
	}
	if !target.LowerTriggered || target.LowerTriggeredAt == nil {
		t.Errorf("lower trigger state should be untouched: %+v", target)
	}
}

// -----------------------------------------------------------------------------

func TestListHistoryLimits(t *testing.T) {
	db := newMemDB()
	svc := testService(db)

	svc.SetUpperTarget("u1", "005930", dec("100"))
	e := testEngine(db)
	e.Evaluate("005930", dec("101"), time.Now().UTC())

	events, err := svc.ListHistory("u1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("history=%v", events)
	}
}
