package storage

import (
	"database/sql"
	"fmt"
	"time"

	"tick-relay/src/logger"
	"tick-relay/src/models"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

type SQLiteDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewSQLiteDB(cfg *models.MConfig, log *logger.Logger) (*SQLiteDB, error) {
	return &SQLiteDB{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) Initialize() error {
	dsn := d.Config.Storage.DBPath

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

// createTables is idempotent: price targets and alert history must survive
// process restarts.
func (d *SQLiteDB) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS price_targets (
			user_id TEXT,
			instrument_code TEXT,
			upper_target TEXT,
			lower_target TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			upper_triggered INTEGER NOT NULL DEFAULT 0,
			upper_triggered_at INTEGER,
			lower_triggered INTEGER NOT NULL DEFAULT 0,
			lower_triggered_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, instrument_code)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create price_targets: %w", err)
	}

	query = `
		CREATE TABLE IF NOT EXISTS alert_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			instrument_code TEXT NOT NULL,
			instrument_name TEXT,
			direction TEXT NOT NULL,
			target_price TEXT NOT NULL,
			trigger_price TEXT NOT NULL,
			triggered_at INTEGER NOT NULL
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create alert_events: %w", err)
	}

	query = `
		CREATE TABLE IF NOT EXISTS instruments (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	if _, err := d.DB.Exec(`CREATE INDEX IF NOT EXISTS idx_targets_instrument ON price_targets (instrument_code, enabled);`); err != nil {
		return fmt.Errorf("failed to create target index: %w", err)
	}
	if _, err := d.DB.Exec(`CREATE INDEX IF NOT EXISTS idx_events_user ON alert_events (user_id, triggered_at);`); err != nil {
		return fmt.Errorf("failed to create event index: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) GetPriceTarget(userID, instrumentCode string) (*models.MPriceTarget, error) {
	row := d.DB.QueryRow(`
		SELECT user_id, instrument_code, upper_target, lower_target, enabled,
		       upper_triggered, upper_triggered_at, lower_triggered, lower_triggered_at,
		       created_at, updated_at
		FROM price_targets WHERE user_id = ? AND instrument_code = ?
	`, userID, instrumentCode)

	target, err := scanTargetUnix(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return target, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) ListTargetsByUser(userID string) ([]models.MPriceTarget, error) {
	rows, err := d.DB.Query(`
		SELECT user_id, instrument_code, upper_target, lower_target, enabled,
		       upper_triggered, upper_triggered_at, lower_triggered, lower_triggered_at,
		       created_at, updated_at
		FROM price_targets WHERE user_id = ? ORDER BY instrument_code
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTargetsUnix(rows)
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) ListEnabledTargets(instrumentCode string) ([]models.MPriceTarget, error) {
	rows, err := d.DB.Query(`
		SELECT user_id, instrument_code, upper_target, lower_target, enabled,
		       upper_triggered, upper_triggered_at, lower_triggered, lower_triggered_at,
		       created_at, updated_at
		FROM price_targets WHERE instrument_code = ? AND enabled = 1
	`, instrumentCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTargetsUnix(rows)
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) UpsertPriceTarget(t *models.MPriceTarget) error {
	_, err := d.DB.Exec(`
		INSERT INTO price_targets (user_id, instrument_code, upper_target, lower_target, enabled,
			upper_triggered, upper_triggered_at, lower_triggered, lower_triggered_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, instrument_code) DO UPDATE SET
			upper_target = excluded.upper_target,
			lower_target = excluded.lower_target,
			enabled = excluded.enabled,
			upper_triggered = excluded.upper_triggered,
			upper_triggered_at = excluded.upper_triggered_at,
			lower_triggered = excluded.lower_triggered,
			lower_triggered_at = excluded.lower_triggered_at,
			updated_at = excluded.updated_at
	`,
		t.UserID, t.InstrumentCode, decimalString(t.UpperTarget), decimalString(t.LowerTarget),
		boolInt(t.Enabled), boolInt(t.UpperTriggered), unixPtr(t.UpperTriggeredAt),
		boolInt(t.LowerTriggered), unixPtr(t.LowerTriggeredAt),
		t.CreatedAt.Unix(), t.UpdatedAt.Unix())
	return err
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) DeletePriceTarget(userID, instrumentCode string) error {
	_, err := d.DB.Exec(`DELETE FROM price_targets WHERE user_id = ? AND instrument_code = ?`, userID, instrumentCode)
	return err
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) MarkTriggered(userID, instrumentCode string, dir models.MDirection, at time.Time) error {
	column := "upper"
	if dir == models.DirectionLower {
		column = "lower"
	}

	query := fmt.Sprintf(`
		UPDATE price_targets
		SET %s_triggered = 1, %s_triggered_at = ?, updated_at = ?
		WHERE user_id = ? AND instrument_code = ?
	`, column, column)

	_, err := d.DB.Exec(query, at.Unix(), at.Unix(), userID, instrumentCode)
	return err
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) SaveAlertEvent(e *models.MAlertEvent) error {
	_, err := d.DB.Exec(`
		INSERT INTO alert_events (user_id, instrument_code, instrument_name, direction, target_price, trigger_price, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.UserID, e.InstrumentCode, e.InstrumentName, string(e.Direction),
		e.TargetPrice.String(), e.TriggerPrice.String(), e.TriggeredAt.Unix())
	return err
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) ListAlertEvents(userID string, limit int) ([]models.MAlertEvent, error) {
	rows, err := d.DB.Query(`
		SELECT user_id, instrument_code, instrument_name, direction, target_price, trigger_price, triggered_at
		FROM alert_events WHERE user_id = ? ORDER BY triggered_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.MAlertEvent
	for rows.Next() {
		var e models.MAlertEvent
		var direction, targetPrice, triggerPrice string
		var triggeredAt int64
		if err := rows.Scan(&e.UserID, &e.InstrumentCode, &e.InstrumentName, &direction, &targetPrice, &triggerPrice, &triggeredAt); err != nil {
			return nil, err
		}
		e.Direction = models.MDirection(direction)
		e.TargetPrice = parseStoredDecimal(targetPrice)
		e.TriggerPrice = parseStoredDecimal(triggerPrice)
		e.TriggeredAt = time.Unix(triggeredAt, 0).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) GetInstrument(code string) (*models.MInstrument, error) {
	var inst models.MInstrument
	var updatedAt int64
	err := d.DB.QueryRow(`SELECT code, name, updated_at FROM instruments WHERE code = ?`, code).
		Scan(&inst.Code, &inst.Name, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	inst.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &inst, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) UpsertInstruments(instruments []models.MInstrument) error {
	if len(instruments) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO instruments (code, name, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (code) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, inst := range instruments {
		if _, err := stmt.Exec(inst.Code, inst.Name, time.Now().UTC().Unix()); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Scan helpers shared with the Postgres backend
// -----------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTargetUnix(row rowScanner) (*models.MPriceTarget, error) {
	var t models.MPriceTarget
	var upper, lower sql.NullString
	var enabled, upperTriggered, lowerTriggered int
	var upperAt, lowerAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&t.UserID, &t.InstrumentCode, &upper, &lower, &enabled,
		&upperTriggered, &upperAt, &lowerTriggered, &lowerAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.UpperTarget = nullDecimal(upper)
	t.LowerTarget = nullDecimal(lower)
	t.Enabled = enabled != 0
	t.UpperTriggered = upperTriggered != 0
	t.LowerTriggered = lowerTriggered != 0
	t.UpperTriggeredAt = nullUnix(upperAt)
	t.LowerTriggeredAt = nullUnix(lowerAt)
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &t, nil
}

// -----------------------------------------------------------------------------

func collectTargetsUnix(rows *sql.Rows) ([]models.MPriceTarget, error) {
	var targets []models.MPriceTarget
	for rows.Next() {
		t, err := scanTargetUnix(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *t)
	}
	return targets, rows.Err()
}

// -----------------------------------------------------------------------------

func decimalString(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

// -----------------------------------------------------------------------------

func nullDecimal(s sql.NullString) *decimal.Decimal {
	if !s.Valid {
		return nil
	}
	d := parseStoredDecimal(s.String)
	return &d
}

// -----------------------------------------------------------------------------

// parseStoredDecimal trusts values we wrote ourselves; an unparseable value
// means a corrupted row and decodes to zero rather than failing the read.
func parseStoredDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// -----------------------------------------------------------------------------

func nullUnix(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}

// -----------------------------------------------------------------------------

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// -----------------------------------------------------------------------------

func unixPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}
