package storage

import (
	"database/sql"
	"fmt"
	"time"

	"tick-relay/src/logger"
	"tick-relay/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

type PostgresDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresDB(cfg *models.MConfig, log *logger.Logger) (*PostgresDB, error) {
	return &PostgresDB{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize() error {
	db, err := sql.Open("postgres", d.Config.Storage.DBConnectionString)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db
	d.DB.SetMaxOpenConns(25)
	d.DB.SetMaxIdleConns(5)
	d.DB.SetConnMaxLifetime(5 * time.Minute)

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS price_targets (
			user_id TEXT,
			instrument_code TEXT,
			upper_target NUMERIC,
			lower_target NUMERIC,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			upper_triggered BOOLEAN NOT NULL DEFAULT FALSE,
			upper_triggered_at TIMESTAMPTZ,
			lower_triggered BOOLEAN NOT NULL DEFAULT FALSE,
			lower_triggered_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, instrument_code)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create price_targets: %w", err)
	}

	query = `
		CREATE TABLE IF NOT EXISTS alert_events (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			instrument_code TEXT NOT NULL,
			instrument_name TEXT,
			direction TEXT NOT NULL,
			target_price NUMERIC NOT NULL,
			trigger_price NUMERIC NOT NULL,
			triggered_at TIMESTAMPTZ NOT NULL
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create alert_events: %w", err)
	}

	query = `
		CREATE TABLE IF NOT EXISTS instruments (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
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

func (d *PostgresDB) GetPriceTarget(userID, instrumentCode string) (*models.MPriceTarget, error) {
	row := d.DB.QueryRow(`
		SELECT user_id, instrument_code, upper_target::text, lower_target::text, enabled,
		       upper_triggered, upper_triggered_at, lower_triggered, lower_triggered_at,
		       created_at, updated_at
		FROM price_targets WHERE user_id = $1 AND instrument_code = $2
	`, userID, instrumentCode)

	target, err := scanTargetTime(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return target, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) ListTargetsByUser(userID string) ([]models.MPriceTarget, error) {
	rows, err := d.DB.Query(`
		SELECT user_id, instrument_code, upper_target::text, lower_target::text, enabled,
		       upper_triggered, upper_triggered_at, lower_triggered, lower_triggered_at,
		       created_at, updated_at
		FROM price_targets WHERE user_id = $1 ORDER BY instrument_code
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTargetsTime(rows)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) ListEnabledTargets(instrumentCode string) ([]models.MPriceTarget, error) {
	rows, err := d.DB.Query(`
		SELECT user_id, instrument_code, upper_target::text, lower_target::text, enabled,
		       upper_triggered, upper_triggered_at, lower_triggered, lower_triggered_at,
		       created_at, updated_at
		FROM price_targets WHERE instrument_code = $1 AND enabled = TRUE
	`, instrumentCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTargetsTime(rows)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) UpsertPriceTarget(t *models.MPriceTarget) error {
	_, err := d.DB.Exec(`
		INSERT INTO price_targets (user_id, instrument_code, upper_target, lower_target, enabled,
			upper_triggered, upper_triggered_at, lower_triggered, lower_triggered_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, instrument_code) DO UPDATE SET
			upper_target = EXCLUDED.upper_target,
			lower_target = EXCLUDED.lower_target,
			enabled = EXCLUDED.enabled,
			upper_triggered = EXCLUDED.upper_triggered,
			upper_triggered_at = EXCLUDED.upper_triggered_at,
			lower_triggered = EXCLUDED.lower_triggered,
			lower_triggered_at = EXCLUDED.lower_triggered_at,
			updated_at = EXCLUDED.updated_at
	`,
		t.UserID, t.InstrumentCode, decimalString(t.UpperTarget), decimalString(t.LowerTarget),
		t.Enabled, t.UpperTriggered, t.UpperTriggeredAt, t.LowerTriggered, t.LowerTriggeredAt,
		t.CreatedAt, t.UpdatedAt)
	return err
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) DeletePriceTarget(userID, instrumentCode string) error {
	_, err := d.DB.Exec(`DELETE FROM price_targets WHERE user_id = $1 AND instrument_code = $2`, userID, instrumentCode)
	return err
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) MarkTriggered(userID, instrumentCode string, dir models.MDirection, at time.Time) error {
	column := "upper"
	if dir == models.DirectionLower {
		column = "lower"
	}

	query := fmt.Sprintf(`
		UPDATE price_targets
		SET %s_triggered = TRUE, %s_triggered_at = $1, updated_at = $1
		WHERE user_id = $2 AND instrument_code = $3
	`, column, column)

	_, err := d.DB.Exec(query, at, userID, instrumentCode)
	return err
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) SaveAlertEvent(e *models.MAlertEvent) error {
	_, err := d.DB.Exec(`
		INSERT INTO alert_events (user_id, instrument_code, instrument_name, direction, target_price, trigger_price, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.UserID, e.InstrumentCode, e.InstrumentName, string(e.Direction),
		e.TargetPrice.String(), e.TriggerPrice.String(), e.TriggeredAt)
	return err
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) ListAlertEvents(userID string, limit int) ([]models.MAlertEvent, error) {
	rows, err := d.DB.Query(`
		SELECT user_id, instrument_code, instrument_name, direction, target_price::text, trigger_price::text, triggered_at
		FROM alert_events WHERE user_id = $1 ORDER BY triggered_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.MAlertEvent
	for rows.Next() {
		var e models.MAlertEvent
		var direction, targetPrice, triggerPrice string
		if err := rows.Scan(&e.UserID, &e.InstrumentCode, &e.InstrumentName, &direction, &targetPrice, &triggerPrice, &e.TriggeredAt); err != nil {
			return nil, err
		}
		e.Direction = models.MDirection(direction)
		e.TargetPrice = parseStoredDecimal(targetPrice)
		e.TriggerPrice = parseStoredDecimal(triggerPrice)
		events = append(events, e)
	}
	return events, rows.Err()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) GetInstrument(code string) (*models.MInstrument, error) {
	var inst models.MInstrument
	err := d.DB.QueryRow(`SELECT code, name, updated_at FROM instruments WHERE code = $1`, code).
		Scan(&inst.Code, &inst.Name, &inst.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) UpsertInstruments(instruments []models.MInstrument) error {
	if len(instruments) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO instruments (code, name, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, inst := range instruments {
		if _, err := stmt.Exec(inst.Code, inst.Name, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------

func scanTargetTime(row rowScanner) (*models.MPriceTarget, error) {
	var t models.MPriceTarget
	var upper, lower sql.NullString
	var upperAt, lowerAt sql.NullTime

	err := row.Scan(&t.UserID, &t.InstrumentCode, &upper, &lower, &t.Enabled,
		&t.UpperTriggered, &upperAt, &t.LowerTriggered, &lowerAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.UpperTarget = nullDecimal(upper)
	t.LowerTarget = nullDecimal(lower)
	if upperAt.Valid {
		at := upperAt.Time
		t.UpperTriggeredAt = &at
	}
	if lowerAt.Valid {
		at := lowerAt.Time
		t.LowerTriggeredAt = &at
	}
	return &t, nil
}

// -----------------------------------------------------------------------------

func collectTargetsTime(rows *sql.Rows) ([]models.MPriceTarget, error) {
	var targets []models.MPriceTarget
	for rows.Next() {
		t, err := scanTargetTime(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *t)
	}
	return targets, rows.Err()
}
