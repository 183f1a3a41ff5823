package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"gold-rate-alerts/internal/alerts"
	"gold-rate-alerts/internal/ingest"
	"gold-rate-alerts/internal/rates"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	insertRateSQL = `INSERT INTO rate_history (
        city,
        metal,
        base_rate,
        tier_22k,
        tier_18k,
        tier_14k,
        usd_per_oz,
        usd_inr,
        source,
        cycle,
        stale,
        captured_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    )
    ON CONFLICT (city, metal, captured_at) DO UPDATE
    SET
        base_rate  = EXCLUDED.base_rate,
        tier_22k   = EXCLUDED.tier_22k,
        tier_18k   = EXCLUDED.tier_18k,
        tier_14k   = EXCLUDED.tier_14k,
        usd_per_oz = EXCLUDED.usd_per_oz,
        usd_inr    = EXCLUDED.usd_inr,
        source     = EXCLUDED.source,
        cycle      = EXCLUDED.cycle,
        stale      = EXCLUDED.stale;`

	listRatesBetweenSQL = `SELECT
        city, metal, base_rate, tier_22k, tier_18k, tier_14k,
        usd_per_oz, usd_inr, source, cycle, stale, captured_at, created_at
    FROM rate_history
    WHERE city = $1
      AND metal = $2
      AND captured_at >= $3
      AND captured_at < $4
    ORDER BY captured_at;`

	listRecentRatesSQL = `SELECT
        city, metal, base_rate, tier_22k, tier_18k, tier_14k,
        usd_per_oz, usd_inr, source, cycle, stale, captured_at, created_at
    FROM rate_history
    WHERE city = $1
    ORDER BY captured_at DESC
    LIMIT $2;`

	saveAlertSQL = `INSERT INTO price_alerts (
        id, owner_id, city, metal, tier, condition, target, state, rearm, created_at, last_triggered_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    ON CONFLICT (id) DO UPDATE
    SET state             = EXCLUDED.state,
        rearm             = EXCLUDED.rearm,
        last_triggered_at = EXCLUDED.last_triggered_at;`

	updateAlertStateSQL = `UPDATE price_alerts
    SET state = $3,
        last_triggered_at = COALESCE($4, last_triggered_at)
    WHERE id = $1
      AND state = $2;`

	listAlertsSQL = `SELECT
        id, owner_id, city, metal, tier, condition, target, state, rearm, created_at, last_triggered_at
    FROM price_alerts
    WHERE state <> 'cancelled'
    ORDER BY created_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store aggregates Postgres access for rate history and alert persistence.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. The run loop holds it for the duration of a cycle so only
// one writer ever feeds the cache, even if a second instance is started by
// mistake.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertSnapshot persists one accepted snapshot.
func (s *Store) InsertSnapshot(ctx context.Context, snap rates.Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	row := rateRowFromSnapshot(snap)
	_, execErr := pool.Exec(ctx, insertRateSQL,
		row.City,
		row.Metal,
		row.Base.String(),
		decimalArg(row.Tier22K),
		decimalArg(row.Tier18K),
		decimalArg(row.Tier14K),
		decimalArg(row.USDPerOz),
		decimalArg(row.USDINR),
		row.Source,
		row.Cycle,
		row.Stale,
		row.CapturedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert rate row: %w", execErr)
	}
	return nil
}

// ListRatesBetween lists gold observations for a city inside a window.
func (s *Store) ListRatesBetween(ctx context.Context, city string, metal rates.Metal, from, to time.Time) ([]RateRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRatesBetweenSQL, city, string(metal), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list rates between: %w", queryErr)
	}
	defer rows.Close()

	return collectRateRows(rows)
}

// ListRecentRates lists a city's most recent observations across metals.
func (s *Store) ListRecentRates(ctx context.Context, city string, limit int) ([]RateRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRatesSQL, city, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent rates: %w", queryErr)
	}
	defer rows.Close()

	return collectRateRows(rows)
}

// SaveAlert persists an alert definition.
func (s *Store) SaveAlert(ctx context.Context, alert alerts.Alert) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var triggeredAt interface{}
	if alert.LastTriggeredAt != nil {
		triggeredAt = *alert.LastTriggeredAt
	}

	_, execErr := pool.Exec(ctx, saveAlertSQL,
		alert.ID,
		alert.Owner,
		alert.City,
		string(alert.Metal),
		string(alert.Tier),
		string(alert.Condition),
		alert.Target.String(),
		string(alert.State),
		string(alert.Rearm),
		alert.CreatedAt,
		triggeredAt,
	)
	if execErr != nil {
		return fmt.Errorf("save alert: %w", execErr)
	}
	return nil
}

// UpdateAlertState performs the durable compare-and-set matching the
// in-memory transition. Reports whether a row moved.
func (s *Store) UpdateAlertState(ctx context.Context, id uuid.UUID, from, to alerts.State, triggeredAt *time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var ts interface{}
	if triggeredAt != nil {
		ts = *triggeredAt
	}

	cmdTag, execErr := pool.Exec(ctx, updateAlertStateSQL, id, string(from), string(to), ts)
	if execErr != nil {
		return false, fmt.Errorf("update alert state: %w", execErr)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// ListAlerts returns every non-cancelled alert.
func (s *Store) ListAlerts(ctx context.Context) ([]alerts.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	defer rows.Close()

	out := make([]alerts.Alert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func rateRowFromSnapshot(snap rates.Snapshot) RateRow {
	row := RateRow{
		City:       snap.City,
		Metal:      string(snap.Metal),
		Base:       snap.Base,
		Source:     snap.Source,
		Cycle:      int64(snap.Cycle),
		Stale:      snap.Stale,
		CapturedAt: snap.CapturedAt,
	}
	if v, ok := snap.Tiers[rates.Tier22K]; ok && snap.Metal == rates.Gold {
		row.Tier22K = &v
	}
	if v, ok := snap.Tiers[rates.Tier18K]; ok && snap.Metal == rates.Gold {
		row.Tier18K = &v
	}
	if v, ok := snap.Tiers[rates.Tier14K]; ok && snap.Metal == rates.Gold {
		row.Tier14K = &v
	}
	if !snap.USDPerOz.IsZero() {
		row.USDPerOz = &snap.USDPerOz
	}
	if !snap.USDINR.IsZero() {
		row.USDINR = &snap.USDINR
	}
	return row
}

func decimalArg(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func collectRateRows(rows pgx.Rows) ([]RateRow, error) {
	out := make([]RateRow, 0)
	for rows.Next() {
		row, err := scanRateRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanRateRow(rows pgx.Rows) (RateRow, error) {
	var (
		row        RateRow
		baseStr    string
		tier22     sql.NullString
		tier18     sql.NullString
		tier14     sql.NullString
		usdOz      sql.NullString
		usdinr     sql.NullString
		capturedAt time.Time
		createdAt  time.Time
	)

	if err := rows.Scan(
		&row.City,
		&row.Metal,
		&baseStr,
		&tier22,
		&tier18,
		&tier14,
		&usdOz,
		&usdinr,
		&row.Source,
		&row.Cycle,
		&row.Stale,
		&capturedAt,
		&createdAt,
	); err != nil {
		return RateRow{}, err
	}

	base, err := decimal.NewFromString(baseStr)
	if err != nil {
		return RateRow{}, fmt.Errorf("parse base rate: %w", err)
	}
	row.Base = base
	row.CapturedAt = capturedAt
	row.CreatedAt = createdAt

	for _, pair := range []struct {
		src sql.NullString
		dst **decimal.Decimal
	}{
		{tier22, &row.Tier22K},
		{tier18, &row.Tier18K},
		{tier14, &row.Tier14K},
		{usdOz, &row.USDPerOz},
		{usdinr, &row.USDINR},
	} {
		if !pair.src.Valid {
			continue
		}
		value, convErr := decimal.NewFromString(pair.src.String)
		if convErr != nil {
			return RateRow{}, fmt.Errorf("parse rate column: %w", convErr)
		}
		*pair.dst = &value
	}

	return row, nil
}

func scanAlert(rows pgx.Rows) (alerts.Alert, error) {
	var (
		alert       alerts.Alert
		metal       string
		tier        string
		condition   string
		targetStr   string
		state       string
		rearm       string
		triggeredAt sql.NullTime
	)

	if err := rows.Scan(
		&alert.ID,
		&alert.Owner,
		&alert.City,
		&metal,
		&tier,
		&condition,
		&targetStr,
		&state,
		&rearm,
		&alert.CreatedAt,
		&triggeredAt,
	); err != nil {
		return alerts.Alert{}, err
	}

	target, err := decimal.NewFromString(targetStr)
	if err != nil {
		return alerts.Alert{}, fmt.Errorf("parse alert target: %w", err)
	}

	alert.Metal = rates.Metal(metal)
	alert.Tier = rates.Tier(tier)
	alert.Condition = alerts.Condition(condition)
	alert.Target = target
	alert.State = alerts.State(state)
	alert.Rearm = alerts.RearmPolicy(rearm)
	if triggeredAt.Valid {
		ts := triggeredAt.Time
		alert.LastTriggeredAt = &ts
	}

	return alert, nil
}

var (
	_ alerts.Repository = (*Store)(nil)
	_ ingest.History    = (*Store)(nil)
)
