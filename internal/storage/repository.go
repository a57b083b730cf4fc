package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"mortality-alerts/internal/mortality"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS hospital_mortality_monthly (
        hospital_name  TEXT        NOT NULL,
        year           INTEGER     NOT NULL,
        month          INTEGER     NOT NULL CHECK (month BETWEEN 1 AND 12),
        total_patients INTEGER     NOT NULL CHECK (total_patients >= 0),
        deaths         INTEGER     NOT NULL CHECK (deaths >= 0),
        mortality_rate NUMERIC(6,2) NOT NULL,
        created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (hospital_name, year, month)
    );
    CREATE TABLE IF NOT EXISTS hospital_mortality_daily (
        hospital_name  TEXT        NOT NULL,
        date           DATE        NOT NULL,
        total_patients INTEGER     NOT NULL,
        deaths         INTEGER     NOT NULL,
        mortality_rate NUMERIC(6,2) NOT NULL,
        PRIMARY KEY (hospital_name, date)
    );
    CREATE TABLE IF NOT EXISTS hospital_statistics (
        hospital_name      TEXT PRIMARY KEY,
        avg_mortality_rate DOUBLE PRECISION NOT NULL,
        std_deviation      DOUBLE PRECISION NOT NULL,
        threshold_3sd      DOUBLE PRECISION NOT NULL,
        last_updated       TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS alert_deliveries (
        id             BIGSERIAL PRIMARY KEY,
        run_id         TEXT        NOT NULL,
        model_id       INTEGER     NOT NULL,
        period         TEXT        NOT NULL,
        hospital_count INTEGER     NOT NULL,
        channel        TEXT        NOT NULL,
        success        BOOLEAN     NOT NULL,
        error          TEXT,
        created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	upsertMonthlySQL = `INSERT INTO hospital_mortality_monthly (
        hospital_name,
        year,
        month,
        total_patients,
        deaths,
        mortality_rate
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (hospital_name, year, month) DO UPDATE
    SET
        total_patients = EXCLUDED.total_patients,
        deaths         = EXCLUDED.deaths,
        mortality_rate = EXCLUDED.mortality_rate,
        created_at     = now()
    RETURNING (xmax = 0) AS inserted;`

	listMonthlySQL = `SELECT
        hospital_name,
        year,
        month,
        total_patients,
        deaths,
        mortality_rate::text,
        created_at
    FROM hospital_mortality_monthly
    WHERE ($1 = '' OR hospital_name = $1)
      AND ($2::int IS NULL OR year * 100 + month >= $2::int)
      AND ($3::int IS NULL OR year * 100 + month <= $3::int)
    ORDER BY hospital_name, year DESC, month DESC;`

	listHospitalsSQL = `SELECT DISTINCT hospital_name
    FROM hospital_mortality_monthly
    ORDER BY hospital_name;`

	upsertDailySQL = `INSERT INTO hospital_mortality_daily (
        hospital_name,
        date,
        total_patients,
        deaths,
        mortality_rate
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (hospital_name, date) DO UPDATE
    SET
        total_patients = EXCLUDED.total_patients,
        deaths         = EXCLUDED.deaths,
        mortality_rate = EXCLUDED.mortality_rate;`

	listDailySQL = `SELECT
        hospital_name,
        date,
        total_patients,
        deaths,
        mortality_rate::text
    FROM hospital_mortality_daily
    WHERE ($1 = '' OR hospital_name = $1)
      AND date >= $2
      AND date < $3
    ORDER BY hospital_name, date;`

	upsertStatisticsSQL = `INSERT INTO hospital_statistics (
        hospital_name,
        avg_mortality_rate,
        std_deviation,
        threshold_3sd,
        last_updated
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (hospital_name) DO UPDATE
    SET
        avg_mortality_rate = EXCLUDED.avg_mortality_rate,
        std_deviation      = EXCLUDED.std_deviation,
        threshold_3sd      = EXCLUDED.threshold_3sd,
        last_updated       = EXCLUDED.last_updated;`

	listStatisticsSQL = `SELECT
        hospital_name,
        avg_mortality_rate,
        std_deviation,
        threshold_3sd,
        last_updated
    FROM hospital_statistics
    ORDER BY hospital_name;`

	insertDeliverySQL = `INSERT INTO alert_deliveries (
        run_id,
        model_id,
        period,
        hospital_count,
        channel,
        success,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, created_at;`

	listRecentDeliveriesSQL = `SELECT
        id,
        run_id,
        model_id,
        period,
        hospital_count,
        channel,
        success,
        error,
        created_at
    FROM alert_deliveries
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// MonthlyStore persists per-hospital monthly aggregates.
type MonthlyStore interface {
	ListHospitals(ctx context.Context) ([]string, error)
	ListMonthly(ctx context.Context, filter MonthlyFilter) ([]mortality.MonthlyRecord, error)
	UpsertMonthly(ctx context.Context, records []mortality.MonthlyRecord) (UpsertResult, error)
}

// DailyStore persists per-hospital daily aggregates.
type DailyStore interface {
	UpsertDaily(ctx context.Context, records []mortality.DailyRecord) error
	ListDaily(ctx context.Context, hospital string, from, to time.Time) ([]mortality.DailyRecord, error)
}

// StatisticsStore persists per-hospital long-run statistics.
type StatisticsStore interface {
	UpsertStatistics(ctx context.Context, stats []mortality.HospitalStatistics) error
	ListStatistics(ctx context.Context) ([]mortality.HospitalStatistics, error)
}

// DeliveryStore audits notifier dispatches.
type DeliveryStore interface {
	InsertDelivery(ctx context.Context, rec DeliveryRecord) (DeliveryRecord, error)
	ListRecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// HistoricalStore is the full surface the sync jobs and services need.
type HistoricalStore interface {
	MonthlyStore
	DailyStore
	StatisticsStore
	DeliveryStore
}

// Store is the PostgreSQL-backed historical store.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ HistoricalStore = (*Store)(nil)
	_ AdvisoryLocker  = (*Store)(nil)
)

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

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
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
		// best effort; the session lock dies with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ListHospitals returns the sorted distinct hospital names with monthly data.
func (s *Store) ListHospitals(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listHospitalsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list hospitals: %w", queryErr)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return names, nil
}

// ListMonthly lists monthly rows, newest first within each hospital.
func (s *Store) ListMonthly(ctx context.Context, filter MonthlyFilter) ([]mortality.MonthlyRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listMonthlySQL, filter.Hospital, periodKey(filter.From), periodKey(filter.To))
	if queryErr != nil {
		return nil, fmt.Errorf("list monthly: %w", queryErr)
	}
	defer rows.Close()

	records := make([]mortality.MonthlyRecord, 0)
	for rows.Next() {
		rec, scanErr := scanMonthly(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// UpsertMonthly writes all records in one transaction, overwriting existing
// (hospital, year, month) rows.
func (s *Store) UpsertMonthly(ctx context.Context, records []mortality.MonthlyRecord) (UpsertResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return UpsertResult{}, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("begin monthly upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var res UpsertResult
	for _, rec := range records {
		var inserted bool
		if err := tx.QueryRow(ctx, upsertMonthlySQL,
			rec.HospitalName,
			rec.Year,
			rec.Month,
			rec.TotalPatients,
			rec.Deaths,
			formatRate(rec.MortalityRate),
		).Scan(&inserted); err != nil {
			return UpsertResult{}, fmt.Errorf("upsert monthly %s %s: %w", rec.HospitalName, rec.Period(), err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return UpsertResult{}, fmt.Errorf("commit monthly upsert: %w", err)
	}
	return res, nil
}

// UpsertDaily writes daily rows in one batch.
func (s *Store) UpsertDaily(ctx context.Context, records []mortality.DailyRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(upsertDailySQL,
			rec.HospitalName,
			rec.Date,
			rec.TotalPatients,
			rec.Deaths,
			formatRate(rec.MortalityRate),
		)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert daily: %w", err)
	}
	return nil
}

// ListDaily lists daily rows in [from, to). An empty hospital lists all.
func (s *Store) ListDaily(ctx context.Context, hospital string, from, to time.Time) ([]mortality.DailyRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDailySQL, hospital, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list daily: %w", queryErr)
	}
	defer rows.Close()

	records := make([]mortality.DailyRecord, 0)
	for rows.Next() {
		var (
			rec     mortality.DailyRecord
			rateStr string
		)
		if err := rows.Scan(&rec.HospitalName, &rec.Date, &rec.TotalPatients, &rec.Deaths, &rateStr); err != nil {
			return nil, err
		}
		rate, convErr := parseRate(rateStr)
		if convErr != nil {
			return nil, convErr
		}
		rec.MortalityRate = rate
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// UpsertStatistics replaces the statistics row of each hospital given.
func (s *Store) UpsertStatistics(ctx context.Context, stats []mortality.HospitalStatistics) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, st := range stats {
		batch.Queue(upsertStatisticsSQL,
			st.HospitalName,
			st.AvgMortalityRate,
			st.StdDeviation,
			st.Threshold3SD,
			st.LastUpdated,
		)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert statistics: %w", err)
	}
	return nil
}

// ListStatistics lists every hospital's statistics row.
func (s *Store) ListStatistics(ctx context.Context) ([]mortality.HospitalStatistics, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listStatisticsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list statistics: %w", queryErr)
	}
	defer rows.Close()

	stats := make([]mortality.HospitalStatistics, 0)
	for rows.Next() {
		var st mortality.HospitalStatistics
		if err := rows.Scan(&st.HospitalName, &st.AvgMortalityRate, &st.StdDeviation, &st.Threshold3SD, &st.LastUpdated); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return stats, nil
}

// InsertDelivery records a notifier dispatch.
func (s *Store) InsertDelivery(ctx context.Context, rec DeliveryRecord) (DeliveryRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return DeliveryRecord{}, err
	}

	var errMsg interface{}
	if rec.Error != nil {
		errMsg = *rec.Error
	}

	row := pool.QueryRow(ctx, insertDeliverySQL,
		rec.RunID,
		rec.ModelID,
		rec.Period,
		rec.HospitalCount,
		rec.Channel,
		rec.Success,
		errMsg,
	)
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return DeliveryRecord{}, fmt.Errorf("insert delivery: %w", scanErr)
	}
	return rec, nil
}

// ListRecentDeliveries lists the most recent deliveries.
func (s *Store) ListRecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentDeliveriesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent deliveries: %w", queryErr)
	}
	defer rows.Close()

	out := make([]DeliveryRecord, 0, limit)
	for rows.Next() {
		var (
			rec    DeliveryRecord
			errMsg sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.ModelID,
			&rec.Period,
			&rec.HospitalCount,
			&rec.Channel,
			&rec.Success,
			&errMsg,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			msg := errMsg.String
			rec.Error = &msg
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanMonthly(rows pgx.Rows) (mortality.MonthlyRecord, error) {
	var (
		rec     mortality.MonthlyRecord
		rateStr string
	)
	if err := rows.Scan(
		&rec.HospitalName,
		&rec.Year,
		&rec.Month,
		&rec.TotalPatients,
		&rec.Deaths,
		&rateStr,
		&rec.CreatedAt,
	); err != nil {
		return mortality.MonthlyRecord{}, err
	}
	rate, err := parseRate(rateStr)
	if err != nil {
		return mortality.MonthlyRecord{}, err
	}
	rec.MortalityRate = rate
	return rec, nil
}

func periodKey(p *mortality.Period) interface{} {
	if p == nil {
		return nil
	}
	return p.Year*100 + p.Month
}

func formatRate(rate float64) string {
	return decimal.NewFromFloat(rate).StringFixed(2)
}

func parseRate(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse mortality rate: %w", err)
	}
	return d.InexactFloat64(), nil
}
