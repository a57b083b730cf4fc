package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"mortality-alerts/internal/config"
	"mortality-alerts/internal/mortality"
)

// DefaultBatchSize caps the number of hospital names sent per expected-% query.
const DefaultBatchSize = 5000

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

const (
	deathsExpr = `SUM(CASE WHEN LOWER(icu_discharge_disposition) LIKE '%death%' THEN 1 ELSE 0 END)`

	monthlyAggregatesTmpl = `SELECT
        hospital_name,
        EXTRACT(YEAR FROM icu_discharge_date)::int  AS year,
        EXTRACT(MONTH FROM icu_discharge_date)::int AS month,
        COUNT(*)                                    AS total_patients,
        ` + deathsExpr + `                          AS deaths
    FROM {{table}}
    WHERE icu_discharge_date IS NOT NULL
    GROUP BY hospital_name, year, month
    ORDER BY hospital_name, year, month;`

	windowAggregatesTmpl = `SELECT
        hospital_name,
        COUNT(*) AS total_patients,
        ` + deathsExpr + ` AS deaths
    FROM {{table}}
    WHERE icu_discharge_date >= $1
      AND icu_discharge_date < $2
    GROUP BY hospital_name
    ORDER BY hospital_name;`

	expectedPercentagesTmpl = `SELECT DISTINCT
        hospital_name,
        expected_death_percentage
    FROM {{table}}
    WHERE hospital_name = ANY($1)
      AND expected_death_percentage IS NOT NULL
    ORDER BY hospital_name;`

	dailyBedDaysTmpl = `WITH days AS (
        SELECT d::date AS day
        FROM generate_series($2::date, $3::date, interval '1 day') AS d
    ),
    admissions AS (
        SELECT
            hospital_name,
            icu_admit_date                         AS admit_ts,
            COALESCE(icu_discharge_date, now())    AS discharge_ts
        FROM {{table}}
        WHERE icu_admit_date IS NOT NULL
          AND ($1 = '' OR hospital_name = $1)
    ),
    daily AS (
        SELECT
            days.day,
            a.hospital_name,
            COUNT(*) FILTER (
                WHERE LEAST(a.discharge_ts, days.day + interval '1 day')
                    - GREATEST(a.admit_ts, days.day::timestamp) >= interval '6 hours'
            ) AS total_pbd
        FROM days
        JOIN admissions a
          ON a.admit_ts::date <= days.day
         AND a.discharge_ts::date >= days.day
        GROUP BY days.day, a.hospital_name
    )
    SELECT day, hospital_name, total_pbd
    FROM daily
    WHERE total_pbd > 0
    ORDER BY hospital_name, day;`
)

// Options parameterise the warehouse client.
type Options struct {
	FactTable    string
	QueryTimeout time.Duration
	BatchSize    int
}

// Client runs aggregate queries against the discharge fact table.
type Client struct {
	db      *sql.DB
	opts    Options
	logger  zerolog.Logger
	queries struct {
		monthly  string
		window   string
		expected string
		bedDays  string
	}
}

var _ Source = (*Client)(nil)

// Open connects to the warehouse with the configured driver. An empty DSN
// returns a nil handle so callers can run without live data.
func Open(ctx context.Context, cfg config.WarehouseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, nil
	}

	driver := "postgres"
	if cfg.Driver == "pgx" {
		driver = "pgx"
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	pingCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}
	return db, nil
}

// New wraps an open database handle.
func New(db *sql.DB, opts Options, logger zerolog.Logger) (*Client, error) {
	if db == nil {
		return nil, errors.New("warehouse: nil database handle")
	}
	if !tableNamePattern.MatchString(opts.FactTable) {
		return nil, fmt.Errorf("warehouse: invalid fact table name %q", opts.FactTable)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	c := &Client{
		db:     db,
		opts:   opts,
		logger: logger.With().Str("component", "warehouse").Logger(),
	}
	c.queries.monthly = bindTable(monthlyAggregatesTmpl, opts.FactTable)
	c.queries.window = bindTable(windowAggregatesTmpl, opts.FactTable)
	c.queries.expected = bindTable(expectedPercentagesTmpl, opts.FactTable)
	c.queries.bedDays = bindTable(dailyBedDaysTmpl, opts.FactTable)
	return c, nil
}

func bindTable(tmpl, table string) string {
	return strings.ReplaceAll(tmpl, "{{table}}", table)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opts.QueryTimeout)
}

// MonthlyAggregates computes every (hospital, year, month) row from raw facts.
func (c *Client) MonthlyAggregates(ctx context.Context) ([]mortality.MonthlyRecord, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, c.queries.monthly)
	if err != nil {
		return nil, fmt.Errorf("query monthly aggregates: %w", err)
	}
	defer rows.Close()

	out := make([]mortality.MonthlyRecord, 0)
	for rows.Next() {
		var (
			hospital         string
			year, month      int
			patients, deaths int
		)
		if err := rows.Scan(&hospital, &year, &month, &patients, &deaths); err != nil {
			return nil, fmt.Errorf("scan monthly aggregate: %w", err)
		}
		out = append(out, mortality.NewAggregate(hospital, patients, deaths).Monthly(mortality.Period{Year: year, Month: month}))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monthly aggregates: %w", err)
	}

	c.logger.Debug().Int("rows", len(out)).Msg("monthly aggregates fetched")
	return out, nil
}

// MonthAggregates computes per-hospital totals for one calendar month.
func (c *Client) MonthAggregates(ctx context.Context, period mortality.Period) ([]mortality.Aggregate, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("invalid period %s", period)
	}
	out, err := c.window(ctx, period.Start(), period.Next().Start())
	if err != nil {
		return nil, fmt.Errorf("query month aggregates %s: %w", period, err)
	}
	c.logger.Debug().Str("period", period.String()).Int("hospitals", len(out)).Msg("month aggregates fetched")
	return out, nil
}

// DailyAggregates computes per-hospital totals for one discharge date.
func (c *Client) DailyAggregates(ctx context.Context, day time.Time) ([]mortality.Aggregate, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	out, err := c.window(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("query daily aggregates %s: %w", start.Format("2006-01-02"), err)
	}
	return out, nil
}

func (c *Client) window(ctx context.Context, from, to time.Time) ([]mortality.Aggregate, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, c.queries.window, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]mortality.Aggregate, 0)
	for rows.Next() {
		var (
			hospital         string
			patients, deaths int
		)
		if err := rows.Scan(&hospital, &patients, &deaths); err != nil {
			return nil, err
		}
		out = append(out, mortality.NewAggregate(hospital, patients, deaths))
	}
	return out, rows.Err()
}

// ExpectedDeathPercentages fetches expected percentages in batches. When a
// hospital has several distinct values the first one returned wins.
func (c *Client) ExpectedDeathPercentages(ctx context.Context, hospitals []string) (map[string]float64, error) {
	out := make(map[string]float64, len(hospitals))
	if len(hospitals) == 0 {
		return out, nil
	}

	for start := 0; start < len(hospitals); start += c.opts.BatchSize {
		end := start + c.opts.BatchSize
		if end > len(hospitals) {
			end = len(hospitals)
		}
		if err := c.expectedBatch(ctx, hospitals[start:end], out); err != nil {
			return nil, fmt.Errorf("query expected death percentages: %w", err)
		}
	}

	c.logger.Debug().Int("requested", len(hospitals)).Int("found", len(out)).Msg("expected death percentages fetched")
	return out, nil
}

func (c *Client) expectedBatch(ctx context.Context, batch []string, out map[string]float64) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, c.queries.expected, pq.Array(batch))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			hospital string
			pct      float64
		)
		if err := rows.Scan(&hospital, &pct); err != nil {
			return err
		}
		if _, seen := out[hospital]; !seen {
			out[hospital] = pct
		}
	}
	return rows.Err()
}

// DailyBedDays counts patient bed days per hospital and date. Zero bounds
// default to the trailing year.
func (c *Client) DailyBedDays(ctx context.Context, filter BedDayFilter) ([]BedDays, error) {
	to := filter.To
	if to.IsZero() {
		to = time.Now().UTC()
	}
	from := filter.From
	if from.IsZero() {
		from = to.AddDate(-1, 0, 0)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("bed days range is empty: %s > %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, c.queries.bedDays, filter.Hospital, from, to)
	if err != nil {
		return nil, fmt.Errorf("query bed days: %w", err)
	}
	defer rows.Close()

	out := make([]BedDays, 0)
	for rows.Next() {
		var bd BedDays
		if err := rows.Scan(&bd.Date, &bd.HospitalName, &bd.TotalPBD); err != nil {
			return nil, fmt.Errorf("scan bed days: %w", err)
		}
		out = append(out, bd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bed days: %w", err)
	}
	return out, nil
}
