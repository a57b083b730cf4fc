package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"

	"mortality-alerts/internal/config"
	"mortality-alerts/internal/mortality"
)

func newMockClient(t *testing.T, batch int) (*Client, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	c, err := New(db, Options{FactTable: "analytics.discharged_patients_fact", BatchSize: batch, QueryTimeout: time.Second}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, mock, db
}

func TestMonthlyAggregates(t *testing.T) {
	c, mock, db := newMockClient(t, 0)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM analytics.discharged_patients_fact (.+) GROUP BY hospital_name, year, month").
		WillReturnRows(sqlmock.NewRows([]string{"hospital_name", "year", "month", "total_patients", "deaths"}).
			AddRow("A", 2025, 1, 3, 1).
			AddRow("A", 2025, 2, 4, 0))

	recs, err := c.MonthlyAggregates(context.Background())
	if err != nil {
		t.Fatalf("MonthlyAggregates: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].MortalityRate != 33.33 || recs[0].Period() != (mortality.Period{Year: 2025, Month: 1}) {
		t.Fatalf("unexpected first record %+v", recs[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestMonthAggregatesUsesMonthBounds(t *testing.T) {
	c, mock, db := newMockClient(t, 0)
	defer db.Close()

	from := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM analytics.discharged_patients_fact").
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"hospital_name", "total_patients", "deaths"}).
			AddRow("A", 10, 2).
			AddRow("B", 8, 0))

	aggs, err := c.MonthAggregates(context.Background(), mortality.Period{Year: 2024, Month: 12})
	if err != nil {
		t.Fatalf("MonthAggregates: %v", err)
	}
	if len(aggs) != 2 || aggs[0].MortalityRate != 20 || aggs[1].Deaths != 0 {
		t.Fatalf("unexpected aggregates %+v", aggs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestMonthAggregatesRejectsInvalidPeriod(t *testing.T) {
	c, _, db := newMockClient(t, 0)
	defer db.Close()
	if _, err := c.MonthAggregates(context.Background(), mortality.Period{Year: 2025, Month: 13}); err == nil {
		t.Fatal("expected error for month 13")
	}
}

func TestDailyAggregatesQueryError(t *testing.T) {
	c, mock, db := newMockClient(t, 0)
	defer db.Close()

	day := time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM analytics.discharged_patients_fact").
		WithArgs(time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)).
		WillReturnError(errors.New("warehouse down"))

	if _, err := c.DailyAggregates(context.Background(), day); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestExpectedDeathPercentagesBatchesAndKeepsFirst(t *testing.T) {
	c, mock, db := newMockClient(t, 2)
	defer db.Close()

	mock.ExpectQuery("SELECT DISTINCT (.+) FROM analytics.discharged_patients_fact").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"hospital_name", "expected_death_percentage"}).
			AddRow("A", 2.5).
			AddRow("A", 9.9).
			AddRow("B", 1.25))
	mock.ExpectQuery("SELECT DISTINCT (.+) FROM analytics.discharged_patients_fact").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"hospital_name", "expected_death_percentage"}))

	got, err := c.ExpectedDeathPercentages(context.Background(), []string{"A", "B", "C"})
	if err != nil {
		t.Fatalf("ExpectedDeathPercentages: %v", err)
	}
	if len(got) != 2 || got["A"] != 2.5 || got["B"] != 1.25 {
		t.Fatalf("unexpected map %v", got)
	}
	if _, ok := got["C"]; ok {
		t.Fatal("hospital without a value must be absent")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestExpectedDeathPercentagesEmptyInput(t *testing.T) {
	c, mock, db := newMockClient(t, 0)
	defer db.Close()
	got, err := c.ExpectedDeathPercentages(context.Background(), nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("no query expected: %s", err)
	}
}

func TestDailyBedDays(t *testing.T) {
	c, mock, db := newMockClient(t, 0)
	defer db.Close()

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("WITH days AS (.+) FROM analytics.discharged_patients_fact").
		WithArgs("A", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"day", "hospital_name", "total_pbd"}).
			AddRow(from, "A", 4).
			AddRow(to, "A", 5))

	got, err := c.DailyBedDays(context.Background(), BedDayFilter{Hospital: "A", From: from, To: to})
	if err != nil {
		t.Fatalf("DailyBedDays: %v", err)
	}
	if len(got) != 2 || got[1].TotalPBD != 5 {
		t.Fatalf("unexpected rows %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}

	if _, err := c.DailyBedDays(context.Background(), BedDayFilter{From: to, To: from}); err == nil {
		t.Fatal("inverted range should fail")
	}
}

func TestNewRejectsUnsafeTableName(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	if _, err := New(db, Options{FactTable: "facts; DROP TABLE x"}, zerolog.Nop()); err == nil {
		t.Fatal("expected invalid table error")
	}
	if _, err := New(nil, Options{FactTable: "facts"}, zerolog.Nop()); err == nil {
		t.Fatal("expected nil handle error")
	}
}

func TestOpenWithoutDSN(t *testing.T) {
	db, err := Open(context.Background(), config.WarehouseConfig{})
	if err != nil || db != nil {
		t.Fatalf("expected nil handle without error, got %v %v", db, err)
	}
}
