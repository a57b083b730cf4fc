package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"mortality-alerts/internal/mortality"
	"mortality-alerts/internal/storage"
)

// ExportOptions hold parameters for exporting monthly records.
type ExportOptions struct {
	Hospital string
	From     *mortality.Period
	To       *mortality.Period
	CSVPath  string
	MaxRows  int
}

// Export writes monthly records as CSV, oldest first per hospital.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" {
		return errors.New("--csv must be provided")
	}
	if opts.From != nil && opts.To != nil && opts.To.Before(*opts.From) {
		return errors.New("from must not be after to")
	}
	opts.MaxRows = a.Config.ResolveMaxRows(opts.MaxRows)

	rt, err := a.open(ctx, true, false)
	if err != nil {
		return err
	}
	defer rt.close()

	records, err := rt.store.ListMonthly(ctx, storage.MonthlyFilter{
		Hospital: opts.Hospital,
		From:     opts.From,
		To:       opts.To,
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no monthly records found for export window")
		return nil
	}

	records = exportOrder(records, opts.MaxRows)
	a.Logger.Info().Int("exported", len(records)).Str("path", opts.CSVPath).Msg("exporting monthly records")

	if err := ensureDir(opts.CSVPath); err != nil {
		return err
	}
	file, err := os.Create(opts.CSVPath)
	if err != nil {
		return err
	}
	if err := writeMonthlyCSV(file, records); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// exportOrder sorts records by hospital then month ascending and keeps at
// most max rows.
func exportOrder(records []mortality.MonthlyRecord, max int) []mortality.MonthlyRecord {
	out := make([]mortality.MonthlyRecord, len(records))
	copy(out, records)
	mortality.SortAscending(out)
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

func writeMonthlyCSV(w io.Writer, records []mortality.MonthlyRecord) error {
	writer := csv.NewWriter(w)

	header := []string{"hospital_name", "year", "month", "total_patients", "deaths", "mortality_rate"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range records {
		row := []string{
			r.HospitalName,
			strconv.Itoa(r.Year),
			strconv.Itoa(r.Month),
			strconv.Itoa(r.TotalPatients),
			strconv.Itoa(r.Deaths),
			fmt.Sprintf("%.2f", r.MortalityRate),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
