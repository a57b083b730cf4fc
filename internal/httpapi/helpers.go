package httpapi

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"mortality-alerts/internal/mortality"
	"mortality-alerts/internal/storage"
)

const dateLayout = "2006-01-02"

// dateRange reads optional start_date and end_date query parameters.
func dateRange(c *gin.Context) (start, end *time.Time, err error) {
	if raw := c.Query("start_date"); raw != "" {
		t, perr := time.Parse(dateLayout, raw)
		if perr != nil {
			return nil, nil, errors.New("Invalid start_date format. Use YYYY-MM-DD")
		}
		start = &t
	}
	if raw := c.Query("end_date"); raw != "" {
		t, perr := time.Parse(dateLayout, raw)
		if perr != nil {
			return nil, nil, errors.New("Invalid end_date format. Use YYYY-MM-DD")
		}
		end = &t
	}
	return start, end, nil
}

// monthlyFilter maps the dashboard query to a store filter. Dates are
// reduced to their month, matching whole-month rows.
func monthlyFilter(c *gin.Context) (storage.MonthlyFilter, error) {
	start, end, err := dateRange(c)
	if err != nil {
		return storage.MonthlyFilter{}, err
	}
	f := storage.MonthlyFilter{Hospital: c.Query("hospital_name")}
	if start != nil {
		p := mortality.PeriodOf(*start)
		f.From = &p
	}
	if end != nil {
		p := mortality.PeriodOf(*end)
		f.To = &p
	}
	return f, nil
}

// evaluationPeriod reads the optional period=YYYY-MM parameter.
func evaluationPeriod(c *gin.Context) (mortality.Period, error) {
	raw := c.Query("period")
	if raw == "" {
		return mortality.Period{}, nil
	}
	p, err := mortality.ParsePeriod(raw)
	if err != nil {
		return mortality.Period{}, errors.New("Invalid period format. Use YYYY-MM")
	}
	return p, nil
}
