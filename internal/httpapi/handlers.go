package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mortality-alerts/internal/alertmodel"
	"mortality-alerts/internal/mortality"
	"mortality-alerts/internal/service"
	"mortality-alerts/internal/warehouse"
)

type monthlyPoint struct {
	Date          string  `json:"date"`
	Year          int     `json:"year"`
	Month         int     `json:"month"`
	TotalPatients int     `json:"total_patients"`
	Deaths        int     `json:"deaths"`
	MortalityRate float64 `json:"mortality_rate"`
}

type seriesStatistics struct {
	AvgMortalityRate float64 `json:"avg_mortality_rate"`
	StdDeviation     float64 `json:"std_deviation"`
	Threshold3SD     float64 `json:"threshold_3sd"`
}

type rawRow struct {
	HospitalName  string  `json:"hospital_name"`
	Year          int     `json:"year"`
	Month         int     `json:"month"`
	MonthName     string  `json:"month_name"`
	TotalPatients int     `json:"total_patients"`
	Deaths        int     `json:"deaths"`
	MortalityRate float64 `json:"mortality_rate"`
}

type bedDayRow struct {
	Date         string `json:"date"`
	HospitalName string `json:"hospital_name"`
	TotalPBD     int    `json:"total_pbd"`
}

type modelInfo struct {
	ID          int    `json:"id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Metric      string `json:"metric"`
	Lookback    int    `json:"lookback_months"`
	Description string `json:"description"`
}

func (s *Server) handleHospitals(c *gin.Context) {
	names, err := s.store.ListHospitals(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list hospitals failed")
		fail(c, http.StatusInternalServerError, errCodeInternal, err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, names)
}

func (s *Server) handleMortalityData(c *gin.Context) {
	filter, err := monthlyFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	records, err := s.store.ListMonthly(c.Request.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("list monthly failed")
		fail(c, http.StatusInternalServerError, errCodeInternal, err.Error())
		return
	}
	mortality.SortAscending(records)

	points := make([]monthlyPoint, 0, len(records))
	rates := make([]float64, 0, len(records))
	for _, r := range records {
		points = append(points, monthlyPoint{
			Date:          r.Period().Start().Format(dateLayout),
			Year:          r.Year,
			Month:         r.Month,
			TotalPatients: r.TotalPatients,
			Deaths:        r.Deaths,
			MortalityRate: r.MortalityRate,
		})
		rates = append(rates, r.MortalityRate)
	}

	var stats *seriesStatistics
	if len(rates) > 0 {
		avg := mortality.Mean(rates)
		std := mortality.PopulationStdDev(rates)
		stats = &seriesStatistics{
			AvgMortalityRate: avg,
			StdDeviation:     std,
			Threshold3SD:     avg + 3*std,
		}
	}
	c.JSON(http.StatusOK, gin.H{"monthly_data": points, "statistics": stats})
}

func (s *Server) handleRawData(c *gin.Context) {
	filter, err := monthlyFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	records, err := s.store.ListMonthly(c.Request.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("list monthly failed")
		fail(c, http.StatusInternalServerError, errCodeInternal, err.Error())
		return
	}
	mortality.SortAscending(records)

	rows := make([]rawRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, rawRow{
			HospitalName:  r.HospitalName,
			Year:          r.Year,
			Month:         r.Month,
			MonthName:     time.Month(r.Month).String(),
			TotalPatients: r.TotalPatients,
			Deaths:        r.Deaths,
			MortalityRate: r.MortalityRate,
		})
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) handleBedDays(c *gin.Context) {
	if s.bedDays == nil {
		fail(c, http.StatusServiceUnavailable, errCodeUnavailable, "warehouse not configured")
		return
	}
	start, end, err := dateRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter := warehouse.BedDayFilter{Hospital: c.Query("hospital_name")}
	if start != nil {
		filter.From = *start
	}
	if end != nil {
		filter.To = *end
	}

	days, err := s.bedDays.DailyBedDays(c.Request.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("bed day query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rows := make([]bedDayRow, 0, len(days))
	for _, d := range days {
		rows = append(rows, bedDayRow{
			Date:         d.Date.Format(dateLayout),
			HospitalName: d.HospitalName,
			TotalPBD:     d.TotalPBD,
		})
	}
	c.JSON(http.StatusOK, gin.H{"daily_pbd": rows})
}

func (s *Server) handleListModels(c *gin.Context) {
	all := alertmodel.All()
	out := make([]modelInfo, 0, len(all))
	for _, m := range all {
		out = append(out, modelInfo{
			ID:          m.ID,
			Key:         m.Key(),
			Name:        m.Name(),
			Metric:      m.Metric.String(),
			Lookback:    m.LookbackMonths,
			Description: m.Description(),
		})
	}
	c.JSON(http.StatusOK, out)
}

// handleEvaluateModel runs a model without the exclusion filter, the way the
// dashboard shows every hospital. An unknown model yields an empty result.
func (s *Server) handleEvaluateModel(c *gin.Context) {
	period, err := evaluationPeriod(c)
	if err != nil {
		fail(c, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}
	id, err := alertmodel.ParseModelID(c.Param("id"))
	if err != nil {
		s.logger.Warn().Str("model", c.Param("id")).Msg("unknown model requested; returning empty result")
		if period == (mortality.Period{}) {
			period = mortality.PeriodOf(time.Now().UTC())
		}
		c.JSON(http.StatusOK, gin.H{
			"model":     c.Param("id"),
			"period":    period.String(),
			"live_used": false,
			"alerts":    []alertmodel.AlertResult{},
			"summary": gin.H{
				"evaluated":  0,
				"alerts":     0,
				"no_alert":   0,
				"skipped":    map[string]int{},
				"suppressed": 0,
				"failed":     0,
			},
		})
		return
	}

	ev, err := s.svc.Evaluate(c.Request.Context(), service.EvaluateRequest{ModelID: id, Period: period})
	if err != nil {
		s.logger.Error().Err(err).Int("model_id", id).Msg("evaluation failed")
		fail(c, http.StatusInternalServerError, errCodeInternal, err.Error())
		return
	}

	skipped := make(map[string]int, len(ev.Summary.Skipped))
	for reason, n := range ev.Summary.Skipped {
		skipped[string(reason)] = n
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":    ev.RunID,
		"model":     ev.Model.Key(),
		"period":    ev.Period.String(),
		"live_used": ev.LiveUsed,
		"alerts":    ev.Alerts,
		"summary": gin.H{
			"evaluated":  ev.Summary.Evaluated,
			"alerts":     ev.Summary.Alerts,
			"no_alert":   ev.Summary.NoAlert,
			"skipped":    skipped,
			"suppressed": ev.Summary.Suppressed,
			"failed":     ev.Summary.Failed,
		},
	})
}

func (s *Server) handleSendAlert(c *gin.Context) {
	id, err := alertmodel.ParseModelID(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, errCodeNotFound, err.Error())
		return
	}
	period, err := evaluationPeriod(c)
	if err != nil {
		fail(c, http.StatusBadRequest, errCodeBadRequest, err.Error())
		return
	}

	res, err := s.svc.SendAlert(c.Request.Context(), service.SendRequest{ModelID: id, Period: period})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"message":         res.Message,
			"hospitals_count": res.HospitalCount,
		})
	case errors.Is(err, service.ErrAlertingDisabled):
		fail(c, http.StatusServiceUnavailable, errCodeUnavailable, res.Message)
	case errors.Is(err, service.ErrEvaluationFailed):
		fail(c, http.StatusInternalServerError, errCodeInternal, err.Error())
	default:
		s.logger.Error().Err(err).Int("model_id", id).Msg("alert delivery failed")
		fail(c, http.StatusBadGateway, errCodeDelivery, res.Message)
	}
}
