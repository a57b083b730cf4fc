package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mortality-alerts/internal/alertmodel"
	"mortality-alerts/internal/version"
)

// ErrNoWebhook is returned when a target carries no webhook URL.
var ErrNoWebhook = errors.New("google chat webhook URL not configured")

// EmptyDigestText is sent when no hospital met the model's threshold.
const EmptyDigestText = "No hospital has a mortality rate that meets the set threshold."

// Target is where a digest goes. It is resolved from configuration at call time.
type Target struct {
	WebhookURL string
}

// Digest is the content of one notification.
type Digest struct {
	Model   alertmodel.Model
	Period  time.Time
	SentAt  time.Time
	Results []alertmodel.AlertResult
}

// Notifier delivers digests.
type Notifier interface {
	Notify(ctx context.Context, target Target, digest Digest) error
}

// GoogleChatNotifier posts a plain text message to a Google Chat webhook.
type GoogleChatNotifier struct {
	client *http.Client
	logger zerolog.Logger
}

// NewGoogleChatNotifier constructs the webhook notifier.
func NewGoogleChatNotifier(timeout time.Duration, logger zerolog.Logger) *GoogleChatNotifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GoogleChatNotifier{
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "alert_google_chat").Logger(),
	}
}

// Notify renders the digest and posts it as {"text": ...}.
func (n *GoogleChatNotifier) Notify(ctx context.Context, target Target, digest Digest) error {
	if strings.TrimSpace(target.WebhookURL) == "" {
		return ErrNoWebhook
	}

	body, err := json.Marshal(map[string]string{"text": Render(digest)})
	if err != nil {
		return fmt.Errorf("marshal google chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create google chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send google chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("google chat responded %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	n.logger.Info().
		Str("model", digest.Model.Key()).
		Int("hospitals", len(digest.Results)).
		Msg("digest delivered")
	return nil
}

// Render formats the digest text.
func Render(d Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Quality Alert - %s*\n", d.Model.Name())
	fmt.Fprintf(&b, "*Period:* %s\n", d.Period.Format("January 2006"))
	fmt.Fprintf(&b, "*Alert Date:* %s\n", d.SentAt.Format("2006-01-02 15:04:05"))

	if len(d.Results) == 0 {
		b.WriteString("\n")
		b.WriteString(EmptyDigestText)
		return b.String()
	}

	fmt.Fprintf(&b, "\n*Hospitals with Alerts: %d*\n\n", len(d.Results))

	totalDeaths := 0
	rateSum := decimal.Zero
	for i, r := range d.Results {
		fmt.Fprintf(&b, "*%d. %s*\n", i+1, r.HospitalName)
		fmt.Fprintf(&b, "   • This Month Mortality Rate: *%s%%*\n", fixed(r.MortalityRate))
		fmt.Fprintf(&b, "   • This Month Deaths: *%d*\n", r.Deaths)
		fmt.Fprintf(&b, "   • Threshold: %s\n", thresholdText(d.Model, r.Threshold))
		if r.SMR != nil {
			fmt.Fprintf(&b, "   • SMR: %s\n", fixed(*r.SMR))
		}
		if r.TrendInfo != nil {
			ti := r.TrendInfo
			fmt.Fprintf(&b, "   • Trend: %s %s%% → %s %s%% → %s %s%%\n",
				ti.Month1, fixed(ti.Rate1), ti.Month2, fixed(ti.Rate2), ti.Month3, fixed(ti.Rate3))
		}
		if len(r.Last6MonthsMortality) > 0 {
			parts := make([]string, len(r.Last6MonthsMortality))
			for j, m := range r.Last6MonthsMortality {
				parts[j] = fmt.Sprintf("%s: %s%%", m.Period, fixed(m.MortalityRate))
			}
			fmt.Fprintf(&b, "   • Last 6 Months: %s\n", strings.Join(parts, ", "))
		}
		b.WriteString("\n")

		totalDeaths += r.Deaths
		rateSum = rateSum.Add(decimal.NewFromFloat(r.MortalityRate))
	}

	avg := rateSum.Div(decimal.NewFromInt(int64(len(d.Results))))
	b.WriteString("---\n")
	b.WriteString("*Summary:*\n")
	fmt.Fprintf(&b, "• Total Hospitals with Alerts: %d\n", len(d.Results))
	fmt.Fprintf(&b, "• Total Deaths This Month: %d\n", totalDeaths)
	fmt.Fprintf(&b, "• Average Mortality Rate: %s%%", avg.StringFixed(2))
	return b.String()
}

// thresholdText keeps the unit of the model's metric.
func thresholdText(m alertmodel.Model, threshold float64) string {
	switch m.Metric {
	case alertmodel.MetricDeaths:
		return fixed(threshold) + " deaths"
	case alertmodel.MetricSMR:
		return fixed(threshold)
	default:
		return fixed(threshold) + "%"
	}
}

func fixed(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

var _ Notifier = (*GoogleChatNotifier)(nil)
