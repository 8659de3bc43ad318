// Package api talks to the Conso metering API and reconstructs a meter's
// history from it.
//
// The client exposes the four logical endpoints of the API. HistoryFetcher
// layers the tiered retrieval on top: a week of load curve followed by two
// daily windows reaching back about one year.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/alexzouz/ha-linky/internal/metrics"
	"github.com/alexzouz/ha-linky/internal/models"
)

const (
	DefaultBaseURL   = "https://conso.boris.sh/api"
	DefaultUserAgent = "ha-linky/2.0.0"

	EndpointDailyConsumption     = "daily_consumption"
	EndpointConsumptionLoadCurve = "consumption_load_curve"
	EndpointDailyProduction      = "daily_production"
	EndpointProductionLoadCurve  = "production_load_curve"

	dateLayout = "2006-01-02"
)

var (
	ErrAuth       = errors.New("authentication failed")
	ErrConnection = errors.New("connection error")
)

// Messages returned by the provider once the requested window reaches past
// the oldest data it keeps for the meter.
var endOfHistoryMessages = []string{
	"The requested period cannot be anterior to the meter's last activation date",
	"The start date must be greater than the history deadline.",
	"no measure found for this usage point",
}

// APIError is a provider side failure carrying the HTTP status and the
// provider's error description.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// IsEndOfHistory reports whether err is the provider signalling that no
// older data exists.
func IsEndOfHistory(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, msg := range endOfHistoryMessages {
		if strings.Contains(apiErr.Message, msg) {
			return true
		}
	}
	return false
}

type Client struct {
	baseURL    string
	token      string
	prm        string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
	logger     *logrus.Logger
	now        func() time.Time
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit bounds outgoing requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *logrus.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(token, prm string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		token:      token,
		prm:        prm,
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		logger:     logrus.StandardLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) PRM() string { return c.prm }

func (c *Client) DailyConsumption(ctx context.Context, start, end time.Time) ([]models.RawReading, error) {
	return c.request(ctx, EndpointDailyConsumption, start, end)
}

func (c *Client) ConsumptionLoadCurve(ctx context.Context, start, end time.Time) ([]models.RawReading, error) {
	return c.request(ctx, EndpointConsumptionLoadCurve, start, end)
}

func (c *Client) DailyProduction(ctx context.Context, start, end time.Time) ([]models.RawReading, error) {
	return c.request(ctx, EndpointDailyProduction, start, end)
}

func (c *Client) ProductionLoadCurve(ctx context.Context, start, end time.Time) ([]models.RawReading, error) {
	return c.request(ctx, EndpointProductionLoadCurve, start, end)
}

// ValidateToken probes the daily endpoint over the last two days. Only an
// authentication failure invalidates the token; any other error (no data
// yet, provider hiccup) leaves it accepted.
func (c *Client) ValidateToken(ctx context.Context) error {
	today := c.now()
	_, err := c.request(ctx, EndpointDailyConsumption, today.AddDate(0, 0, -2), today)
	if errors.Is(err, ErrAuth) {
		return err
	}
	return nil
}

type errorBody struct {
	Error struct {
		Description string `json:"error_description"`
	} `json:"error"`
}

func (c *Client) request(ctx context.Context, endpoint string, start, end time.Time) ([]models.RawReading, error) {
	readings, err := c.do(ctx, endpoint, start, end)
	c.observe(endpoint, err)
	return readings, err
}

func (c *Client) do(ctx context.Context, endpoint string, start, end time.Time) ([]models.RawReading, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	q := url.Values{}
	q.Set("prm", c.prm)
	q.Set("start", start.Format(dateLayout))
	q.Set("end", end.Format(dateLayout))
	u := fmt.Sprintf("%s/%s?%s", c.baseURL, endpoint, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: Invalid token", ErrAuth)
	case http.StatusForbidden:
		return nil, fmt.Errorf("%w: Access forbidden", ErrAuth)
	default:
		var body errorBody
		msg := ""
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
			msg = body.Error.Description
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	var apiResp models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrConnection, err)
	}

	c.logger.WithFields(logrus.Fields{
		"prm":      c.prm,
		"endpoint": endpoint,
		"start":    start.Format(dateLayout),
		"end":      end.Format(dateLayout),
		"points":   len(apiResp.IntervalReading),
	}).Debug("Fetched readings")

	return apiResp.IntervalReading, nil
}

func (c *Client) observe(endpoint string, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	var apiErr *APIError
	switch {
	case err == nil:
	case errors.Is(err, ErrAuth):
		outcome = "auth_error"
	case errors.As(err, &apiErr):
		outcome = "api_error"
	default:
		outcome = "connection_error"
	}
	c.metrics.APIRequests.WithLabelValues(endpoint, outcome).Inc()
}
