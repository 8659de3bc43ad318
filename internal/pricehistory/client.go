// Package pricehistory resolves the recorded history of external price
// entities (Tempo, spot price sensors) from Home Assistant.
package pricehistory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alexzouz/ha-linky/internal/models"
)

// Provider returns an ascending sample series for one entity over [start, end].
type Provider interface {
	History(ctx context.Context, entityID string, start, end time.Time) ([]models.PriceSample, error)
}

type state struct {
	EntityID    string `json:"entity_id"`
	State       string `json:"state"`
	LastUpdated string `json:"last_updated"`
	Attributes  struct {
		Unit string `json:"unit_of_measurement"`
	} `json:"attributes"`
}

// Client reads /api/history/period from a Home Assistant instance.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(baseURL, token string, timeout time.Duration, logger *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) History(ctx context.Context, entityID string, start, end time.Time) ([]models.PriceSample, error) {
	q := url.Values{}
	q.Set("filter_entity_id", entityID)
	q.Set("end_time", end.Format(time.RFC3339))
	u := fmt.Sprintf("%s/api/history/period/%s?%s", c.baseURL, url.PathEscape(start.Format(time.RFC3339)), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build history request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request for %s: %w", entityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history request for %s: got %d", entityID, resp.StatusCode)
	}

	var series [][]state
	if err := json.NewDecoder(resp.Body).Decode(&series); err != nil {
		return nil, fmt.Errorf("failed to decode history for %s: %w", entityID, err)
	}

	var samples []models.PriceSample
	for _, s := range series {
		for _, st := range s {
			if st.EntityID != "" && st.EntityID != entityID {
				continue
			}
			sample, ok := toSample(st)
			if !ok {
				continue
			}
			samples = append(samples, sample)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"entity_id": entityID,
		"samples":   len(samples),
	}).Debug("Fetched price history")

	return samples, nil
}

// toSample drops unavailable, unknown and non-numeric states.
func toSample(st state) (models.PriceSample, bool) {
	switch st.State {
	case "", "unavailable", "unknown":
		return models.PriceSample{}, false
	}
	v, err := strconv.ParseFloat(st.State, 64)
	if err != nil {
		return models.PriceSample{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, st.LastUpdated)
	if err != nil {
		return models.PriceSample{}, false
	}
	return models.PriceSample{Time: ts, Value: v, Unit: st.Attributes.Unit}, true
}
