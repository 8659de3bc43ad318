package pricehistory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexzouz/ha-linky/internal/models"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

const historyBody = `[[
	{"entity_id":"sensor.tempo","state":"15","attributes":{"unit_of_measurement":"c€/kWh"},"last_updated":"2024-01-15T09:00:00+00:00"},
	{"entity_id":"sensor.tempo","state":"unavailable","attributes":{},"last_updated":"2024-01-15T10:00:00+00:00"},
	{"entity_id":"sensor.tempo","state":"unknown","attributes":{},"last_updated":"2024-01-15T10:30:00+00:00"},
	{"entity_id":"sensor.tempo","state":"red","attributes":{},"last_updated":"2024-01-15T11:00:00+00:00"},
	{"entity_id":"sensor.tempo","state":"0.2","attributes":{"unit_of_measurement":"EUR/kWh"},"last_updated":"2024-01-15T12:00:00.5+00:00"}
]]`

func TestClient_History(t *testing.T) {
	var gotPath, gotEntity, gotEnd, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotEntity = r.URL.Query().Get("filter_entity_id")
		gotEnd = r.URL.Query().Get("end_time")
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(historyBody))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "ha-token", time.Second, quietLogger())
	start := time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)

	got, err := client.History(context.Background(), "sensor.tempo", start, end)

	require.NoError(t, err)
	assert.Equal(t, "/api/history/period/2024-01-14T00:00:00Z", gotPath)
	assert.Equal(t, "sensor.tempo", gotEntity)
	assert.Equal(t, "2024-01-16T00:00:00Z", gotEnd)
	assert.Equal(t, "Bearer ha-token", gotAuth)

	require.Len(t, got, 2)
	assert.Equal(t, 15.0, got[0].Value)
	assert.Equal(t, "c€/kWh", got[0].Unit)
	assert.True(t, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC).Equal(got[0].Time))
	assert.Equal(t, 0.2, got[1].Value)
	assert.Equal(t, "EUR/kWh", got[1].Unit)
}

func TestClient_HistoryHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "bad", time.Second, quietLogger())
	_, err := client.History(context.Background(), "sensor.tempo", time.Now(), time.Now())

	assert.Error(t, err)
}

type stubProvider struct {
	calls   atomic.Int32
	samples map[string][]models.PriceSample
	errs    map[string]error
}

func (s *stubProvider) History(_ context.Context, id string, _, _ time.Time) ([]models.PriceSample, error) {
	s.calls.Add(1)
	if err := s.errs[id]; err != nil {
		return nil, err
	}
	return s.samples[id], nil
}

func TestCachedProvider(t *testing.T) {
	stub := &stubProvider{
		samples: map[string][]models.PriceSample{"sensor.a": {{Value: 1}}},
		errs:    map[string]error{"sensor.bad": errors.New("down")},
	}
	p, err := NewCachedProvider(stub, 2)
	require.NoError(t, err)

	start, end := time.Unix(0, 0), time.Unix(3600, 0)
	ctx := context.Background()

	first, err := p.History(ctx, "sensor.a", start, end)
	require.NoError(t, err)
	second, err := p.History(ctx, "sensor.a", start, end)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), stub.calls.Load())

	_, err = p.History(ctx, "sensor.a", start, end.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int32(2), stub.calls.Load())

	_, err = p.History(ctx, "sensor.bad", start, end)
	assert.Error(t, err)
	_, err = p.History(ctx, "sensor.bad", start, end)
	assert.Error(t, err)
	assert.Equal(t, int32(4), stub.calls.Load())
}

func TestNewCachedProvider_InvalidSize(t *testing.T) {
	_, err := NewCachedProvider(&stubProvider{}, 0)
	assert.Error(t, err)
}

func TestFetchAll_PartialFailure(t *testing.T) {
	t0 := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	stub := &stubProvider{
		samples: map[string][]models.PriceSample{
			"sensor.ok": {
				{Time: t0.Add(2 * time.Hour), Value: 2},
				{Time: t0, Value: 1},
			},
			"sensor.empty": nil,
		},
		errs: map[string]error{"sensor.down": errors.New("timeout")},
	}

	got := FetchAll(context.Background(), stub, []string{"sensor.ok", "sensor.empty", "sensor.down"}, t0, t0.Add(24*time.Hour), quietLogger())

	require.Len(t, got, 3)
	require.NoError(t, got["sensor.ok"].Err)
	require.Len(t, got["sensor.ok"].Samples, 2)
	assert.Equal(t, 1.0, got["sensor.ok"].Samples[0].Value)

	assert.NoError(t, got["sensor.empty"].Err)
	assert.Empty(t, got["sensor.empty"].Samples)

	assert.Error(t, got["sensor.down"].Err)
	assert.Empty(t, got["sensor.down"].Samples)
}
