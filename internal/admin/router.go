// Package admin serves the HTTP administration surface: meter status,
// manual sync triggers, CSV imports, series resets and queries, plus the
// Prometheus scrape endpoint.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/alexzouz/ha-linky/internal/coordinator"
	"github.com/alexzouz/ha-linky/internal/models"
)

const (
	maxUploadBytes = 10 << 20
	dateLayout     = "2006-01-02"
)

// Meters is the part of the coordinator manager the admin API drives.
type Meters interface {
	List() []coordinator.Snapshot
	Trigger(prm string, production bool) error
	ImportCSV(ctx context.Context, prm string, production bool, r io.Reader) (int, error)
	Reset(ctx context.Context, prm string, production bool) error
	Query(ctx context.Context, prm string, production, cost bool, start, end time.Time) ([]models.StatisticPoint, error)
}

var _ Meters = (*coordinator.Manager)(nil)

type Handler struct {
	meters Meters
	loc    *time.Location
	logger *logrus.Logger
}

// NewRouter wires the admin routes. gatherer backs /metrics.
func NewRouter(meters Meters, loc *time.Location, gatherer prometheus.Gatherer, logger *logrus.Logger) *mux.Router {
	h := &Handler{meters: meters, loc: loc, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api/meters").Subrouter()
	api.HandleFunc("", h.listMeters).Methods(http.MethodGet)
	api.HandleFunc("/{prm:[0-9]{14}}/sync", h.triggerSync).Methods(http.MethodPost)
	api.HandleFunc("/{prm:[0-9]{14}}/import", h.importCSV).Methods(http.MethodPost)
	api.HandleFunc("/{prm:[0-9]{14}}/statistics", h.queryStatistics).Methods(http.MethodGet)
	api.HandleFunc("/{prm:[0-9]{14}}/statistics", h.resetStatistics).Methods(http.MethodDelete)
	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listMeters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.meters.List())
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	prm := mux.Vars(r)["prm"]
	production, err := boolParam(r, "production")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.meters.Trigger(prm, production); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handler) importCSV(w http.ResponseWriter, r *http.Request) {
	prm := mux.Vars(r)["prm"]
	production, err := boolParam(r, "production")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	n, err := h.meters.ImportCSV(r.Context(), prm, production, http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

func (h *Handler) resetStatistics(w http.ResponseWriter, r *http.Request) {
	prm := mux.Vars(r)["prm"]
	production, err := boolParam(r, "production")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.meters.Reset(r.Context(), prm, production); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// queryStatistics reads a series over [start, end). Both bounds accept a
// local date or an RFC 3339 timestamp; end defaults to now and start to
// seven days before end.
func (h *Handler) queryStatistics(w http.ResponseWriter, r *http.Request) {
	prm := mux.Vars(r)["prm"]
	production, err := boolParam(r, "production")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	isCost, err := boolParam(r, "cost")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	end, err := h.timeParam(r, "end", time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	start, err := h.timeParam(r, "start", end.Add(-7*24*time.Hour))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !start.Before(end) {
		writeError(w, http.StatusBadRequest, errors.New("start must be before end"))
		return
	}

	points, err := h.meters.Query(r.Context(), prm, production, isCost, start, end)
	if err != nil {
		h.fail(w, err)
		return
	}
	if points == nil {
		points = []models.StatisticPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, coordinator.ErrUnknownMeter):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, coordinator.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, coordinator.ErrNoRecords), errors.Is(err, coordinator.ErrMissingColumns):
		writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &maxBytes):
		writeError(w, http.StatusRequestEntityTooLarge, err)
	default:
		h.logger.WithError(err).Error("Admin request failed")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New("invalid " + name + ": " + raw)
	}
	return v, nil
}

func (h *Handler) timeParam(r *http.Request, name string, def time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	if t, err := time.ParseInLocation(dateLayout, raw, h.loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("invalid " + name + ": " + raw)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
