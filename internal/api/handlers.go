package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/star/tletrack/internal/httputil"
	"github.com/star/tletrack/internal/refresh"
	"github.com/star/tletrack/internal/store"
	"github.com/star/tletrack/internal/tle"
)

const (
	defaultPage  = 1
	defaultLimit = 10

	maxTrackBody   = 1 << 20
	refreshTimeout = 25 * time.Second

	msgNotFound      = "No matching satellites found!"
	msgStoreFailure  = "Failed to fetch TLE data."
	msgNoData        = "No TLE data loaded."
	msgRefreshBusy   = "Refresh already in progress."
	msgRefreshFailed = "Failed to refresh TLE data."
)

type handlers struct {
	store        Store
	refresher    Refresher
	maxPageLimit int
	logger       *slog.Logger
}

type trackRequest struct {
	SatelliteIDs []string `json:"satelliteIds"`
}

type trackResponse struct {
	FilteredData []tle.Record `json:"filteredData"`
}

// trackSatellite returns the records whose names are listed in the body.
// A missing, empty or malformed list matches nothing.
func (h *handlers) trackSatellite(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTrackBody)

	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debug("unreadable track request", "error", err)
		req.SatelliteIDs = nil
	}

	records, err := h.store.FindByNames(r.Context(), req.SatelliteIDs)
	if err != nil {
		h.logger.Error("track lookup failed", "error", err, "names", len(req.SatelliteIDs))
		httputil.WriteMessage(w, http.StatusInternalServerError, msgStoreFailure)
		return
	}

	if len(records) == 0 {
		httputil.WriteMessage(w, http.StatusNotFound, msgNotFound)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, trackResponse{FilteredData: records})
}

type listResponse struct {
	List       []string `json:"list"`
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
	TotalPages int      `json:"totalPages"`
	TotalItems int      `json:"totalItems"`
}

// listSatellites returns one page of satellite names in feed order.
func (h *handlers) listSatellites(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := positiveInt(q.Get("page"), defaultPage)
	limit := positiveInt(q.Get("limit"), defaultLimit)
	if h.maxPageLimit > 0 && limit > h.maxPageLimit {
		limit = h.maxPageLimit
	}

	var records []tle.Record
	if page-1 <= math.MaxInt/limit {
		var err error
		records, err = h.store.List(r.Context(), (page-1)*limit, limit)
		if err != nil {
			h.logger.Error("list query failed", "error", err, "page", page, "limit", limit)
			httputil.WriteMessage(w, http.StatusInternalServerError, msgStoreFailure)
			return
		}
	}

	total, err := h.store.Count(r.Context())
	if err != nil {
		h.logger.Error("count query failed", "error", err)
		httputil.WriteMessage(w, http.StatusInternalServerError, msgStoreFailure)
		return
	}

	names := make([]string, len(records))
	for i, rec := range records {
		names[i] = rec.Name
	}

	httputil.WriteJSON(w, http.StatusOK, listResponse{
		List:       names,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
		TotalItems: total,
	})
}

type metadataResponse struct {
	CycleID    string     `json:"cycleId"`
	Sources    []string   `json:"sources"`
	FetchedAt  time.Time  `json:"fetchedAt"`
	Count      int        `json:"count"`
	EpochMin   *time.Time `json:"epochMin,omitempty"`
	EpochMax   *time.Time `json:"epochMax,omitempty"`
	AgeSeconds float64    `json:"ageSeconds"`
}

func (h *handlers) metadata(w http.ResponseWriter, r *http.Request) {
	meta, err := h.store.Meta(r.Context())
	if errors.Is(err, store.ErrNoMeta) {
		httputil.WriteMessage(w, http.StatusNotFound, msgNoData)
		return
	}
	if err != nil {
		h.logger.Error("metadata query failed", "error", err)
		httputil.WriteMessage(w, http.StatusInternalServerError, msgStoreFailure)
		return
	}

	resp := metadataResponse{
		CycleID:    meta.CycleID,
		Sources:    meta.Sources,
		FetchedAt:  meta.FetchedAt,
		Count:      meta.Count,
		AgeSeconds: math.Round(time.Since(meta.FetchedAt).Seconds()),
	}
	if !meta.Epochs.Min.IsZero() {
		resp.EpochMin = &meta.Epochs.Min
	}
	if !meta.Epochs.Max.IsZero() {
		resp.EpochMax = &meta.Epochs.Max
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type refreshResponse struct {
	CycleID    string `json:"cycleId"`
	Count      int    `json:"count"`
	DurationMs int64  `json:"durationMs"`
}

// refresh runs a cycle on demand. The cycle outlives a disconnecting client
// but is bounded by refreshTimeout.
func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), refreshTimeout)
	defer cancel()

	res, err := h.refresher.RunOnce(ctx)
	switch {
	case errors.Is(err, refresh.ErrCycleInFlight):
		httputil.WriteMessage(w, http.StatusConflict, msgRefreshBusy)
		return
	case err != nil:
		httputil.WriteMessage(w, http.StatusBadGateway, msgRefreshFailed)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, refreshResponse{
		CycleID:    res.CycleID,
		Count:      res.Count,
		DurationMs: res.Duration.Milliseconds(),
	})
}

// positiveInt parses s as an integer ≥ 1, returning def for anything else.
func positiveInt(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}
