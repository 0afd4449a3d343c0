package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"opowatch-engine/internal/config"
	"opowatch-engine/internal/domain"
	"opowatch-engine/internal/index"
	"opowatch-engine/internal/ingest"
)

type IngestHandler struct {
	Ingest     *ingest.Manager
	Index      *index.Index
	CfgVal     *atomic.Value // config.Config
	AdminToken func() string
}

type runRequest struct {
	From string `json:"from"` // YYYY-MM-DD; empty = lookback window
	To   string `json:"to"`
}

func (h IngestHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Ingest.Status())
}

// Run kicks off an ingestion run in the background and returns
// immediately; progress lands on /ingest/status and /events.
func (h IngestHandler) Run(w http.ResponseWriter, r *http.Request) {
	if !requireToken(w, r, h.AdminToken) {
		return
	}

	var req runRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, r, http.StatusBadRequest, "bad_json", "invalid json body")
			return
		}
	}

	cfg := h.CfgVal.Load().(config.Config)
	rng, err := resolveRange(req, cfg.Ingest.LookbackDays)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_range", err.Error())
		return
	}

	if h.Ingest.Status().Running {
		writeJSON(w, map[string]any{"ok": false, "msg": "already running"})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		_, _ = h.Ingest.TryRun(ctx, rng)
	}()

	writeJSON(w, map[string]any{"ok": true, "from": rng.From.String(), "to": rng.To.String()})
}

func (h IngestHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.Index.ListRuns(r.Context(), limit)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	if runs == nil {
		runs = []domain.RunSummary{}
	}
	writeJSON(w, runs)
}

func resolveRange(req runRequest, lookbackDays int) (domain.Range, error) {
	today := domain.DateOf(time.Now().UTC())
	rng := domain.Range{From: today.AddDays(-lookbackDays), To: today}

	if req.From != "" {
		d, err := domain.ParseDate(req.From)
		if err != nil {
			return domain.Range{}, err
		}
		rng.From = d
	}
	if req.To != "" {
		d, err := domain.ParseDate(req.To)
		if err != nil {
			return domain.Range{}, err
		}
		rng.To = d
	}
	if rng.To.Before(rng.From) {
		rng.From, rng.To = rng.To, rng.From
	}
	return rng, nil
}
