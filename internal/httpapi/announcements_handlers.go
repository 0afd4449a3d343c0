package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"opowatch-engine/internal/domain"
	"opowatch-engine/internal/index"
)

type AnnouncementsHandler struct {
	Index *index.Index
}

type searchResponse struct {
	Items  []domain.Announcement `json:"items"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

// Search handles GET /announcements. Filters: category and organism
// (repeatable), from/to (YYYY-MM-DD), q (substring over title+body),
// limit/offset, history=1 to include superseded versions.
func (h AnnouncementsHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := index.QueryOpts{
		Categories:     q["category"],
		Organisms:      q["organism"],
		Text:           q.Get("q"),
		IncludeHistory: q.Get("history") == "1",
	}
	opts.Limit, _ = strconv.Atoi(q.Get("limit"))
	opts.Offset, _ = strconv.Atoi(q.Get("offset"))
	if opts.Limit <= 0 || opts.Limit > 500 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	if s := q.Get("from"); s != "" {
		d, err := domain.ParseDate(s)
		if err != nil {
			WriteError(w, r, http.StatusBadRequest, "bad_date", "from must be YYYY-MM-DD")
			return
		}
		opts.From = d
	}
	if s := q.Get("to"); s != "" {
		d, err := domain.ParseDate(s)
		if err != nil {
			WriteError(w, r, http.StatusBadRequest, "bad_date", "to must be YYYY-MM-DD")
			return
		}
		opts.To = d
	}

	items, total, err := h.Index.Query(r.Context(), opts)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	if items == nil {
		items = []domain.Announcement{}
	}
	writeJSON(w, searchResponse{Items: items, Total: total, Limit: opts.Limit, Offset: opts.Offset})
}

// GetByPath handles GET /announcements/{fingerprint}; ?history=1 returns
// every stored version instead of just the active one.
func (h AnnouncementsHandler) GetByPath(w http.ResponseWriter, r *http.Request) {
	fp := strings.TrimPrefix(r.URL.Path, "/announcements/")
	if fp == "" || strings.Contains(fp, "/") {
		WriteError(w, r, http.StatusBadRequest, "bad_fingerprint", "expected /announcements/{fingerprint}")
		return
	}

	if r.URL.Query().Get("history") == "1" {
		versions, err := h.Index.History(r.Context(), fp)
		if err != nil {
			WriteError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
			return
		}
		if len(versions) == 0 {
			WriteError(w, r, http.StatusNotFound, "not_found", "no announcement with that fingerprint")
			return
		}
		writeJSON(w, versions)
		return
	}

	a, err := h.Index.GetByFingerprint(r.Context(), fp)
	if errors.Is(err, index.ErrNotFound) {
		WriteError(w, r, http.StatusNotFound, "not_found", "no announcement with that fingerprint")
		return
	}
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	writeJSON(w, a)
}

func (h AnnouncementsHandler) Organisms(w http.ResponseWriter, r *http.Request) {
	names, err := h.Index.Organisms(r.Context())
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, names)
}

func (h AnnouncementsHandler) Categories(w http.ResponseWriter, r *http.Request) {
	names, err := h.Index.Categories(r.Context())
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, names)
}
