package httpapi

import "net/http"

func NewMux(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	// Announcements (read-only)
	ah := AnnouncementsHandler{Index: d.Index}
	mux.HandleFunc("/announcements", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ah.Search,
	}))
	mux.HandleFunc("/announcements/", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ah.GetByPath, // expects /announcements/{fingerprint}
	}))
	mux.HandleFunc("/organisms", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ah.Organisms,
	}))
	mux.HandleFunc("/categories", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ah.Categories,
	}))

	// Ingestion
	ih := IngestHandler{Ingest: d.Ingest, Index: d.Index, CfgVal: d.CfgVal, AdminToken: d.AdminToken}
	mux.HandleFunc("/ingest/run", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: ih.Run,
	}))
	mux.HandleFunc("/ingest/status", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ih.Status,
	}))
	mux.HandleFunc("/runs", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ih.ListRuns,
	}))

	// Config
	ch := ConfigHandler{
		CfgVal:      d.CfgVal,
		UserCfgPath: d.UserCfgPath,
		LoadCfg:     d.LoadCfg,
		AdminToken:  d.AdminToken,
	}
	mux.HandleFunc("/config", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Get,
		http.MethodPut: ch.Put,
	}))
	mux.HandleFunc("/config/path", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Path,
	}))

	// Secrets
	sh := SecretsHandler{AdminToken: d.AdminToken}
	mux.HandleFunc("/api/secrets/admin", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: sh.SetAdminToken,
	}))

	// SSE events
	eh := EventsHandler{Hub: d.Hub}
	mux.HandleFunc("/events", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: eh.ServeSSE,
	}))

	// Health
	hh := HealthHandler{}
	mux.HandleFunc("/health", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: hh.Health,
	}))

	return mux
}
