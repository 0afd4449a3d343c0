package httpapi

import (
	"sync/atomic"

	"opowatch-engine/internal/config"
	"opowatch-engine/internal/events"
	"opowatch-engine/internal/index"
	"opowatch-engine/internal/ingest"
)

type Deps struct {
	Index *index.Index

	Hub *events.Hub

	// Ingestion entrypoint; owns the one-run-at-a-time discipline.
	Ingest *ingest.Manager

	// Atomic store holding config.Config, hot-reloaded on PUT /config.
	CfgVal *atomic.Value

	// Config persistence
	UserCfgPath string
	LoadCfg     func() (config.Config, error)

	// AdminToken, when non-empty, guards mutating endpoints.
	AdminToken func() string
}
