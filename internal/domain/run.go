package domain

import "time"

// Ingestion run states.
const (
	RunScheduled  = "scheduled"
	RunFetching   = "fetching"
	RunExtracting = "extracting"
	RunResolving  = "resolving"
	RunFinalizing = "finalizing"

	RunCompleted    = "completed"
	RunWithWarnings = "completed_with_warnings"
	RunFailed       = "failed"
)

// Warning records a section the extractor skipped without aborting.
type Warning struct {
	Locator string `json:"locator"` // e.g. "20240105/dept[3]/item[2]"
	Reason  string `json:"reason"`
}

// Failure records a document that could not be fetched or applied.
type Failure struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

// RunSummary is the immutable record of one ingestion run.
type RunSummary struct {
	ID         int64     `json:"id"`
	Range      Range     `json:"range"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	DocsFetched int `json:"docsFetched"`
	Candidates  int `json:"candidates"`
	Inserted    int `json:"inserted"`
	Updated     int `json:"updated"`
	Unchanged   int `json:"unchanged"`

	Warnings []Warning `json:"warnings,omitempty"`
	Failures []Failure `json:"failures,omitempty"`
}
