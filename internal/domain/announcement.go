package domain

import "time"

// Status of one stored version of an announcement.
const (
	StatusActive     = "active"
	StatusSuperseded = "superseded"
)

// Candidate is an announcement as extracted from a gazette summary,
// before deduplication assigns it a fingerprint and a version.
type Candidate struct {
	SourceRef   string // gazette item identifier, e.g. BOE-A-2025-12345
	Control     string // gazette control number, may be empty
	Category    string
	Organism    string
	Title       string
	Body        string // full notice text, filled in by hydration when enabled
	URLHTML     string
	URLPDF      string
	PublishedAt Date
}

// Announcement is one persisted version of a notice.
type Announcement struct {
	ID          int64     `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Version     int       `json:"version"`
	SourceRef   string    `json:"sourceRef"`
	Control     string    `json:"control,omitempty"`
	Category    string    `json:"category"`
	Organism    string    `json:"organism"`
	Title       string    `json:"title"`
	Body        string    `json:"body,omitempty"`
	URLHTML     string    `json:"urlHTML,omitempty"`
	URLPDF      string    `json:"urlPDF,omitempty"`
	PublishedAt Date      `json:"publishedAt"`
	Status      string    `json:"status"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}
