// Package dedup decides what an extracted candidate means relative to what
// the index already holds: a brand-new notice, a repeat sighting, or a
// revision of a known one.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"

	"opowatch-engine/internal/domain"
	"opowatch-engine/internal/extract"
)

// Decision classifies one candidate against the current index state.
type Decision int

const (
	New       Decision = iota // no active version shares the fingerprint
	Unchanged                 // identical to the active version; touch last_seen_at only
	Updated                   // same identity, different content; supersede and insert
)

func (d Decision) String() string {
	switch d {
	case New:
		return "new"
	case Unchanged:
		return "unchanged"
	default:
		return "updated"
	}
}

// Fingerprint derives the identity key from the four normalized core
// fields. It deliberately ignores body, URLs and control number: a notice
// whose text is corrected upstream keeps its fingerprint. Distinct notices
// sharing all four fields conflate; Classify resolves that as Updated.
func Fingerprint(c domain.Candidate) string {
	h := sha256.New()
	for _, part := range []string{
		extract.FoldKey(c.Title),
		extract.FoldKey(c.Organism),
		extract.FoldKey(c.Category),
		c.PublishedAt.String(),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Classify compares a candidate with the active version under the same
// fingerprint, or nil if there is none.
func Classify(c domain.Candidate, current *domain.Announcement) Decision {
	if current == nil {
		return New
	}
	if c.SourceRef == current.SourceRef &&
		c.Control == current.Control &&
		c.Title == current.Title &&
		c.Organism == current.Organism &&
		c.Category == current.Category &&
		(c.Body == "" || c.Body == current.Body) &&
		c.URLHTML == current.URLHTML &&
		c.URLPDF == current.URLPDF {
		return Unchanged
	}
	return Updated
}
