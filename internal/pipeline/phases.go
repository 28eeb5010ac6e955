// Package pipeline defines the ordered content-ingestion phases and the
// label arithmetic shared by the batch processor and progress aggregator.
package pipeline

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Phase identifies one stage of the content-ingestion pipeline.
type Phase string

const (
	PhaseScrape   Phase = "scrape"
	PhaseRehost   Phase = "rehost"
	PhaseEnrich   Phase = "enrich"
	PhaseEnhance  Phase = "enhance"
	PhaseValidate Phase = "validate"
	PhasePublish  Phase = "publish"
)

// RetryingFailedLabel is the transient currentPhase label set while a
// retry-failed action re-runs only the failed work items of a phase.
const RetryingFailedLabel = "retrying failed items"

var phaseOrder = []Phase{
	PhaseScrape,
	PhaseRehost,
	PhaseEnrich,
	PhaseEnhance,
	PhaseValidate,
	PhasePublish,
}

var phaseSet = func() map[Phase]struct{} {
	set := make(map[Phase]struct{}, len(phaseOrder))
	for _, phase := range phaseOrder {
		set[phase] = struct{}{}
	}
	return set
}()

var titleCaser = cases.Title(language.English)

// All returns the ordered list of known phases.
func All() []Phase {
	cp := make([]Phase, len(phaseOrder))
	copy(cp, phaseOrder)
	return cp
}

// Parse converts a string into a known Phase.
func Parse(value string) (Phase, bool) {
	normalized := Phase(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := phaseSet[normalized]
	return normalized, ok
}

// Next returns the phase following p, or false when p is terminal or unknown.
func Next(p Phase) (Phase, bool) {
	for i, phase := range phaseOrder {
		if phase == p {
			if i+1 < len(phaseOrder) {
				return phaseOrder[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

// IsTerminal reports whether p is the last phase of the pipeline.
func IsTerminal(p Phase) bool {
	return p == phaseOrder[len(phaseOrder)-1]
}

// Label returns the human-readable display label for a phase or phase-like
// string such as RetryingFailedLabel.
func Label(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	return titleCaser.String(trimmed)
}
