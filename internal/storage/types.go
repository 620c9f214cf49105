package storage

import "github.com/scrypster/casetrace/pkg/types"

// DefaultSearchLimit bounds Search results when the caller passes a
// non-positive limit.
const DefaultSearchLimit = 50

// MaxSearchLimit caps Search results regardless of the requested limit.
const MaxSearchLimit = 500

// NormalizeSearchLimit applies the default and the cap.
func NormalizeSearchLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}

// EntityReport pairs a report reference with that report's per-report record
// for one entity.
type EntityReport struct {
	Report types.ReportRef `json:"report"`
	Record types.Record    `json:"record"`
}

// SearchHit is one entity matched by a category search, with its fan-out
// (the number of distinct reports referencing it).
type SearchHit struct {
	Entity      *types.Entity `json:"entity"`
	ReportCount int           `json:"report_count"`
}
