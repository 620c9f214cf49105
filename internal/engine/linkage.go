// Package engine computes linkage between reports sharing entities, derives
// follow-up investigation suggestions, and builds bounded-depth investigation
// graphs over the linkage relation. All components read store state; none of
// them mutate it.
package engine

import (
	"context"
	"sort"

	"github.com/scrypster/casetrace/internal/storage"
	"github.com/scrypster/casetrace/pkg/types"
)

// Linker computes shared-entity connections between reports.
type Linker struct {
	store storage.EntityStore

	// maxFanOut, when positive, excludes entities referenced by more than
	// that many reports from strength computation. Generic facts shared by
	// many unrelated reports otherwise produce noisy, low-value links.
	maxFanOut int
}

// NewLinker builds a linker over a store. maxFanOut = 0 disables the fan-out
// cutoff.
func NewLinker(store storage.EntityStore, maxFanOut int) *Linker {
	return &Linker{store: store, maxFanOut: maxFanOut}
}

// LinkedReports returns every report sharing at least one entity with the
// given report, strongest connection first. Ties break by report creation
// time descending, then report ID ascending, so the order is total and
// deterministic. A report with no entities yields an empty list.
func (l *Linker) LinkedReports(ctx context.Context, reportID string) ([]types.LinkedReport, error) {
	byCategory, err := l.store.ReportEntities(ctx, reportID, "")
	if err != nil {
		return nil, err
	}

	type accumulator struct {
		ref    types.ReportRef
		shared []types.SharedEntity
	}
	linked := make(map[string]*accumulator)

	// Categories in canonical order and records in stored (entity ID) order
	// keep the shared-entity lists deterministic.
	for _, category := range types.AllCategories {
		for _, rec := range byCategory[category] {
			reports, err := l.store.EntityReports(ctx, rec.EntityID)
			if err != nil {
				return nil, err
			}
			if l.maxFanOut > 0 && len(reports) > l.maxFanOut {
				continue
			}
			for _, er := range reports {
				if er.Report.ID == reportID {
					continue
				}
				acc, ok := linked[er.Report.ID]
				if !ok {
					acc = &accumulator{ref: er.Report}
					linked[er.Report.ID] = acc
				}
				acc.shared = append(acc.shared, types.SharedEntity{
					EntityID: rec.EntityID,
					Category: category,
					Fields:   rec.Fields,
				})
			}
		}
	}

	out := make([]types.LinkedReport, 0, len(linked))
	for _, acc := range linked {
		out = append(out, types.LinkedReport{
			Report:         acc.ref,
			SharedCount:    len(acc.shared),
			SharedEntities: acc.shared,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SharedCount != b.SharedCount {
			return a.SharedCount > b.SharedCount
		}
		if !a.Report.CreatedAt.Equal(b.Report.CreatedAt) {
			return a.Report.CreatedAt.After(b.Report.CreatedAt)
		}
		return a.Report.ID < b.Report.ID
	})
	return out, nil
}
