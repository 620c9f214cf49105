package engine

import (
	"context"
	"errors"
	"time"

	"github.com/scrypster/casetrace/internal/storage"
	"github.com/scrypster/casetrace/pkg/types"
)

// DefaultMaxDepth bounds graph traversal when the caller does not supply a
// depth.
const DefaultMaxDepth = 2

// GraphBuilder expands the linkage relation into a bounded-depth
// investigation graph.
type GraphBuilder struct {
	store  storage.EntityStore
	linker *Linker
}

// NewGraphBuilder builds a graph builder over a store and its linker.
func NewGraphBuilder(store storage.EntityStore, linker *Linker) *GraphBuilder {
	return &GraphBuilder{store: store, linker: linker}
}

// Build runs a breadth-first traversal from the root report. Nodes and edges
// appear in BFS discovery order; no report is visited twice, which the
// symmetric linkage relation would otherwise cause. A negative maxDepth
// selects DefaultMaxDepth. An unknown root yields an empty graph.
func (g *GraphBuilder) Build(ctx context.Context, rootID string, maxDepth int) (*types.Graph, error) {
	if maxDepth < 0 {
		maxDepth = DefaultMaxDepth
	}

	graph := &types.Graph{Nodes: []types.GraphNode{}, Edges: []types.GraphEdge{}}

	root, err := g.store.ReportRef(ctx, rootID)
	if errors.Is(err, storage.ErrNotFound) {
		return graph, nil
	}
	if err != nil {
		return nil, err
	}

	type frontierEntry struct {
		id    string
		depth int
	}

	visited := map[string]struct{}{rootID: {}}
	graph.Nodes = append(graph.Nodes, node(root, 0))
	queue := []frontierEntry{{id: rootID, depth: 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= maxDepth {
			continue
		}

		links, err := g.linker.LinkedReports(ctx, current.id)
		if err != nil {
			return nil, err
		}
		for _, link := range links {
			if _, seen := visited[link.Report.ID]; seen {
				continue
			}
			visited[link.Report.ID] = struct{}{}
			graph.Nodes = append(graph.Nodes, node(link.Report, current.depth+1))
			graph.Edges = append(graph.Edges, types.GraphEdge{
				Source:            current.id,
				Target:            link.Report.ID,
				Strength:          link.SharedCount,
				SharedEntityCount: len(link.SharedEntities),
			})
			queue = append(queue, frontierEntry{id: link.Report.ID, depth: current.depth + 1})
		}
	}
	return graph, nil
}

func node(ref types.ReportRef, depth int) types.GraphNode {
	createdAt := ""
	if !ref.CreatedAt.IsZero() {
		createdAt = ref.CreatedAt.UTC().Format(time.RFC3339)
	}
	return types.GraphNode{
		ID:        ref.ID,
		Username:  ref.Username,
		CreatedAt: createdAt,
		Depth:     depth,
	}
}
