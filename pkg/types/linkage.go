package types

// SharedEntity identifies one entity that two reports have in common.
// Fields holds the record detail from the report the linkage query was
// issued for.
type SharedEntity struct {
	EntityID string            `json:"entity_id"`
	Category Category          `json:"category"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// LinkedReport is one entry in a linkage result: another report, the number
// of distinct entities it shares with the queried report, and which entities
// those are.
type LinkedReport struct {
	Report         ReportRef      `json:"report"`
	SharedCount    int            `json:"shared_count"`
	SharedEntities []SharedEntity `json:"shared_entities"`
}

// GraphNode is a report discovered during investigation-graph traversal.
type GraphNode struct {
	ID        string `json:"id"`
	Username  string `json:"username,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	Depth     int    `json:"depth"`
}

// GraphEdge connects two reports that share entities. Strength is the
// connection strength (distinct shared entities) at discovery time.
type GraphEdge struct {
	Source            string `json:"source"`
	Target            string `json:"target"`
	Strength          int    `json:"strength"`
	SharedEntityCount int    `json:"shared_entities_count"`
}

// Graph is a bounded-depth investigation graph rooted at a single report.
// Nodes and edges appear in BFS discovery order.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Statistics summarizes the entity index.
type Statistics struct {
	TotalEntities       int              `json:"total_entities"`
	ReportsWithEntities int              `json:"reports_with_entities"`
	EntitiesByCategory  map[Category]int `json:"entities_by_category"`
}
