package types

import "time"

// ReportRef is the minimal handle the engine keeps for a report: an opaque
// identifier plus the display metadata needed for linkage ordering and graph
// nodes. The report's full content is owned by the report pipeline.
type ReportRef struct {
	ID        string    `json:"report_id"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is one discovered account or page inside a report payload.
// Metadata carries free-form fields scraped alongside the profile
// (display name, bio, company, location, ...).
type Profile struct {
	Site     string            `json:"site"`
	URL      string            `json:"url"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ReportPayload is the input to entity extraction: an investigation result
// keyed by a report identifier. The engine treats it as opaque beyond the
// identifier, the profile list, and the free-text notes.
type ReportPayload struct {
	ReportID  string    `json:"report_id"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Profiles  []Profile `json:"profiles"`
	Notes     []string  `json:"notes,omitempty"`
}

// Ref returns the report reference for the payload.
func (p *ReportPayload) Ref() ReportRef {
	return ReportRef{ID: p.ReportID, Username: p.Username, CreatedAt: p.CreatedAt}
}
