// Package extract turns report payloads into deduplicated, normalized,
// confidence-scored entity records. Structured fields score 1.0, regex
// matches 0.8, free-text heuristics 0.5. Malformed fields are counted and
// skipped; only an unreadable payload fails extraction.
package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/scrypster/casetrace/internal/storage"
	"github.com/scrypster/casetrace/pkg/types"
)

const (
	// ConfidenceStructured is assigned to entities read from structured
	// fields, like a profile's platform and username.
	ConfidenceStructured = 1.0
	// ConfidencePattern is assigned to regex matches in semi-structured
	// fields and free text.
	ConfidencePattern = 0.8
	// ConfidenceHeuristic is assigned to free-text heuristics such as name
	// and organization recognition.
	ConfidenceHeuristic = 0.5
)

var (
	emailPattern   = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	urlHostPattern = regexp.MustCompile(`https?://(?:www\.)?([^/\s]+)`)
	handlePattern  = regexp.MustCompile(`@([A-Za-z0-9_]{1,15})\b`)
	phonePattern   = regexp.MustCompile(`\+?[0-9][0-9()\-\s.]{5,}[0-9]`)
)

// socialPlatforms are the sites whose profile URLs identify a social handle
// rather than generic infrastructure.
var socialPlatforms = []string{"twitter", "instagram", "facebook", "linkedin", "github"}

// Metadata keys recognized per concern, checked in this order so extraction
// is deterministic regardless of map iteration.
var (
	organizationKeys = []string{"company", "organization", "employer", "workplace"}
	personKeys       = []string{"full_name", "display_name", "name"}
	locationKeys     = []string{"location", "city", "address", "headquarters"}
	emailKeys        = []string{"email"}
	phoneKeys        = []string{"phone"}
	websiteKeys      = []string{"website", "url"}
	textKeys         = []string{"bio", "description", "about"}
)

// organizationWords mark a name field as an organization rather than a
// person.
var organizationWords = []string{"federation", "company", "corp", "inc", "ltd"}

// Result is the outcome of one extraction pass: the entity records plus a
// count of fields that were present but unusable. Skipped fields are a
// documented lenience, not an error.
type Result struct {
	Records       []types.Record
	SkippedFields int
}

// FromPayload extracts entity records from a report payload. The returned
// slice is deterministic for identical input: deduplicated by entity ID with
// the maximum confidence and the union of sources, ordered by category then
// key.
func FromPayload(payload *types.ReportPayload) (*Result, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: payload is nil", storage.ErrInvalidInput)
	}
	if payload.ReportID == "" {
		return nil, fmt.Errorf("%w: payload has no report ID", storage.ErrInvalidInput)
	}

	p := &pass{byID: make(map[string]types.Record)}
	for _, profile := range payload.Profiles {
		p.profile(profile, payload.Username)
	}
	for _, note := range payload.Notes {
		p.text(note, "notes")
	}
	p.keywords(payload.Notes)

	records := make([]types.Record, 0, len(p.byID))
	for _, rec := range p.byID {
		sort.Strings(rec.Sources)
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Category != records[j].Category {
			return records[i].Category.Rank() < records[j].Category.Rank()
		}
		return records[i].Key < records[j].Key
	})

	return &Result{Records: records, SkippedFields: p.skipped}, nil
}

// pass accumulates one extraction. Dedup happens at insert time: identical
// entity IDs merge to the maximum confidence and the union of sources.
type pass struct {
	byID    map[string]types.Record
	skipped int
}

func (p *pass) add(data types.CanonicalData, confidence float64, source string) {
	rec, ok := types.NewRecord(data, confidence, source)
	if !ok {
		p.skipped++
		return
	}
	existing, seen := p.byID[rec.EntityID]
	if !seen {
		p.byID[rec.EntityID] = rec
		return
	}
	if rec.Confidence > existing.Confidence {
		existing.Confidence = rec.Confidence
		existing.Fields = rec.Fields
	}
	existing.Sources = mergeSources(existing.Sources, rec.Sources)
	p.byID[rec.EntityID] = existing
}

func (p *pass) profile(profile types.Profile, username string) {
	source := "profile:" + strings.ToLower(strings.TrimSpace(profile.Site))

	// A profile URL on a known social platform is the handle itself; the
	// platform's own domain carries no signal, so it is not extracted.
	if isSocialPlatformURL(profile.URL) {
		p.add(types.SocialHandle{
			Platform: profile.Site,
			Username: username,
			URL:      profile.URL,
		}, ConfidenceStructured, source)
	} else if profile.URL != "" {
		if host := hostFromURL(profile.URL); host != "" {
			p.add(types.Domain{Name: host, URL: profile.URL}, ConfidencePattern, source)
		} else {
			p.skipped++
		}
	}

	meta := profile.Metadata
	for _, key := range organizationKeys {
		if v := meta[key]; v != "" {
			p.add(types.Organization{Name: v, Kind: "employer"}, ConfidenceHeuristic, source)
		}
	}
	for _, key := range personKeys {
		if v := meta[key]; v != "" && !looksLikeOrganization(v) {
			p.add(types.Person{Name: v}, ConfidenceHeuristic, source)
		}
	}
	for _, key := range locationKeys {
		if v := meta[key]; v != "" {
			p.add(types.Location{Place: v, Kind: key}, ConfidenceHeuristic, source)
		}
	}
	for _, key := range emailKeys {
		if v := meta[key]; v != "" {
			if emailPattern.MatchString(v) {
				p.add(types.Email{Address: v}, ConfidenceStructured, source)
			} else {
				p.skipped++
			}
		}
	}
	for _, key := range phoneKeys {
		if v := meta[key]; v != "" {
			if phone := (types.Phone{Number: v}); digitCount(phone.Key()) >= 7 {
				p.add(phone, ConfidenceStructured, source)
			} else {
				p.skipped++
			}
		}
	}
	for _, key := range websiteKeys {
		if v := meta[key]; v != "" {
			if host := hostFromURL(v); host != "" {
				p.add(types.Domain{Name: host, URL: v}, ConfidencePattern, source)
			} else {
				p.skipped++
			}
		}
	}
	for _, key := range textKeys {
		if v := meta[key]; v != "" {
			p.text(v, source)
		}
	}
}

// text scans free text for pattern-shaped entities.
func (p *pass) text(text, source string) {
	for _, addr := range emailPattern.FindAllString(text, -1) {
		p.add(types.Email{Address: addr}, ConfidencePattern, source)
	}
	for _, loc := range handlePattern.FindAllStringSubmatchIndex(text, -1) {
		// An @ preceded by an address character is the domain separator of
		// an email, not a handle.
		if start := loc[0]; start > 0 && isEmailChar(text[start-1]) {
			continue
		}
		handle := text[loc[2]:loc[3]]
		p.add(types.SocialHandle{Platform: "twitter", Username: handle}, ConfidencePattern, source)
	}
	for _, m := range urlHostPattern.FindAllStringSubmatch(text, -1) {
		p.add(types.Domain{Name: m[1], URL: m[0]}, ConfidencePattern, source)
	}
	for _, raw := range phonePattern.FindAllString(text, -1) {
		if phone := (types.Phone{Number: raw}); digitCount(phone.Key()) >= 7 {
			p.add(phone, ConfidencePattern, source)
		}
	}
}

func (p *pass) keywords(notes []string) {
	if len(notes) == 0 {
		return
	}
	for _, term := range ExtractKeywords(strings.Join(notes, " "), 0, 0) {
		p.add(types.Keyword{Term: term}, ConfidenceHeuristic, "notes")
	}
}

func isSocialPlatformURL(url string) bool {
	lower := strings.ToLower(url)
	for _, platform := range socialPlatforms {
		if strings.Contains(lower, platform) {
			return true
		}
	}
	return false
}

func hostFromURL(url string) string {
	m := urlHostPattern.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

func looksLikeOrganization(name string) bool {
	lower := strings.ToLower(name)
	for _, word := range organizationWords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

func isEmailChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.', c == '_', c == '%', c == '+', c == '-':
		return true
	}
	return false
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func mergeSources(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(a, b...) {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
