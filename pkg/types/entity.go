package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
)

// CanonicalData is the tagged union over the nine entity categories. Each
// variant carries an explicit, fixed field set; the generic key-value form
// (Fields) only appears at storage and serialization boundaries.
//
// Key returns the normalized identity key for the value. Two values that
// describe the same real-world fact must return the same key regardless of
// which report produced them. An empty key marks the value as unusable.
type CanonicalData interface {
	Category() Category
	Key() string
	Fields() map[string]string
}

// EntityID derives the stable entity identifier for a (category, key) pair.
// It is a pure function of its inputs: extraction order and report identity
// never influence the result.
func EntityID(category Category, key string) string {
	sum := sha256.Sum256([]byte(key))
	return string(category) + ":" + hex.EncodeToString(sum[:])[:8]
}

// Person is a person name found in profile metadata or free text.
type Person struct {
	Name       string `json:"name"`
	Role       string `json:"role,omitempty"`
	ProfileURL string `json:"profile_url,omitempty"`
}

func (p Person) Category() Category { return CategoryPeople }
func (p Person) Key() string        { return lowerTrim(p.Name) }
func (p Person) Fields() map[string]string {
	return fieldMap("name", p.Name, "role", p.Role, "profile_url", p.ProfileURL)
}

// Organization is a company, employer, or other named organization.
type Organization struct {
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

func (o Organization) Category() Category { return CategoryOrganizations }
func (o Organization) Key() string        { return lowerTrim(o.Name) }
func (o Organization) Fields() map[string]string {
	return fieldMap("name", o.Name, "kind", o.Kind)
}

// Email is an email address. The address is normalized to lowercase.
type Email struct {
	Address string `json:"address"`
}

func (e Email) Category() Category { return CategoryEmails }
func (e Email) Key() string        { return lowerTrim(e.Address) }
func (e Email) Fields() map[string]string {
	return fieldMap("address", lowerTrim(e.Address))
}

// Domain is a host name, normalized to lowercase with scheme and path removed.
type Domain struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

func (d Domain) Category() Category { return CategoryDomains }
func (d Domain) Key() string        { return lowerTrim(d.Name) }
func (d Domain) Fields() map[string]string {
	return fieldMap("name", lowerTrim(d.Name), "url", d.URL)
}

// Location is a place name (city, address, headquarters, ...).
type Location struct {
	Place string `json:"place"`
	Kind  string `json:"kind,omitempty"`
}

func (l Location) Category() Category { return CategoryLocations }
func (l Location) Key() string        { return lowerTrim(l.Place) }
func (l Location) Fields() map[string]string {
	return fieldMap("place", l.Place, "kind", l.Kind)
}

// SocialHandle is a username on a specific platform.
type SocialHandle struct {
	Platform string `json:"platform"`
	Username string `json:"username"`
	URL      string `json:"url,omitempty"`
}

func (s SocialHandle) Category() Category { return CategorySocialHandles }

func (s SocialHandle) Key() string {
	platform := lowerTrim(s.Platform)
	username := lowerTrim(s.Username)
	if platform == "" || username == "" {
		return ""
	}
	return platform + ":" + username
}

func (s SocialHandle) Fields() map[string]string {
	return fieldMap("platform", lowerTrim(s.Platform), "username", lowerTrim(s.Username), "url", s.URL)
}

// Phone is a phone number, normalized to digits with an optional leading plus.
type Phone struct {
	Number string `json:"number"`
}

func (p Phone) Category() Category { return CategoryPhones }

func (p Phone) Key() string {
	var b strings.Builder
	for i, r := range p.Number {
		if unicode.IsDigit(r) || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (p Phone) Fields() map[string]string {
	return fieldMap("number", p.Key())
}

// Event is a named event, optionally anchored to a date and place.
type Event struct {
	Name  string `json:"name"`
	Date  string `json:"date,omitempty"`
	Place string `json:"place,omitempty"`
}

func (e Event) Category() Category { return CategoryEvents }

func (e Event) Key() string {
	name := lowerTrim(e.Name)
	if name == "" {
		return ""
	}
	return name + ":" + strings.TrimSpace(e.Date)
}

func (e Event) Fields() map[string]string {
	return fieldMap("name", e.Name, "date", e.Date, "place", e.Place)
}

// Keyword is a semantic tag mined from free text.
type Keyword struct {
	Term string `json:"term"`
}

func (k Keyword) Category() Category { return CategoryKeywords }
func (k Keyword) Key() string        { return lowerTrim(k.Term) }
func (k Keyword) Fields() map[string]string {
	return fieldMap("term", lowerTrim(k.Term))
}

// Record is the per-report, category-scoped detail for one entity: the raw
// extracted fields, the extraction confidence, and the source references
// (which profile or note produced it). Different reports hold independent
// records for the same canonical entity.
type Record struct {
	EntityID   string            `json:"entity_id"`
	Category   Category          `json:"category"`
	Key        string            `json:"key"`
	Fields     map[string]string `json:"fields"`
	Confidence float64           `json:"confidence"`
	Sources    []string          `json:"sources,omitempty"`
}

// NewRecord builds a Record from canonical data. It returns false when the
// data normalizes to an empty key and therefore cannot identify an entity.
func NewRecord(data CanonicalData, confidence float64, source string) (Record, bool) {
	key := data.Key()
	if key == "" {
		return Record{}, false
	}
	rec := Record{
		EntityID:   EntityID(data.Category(), key),
		Category:   data.Category(),
		Key:        key,
		Fields:     data.Fields(),
		Confidence: confidence,
	}
	if source != "" {
		rec.Sources = []string{source}
	}
	return rec, true
}

// Entity is a canonical real-world fact referenced by one or more reports.
// ReportIDs is always sorted and duplicate-free; an entity with an empty
// report set does not exist in any index.
type Entity struct {
	ID          string            `json:"id"`
	Category    Category          `json:"category"`
	Key         string            `json:"key"`
	Fields      map[string]string `json:"fields"`
	ReportIDs   []string          `json:"report_ids"`
	FirstSeen   time.Time         `json:"first_seen"`
	LastUpdated time.Time         `json:"last_updated"`
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// fieldMap builds a key-value map from alternating key/value arguments,
// skipping pairs with empty values.
func fieldMap(pairs ...string) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			m[pairs[i]] = pairs[i+1]
		}
	}
	return m
}
