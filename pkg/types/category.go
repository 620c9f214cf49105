package types

// Category is the semantic type of an extracted entity.
// The set of categories is fixed; every entity belongs to exactly one.
type Category string

const (
	CategoryPeople        Category = "people"
	CategoryOrganizations Category = "organizations"
	CategoryEmails        Category = "emails"
	CategoryDomains       Category = "domains"
	CategoryLocations     Category = "locations"
	CategorySocialHandles Category = "social_handles"
	CategoryPhones        Category = "phones"
	CategoryEvents        Category = "events"
	CategoryKeywords      Category = "keywords"
)

// AllCategories lists every category in canonical order. This order is used
// wherever per-category output must be deterministic (extraction results,
// follow-up generation, report entity listings).
var AllCategories = []Category{
	CategoryPeople,
	CategoryOrganizations,
	CategoryEmails,
	CategoryDomains,
	CategoryLocations,
	CategorySocialHandles,
	CategoryPhones,
	CategoryEvents,
	CategoryKeywords,
}

var categoryRank = func() map[Category]int {
	m := make(map[Category]int, len(AllCategories))
	for i, c := range AllCategories {
		m[c] = i
	}
	return m
}()

// Valid reports whether c is one of the nine known categories.
func (c Category) Valid() bool {
	_, ok := categoryRank[c]
	return ok
}

// Rank returns the position of c in the canonical category order.
// Unknown categories sort last.
func (c Category) Rank() int {
	if r, ok := categoryRank[c]; ok {
		return r
	}
	return len(AllCategories)
}
