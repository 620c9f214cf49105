package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/scrypster/casetrace/pkg/types"
)

// categoryPriority fixes the priority of each entity category's follow-up.
var categoryPriority = map[types.Category]types.Priority{
	types.CategoryPeople:        types.PriorityHigh,
	types.CategoryEmails:        types.PriorityHigh,
	types.CategoryOrganizations: types.PriorityMedium,
	types.CategoryDomains:       types.PriorityMedium,
	types.CategorySocialHandles: types.PriorityMedium,
	types.CategoryPhones:        types.PriorityMedium,
	types.CategoryLocations:     types.PriorityLow,
	types.CategoryEvents:        types.PriorityLow,
	types.CategoryKeywords:      types.PriorityLow,
}

// Generator turns a report's entity set into follow-up suggestions. It is
// pure and stateless: identical input produces an identical ordered list
// with identical IDs, so results can be recomputed instead of cached.
type Generator struct {
	catalog ToolCatalog
}

// NewGenerator builds a generator over a tool catalog. A nil catalog selects
// the defaults.
func NewGenerator(catalog ToolCatalog) *Generator {
	if catalog == nil {
		catalog = DefaultToolCatalog()
	}
	return &Generator{catalog: catalog}
}

// Generate produces the ordered suggestion list for one report's entities.
// Ordering is priority first, then category in canonical order, then
// generation order within the category. IDs are assigned after sorting.
func (g *Generator) Generate(ref types.ReportRef, entities map[types.Category][]types.Record) []types.Suggestion {
	var suggestions []types.Suggestion
	for _, category := range types.AllCategories {
		for _, rec := range entities[category] {
			suggestions = append(suggestions, g.forRecord(ref, category, rec)...)
		}
	}

	// Stable sort: entries were appended in canonical category order, which
	// the sort preserves within each priority tier.
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Priority.Rank() < suggestions[j].Priority.Rank()
	})

	for i := range suggestions {
		suggestions[i].ID = fmt.Sprintf("followup-%d", i+1)
	}
	return suggestions
}

func (g *Generator) forRecord(ref types.ReportRef, category types.Category, rec types.Record) []types.Suggestion {
	switch category {
	case types.CategoryPeople:
		return g.personSuggestions(ref, rec)
	case types.CategoryOrganizations:
		return g.organizationSuggestions(ref, rec)
	case types.CategoryEmails:
		return g.emailSuggestions(ref, rec)
	case types.CategoryDomains:
		return g.domainSuggestions(rec)
	case types.CategorySocialHandles:
		return g.handleSuggestions(ref, rec)
	case types.CategoryPhones:
		return g.phoneSuggestions(rec)
	case types.CategoryLocations:
		return g.noteSuggestion(category, rec, rec.Fields["place"],
			"Investigate Location: %s", "Gather proximity and context intelligence on this location")
	case types.CategoryEvents:
		return g.noteSuggestion(category, rec, rec.Fields["name"],
			"Timeline Note: %s", "Anchor this event on the investigation timeline")
	case types.CategoryKeywords:
		return g.noteSuggestion(category, rec, rec.Fields["term"],
			"Tag Note: %s", "Track this recurring theme across reports")
	}
	return nil
}

func (g *Generator) personSuggestions(ref types.ReportRef, rec types.Record) []types.Suggestion {
	name := rec.Fields["name"]
	variants := excludeUsername(UsernameVariants(name), ref.Username)
	if len(variants) == 0 {
		return nil
	}
	if len(variants) > 3 {
		variants = variants[:3]
	}

	tool := g.catalog[types.CategoryPeople]
	searches := make([]types.SuggestedSearch, 0, len(variants))
	for _, variant := range variants {
		searches = append(searches, types.SuggestedSearch{
			Tool:      tool.Tool,
			Query:     variant,
			Reasoning: fmt.Sprintf("Username variant from name %q", name),
		})
	}

	return []types.Suggestion{{
		Type:              "person_investigation",
		Priority:          categoryPriority[types.CategoryPeople],
		Category:          types.CategoryPeople,
		Title:             fmt.Sprintf("Investigate %s", name),
		Description:       "Search for personal accounts under likely username variants",
		EntityFields:      rec.Fields,
		SuggestedSearches: searches,
		OneClickAction:    g.action(tool, variants[0], fmt.Sprintf("Search '%s'", variants[0])),
	}}
}

func (g *Generator) organizationSuggestions(ref types.ReportRef, rec types.Record) []types.Suggestion {
	name := rec.Fields["name"]
	variants := excludeUsername(UsernameVariants(name), ref.Username)
	if len(variants) == 0 {
		return nil
	}
	if len(variants) > 2 {
		variants = variants[:2]
	}

	tool := g.catalog[types.CategoryOrganizations]
	searches := make([]types.SuggestedSearch, 0, len(variants))
	for _, variant := range variants {
		searches = append(searches, types.SuggestedSearch{
			Tool:      tool.Tool,
			Query:     variant,
			Reasoning: fmt.Sprintf("Potential handle for %s", name),
		})
	}

	return []types.Suggestion{{
		Type:              "organization_investigation",
		Priority:          categoryPriority[types.CategoryOrganizations],
		Category:          types.CategoryOrganizations,
		Title:             fmt.Sprintf("Find Accounts: %s", name),
		Description:       "Search for the organization's official accounts",
		EntityFields:      rec.Fields,
		SuggestedSearches: searches,
		OneClickAction:    g.action(tool, variants[0], fmt.Sprintf("Search '%s'", variants[0])),
	}}
}

func (g *Generator) emailSuggestions(ref types.ReportRef, rec types.Record) []types.Suggestion {
	address := rec.Fields["address"]
	tool := g.catalog[types.CategoryEmails]

	suggestions := []types.Suggestion{{
		Type:         "email_investigation",
		Priority:     categoryPriority[types.CategoryEmails],
		Category:     types.CategoryEmails,
		Title:        fmt.Sprintf("Check Email: %s", address),
		Description:  "Find accounts registered with this email",
		EntityFields: rec.Fields,
		SuggestedSearches: []types.SuggestedSearch{{
			Tool:      tool.Tool,
			Query:     address,
			Reasoning: "Check which platforms this email is registered on",
		}},
		OneClickAction: g.action(tool, address, "Check Email"),
	}}

	// A simple local part doubles as a likely username.
	local, _, found := strings.Cut(address, "@")
	if found && len(local) >= minVariantLength && local != ref.Username &&
		!strings.ContainsAny(local, ".-_") {
		search := g.catalog[types.CategorySocialHandles]
		suggestions = append(suggestions, types.Suggestion{
			Type:         "username_investigation",
			Priority:     types.PriorityMedium,
			Category:     types.CategoryEmails,
			Title:        fmt.Sprintf("Search Username: %s", local),
			Description:  fmt.Sprintf("Email local part %q might be used on social media", local),
			EntityFields: rec.Fields,
			SuggestedSearches: []types.SuggestedSearch{{
				Tool:      search.Tool,
				Query:     local,
				Reasoning: "Username extracted from email address",
			}},
			OneClickAction: g.action(search, local, fmt.Sprintf("Search '%s'", local)),
		})
	}
	return suggestions
}

func (g *Generator) domainSuggestions(rec types.Record) []types.Suggestion {
	name := rec.Fields["name"]
	tool := g.catalog[types.CategoryDomains]
	return []types.Suggestion{{
		Type:         "domain_investigation",
		Priority:     categoryPriority[types.CategoryDomains],
		Category:     types.CategoryDomains,
		Title:        fmt.Sprintf("Investigate Domain: %s", name),
		Description:  "Extract emails, subdomains, and infrastructure info",
		EntityFields: rec.Fields,
		SuggestedSearches: []types.SuggestedSearch{{
			Tool:      tool.Tool,
			Query:     name,
			Reasoning: "Gather emails, names, and subdomains from the domain",
		}},
		OneClickAction: g.action(tool, name, "Harvest Domain"),
	}}
}

func (g *Generator) handleSuggestions(ref types.ReportRef, rec types.Record) []types.Suggestion {
	username := rec.Fields["username"]
	platform := rec.Fields["platform"]
	if username == "" || username == ref.Username {
		return nil
	}
	tool := g.catalog[types.CategorySocialHandles]
	return []types.Suggestion{{
		Type:         "cross_platform_search",
		Priority:     categoryPriority[types.CategorySocialHandles],
		Category:     types.CategorySocialHandles,
		Title:        fmt.Sprintf("Search '%s' Across Platforms", username),
		Description:  fmt.Sprintf("Found on %s, search other platforms", platform),
		EntityFields: rec.Fields,
		SuggestedSearches: []types.SuggestedSearch{{
			Tool:      tool.Tool,
			Query:     username,
			Reasoning: fmt.Sprintf("Username found on %s, may be used elsewhere", platform),
		}},
		OneClickAction: g.action(tool, username, fmt.Sprintf("Search '%s'", username)),
	}}
}

func (g *Generator) phoneSuggestions(rec types.Record) []types.Suggestion {
	number := rec.Fields["number"]
	tool := g.catalog[types.CategoryPhones]
	return []types.Suggestion{{
		Type:         "phone_investigation",
		Priority:     categoryPriority[types.CategoryPhones],
		Category:     types.CategoryPhones,
		Title:        fmt.Sprintf("Investigate Phone: %s", number),
		Description:  "Look up the number for owner and carrier info",
		EntityFields: rec.Fields,
		SuggestedSearches: []types.SuggestedSearch{{
			Tool:      tool.Tool,
			Query:     number,
			Reasoning: "Get carrier, region, and owner information",
		}},
		OneClickAction: g.action(tool, number, "Lookup Phone"),
	}}
}

func (g *Generator) noteSuggestion(category types.Category, rec types.Record, value, titleFormat, description string) []types.Suggestion {
	if value == "" {
		return nil
	}
	tool := g.catalog[category]
	return []types.Suggestion{{
		Type:         string(category) + "_note",
		Priority:     categoryPriority[category],
		Category:     category,
		Title:        fmt.Sprintf(titleFormat, value),
		Description:  description,
		EntityFields: rec.Fields,
		SuggestedSearches: []types.SuggestedSearch{{
			Tool:      tool.Tool,
			Query:     value,
			Reasoning: description,
		}},
		OneClickAction: g.action(tool, value, "Add Note"),
	}}
}

func (g *Generator) action(tool ToolContract, value, buttonText string) types.OneClickAction {
	return types.OneClickAction{
		Endpoint:   tool.Endpoint,
		Method:     tool.Method,
		Params:     map[string]string{tool.Param: value},
		ButtonText: buttonText,
	}
}

func excludeUsername(variants []string, username string) []string {
	if username == "" {
		return variants
	}
	out := variants[:0]
	for _, v := range variants {
		if v != username {
			out = append(out, v)
		}
	}
	return out
}
