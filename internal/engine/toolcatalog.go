package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/casetrace/pkg/types"
)

// ToolContract is the declared API surface of one external investigation
// tool: where to post the query and under which parameter name. The engine
// only embeds these into one-click actions; it never calls the endpoints.
type ToolContract struct {
	Tool     string `yaml:"tool" json:"tool"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Method   string `yaml:"method" json:"method"`
	Param    string `yaml:"param" json:"param"`
}

// ToolCatalog maps each entity category to the tool that acts on it.
type ToolCatalog map[types.Category]ToolContract

// DefaultToolCatalog returns the built-in category-to-tool lookup table.
func DefaultToolCatalog() ToolCatalog {
	return ToolCatalog{
		types.CategoryPeople:        {Tool: "identity-search", Endpoint: "/api/identity/search", Method: "POST", Param: "username"},
		types.CategoryOrganizations: {Tool: "org-search", Endpoint: "/api/identity/search", Method: "POST", Param: "username"},
		types.CategoryEmails:        {Tool: "email-check", Endpoint: "/api/email/check", Method: "POST", Param: "email"},
		types.CategoryDomains:       {Tool: "domain-harvest", Endpoint: "/api/domain/harvest", Method: "POST", Param: "domain"},
		types.CategoryLocations:     {Tool: "geo-lookup", Endpoint: "/api/geo/lookup", Method: "POST", Param: "query"},
		types.CategorySocialHandles: {Tool: "cross-platform-search", Endpoint: "/api/identity/search", Method: "POST", Param: "username"},
		types.CategoryPhones:        {Tool: "phone-lookup", Endpoint: "/api/phone/lookup", Method: "POST", Param: "number"},
		types.CategoryEvents:        {Tool: "timeline-note", Endpoint: "/api/timeline/note", Method: "POST", Param: "query"},
		types.CategoryKeywords:      {Tool: "tag-note", Endpoint: "/api/tags/note", Method: "POST", Param: "query"},
	}
}

// LoadToolCatalog reads a YAML file mapping categories to tool contracts and
// overlays it on the defaults, so a deployment only declares the tools it
// replaces.
func LoadToolCatalog(path string) (ToolCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("toolcatalog: read %s: %w", path, err)
	}

	var overrides map[types.Category]ToolContract
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("toolcatalog: parse %s: %w", path, err)
	}

	catalog := DefaultToolCatalog()
	for category, contract := range overrides {
		if !category.Valid() {
			return nil, fmt.Errorf("toolcatalog: unknown category %q in %s", category, path)
		}
		catalog[category] = contract
	}
	return catalog, nil
}
