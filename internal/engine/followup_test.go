package engine

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/scrypster/casetrace/pkg/types"
)

func entitiesFor(t *testing.T, records ...types.Record) map[types.Category][]types.Record {
	t.Helper()
	out := make(map[types.Category][]types.Record)
	for _, rec := range records {
		out[rec.Category] = append(out[rec.Category], rec)
	}
	return out
}

func TestGenerateIsDeterministic(t *testing.T) {
	gen := NewGenerator(nil)
	ref := types.ReportRef{ID: "rpt:1", Username: "mlopezgarcia"}
	entities := entitiesFor(t,
		record(t, types.Person{Name: "Maria Rojas"}, 0.5, "profile:github"),
		record(t, types.Email{Address: "maria@example.com"}, 1.0, "profile:github"),
		record(t, types.Domain{Name: "example.com"}, 0.8, "notes"),
		record(t, types.Location{Place: "Lisbon"}, 0.5, "profile:github"),
	)

	first := gen.Generate(ref, entities)
	second := gen.Generate(ref, entities)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("generation is not deterministic:\n%+v\n%+v", first, second)
	}
	if len(first) == 0 {
		t.Fatal("expected suggestions")
	}
	for i, s := range first {
		if want := "followup-" + string(rune('1'+i)); i < 9 && s.ID != want {
			t.Errorf("suggestion %d id = %q, want %q", i, s.ID, want)
		}
	}
}

func TestGenerateOrderingByPriorityThenCategory(t *testing.T) {
	gen := NewGenerator(nil)
	ref := types.ReportRef{ID: "rpt:1", Username: "someoneelse"}
	entities := entitiesFor(t,
		record(t, types.Location{Place: "Lisbon"}, 0.5, "x"),
		record(t, types.Domain{Name: "example.com"}, 0.8, "x"),
		record(t, types.Email{Address: "maria-rojas@example.com"}, 1.0, "x"),
		record(t, types.Person{Name: "Maria Rojas"}, 0.5, "x"),
	)

	got := gen.Generate(ref, entities)

	var priorities []types.Priority
	for _, s := range got {
		priorities = append(priorities, s.Priority)
	}
	for i := 1; i < len(priorities); i++ {
		if priorities[i].Rank() < priorities[i-1].Rank() {
			t.Fatalf("priorities out of order: %v", priorities)
		}
	}

	// HIGH tier: people before emails (canonical category order).
	if got[0].Category != types.CategoryPeople || got[1].Category != types.CategoryEmails {
		t.Errorf("HIGH tier order wrong: %s, %s", got[0].Category, got[1].Category)
	}
	if got[len(got)-1].Category != types.CategoryLocations {
		t.Errorf("LOW tier should come last, got %s", got[len(got)-1].Category)
	}
}

func TestEmailSuggestionCarriesAddress(t *testing.T) {
	gen := NewGenerator(nil)
	ref := types.ReportRef{ID: "rpt:1", Username: "mlopezgarcia"}
	entities := entitiesFor(t,
		record(t, types.SocialHandle{Platform: "twitter", Username: "mlopezgarcia"}, 1.0, "profile:twitter"),
		record(t, types.Email{Address: "maria@example.com"}, 1.0, "profile:twitter"),
	)

	got := gen.Generate(ref, entities)

	var emailCheck *types.Suggestion
	for i := range got {
		if got[i].Type == "email_investigation" {
			emailCheck = &got[i]
			break
		}
	}
	if emailCheck == nil {
		t.Fatalf("no email_investigation suggestion in %+v", got)
	}
	if emailCheck.Priority != types.PriorityHigh {
		t.Errorf("email suggestion priority = %s, want HIGH", emailCheck.Priority)
	}
	if got := emailCheck.OneClickAction.Params["email"]; got != "maria@example.com" {
		t.Errorf("one_click_action email param = %q", got)
	}
	if emailCheck.OneClickAction.Endpoint != "/api/email/check" {
		t.Errorf("endpoint = %q", emailCheck.OneClickAction.Endpoint)
	}
}

func TestEmailLocalPartUsernameSuggestion(t *testing.T) {
	gen := NewGenerator(nil)
	entities := entitiesFor(t,
		record(t, types.Email{Address: "shadowfox@example.com"}, 1.0, "notes"),
	)

	got := gen.Generate(types.ReportRef{ID: "rpt:1", Username: "other"}, entities)
	found := false
	for _, s := range got {
		if s.Type == "username_investigation" {
			found = true
			if s.OneClickAction.Params["username"] != "shadowfox" {
				t.Errorf("username param = %q", s.OneClickAction.Params["username"])
			}
			if s.Priority != types.PriorityMedium {
				t.Errorf("local-part suggestion priority = %s", s.Priority)
			}
		}
	}
	if !found {
		t.Fatalf("simple local part should produce a username suggestion: %+v", got)
	}

	// Dotted local parts and the report's own username do not qualify.
	for _, addr := range []string{"maria.rojas@example.com", "other@example.com"} {
		got := gen.Generate(types.ReportRef{ID: "rpt:1", Username: "other"},
			entitiesFor(t, record(t, types.Email{Address: addr}, 1.0, "notes")))
		for _, s := range got {
			if s.Type == "username_investigation" {
				t.Errorf("%s should not produce a username suggestion", addr)
			}
		}
	}
}

func TestHandleMatchingReportUsernameIsSkipped(t *testing.T) {
	gen := NewGenerator(nil)
	entities := entitiesFor(t,
		record(t, types.SocialHandle{Platform: "twitter", Username: "mlopezgarcia"}, 1.0, "profile:twitter"),
	)

	got := gen.Generate(types.ReportRef{ID: "rpt:1", Username: "mlopezgarcia"}, entities)
	if len(got) != 0 {
		t.Fatalf("re-searching the original username is pointless, got %+v", got)
	}

	got = gen.Generate(types.ReportRef{ID: "rpt:1", Username: "different"}, entities)
	if len(got) != 1 || got[0].Type != "cross_platform_search" {
		t.Fatalf("expected one cross-platform suggestion, got %+v", got)
	}
}

func TestPersonVariantsExcludeReportUsername(t *testing.T) {
	gen := NewGenerator(nil)
	entities := entitiesFor(t,
		record(t, types.Person{Name: "Maria Rojas"}, 0.5, "profile:github"),
	)

	got := gen.Generate(types.ReportRef{ID: "rpt:1", Username: "maria.rojas"}, entities)
	if len(got) != 1 {
		t.Fatalf("expected one person suggestion, got %+v", got)
	}
	if len(got[0].SuggestedSearches) > 3 {
		t.Errorf("at most 3 variant searches, got %d", len(got[0].SuggestedSearches))
	}
	for _, search := range got[0].SuggestedSearches {
		if search.Query == "maria.rojas" {
			t.Errorf("report username leaked into variants: %+v", got[0].SuggestedSearches)
		}
	}
}

func TestUsernameVariants(t *testing.T) {
	cases := []struct {
		name string
		want []string
	}{
		{"Maria Rojas", []string{"maria.rojas", "mariarojas", "mariar", "mrojas", "maria_rojas", "maria-rojas", "rojasmaria"}},
		{"Maria Elena Rojas", []string{"maria.rojas", "mariarojas", "mariaerojas", "maria.elena.rojas"}},
		{"Cher", []string{"cher"}},
		{"", nil},
		{"Al B", []string{"al.b", "alb", "al_b", "al-b", "bal"}},
	}
	for _, tc := range cases {
		got := UsernameVariants(tc.name)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("UsernameVariants(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestLoadToolCatalogOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	content := `
emails:
  tool: breach-check
  endpoint: /api/breach/check
  method: POST
  param: email
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	catalog, err := LoadToolCatalog(path)
	if err != nil {
		t.Fatalf("LoadToolCatalog: %v", err)
	}
	if catalog[types.CategoryEmails].Tool != "breach-check" {
		t.Errorf("override not applied: %+v", catalog[types.CategoryEmails])
	}
	if catalog[types.CategoryDomains].Tool != "domain-harvest" {
		t.Errorf("default lost: %+v", catalog[types.CategoryDomains])
	}
}

func TestLoadToolCatalogRejectsUnknownCategory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	if err := os.WriteFile(path, []byte("bogus:\n  tool: x\n"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if _, err := LoadToolCatalog(path); err == nil {
		t.Fatal("expected error for unknown category")
	}
}
