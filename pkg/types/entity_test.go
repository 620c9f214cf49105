package types

import (
	"strings"
	"testing"
)

// TestEntityID_Deterministic tests that the same (category, key) always
// produces the same identifier.
func TestEntityID_Deterministic(t *testing.T) {
	a := EntityID(CategoryEmails, "maria@example.com")
	b := EntityID(CategoryEmails, "maria@example.com")
	if a != b {
		t.Errorf("expected identical IDs, got %q and %q", a, b)
	}
	if !strings.HasPrefix(a, "emails:") {
		t.Errorf("expected emails: prefix, got %q", a)
	}
	if len(a) != len("emails:")+8 {
		t.Errorf("expected 8 hex chars after prefix, got %q", a)
	}
}

// TestEntityID_CategoryScoped tests that the same key in different
// categories yields different identifiers.
func TestEntityID_CategoryScoped(t *testing.T) {
	if EntityID(CategoryPeople, "acme") == EntityID(CategoryOrganizations, "acme") {
		t.Errorf("expected category to scope the entity ID")
	}
}

// TestCanonicalKeys tests normalization of the identity key per category.
func TestCanonicalKeys(t *testing.T) {
	cases := []struct {
		name string
		data CanonicalData
		want string
	}{
		{"email lowercased and trimmed", Email{Address: "  Maria@Example.COM "}, "maria@example.com"},
		{"person lowercased", Person{Name: "Maria Lopez"}, "maria lopez"},
		{"handle platform-scoped", SocialHandle{Platform: "Twitter", Username: "MLopezGarcia"}, "twitter:mlopezgarcia"},
		{"phone formatting stripped", Phone{Number: "+1 (555) 123-4567"}, "+15551234567"},
		{"domain lowercased", Domain{Name: "Example.COM"}, "example.com"},
		{"event keyed by name and date", Event{Name: "DefCon", Date: "2026-08-06"}, "defcon:2026-08-06"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.data.Key(); got != tc.want {
				t.Errorf("Key() = %q, want %q", got, tc.want)
			}
		})
	}
}

// TestNewRecord_RejectsEmptyKey tests that unusable values are rejected
// instead of producing an entity with an empty identity.
func TestNewRecord_RejectsEmptyKey(t *testing.T) {
	if _, ok := NewRecord(Email{Address: "   "}, 0.8, "test"); ok {
		t.Errorf("expected blank email to be rejected")
	}
	if _, ok := NewRecord(SocialHandle{Platform: "twitter"}, 1.0, "test"); ok {
		t.Errorf("expected handle without username to be rejected")
	}

	rec, ok := NewRecord(Email{Address: "A@B.io"}, 0.8, "profile")
	if !ok {
		t.Fatalf("expected valid email to be accepted")
	}
	if rec.EntityID != EntityID(CategoryEmails, "a@b.io") {
		t.Errorf("record entity ID not derived from normalized key")
	}
	if rec.Fields["address"] != "a@b.io" {
		t.Errorf("canonical fields not normalized: %v", rec.Fields)
	}
}
