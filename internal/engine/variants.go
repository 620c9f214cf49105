package engine

import (
	"regexp"
	"strings"
)

const (
	minVariantLength = 3
	maxVariants      = 10
)

var nonWordPattern = regexp.MustCompile(`[^\w\s]`)

// UsernameVariants derives candidate usernames from a person or organization
// name, in a fixed order so suggestion output stays deterministic. Variants
// shorter than three characters are dropped and duplicates keep their first
// position.
func UsernameVariants(name string) []string {
	cleaned := nonWordPattern.ReplaceAllString(strings.ToLower(name), "")
	parts := strings.Fields(cleaned)
	if len(parts) == 0 {
		return nil
	}

	var variants []string
	switch len(parts) {
	case 1:
		variants = parts
	case 2:
		first, last := parts[0], parts[1]
		variants = []string{
			first + "." + last,
			first + last,
			first + last[:1],
			first[:1] + last,
			first + "_" + last,
			first + "-" + last,
			last + first,
		}
	case 3:
		first, middle, last := parts[0], parts[1], parts[2]
		variants = []string{
			first + "." + last,
			first + last,
			first + middle[:1] + last,
			first + "." + middle + "." + last,
		}
	default:
		var initials strings.Builder
		for _, part := range parts {
			initials.WriteByte(part[0])
		}
		variants = []string{
			initials.String(),
			parts[0] + parts[len(parts)-1],
			strings.Join(parts, ""),
		}
	}

	seen := make(map[string]struct{}, len(variants))
	out := make([]string, 0, len(variants))
	for _, v := range variants {
		if len(v) < minVariantLength {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) > maxVariants {
		out = out[:maxVariants]
	}
	return out
}
