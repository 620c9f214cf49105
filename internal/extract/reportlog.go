package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/scrypster/casetrace/pkg/types"
)

// Username-scanner output lists hits as "[+] Site: URL", optionally followed
// by indented "├─key: value" metadata lines.
var (
	profileLinePattern  = regexp.MustCompile(`\[\+\]\s+([^:]+):\s+(https?://\S+)`)
	metadataLinePattern = regexp.MustCompile(`^\s*[├└]─(\w+):\s*(.+)$`)
)

// ParseToolLog builds a report payload from raw scanner log text. Lines that
// do not announce a profile hit are ignored; duplicate URLs keep the first
// occurrence. An empty log yields a payload with no profiles, which
// extraction treats as a valid report contributing nothing.
func ParseToolLog(reportID, username, logText string) *types.ReportPayload {
	payload := &types.ReportPayload{
		ReportID:  reportID,
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}

	seen := make(map[string]struct{})
	lines := strings.Split(logText, "\n")
	for i := 0; i < len(lines); i++ {
		m := profileLinePattern.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		site := strings.TrimSpace(m[1])
		url := strings.TrimSpace(m[2])
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}

		profile := types.Profile{Site: site, URL: url}
		for i+1 < len(lines) {
			meta := metadataLinePattern.FindStringSubmatch(lines[i+1])
			if meta == nil {
				break
			}
			if profile.Metadata == nil {
				profile.Metadata = make(map[string]string)
			}
			profile.Metadata[meta[1]] = strings.TrimSpace(meta[2])
			i++
		}
		payload.Profiles = append(payload.Profiles, profile)
	}
	return payload
}
