package prospector

import (
	"net/url"
	"strings"
)

// DedupeTracker suppresses repeat listings within a job. A candidate is
// rejected when either its place id or its normalized website domain has
// already been seen.
type DedupeTracker struct {
	placeIDs map[string]struct{}
	domains  map[string]struct{}
}

// NewDedupeTracker constructs an empty tracker.
func NewDedupeTracker() *DedupeTracker {
	return &DedupeTracker{
		placeIDs: make(map[string]struct{}),
		domains:  make(map[string]struct{}),
	}
}

// ShouldInclude reports whether the candidate is new on both key
// dimensions. The domain check is skipped when no website is present.
func (t *DedupeTracker) ShouldInclude(placeID, website string) bool {
	if _, seen := t.placeIDs[placeID]; seen {
		return false
	}
	if website != "" {
		if domain := NormalizeDomain(website); domain != "" {
			if _, seen := t.domains[domain]; seen {
				return false
			}
		}
	}
	return true
}

// MarkSeen records both keys for the candidate. Idempotent.
func (t *DedupeTracker) MarkSeen(placeID, website string) {
	t.placeIDs[placeID] = struct{}{}
	if website != "" {
		if domain := NormalizeDomain(website); domain != "" {
			t.domains[domain] = struct{}{}
		}
	}
}

// NormalizeDomain reduces a website URL to its bare lowercase host for
// dedupe purposes. Returns "" when the URL cannot be parsed.
func NormalizeDomain(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	domain := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(domain, "www.")
}
