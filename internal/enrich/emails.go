package enrich

import (
	"regexp"
	"sort"
	"strings"
)

const maxEmails = 3

var emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// rolePriority orders common role addresses; lower index wins.
var rolePriority = []string{"info@", "contact@", "hello@", "support@", "sales@", "admin@"}

// extractEmails pulls email-like tokens out of page text, deduplicates
// them, restricts to the site's own domain when possible, ranks role
// addresses first, and truncates to at most three.
func extractEmails(text, domain string) []string {
	matches := emailRe.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	unique := make([]string, 0, len(matches))
	for _, m := range matches {
		key := strings.ToLower(m)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, m)
	}

	if domain != "" {
		var sameDomain []string
		suffix := "@" + strings.ToLower(domain)
		for _, email := range unique {
			lower := strings.ToLower(email)
			if strings.HasSuffix(lower, suffix) || strings.HasSuffix(lower, "."+strings.ToLower(domain)) {
				sameDomain = append(sameDomain, email)
			}
		}
		if len(sameDomain) > 0 {
			unique = sameDomain
		}
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return roleRank(unique[i]) < roleRank(unique[j])
	})

	if len(unique) > maxEmails {
		unique = unique[:maxEmails]
	}
	return unique
}

func roleRank(email string) int {
	lower := strings.ToLower(email)
	for i, prefix := range rolePriority {
		if strings.HasPrefix(lower, prefix) {
			return i
		}
	}
	return len(rolePriority)
}
