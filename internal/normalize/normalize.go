// Package normalize extracts network-host information out of a decoded
// string literal, adapted from the teacher's command normalizer
// (internal/normalize/normalize.go: extract domains/paths out of shell
// command arguments) onto CIL ldstr operands instead of argv entries.
package normalize

import (
	"net/url"
	"regexp"
	"strings"
)

var domainRegex = regexp.MustCompile(`https?://([^/\s'"]+)`)

// ExtractDomains returns every distinct hostname referenced by an http(s) URL
// embedded in s, plus the host of an SSH-style git address when s starts
// with one (git@host:path).
// Used by the Data-Flow Analyzer (spec.md §4.6) to annotate NetworkSource/
// RemoteConfigLoad findings with the remote host a string literal names.
func ExtractDomains(s string) []string {
	var domains []string
	for _, match := range domainRegex.FindAllStringSubmatch(s, -1) {
		if len(match) > 1 {
			domains = append(domains, match[1])
		}
	}
	if domain := extractGitDomain(s); domain != "" {
		domains = append(domains, domain)
	}
	return uniqueStrings(domains)
}

func extractGitDomain(s string) string {
	if strings.HasPrefix(s, "git@") {
		parts := strings.SplitN(s, ":", 2)
		if len(parts) > 0 {
			return strings.TrimPrefix(parts[0], "git@")
		}
		return ""
	}
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		if u, err := url.Parse(s); err == nil {
			return u.Host
		}
	}
	return ""
}

func uniqueStrings(input []string) []string {
	seen := make(map[string]bool, len(input))
	result := make([]string, 0, len(input))
	for _, s := range input {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}
