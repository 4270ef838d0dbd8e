package bunkr

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// AlternateHosts are tried in order when the album URL's own host refuses the
// connection. Only hosts of the same site family are substituted.
var AlternateHosts = []string{"bunkr.si", "bunkrr.su", "bunkr.is"}

// itemLinkPattern matches single-item page paths: /f/<id>, /i/<id>, /v/<id>.
var itemLinkPattern = regexp.MustCompile(`/(f|i|v)/([A-Za-z0-9]+)`)

var fileSlugPattern = regexp.MustCompile(`/f/([A-Za-z0-9]+)`)

// IsSingleFileURL reports whether u points at a single item page rather than
// an album.
func IsSingleFileURL(u string) bool {
	return itemLinkPattern.MatchString(u)
}

// ItemLinkKey extracts the (kind, id) identity of an item link, formatted
// "kind/id". Returns "" when the link is not an item page.
func ItemLinkKey(href string) string {
	m := itemLinkPattern.FindStringSubmatch(href)
	if m == nil {
		return ""
	}
	return m[1] + "/" + m[2]
}

// ExtractFileSlug pulls the slug out of a /f/<slug> URL, or returns "".
func ExtractFileSlug(u string) string {
	m := fileSlugPattern.FindStringSubmatch(u)
	if m == nil {
		return ""
	}
	return m[1]
}

// WithAdvanced rewrites an album URL to its single-page "advanced" view,
// dropping any page parameter.
func WithAdvanced(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Del("page")
	q.Set("advanced", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// WithPage rewrites an album URL to a numbered pagination probe.
func WithPage(rawURL string, page int) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Del("advanced")
	q.Set("page", fmt.Sprintf("%d", page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// HostCandidates returns the URL itself followed by alternate-host rewrites,
// deduplicated. Non-site hosts get no alternates.
func HostCandidates(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return []string{rawURL}
	}

	out := []string{rawURL}
	if !strings.HasPrefix(u.Host, "bunkr") {
		return out
	}

	seen := map[string]bool{u.Host: true}
	for _, alt := range AlternateHosts {
		if seen[alt] {
			continue
		}
		seen[alt] = true
		v := *u
		v.Host = alt
		out = append(out, v.String())
	}
	return out
}

// Origin returns scheme://host of a URL, or "" when unparseable.
func Origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// ResolveRef resolves a possibly-relative href against a base URL.
func ResolveRef(baseURL, href string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
