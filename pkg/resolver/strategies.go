package resolver

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"bunkrgrab/pkg/bunkr"
)

// A Strategy inspects an HTML page and proposes the next hop of the walk.
// Strategies run in a fixed priority order; the first non-empty answer wins.
type Strategy interface {
	Name() string
	Next(doc *goquery.Document, baseURL string) string
}

var mediaExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".webp", ".avif", ".bmp",
	".mp4", ".webm", ".mkv", ".mov", ".avi", ".m4v", ".ts", ".wmv",
	".zip", ".rar", ".7z", ".tar", ".gz",
	".mp3", ".flac", ".wav", ".ogg", ".m4a",
}

func hasMediaExtension(rawURL string) bool {
	u := strings.ToLower(rawURL)
	if idx := strings.IndexAny(u, "?#"); idx >= 0 {
		u = u[:idx]
	}
	for _, ext := range mediaExtensions {
		if strings.HasSuffix(u, ext) {
			return true
		}
	}
	return false
}

// absoluteMediaURLPattern matches absolute URLs ending in a media extension
// inside inline script text or attribute soup.
var absoluteMediaURLPattern = regexp.MustCompile(
	`https?://[^\s"'<>\\]+\.(?:jpe?g|png|gif|webp|avif|bmp|mp4|webm|mkv|mov|avi|m4v|ts|wmv|zip|rar|7z|tar|gz|mp3|flac|wav|ogg|m4a)`)

var metaRefreshPattern = regexp.MustCompile(`(?i)url\s*=\s*(\S+)`)

// defaultStrategies returns the walk order: explicit download anchor, /d/ or
// /file/ link, anchor text containing "download", anchor to a media
// extension, source/img src, meta refresh, data-href, inline-script media
// URL, any attribute holding a media URL, preload/prefetch link.
func defaultStrategies() []Strategy {
	return []Strategy{
		downloadAnchorStrategy{},
		downloadPathStrategy{},
		downloadTextStrategy{},
		mediaAnchorStrategy{},
		mediaElementStrategy{},
		metaRefreshStrategy{},
		dataHrefStrategy{},
		inlineScriptStrategy{},
		anyAttributeStrategy{},
		preloadLinkStrategy{},
	}
}

type downloadAnchorStrategy struct{}

func (downloadAnchorStrategy) Name() string { return "download-anchor" }

func (downloadAnchorStrategy) Next(doc *goquery.Document, baseURL string) string {
	href, ok := doc.Find(`a[download]`).First().Attr("href")
	if !ok {
		href, ok = doc.Find(`a[class*="download"], a[id*="download"]`).First().Attr("href")
	}
	if !ok || href == "" {
		return ""
	}
	return bunkr.ResolveRef(baseURL, href)
}

type downloadPathStrategy struct{}

func (downloadPathStrategy) Name() string { return "download-path" }

func (downloadPathStrategy) Next(doc *goquery.Document, baseURL string) string {
	href, ok := doc.Find(`a[href*="/d/"], a[href*="/file/"]`).First().Attr("href")
	if !ok || href == "" {
		return ""
	}
	return bunkr.ResolveRef(baseURL, href)
}

type downloadTextStrategy struct{}

func (downloadTextStrategy) Name() string { return "download-text" }

func (downloadTextStrategy) Next(doc *goquery.Document, baseURL string) string {
	var out string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(s.Text()), "download") {
			return true
		}
		if href, ok := s.Attr("href"); ok && href != "" {
			out = bunkr.ResolveRef(baseURL, href)
			return false
		}
		return true
	})
	return out
}

type mediaAnchorStrategy struct{}

func (mediaAnchorStrategy) Name() string { return "media-anchor" }

func (mediaAnchorStrategy) Next(doc *goquery.Document, baseURL string) string {
	var out string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if href != "" && hasMediaExtension(href) {
			out = bunkr.ResolveRef(baseURL, href)
			return false
		}
		return true
	})
	return out
}

type mediaElementStrategy struct{}

func (mediaElementStrategy) Name() string { return "media-element" }

func (mediaElementStrategy) Next(doc *goquery.Document, baseURL string) string {
	if src, ok := doc.Find("source[src]").First().Attr("src"); ok && src != "" {
		return bunkr.ResolveRef(baseURL, src)
	}
	var out string
	doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if src != "" && hasMediaExtension(src) {
			out = bunkr.ResolveRef(baseURL, src)
			return false
		}
		return true
	})
	return out
}

type metaRefreshStrategy struct{}

func (metaRefreshStrategy) Name() string { return "meta-refresh" }

func (metaRefreshStrategy) Next(doc *goquery.Document, baseURL string) string {
	content, ok := doc.Find(`meta[http-equiv="refresh" i]`).First().Attr("content")
	if !ok {
		return ""
	}
	m := metaRefreshPattern.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	target := strings.Trim(m[1], `'"`)
	return bunkr.ResolveRef(baseURL, target)
}

type dataHrefStrategy struct{}

func (dataHrefStrategy) Name() string { return "data-href" }

func (dataHrefStrategy) Next(doc *goquery.Document, baseURL string) string {
	href, ok := doc.Find("[data-href]").First().Attr("data-href")
	if !ok || href == "" {
		return ""
	}
	return bunkr.ResolveRef(baseURL, href)
}

type inlineScriptStrategy struct{}

func (inlineScriptStrategy) Name() string { return "inline-script" }

func (inlineScriptStrategy) Next(doc *goquery.Document, baseURL string) string {
	var out string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := absoluteMediaURLPattern.FindString(s.Text()); m != "" {
			out = m
			return false
		}
		return true
	})
	return out
}

type anyAttributeStrategy struct{}

func (anyAttributeStrategy) Name() string { return "any-attribute" }

func (anyAttributeStrategy) Next(doc *goquery.Document, baseURL string) string {
	var out string
	doc.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range s.Nodes[0].Attr {
			if m := absoluteMediaURLPattern.FindString(attr.Val); m != "" {
				out = m
				return false
			}
		}
		return true
	})
	return out
}

type preloadLinkStrategy struct{}

func (preloadLinkStrategy) Name() string { return "preload-link" }

func (preloadLinkStrategy) Next(doc *goquery.Document, baseURL string) string {
	href, ok := doc.Find(`link[rel="preload"], link[rel="prefetch"]`).First().Attr("href")
	if !ok || href == "" {
		return ""
	}
	return bunkr.ResolveRef(baseURL, href)
}

// relativePathHintPattern finds a site-relative media path embedded in
// script or attribute text, used for CDN probing when no absolute URL
// exists on the page.
var relativePathHintPattern = regexp.MustCompile(
	`["'](/[A-Za-z0-9_\-./%]+\.(?:jpe?g|png|gif|webp|avif|bmp|mp4|webm|mkv|mov|avi|m4v|ts|wmv|zip|rar|7z|tar|gz|mp3|flac|wav|ogg|m4a))["']`)

// relativePathHint scans the page for a relative media path suitable for
// CDN probing. Returns "" when none is present.
func relativePathHint(doc *goquery.Document) string {
	var out string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := relativePathHintPattern.FindStringSubmatch(s.Text()); m != nil {
			out = m[1]
			return false
		}
		for _, attr := range s.Nodes[0].Attr {
			if m := relativePathHintPattern.FindStringSubmatch(`"` + attr.Val + `"`); m != nil {
				out = m[1]
				return false
			}
		}
		return true
	})
	return out
}
