package bunkr

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"bunkrgrab/pkg/errors"
	"bunkrgrab/pkg/logger"
	"bunkrgrab/pkg/models"
)

// maxProbePages bounds the sequential ?page=N probe so a hostile or
// malformed paginator cannot drive unbounded requests.
const maxProbePages = 25

var albumFilesPattern = regexp.MustCompile(`(?s)window\.albumFiles\s*=\s*(\[.*?]);`)

// Fetcher discovers the item set of an album page.
type Fetcher struct {
	client *Client
	logger logger.Logger
}

// NewFetcher creates an album fetcher on top of a shared client.
func NewFetcher(client *Client, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Fetcher{client: client, logger: log}
}

// albumFile is one entry of the embedded albumFiles blob.
type albumFile struct {
	Slug        string      `json:"slug"`
	Original    string      `json:"original"`
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Size        interface{} `json:"size"`
	CDNEndpoint string      `json:"cdnEndpoint"`
	Thumbnail   string      `json:"thumbnail"`
}

func (f *albumFile) sizeBytes() int64 {
	switch v := f.Size.(type) {
	case float64:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	}
	return 0
}

// Fetch retrieves and parses an album listing. The name is best-effort and
// may be empty; an empty item set after exhausting every strategy is an
// error.
func (f *Fetcher) Fetch(ctx context.Context, albumURL string) (string, []models.ItemDescriptor, error) {
	if IsSingleFileURL(albumURL) {
		return "", nil, errors.New(errors.ErrorTypeInvalidURL,
			"single file URLs are not supported, provide an album URL")
	}

	target, err := WithAdvanced(albumURL)
	if err != nil {
		return "", nil, errors.Newf(errors.ErrorTypeInvalidURL, "invalid album URL %q: %v", albumURL, err)
	}

	// The advanced view returns the full set on one page. On connection
	// failure, retry the same path against known alternate hosts.
	var body, usedURL string
	var lastErr error
	for _, candidate := range HostCandidates(target) {
		body, usedURL, lastErr = f.client.GetPage(ctx, candidate, "")
		if lastErr == nil {
			if candidate != target {
				f.logger.DebugWithFields("fetched via fallback host", map[string]interface{}{
					"url": candidate,
				})
			}
			break
		}
	}
	if lastErr != nil {
		return "", nil, lastErr
	}
	if usedURL == "" {
		usedURL = target
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", nil, errors.Newf(errors.ErrorTypeParsing, "failed to parse album page: %v", err)
	}

	name := albumName(doc)
	origin := Origin(usedURL)

	items := f.parseAlbumFiles(body, origin, usedURL)
	if len(items) > 0 {
		f.logger.DebugWithFields("album blob parsed", map[string]interface{}{
			"items": len(items),
		})
		return name, items, nil
	}

	items = f.extractFromDOM(doc, usedURL)
	if len(items) > 0 && !hasPaginationMarkers(doc) {
		items = f.probePages(ctx, albumURL, items)
	}

	if len(items) == 0 {
		return name, nil, errors.New(errors.ErrorTypeEmptyAlbum, "failed to grab file URLs")
	}
	return name, items, nil
}

// FetchName retrieves just the album name, for labeling before a full run.
func (f *Fetcher) FetchName(ctx context.Context, albumURL string) (string, error) {
	target, err := WithAdvanced(albumURL)
	if err != nil {
		return "", errors.Newf(errors.ErrorTypeInvalidURL, "invalid album URL %q: %v", albumURL, err)
	}

	var body string
	var lastErr error
	for _, candidate := range HostCandidates(target) {
		body, _, lastErr = f.client.GetPage(ctx, candidate, "")
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return "", lastErr
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", errors.Newf(errors.ErrorTypeParsing, "failed to parse album page: %v", err)
	}
	return albumName(doc), nil
}

// albumName is a single best-effort lookup; absence is not an error.
func albumName(doc *goquery.Document) string {
	h1 := doc.Find(`div[class*="sm:text-lg"] h1`).First()
	return strings.TrimSpace(h1.Text())
}

// parseAlbumFiles extracts descriptors from the embedded albumFiles blob.
// Returns nil when the blob is absent or unparseable after normalization.
func (f *Fetcher) parseAlbumFiles(body, origin, refererURL string) []models.ItemDescriptor {
	m := albumFilesPattern.FindStringSubmatch(body)
	if m == nil {
		return nil
	}

	var files []albumFile
	if err := json.Unmarshal([]byte(NormalizeAlbumJSON(m[1])), &files); err != nil {
		f.logger.DebugWithFields("album blob rejected after normalization", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}

	var items []models.ItemDescriptor
	for _, file := range files {
		if file.Slug == "" {
			continue
		}

		original := file.Original
		if original == "" {
			original = file.Name
		}

		cdnOrigin := ""
		if file.Thumbnail != "" {
			cdnOrigin = Origin(file.Thumbnail)
		}
		if cdnOrigin == "" && file.CDNEndpoint != "" {
			// Fall back to the album host when no thumbnail is present.
			cdnOrigin = origin
		}

		fallbackURL := ResolveRef(origin+"/", "/f/"+file.Slug)
		directURL := fallbackURL
		if cdnOrigin != "" && file.CDNEndpoint != "" {
			directURL = ResolveRef(cdnOrigin+"/", file.CDNEndpoint)
		}

		item := models.ItemDescriptor{
			Slug:          file.Slug,
			OriginalName:  original,
			SuggestedName: original,
			MediaType:     file.Type,
			SizeBytes:     file.sizeBytes(),
			DirectURL:     directURL,
			FallbackURL:   fallbackURL,
			RefererURL:    refererURL,
			CDNOrigin:     cdnOrigin,
			CDNEndpoint:   file.CDNEndpoint,
			ThumbnailURL:  file.Thumbnail,
		}
		if item.Normalize() {
			items = append(items, item)
		}
	}
	return items
}

// extractFromDOM recovers items from the rendered card layout. Each media
// "text box" div is mapped to the nearest preceding-sibling anchor, or an
// anchor inside the same parent card. Dedup is by the (kind, id) of the
// /{f|i|v}/<id> link, not by anchor identity, since distinct cards can alias
// the same link.
func (f *Fetcher) extractFromDOM(doc *goquery.Document, baseURL string) []models.ItemDescriptor {
	seen := make(map[string]bool)
	var items []models.ItemDescriptor

	doc.Find("div.grid-images_box-txt, div.grid-videos_box-txt").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.PrevAllFiltered("a[href]").First().Attr("href")
		if !ok {
			href, ok = s.Parent().Find("a[href]").First().Attr("href")
		}
		if !ok || href == "" || strings.HasPrefix(href, "?") {
			return
		}

		key := ItemLinkKey(href)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true

		abs := ResolveRef(baseURL, href)
		item := models.ItemDescriptor{
			Slug:          ExtractFileSlug(abs),
			SuggestedName: strings.TrimSpace(s.Find("p").First().Text()),
			DirectURL:     abs,
			RefererURL:    baseURL,
		}
		item.OriginalName = item.SuggestedName
		if item.Normalize() {
			items = append(items, item)
		}
	})

	return items
}

func hasPaginationMarkers(doc *goquery.Document) bool {
	return doc.Find(`a[href*="page="]`).Length() > 0
}

// probePages walks ?page=N sequentially, merging new unique items, until a
// page adds nothing, errors, or the ceiling is hit.
func (f *Fetcher) probePages(ctx context.Context, albumURL string, items []models.ItemDescriptor) []models.ItemDescriptor {
	known := make(map[string]bool, len(items))
	for _, item := range items {
		known[item.ItemKey] = true
	}

	for page := 2; page <= maxProbePages; page++ {
		pageURL, err := WithPage(albumURL, page)
		if err != nil {
			break
		}

		body, usedURL, err := f.client.GetPage(ctx, pageURL, "")
		if err != nil {
			break
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			break
		}
		if usedURL == "" {
			usedURL = pageURL
		}

		added := 0
		for _, item := range f.extractFromDOM(doc, usedURL) {
			if known[item.ItemKey] {
				continue
			}
			known[item.ItemKey] = true
			items = append(items, item)
			added++
		}

		f.logger.DebugWithFields("pagination probe", map[string]interface{}{
			"page":  page,
			"added": added,
		})
		if added == 0 {
			break
		}
	}

	return items
}
