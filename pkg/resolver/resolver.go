package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"bunkrgrab/pkg/bunkr"
	"bunkrgrab/pkg/errors"
	"bunkrgrab/pkg/logger"
)

// Resolver turns item URLs into open, streamable media responses. It covers
// the structured direct-URL case, the opaque file-id API regime, the
// multi-hop HTML walk, and CDN host probing.
type Resolver struct {
	client     *bunkr.Client
	apiBase    string
	hostCache  *HostCache
	strategies []Strategy
	maxHops    int
	logger     logger.Logger
}

// New creates a resolver. hostCache may be nil to disable CDN probing.
func New(client *bunkr.Client, apiBase string, hostCache *HostCache, maxHops int, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.GetLogger()
	}
	if maxHops <= 0 {
		maxHops = 8
	}
	return &Resolver{
		client:     client,
		apiBase:    apiBase,
		hostCache:  hostCache,
		strategies: defaultStrategies(),
		maxHops:    maxHops,
		logger:     log,
	}
}

// Open resolves rawURL to an open media response, following HTML pages until
// a non-HTML body is reached. The caller owns the returned body. A suggested
// name, when known, is forwarded to the resolution API for ?n= tagging.
func (r *Resolver) Open(ctx context.Context, rawURL, referer, suggestedName string) (*http.Response, error) {
	visited := make(map[string]bool)
	current := rawURL
	currentReferer := referer
	apiTried := false

	for hop := 0; hop < r.maxHops; hop++ {
		if visited[current] {
			return nil, errors.Newf(errors.ErrorTypeHopLimit,
				"resolution loop detected at %s", current)
		}
		visited[current] = true

		resp, err := r.client.GetStream(ctx, current, currentReferer)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil, errors.NewHTTP(errors.ErrorTypeBadStatus, resp.StatusCode,
				fmt.Sprintf("HTTP %d at %s", resp.StatusCode, current))
		}

		if !bunkr.IsHTMLContentType(resp.Header.Get("Content-Type")) {
			// Already media; done.
			return resp, nil
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, errors.Newf(errors.ErrorTypeNetwork, "failed to read page body: %v", err)
		}
		pageURL := resp.Request.URL.String()

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
		if err != nil {
			return nil, errors.Newf(errors.ErrorTypeParsing, "failed to parse hop page: %v", err)
		}

		// Opaque-ID regime: a file id on the page short-circuits the walk
		// through the resolution API.
		if !apiTried {
			if fileID := pageFileID(doc); fileID != "" {
				apiTried = true
				decrypted, err := r.ResolveFileID(ctx, fileID, suggestedName)
				if err == nil {
					r.logger.DebugWithFields("resolved via file id", map[string]interface{}{
						"file_id": fileID,
					})
					currentReferer = pageURL
					current = decrypted
					continue
				}
				r.logger.WarnWithFields("file id resolution failed", map[string]interface{}{
					"file_id": fileID,
					"error":   err.Error(),
				})
			}
		}

		// Multi-hop walk: first strategy with an answer wins.
		if next := r.nextHop(doc, pageURL); next != "" {
			currentReferer = pageURL
			current = next
			continue
		}

		// CDN probing: a relative path hint with no usable absolute URL.
		if hint := relativePathHint(doc); hint != "" && r.hostCache != nil {
			probed, err := r.probeCDN(ctx, hint, pageURL)
			if err == nil {
				return probed, nil
			}
			r.logger.DebugWithFields("CDN probe failed", map[string]interface{}{
				"hint":  hint,
				"error": err.Error(),
			})
		}

		return nil, errors.Newf(errors.ErrorTypeNoMedia,
			"no media found at %s", pageURL)
	}

	return nil, errors.Newf(errors.ErrorTypeHopLimit,
		"hop limit (%d) exceeded resolving %s", r.maxHops, rawURL)
}

// nextHop runs the strategies in priority order against one page.
func (r *Resolver) nextHop(doc *goquery.Document, pageURL string) string {
	for _, s := range r.strategies {
		if next := s.Next(doc, pageURL); next != "" && next != pageURL {
			r.logger.DebugWithFields("hop advanced", map[string]interface{}{
				"strategy": s.Name(),
				"next":     next,
			})
			return next
		}
	}
	return ""
}

// probeCDN tries candidate hosts for a relative path hint. The first host
// answering 200/206 with non-HTML content wins and is remembered.
func (r *Resolver) probeCDN(ctx context.Context, pathHint, referer string) (*http.Response, error) {
	var lastErr error
	for _, host := range r.hostCache.Candidates() {
		candidate := "https://" + host + pathHint
		resp, err := r.client.GetStream(ctx, candidate, referer)
		if err != nil {
			lastErr = err
			continue
		}
		ok := resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent
		if ok && !bunkr.IsHTMLContentType(resp.Header.Get("Content-Type")) {
			r.hostCache.Remember(host)
			return resp, nil
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = errors.NewHTTP(errors.ErrorTypeBadStatus, resp.StatusCode,
			fmt.Sprintf("candidate %s rejected", host))
	}
	if lastErr == nil {
		lastErr = errors.New(errors.ErrorTypeNoMedia, "no CDN candidate accepted the path hint")
	}
	return nil, lastErr
}

// pageFileID scans an item page for the file identifier attribute used by
// the resolution API.
func pageFileID(doc *goquery.Document) string {
	if id, ok := doc.Find("[data-file-id]").First().Attr("data-file-id"); ok && id != "" {
		return id
	}
	if id, ok := doc.Find("[data-id]").First().Attr("data-id"); ok && id != "" {
		return id
	}
	return ""
}
