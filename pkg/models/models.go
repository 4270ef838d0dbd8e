package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path"
	"strings"
	"time"
)

// ItemDescriptor is one media entry observed on an album page, regardless of
// which extraction strategy produced it.
type ItemDescriptor struct {
	// ItemKey is the stable identity used for equality and dedup within an
	// album. Derived from Slug, else FallbackURL, else DirectURL.
	ItemKey       string `json:"item_key"`
	Slug          string `json:"slug"`
	OriginalName  string `json:"original_name"`
	SuggestedName string `json:"suggested_name"`
	MediaType     string `json:"media_type"`
	SizeBytes     int64  `json:"size_bytes"`
	DirectURL     string `json:"direct_url"`
	FallbackURL   string `json:"fallback_url"`
	RefererURL    string `json:"referer_url"`
	CDNOrigin     string `json:"cdn_origin"`
	CDNEndpoint   string `json:"cdn_endpoint"`
	ThumbnailURL  string `json:"thumbnail_url"`
}

// Normalize derives ItemKey when it is unset. It returns false when no
// identity source is available; such descriptors must be discarded.
func (d *ItemDescriptor) Normalize() bool {
	if d.ItemKey != "" {
		return true
	}
	switch {
	case d.Slug != "":
		d.ItemKey = d.Slug
	case d.FallbackURL != "":
		d.ItemKey = d.FallbackURL
	case d.DirectURL != "":
		d.ItemKey = d.DirectURL
	default:
		return false
	}
	return true
}

// DisplayName returns the best human-readable name for the item.
func (d *ItemDescriptor) DisplayName() string {
	if d.SuggestedName != "" {
		return d.SuggestedName
	}
	if d.OriginalName != "" {
		return d.OriginalName
	}
	return d.ItemKey
}

// Signature computes the deterministic digest used for change detection.
// It covers every identity-bearing field; presentation and lifecycle state
// are excluded. Keys are serialized in sorted order so the digest is stable
// across runs.
func (d *ItemDescriptor) Signature() string {
	fields := map[string]interface{}{
		"item_key":       d.ItemKey,
		"slug":           d.Slug,
		"original_name":  d.OriginalName,
		"suggested_name": d.SuggestedName,
		"media_type":     d.MediaType,
		"size_bytes":     d.SizeBytes,
		"direct_url":     d.DirectURL,
		"fallback_url":   d.FallbackURL,
		"referer_url":    d.RefererURL,
		"cdn_origin":     d.CDNOrigin,
		"cdn_endpoint":   d.CDNEndpoint,
		"thumbnail_url":  d.ThumbnailURL,
	}
	// json.Marshal emits map keys in sorted order.
	data, _ := json.Marshal(fields)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Category buckets for per-album item counters.
const (
	CategoryImage   = "image"
	CategoryVideo   = "video"
	CategoryArchive = "archive"
	CategoryOther   = "other"
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".avif": true, ".bmp": true, ".svg": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".webm": true, ".mkv": true, ".mov": true,
	".avi": true, ".m4v": true, ".ts": true, ".wmv": true, ".flv": true,
}

var archiveExts = map[string]bool{
	".zip": true, ".rar": true, ".7z": true, ".tar": true, ".gz": true,
}

// BucketMediaType buckets a MIME-ish media type string.
func BucketMediaType(mediaType string) string {
	media := strings.ToLower(strings.TrimSpace(mediaType))
	switch {
	case strings.HasPrefix(media, "image"):
		return CategoryImage
	case strings.HasPrefix(media, "video"):
		return CategoryVideo
	}
	for _, token := range []string{"zip", "rar", "7z", "tar", "gzip", "xz"} {
		if strings.Contains(media, token) {
			return CategoryArchive
		}
	}
	return CategoryOther
}

// Categorize buckets a descriptor into image/video/archive/other using its
// declared media type first and its filename extension as fallback.
func (d *ItemDescriptor) Categorize() string {
	if d.MediaType != "" {
		if b := BucketMediaType(d.MediaType); b != CategoryOther {
			return b
		}
	}

	name := d.DisplayName()
	if name == "" {
		name = d.DirectURL
	}
	ext := strings.ToLower(path.Ext(name))
	switch {
	case imageExts[ext]:
		return CategoryImage
	case videoExts[ext]:
		return CategoryVideo
	case archiveExts[ext]:
		return CategoryArchive
	default:
		return CategoryOther
	}
}

// ResolvedTarget is the outcome of link resolution: a URL plus the response
// metadata the scheduler needs to stream it.
type ResolvedTarget struct {
	FinalURL      string
	ContentType   string
	ContentLength int64
	// SuggestedName is carried through so the filename chain sees it even
	// when resolution rewrote the URL.
	SuggestedName string
}

// SyncSummary reports the diff outcome of one sync pass over an album.
type SyncSummary struct {
	Total   int
	Added   int
	Updated int
	Removed int
}

// DownloadStateSummary reports the local-presence refresh outcome.
type DownloadStateSummary struct {
	Total      int
	Downloaded int
	Missing    int
}

// RemovalPolicySummary reports what the removal policy pass did to
// inactive-but-locally-present items.
type RemovalPolicySummary struct {
	Retained     int
	Deleted      int
	DeleteErrors int
}

// ManagedAlbum is a registry entry for an album tracked across runs.
type ManagedAlbum struct {
	ID           int64
	URL          string
	Label        string
	TargetFolder string
	RemovePolicy string
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Removal policy values for managed albums.
const (
	RemovePolicyRetain = "retain"
	RemovePolicyDelete = "delete"
)

// ValidRemovePolicy reports whether p is a recognized removal policy.
func ValidRemovePolicy(p string) bool {
	return p == RemovePolicyRetain || p == RemovePolicyDelete
}

// AlbumItemCounts aggregates per-category item counts for one album.
type AlbumItemCounts struct {
	Images   int
	Videos   int
	Archives int
	Other    int
	Total    int
}

// AlbumMediaItem is the listing view of one stored item.
type AlbumMediaItem struct {
	ID             int64
	ItemKey        string
	DisplayName    string
	Category       string
	SizeBytes      int64
	IsActive       bool
	IsDownloaded   bool
	DownloadedPath string
	RemovedAt      *time.Time
}

// MediaDeleteResult reports the outcome of an explicit item delete.
type MediaDeleteResult struct {
	RowDeleted  bool
	FileDeleted bool
	Message     string
}
