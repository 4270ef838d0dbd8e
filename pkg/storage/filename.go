package storage

import (
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var invalidFilenameChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// Sanitize replaces characters that are invalid in filenames with underscores
// and trims surrounding whitespace.
func Sanitize(name string) string {
	name = invalidFilenameChars.ReplaceAllString(name, "_")
	return strings.TrimSpace(name)
}

// FilenameFor computes the destination filename for a download. Priority:
// caller-supplied suggested name, then the Content-Disposition header, then
// the URL's basename. The extension is backfilled from the URL when the
// winning name has none.
func FilenameFor(suggested, contentDisposition, rawURL string) string {
	name := strings.TrimSpace(suggested)

	if name == "" && contentDisposition != "" {
		name = fromContentDisposition(contentDisposition)
	}

	if name == "" {
		name = basenameFromURL(rawURL)
	}

	if name == "" {
		name = "download"
	}

	name = Sanitize(name)

	if path.Ext(name) == "" {
		if ext := path.Ext(basenameFromURL(rawURL)); ext != "" {
			name += ext
		}
	}

	return name
}

// fromContentDisposition extracts a filename from a Content-Disposition
// header, handling both the RFC 5987 filename* form and the plain form.
func fromContentDisposition(header string) string {
	if _, params, err := mime.ParseMediaType(header); err == nil {
		if name := params["filename"]; name != "" {
			return name
		}
	}

	// Lenient fallback for headers mime.ParseMediaType rejects.
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "filename*="); ok {
			if idx := strings.Index(v, "''"); idx >= 0 {
				if decoded, err := url.QueryUnescape(v[idx+2:]); err == nil {
					return decoded
				}
			}
		}
		if v, ok := strings.CutPrefix(part, "filename="); ok {
			return strings.Trim(v, `"`)
		}
	}

	return ""
}

// basenameFromURL returns the path basename of a URL, query stripped.
func basenameFromURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	if decoded, err := url.PathUnescape(base); err == nil {
		base = decoded
	}
	return base
}

// ClaimPath reserves a destination path, appending " (N)" before the
// extension until a name can be created exclusively. The exclusive create
// makes the claim safe against concurrent workers racing for the same name.
// The returned path exists as an empty file owned by the caller: renaming a
// finished download over it completes it, removing it releases the claim.
func ClaimPath(p string) (string, error) {
	dir := filepath.Dir(p)
	ext := filepath.Ext(p)
	stem := strings.TrimSuffix(filepath.Base(p), ext)

	for n := 0; ; n++ {
		candidate := p
		if n > 0 {
			candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		}
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			f.Close()
			return candidate, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to claim %s: %w", filepath.Base(candidate), err)
		}
	}
}

// ExistingVariant reports whether filename, or a numbered " (N)" duplicate of
// it, already exists in dir. The matched path is returned when found.
func ExistingVariant(dir, filename string) (string, bool) {
	exact := filepath.Join(dir, filename)
	if _, err := os.Stat(exact); err == nil {
		return exact, true
	}

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	pattern, err := regexp.Compile(
		`^` + regexp.QuoteMeta(stem) + ` \(\d+\)` + regexp.QuoteMeta(ext) + `$`)
	if err != nil {
		return "", false
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if pattern.MatchString(entry.Name()) {
			return filepath.Join(dir, entry.Name()), true
		}
	}

	return "", false
}
