package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bunkrgrab/pkg/errors"
)

func mustParse(t *testing.T, page string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)
	return doc
}

func serveHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, body)
}

func serveMedia(w http.ResponseWriter, data string) {
	w.Header().Set("Content-Type", "video/mp4")
	fmt.Fprint(w, data)
}

func TestOpenReturnsMediaDirectly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveMedia(w, "media-bytes")
	}))
	defer server.Close()

	r := newTestResolver("http://unused", nil)
	resp, err := r.Open(context.Background(), server.URL+"/files/a.mp4", "", "")
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "media-bytes", string(data))
}

func TestOpenFollowsDownloadAnchor(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/f/abc", func(w http.ResponseWriter, r *http.Request) {
		serveHTML(w, `<html><body><a download href="/d/abc">Get file</a></body></html>`)
	})
	mux.HandleFunc("/d/abc", func(w http.ResponseWriter, r *http.Request) {
		serveHTML(w, `<html><body><a href="/media/abc.mp4">download now</a></body></html>`)
	})
	mux.HandleFunc("/media/abc.mp4", func(w http.ResponseWriter, r *http.Request) {
		serveMedia(w, "the-file")
	})

	r := newTestResolver("http://unused", nil)
	resp, err := r.Open(context.Background(), server.URL+"/f/abc", "", "")
	require.NoError(t, err)
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "the-file", string(data))
	assert.Equal(t, "/media/abc.mp4", resp.Request.URL.Path)
}

func TestOpenResolvesFileIDThroughAPI(t *testing.T) {
	ts := int64(1700000000)

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mediaURL := ""
	mux.HandleFunc("/f/enc", func(w http.ResponseWriter, r *http.Request) {
		serveHTML(w, `<html><body><div data-file-id="enc42">protected</div></body></html>`)
	})
	mux.HandleFunc(APIPath, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"encrypted": true, "timestamp": %d, "url": %q}`,
			ts, encryptURL(mediaURL, ts))
	})
	mux.HandleFunc("/files/enc.mp4", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "clip.mp4", r.URL.Query().Get("n"))
		serveMedia(w, "decrypted-media")
	})
	mediaURL = server.URL + "/files/enc.mp4"

	r := newTestResolver(server.URL, nil)
	resp, err := r.Open(context.Background(), server.URL+"/f/enc", "", "clip.mp4")
	require.NoError(t, err)
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "decrypted-media", string(data))
}

func TestOpenDetectsLoop(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/f/loop", func(w http.ResponseWriter, r *http.Request) {
		serveHTML(w, `<html><body><a href="/d/loop">download</a></body></html>`)
	})
	mux.HandleFunc("/d/loop", func(w http.ResponseWriter, r *http.Request) {
		serveHTML(w, fmt.Sprintf(`<html><body><a href="%s/f/loop">download</a></body></html>`, server.URL))
	})

	r := newTestResolver("http://unused", nil)
	_, err := r.Open(context.Background(), server.URL+"/f/loop", "", "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeHopLimit, errors.TypeOf(err))
}

func TestOpenHopLimit(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	// Every page points at a fresh /d/<n+1>, so the walk never repeats a URL
	// and must stop at the hop ceiling.
	mux.HandleFunc("/d/", func(w http.ResponseWriter, r *http.Request) {
		var n int
		fmt.Sscanf(r.URL.Path, "/d/%d", &n)
		serveHTML(w, fmt.Sprintf(`<html><body><a href="/d/%d">download</a></body></html>`, n+1))
	})

	client := newTestResolver("http://unused", nil)
	client.maxHops = 3
	_, err := client.Open(context.Background(), server.URL+"/d/1", "", "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeHopLimit, errors.TypeOf(err))
}

func TestOpenNoMedia(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveHTML(w, `<html><body><p>nothing to see</p></body></html>`)
	}))
	defer server.Close()

	r := newTestResolver("http://unused", nil)
	_, err := r.Open(context.Background(), server.URL+"/f/bare", "", "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeNoMedia, errors.TypeOf(err))
}

func TestOpenBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	r := newTestResolver("http://unused", nil)
	_, err := r.Open(context.Background(), server.URL+"/f/gone", "", "")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeBadStatus, errors.TypeOf(err))
}

func TestNextHopStrategyOrder(t *testing.T) {
	r := newTestResolver("http://unused", nil)

	page := `<html><body>
<a href="/v/related.mp4">related</a>
<a download href="/d/primary">Get file</a>
</body></html>`
	doc := mustParse(t, page)

	// The explicit download anchor outranks the media-extension anchor.
	next := r.nextHop(doc, "https://host.example/f/x")
	assert.Equal(t, "https://host.example/d/primary", next)
}

func TestRelativePathHint(t *testing.T) {
	doc := mustParse(t, `<html><body>
<script>var mediaPath = "/files/2024/clip one.mp4";</script>
</body></html>`)
	// Spaces are not part of the hint charset; this script has no hint.
	assert.Equal(t, "", relativePathHint(doc))

	doc = mustParse(t, `<html><body>
<script>var mediaPath = "/files/2024/clip.mp4";</script>
</body></html>`)
	assert.Equal(t, "/files/2024/clip.mp4", relativePathHint(doc))
}
