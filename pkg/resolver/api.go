package resolver

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"bunkrgrab/pkg/errors"
)

// APIPath is the resolution endpoint that trades an opaque file id for an
// encrypted media URL.
const APIPath = "/api/_001_v2"

type apiResponse struct {
	Encrypted bool   `json:"encrypted"`
	Timestamp int64  `json:"timestamp"`
	URL       string `json:"url"`
}

// ResolveFileID submits a file id to the resolution API and decrypts the
// returned payload into a directly accessible media URL. ogname, when known,
// is appended as ?n=<name> so the CDN reports a useful filename.
func (r *Resolver) ResolveFileID(ctx context.Context, fileID, ogname string) (string, error) {
	endpoint := strings.TrimRight(r.apiBase, "/") + APIPath
	headers := map[string]string{
		"Origin":  "https://get.bunkrr.su",
		"Referer": fmt.Sprintf("https://get.bunkrr.su/file/%s", fileID),
	}

	var resp apiResponse
	err := r.client.PostJSON(ctx, endpoint, map[string]string{"id": fileID}, headers, &resp)
	if err != nil {
		return "", err
	}
	if !resp.Encrypted || resp.URL == "" {
		return "", errors.Newf(errors.ErrorTypeResolutionAPI,
			"invalid resolution response for file id %s", fileID)
	}

	decrypted, err := decryptURL(resp.URL, resp.Timestamp)
	if err != nil {
		return "", err
	}

	if ogname != "" {
		sep := "?"
		if strings.Contains(decrypted, "?") {
			sep = "&"
		}
		decrypted += sep + "n=" + url.QueryEscape(ogname)
	}
	return decrypted, nil
}

// decryptURL reverses the payload encryption: the key string is derived from
// the response timestamp truncated to the hour, the payload is base64, and
// every byte is XORed against the repeating key bytes.
func decryptURL(payload string, timestamp int64) (string, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", errors.Newf(errors.ErrorTypeDecryptFailure,
			"payload is not valid base64: %v", err)
	}

	key := []byte(fmt.Sprintf("SECRET_KEY_%d", timestamp/3600))
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return string(out), nil
}
