package api

import (
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-crypt/x/blake2b"
)

// etagFor fingerprints a response body with a 128-bit BLAKE2b hash.
func etagFor(body []byte) string {
	h, _ := blake2b.New(16, nil)
	h.Write(body)
	return `"` + hex.EncodeToString(h.Sum(nil)) + `"`
}

// notModified reports whether the request's If-None-Match matches etag.
func notModified(r *http.Request, etag string) bool {
	header := r.Header.Get("If-None-Match")
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
