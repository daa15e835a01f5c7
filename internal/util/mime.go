package util

import (
	"net/http"
	"strings"
)

// SniffMime detects the MIME type of raw image bytes, defaulting to PNG when
// detection yields something unusable for the vision APIs.
func SniffMime(b []byte) string {
	m := http.DetectContentType(b)
	if !strings.HasPrefix(m, "image/") {
		return "image/png"
	}
	return m
}
