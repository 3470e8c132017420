package profile

import (
	"encoding/base64"
	"strings"
)

// decodeBase64 attempts to decode standard and URL-safe base64 strings,
// automatically fixing missing padding.
func decodeBase64(s string) (string, error) {
	if n := len(s) % 4; n != 0 {
		s += strings.Repeat("=", 4-n)
	}

	b, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return string(b), nil
	}

	b, err = base64.URLEncoding.DecodeString(s)
	if err == nil {
		return string(b), nil
	}

	return "", err
}

// sanitizeLink cleans up common issues in pasted or scraped links.
func sanitizeLink(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}
