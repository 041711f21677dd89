package utils

import (
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"unicode"
)

// ClientIP returns the request's client address. Forwarding headers are
// honoured only when the immediate peer is a loopback or private address.
func ClientIP(r *http.Request) string {
	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}

	ip := net.ParseIP(remote)
	if ip == nil || !(ip.IsLoopback() || ip.IsPrivate()) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return remote
}

// SanitizeFilename reduces name to a safe base file name made of letters,
// digits, spaces and -_. characters.
func SanitizeFilename(name string) string {
	name = filepath.Base(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	result := strings.Trim(b.String(), " .")
	if strings.Trim(result, "._") == "" {
		return "download"
	}
	if len(result) > 255 {
		ext := filepath.Ext(result)
		if len(ext) >= 20 {
			ext = ""
		}
		result = result[:255-len(ext)] + ext
	}
	return result
}

// AttachmentDisposition builds a Content-Disposition header value for
// downloading name, with an RFC 5987 filename* for non-ASCII names.
func AttachmentDisposition(name string) string {
	safe := SanitizeFilename(name)
	return `attachment; filename="` + safe + `"; filename*=UTF-8''` + url.PathEscape(safe)
}
