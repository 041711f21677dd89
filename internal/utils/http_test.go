package utils

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"direct", "203.0.113.7:5555", "", "", "203.0.113.7"},
		{"untrusted peer ignores headers", "203.0.113.7:5555", "198.51.100.1", "", "203.0.113.7"},
		{"private proxy forwards", "10.0.0.2:80", "198.51.100.1, 10.0.0.2", "", "198.51.100.1"},
		{"loopback real ip", "127.0.0.1:80", "", "198.51.100.9", "198.51.100.9"},
		{"ipv6 loopback", "[::1]:80", "", "", "::1"},
		{"no port", "192.168.1.4", "", "", "192.168.1.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Holiday Trip.mp4", "Holiday Trip.mp4"},
		{`evil"\r\n.mp4`, "evil__r_n.mp4"},
		{"../../etc/passwd", "passwd"},
		{"...", "download"},
		{"", "download"},
		{"übung.mp4", "übung.mp4"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := strings.Repeat("a", 300) + ".mp4"
	got := SanitizeFilename(long)
	if len(got) != 255 || !strings.HasSuffix(got, ".mp4") {
		t.Errorf("long name = %d chars, suffix kept = %v", len(got), strings.HasSuffix(got, ".mp4"))
	}
}

func TestAttachmentDisposition(t *testing.T) {
	got := AttachmentDisposition("Holiday Trip.mp4")
	want := `attachment; filename="Holiday Trip.mp4"; filename*=UTF-8''Holiday%20Trip.mp4`
	if got != want {
		t.Errorf("AttachmentDisposition() = %q, want %q", got, want)
	}
}
