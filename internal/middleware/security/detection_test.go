package security

import (
	"net/http/httptest"
	"testing"
)

func TestDetectSuspiciousRequest(t *testing.T) {
	d := NewDetector()

	tests := []struct {
		name       string
		target     string
		userAgent  string
		suspicious bool
	}{
		{"normal api call", "/api/tabs", "Mozilla/5.0", false},
		{"curl is fine", "/api/tabs", "curl/8.4.0", false},
		{"path traversal", "/api/../etc/passwd", "Mozilla/5.0", true},
		{"php probe", "/wp-admin/admin.php", "Mozilla/5.0", true},
		{"sql injection in query", "/api/tabs?q=union%20select", "Mozilla/5.0", true},
		{"scanner agent", "/api/tabs", "sqlmap/1.7", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			r.Header.Set("User-Agent", tt.userAgent)
			if got := d.DetectSuspiciousRequest(r); got != tt.suspicious {
				t.Errorf("DetectSuspiciousRequest() = %v, want %v", got, tt.suspicious)
			}
		})
	}
}

func TestExtractClientIP(t *testing.T) {
	d := NewDetector()

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"direct connection", "203.0.113.9:4431", "", "203.0.113.9"},
		{"forwarded via trusted proxy", "10.0.0.5:80", "203.0.113.9, 10.0.0.5", "203.0.113.9"},
		{"forwarded header from untrusted peer ignored", "203.0.113.9:4431", "1.2.3.4", "203.0.113.9"},
		{"garbage forwarded value falls back", "127.0.0.1:9000", "not-an-ip", "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/tabs", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := d.ExtractClientIP(r); got != tt.want {
				t.Errorf("ExtractClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
