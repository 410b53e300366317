package security

import (
	"fmt"
	"net/http"
)

// HeadersConfig holds security headers configuration. The API serves
// JSON only, so there is no CSP; browsers never render these responses.
type HeadersConfig struct {
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	HSTSPreload           bool

	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
}

// DefaultHeadersConfig returns secure defaults
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		HSTSMaxAge:            31536000, // 1 year
		HSTSIncludeSubdomains: true,
		HSTSPreload:           true,

		XFrameOptions:       "DENY",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "strict-origin-when-cross-origin",
	}
}

// ApplyHeaders writes the configured security headers to the response.
func (c HeadersConfig) ApplyHeaders(w http.ResponseWriter, r *http.Request) {
	headers := w.Header()

	headers.Set("X-Content-Type-Options", c.XContentTypeOptions)
	headers.Set("X-Frame-Options", c.XFrameOptions)
	headers.Set("Referrer-Policy", c.ReferrerPolicy)

	// HSTS header (only for HTTPS)
	if r.TLS != nil && c.HSTSMaxAge > 0 {
		hstsValue := fmt.Sprintf("max-age=%d", c.HSTSMaxAge)
		if c.HSTSIncludeSubdomains {
			hstsValue += "; includeSubDomains"
		}
		if c.HSTSPreload {
			hstsValue += "; preload"
		}
		headers.Set("Strict-Transport-Security", hstsValue)
	}
}
