package render

import (
	"encoding/base64"
	"net/url"
	"strings"
)

const (
	RedirectPath         = "/partners/url-deep-redirect"
	DefaultAttributionID = "default"
)

// attributionParams are consulted in order for the redirect id.
var attributionParams = []string{"redirectId", "ref", "utm_campaign"}

// Redirector routes outbound call-to-action links through the partner redirect.
type Redirector struct {
	host string
}

// NewRedirector creates a redirector for host, e.g. "https://go.example.com".
func NewRedirector(host string) *Redirector {
	return &Redirector{host: strings.TrimRight(host, "/")}
}

// AttributionID picks the attribution id from a page query, or "default".
func AttributionID(pageQuery url.Values) string {
	for _, param := range attributionParams {
		if id := strings.TrimSpace(pageQuery.Get(param)); id != "" {
			return id
		}
	}
	return DefaultAttributionID
}

// Wrap returns the redirect URL for dest. An already wrapped dest is unwrapped
// first so the inner URL is never encoded twice.
func (r *Redirector) Wrap(dest string, pageQuery url.Values) string {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return ""
	}
	if inner, ok := Unwrap(dest); ok {
		dest = inner
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(dest))
	return r.host + RedirectPath +
		"?url=" + url.QueryEscape(encoded) +
		"&redirectId=" + url.QueryEscape(AttributionID(pageQuery))
}

// Unwrap extracts the destination of a redirect URL. It reports false when
// raw is not a redirect URL.
func Unwrap(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Path != RedirectPath {
		return "", false
	}
	encoded := u.Query().Get("url")
	if encoded == "" {
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		if decoded, err = base64.RawStdEncoding.DecodeString(encoded); err != nil {
			return "", false
		}
	}
	return string(decoded), true
}
