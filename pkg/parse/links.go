package parse

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/fabiosalasm-zz/uy-home-finder/pkg/utils"
)

// NormalizeURL standardizes a post link for deduplication.
// It lowercases the scheme and host, removes default ports, trims a trailing
// slash (unless root), drops the fragment and sorts the query.
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" {
		normalized.Path = "/"
	} else if len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
		normalized.Path = strings.TrimRight(normalized.Path, "/")
	}
	normalized.RawPath = ""

	normalized.Fragment = ""
	normalized.RawFragment = ""
	if normalized.RawQuery != "" {
		normalized.RawQuery = normalized.Query().Encode()
	}

	return normalized.String()
}

// ParseAndNormalize parses an absolute URL and normalizes it.
// Returns the normalized string, the parsed URL object, and any parse error
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(urlStr))
	if err != nil {
		return "", nil, fmt.Errorf("%w: URL '%s': %v", utils.ErrParsing, urlStr, err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return "", nil, fmt.Errorf("%w: URL '%s' is not absolute", utils.ErrParsing, urlStr)
	}
	return NormalizeURL(parsed), parsed, nil
}

// ResolveLink resolves href against base. Empty hrefs and non-http(s) results
// (javascript:, mailto:) yield "".
func ResolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := ref
	if base != nil {
		resolved = base.ResolveReference(ref)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

// WithQueryParam returns raw with key set to value, keeping the other parameters.
func WithQueryParam(raw, key, value string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: URL '%s': %v", utils.ErrParsing, raw, err)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// AppendPath returns raw with segment appended to its path; the query is kept.
func AppendPath(raw, segment string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: URL '%s': %v", utils.ErrParsing, raw, err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(segment, "/")
	u.RawPath = ""
	return u.String(), nil
}

// QueryParam returns the first value of key in raw, or "" when raw does not parse.
func QueryParam(raw, key string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Query().Get(key)
}
