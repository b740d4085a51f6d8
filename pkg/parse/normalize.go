package parse

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Sriram-PR/product-scout/pkg/utils"
)

// NormalizeURL trims surrounding whitespace and strips trailing slashes.
// Two URLs differing only by trailing slashes normalize identically; nothing
// else (case, query, fragment) is touched, so equality stays an exact string match.
func NormalizeURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// Resolve turns ref into an absolute URL using base, the URL of the document ref was found in.
// Absolute refs are returned unchanged apart from whitespace trimming.
func Resolve(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: URL parsing failed for entry %q: %v", utils.ErrParsing, ref, err)
	}
	if refURL.IsAbs() {
		return ref, nil
	}
	baseURL, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("%w: URL parsing failed for base %q: %v", utils.ErrParsing, base, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// ResolveAndNormalize resolves ref against base and normalizes the result
func ResolveAndNormalize(base, ref string) (string, error) {
	abs, err := Resolve(base, ref)
	if err != nil {
		return "", err
	}
	return NormalizeURL(abs), nil
}

// Domain returns the lowercased host (including any port) of rawURL, or "" if it has none.
// Escalation state is keyed by this value.
func Domain(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// Hostname returns the lowercased host of rawURL without any port.
func Hostname(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// HasPathSuffix reports whether the lowercased path of rawURL ends with suffix.
func HasPathSuffix(rawURL, suffix string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), suffix)
}
