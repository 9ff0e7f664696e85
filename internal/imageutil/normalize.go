package imageutil

import (
	"net/url"
	"regexp"
	"strings"
)

// Storefront CDNs serve the same physical asset under many URLs: wrapped in
// an image proxy, with cache-busting query parameters, or with a size
// variant suffix baked into the filename. Normalize collapses all of those
// onto one canonical key so equality means "same asset".

// reSizeSuffix matches a trailing size/variant token right before the file
// extension, e.g. "_1024x1024.jpg", "_thumb.png", "_master.webp".
var reSizeSuffix = regexp.MustCompile(`_(\d+x\d+|pico|icon|thumb|small|compact|medium|large|grande|original|master)(\.[a-z0-9]+)$`)

// Normalize canonicalizes an image reference for equality comparison.
// It unwraps a proxied original URL (one level), drops the query string,
// lower-cases the result and strips a trailing size suffix. It never fails;
// on a parse error it degrades to "strip query, lower-case".
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	u, err := url.Parse(s)
	if err != nil {
		return strings.ToLower(stripQuery(s))
	}

	// An image proxy wraps the original URL in a query parameter. Recurse
	// once into the first parameter value that is itself a URL.
	if wrapped := wrappedURL(u); wrapped != "" {
		if wu, err := url.Parse(wrapped); err == nil {
			u = wu
		}
	}

	u.RawQuery = ""
	u.Fragment = ""
	key := strings.ToLower(u.String())
	return reSizeSuffix.ReplaceAllString(key, "$2")
}

// wrappedURL walks the raw query in declaration order so the same input
// always unwraps to the same parameter, regardless of map iteration.
func wrappedURL(u *url.URL) string {
	for _, pair := range strings.Split(u.RawQuery, "&") {
		v := pair
		if i := strings.IndexByte(pair, '='); i >= 0 {
			v = pair[i+1:]
		}
		if dec, err := url.QueryUnescape(v); err == nil {
			v = dec
		}
		if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
			return v
		}
	}
	return ""
}

func stripQuery(s string) string {
	if i := strings.IndexByte(s, '?'); i >= 0 {
		return s[:i]
	}
	return s
}
