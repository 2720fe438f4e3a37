// Package urlutil normalizes URLs into a single canonical form and
// derives the content-addressed hash used for frontier deduplication.
package urlutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var ErrInvalidURL = errors.New("invalid url")

// CanonicalURL is a normalized absolute URL plus a stable digest of the
// normalized form. Computed once, never mutated.
type CanonicalURL struct {
	URL  string `json:"url"`
	Hash string `json:"hash"`
}

// Options controls normalization. The zero value uses the default
// tracking-parameter block-list.
type Options struct {
	// TrackingParams are query parameter names stripped during
	// normalization. A trailing '*' matches any suffix ("utm_*").
	TrackingParams []string
}

// DefaultTrackingParams covers UTM tags, ad click ids and referrer tags.
var DefaultTrackingParams = []string{
	"utm_*", "gclid", "gclsrc", "dclid", "fbclid", "msclkid", "twclid",
	"yclid", "igshid", "mc_cid", "mc_eid", "s_kwcid", "ref", "referrer",
	"source", "_hsenc", "_hsmi", "hsa_*",
}

// Normalize applies the canonicalization steps in order: lower-case
// scheme and host, strip default ports, strip fragment, strip tracking
// parameters, sort remaining query parameters by key, drop a single
// trailing slash unless the path is root. Each step is idempotent, so
// Normalize(Normalize(u)) == Normalize(u).
func Normalize(rawURL string, opts *Options) (CanonicalURL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return CanonicalURL{}, ErrInvalidURL
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return CanonicalURL{}, ErrInvalidURL
	}
	if u.Hostname() == "" {
		return CanonicalURL{}, ErrInvalidURL
	}

	u.Scheme = scheme
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}
	u.Fragment = ""

	blockList := DefaultTrackingParams
	if opts != nil && opts.TrackingParams != nil {
		blockList = opts.TrackingParams
	}
	u.RawQuery = normalizeQuery(u.Query(), blockList)

	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	normalized := u.String()
	return CanonicalURL{URL: normalized, Hash: HashURL(normalized)}, nil
}

// ResolveCanonical prefers the page-declared canonical link (or og:url)
// over the fetched URL. Falls back to the normalized fetched URL when the
// page declares nothing usable.
func ResolveCanonical(fetchedURL string, html string, opts *Options) (CanonicalURL, error) {
	fetched, err := Normalize(fetchedURL, opts)
	if err != nil {
		return CanonicalURL{}, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fetched, nil
	}
	declared := strings.TrimSpace(doc.Find(`link[rel="canonical"]`).First().AttrOr("href", ""))
	if declared == "" {
		declared = strings.TrimSpace(doc.Find(`meta[property="og:url"]`).First().AttrOr("content", ""))
	}
	if declared == "" {
		return fetched, nil
	}
	if base, parseErr := url.Parse(fetched.URL); parseErr == nil {
		if rel, relErr := url.Parse(declared); relErr == nil {
			declared = base.ResolveReference(rel).String()
		}
	}
	canonical, err := Normalize(declared, opts)
	if err != nil {
		return fetched, nil
	}
	return canonical, nil
}

// HashURL returns the hex-encoded SHA-256 of the given string.
func HashURL(u string) string {
	h := sha256.Sum256([]byte(u))
	return hex.EncodeToString(h[:])
}

// Deduplicate returns one CanonicalURL per distinct hash, preserving
// first-seen order. URLs that fail normalization are skipped.
func Deduplicate(urls []string, opts *Options) []CanonicalURL {
	seen := make(map[string]struct{}, len(urls))
	result := make([]CanonicalURL, 0, len(urls))
	for _, raw := range urls {
		cu, err := Normalize(raw, opts)
		if err != nil {
			continue
		}
		if _, ok := seen[cu.Hash]; ok {
			continue
		}
		seen[cu.Hash] = struct{}{}
		result = append(result, cu)
	}
	return result
}

func normalizeQuery(values url.Values, blockList []string) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if isTrackingParam(key, blockList) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		for _, value := range values[key] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			if value != "" {
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(value))
			}
		}
	}
	return b.String()
}

func isTrackingParam(key string, blockList []string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range blockList {
		if strings.HasSuffix(pattern, "*") {
			if strings.HasPrefix(lower, strings.TrimSuffix(pattern, "*")) {
				return true
			}
		} else if lower == pattern {
			return true
		}
	}
	return false
}
