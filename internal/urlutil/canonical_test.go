package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStripsTrackingParams(t *testing.T) {
	cu, err := Normalize("https://x.com/a?utm_source=y&id=1", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://x.com/a?id=1", cu.URL)
	assert.NotContains(t, cu.URL, "utm_source")
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"HTTPS://Example.COM:443/Path/?b=2&a=1&utm_campaign=x#frag",
		"http://example.com:80/",
		"https://example.com/a/b/",
		"https://example.com/a?fbclid=abc",
	}
	for _, raw := range inputs {
		first, err := Normalize(raw, nil)
		require.NoError(t, err, raw)
		second, err := Normalize(first.URL, nil)
		require.NoError(t, err, raw)
		assert.Equal(t, first.URL, second.URL, raw)
		assert.Equal(t, first.Hash, second.Hash, raw)
	}
}

func TestNormalizeSteps(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase scheme and host", "HTTP://EXAMPLE.com/Path", "http://example.com/Path"},
		{"strip default https port", "https://example.com:443/a", "https://example.com/a"},
		{"strip default http port", "http://example.com:80/a", "http://example.com/a"},
		{"keep non-default port", "https://example.com:8443/a", "https://example.com:8443/a"},
		{"strip fragment", "https://example.com/a#section", "https://example.com/a"},
		{"sort query params", "https://example.com/a?c=3&a=1&b=2", "https://example.com/a?a=1&b=2&c=3"},
		{"drop trailing slash", "https://example.com/a/", "https://example.com/a"},
		{"keep root slash", "https://example.com/", "https://example.com/"},
		{"wildcard tracking params", "https://example.com/a?utm_medium=email&utm_term=x&id=7", "https://example.com/a?id=7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cu, err := Normalize(tt.in, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cu.URL)
		})
	}
}

func TestNormalizeRejectsInvalidUrls(t *testing.T) {
	for _, raw := range []string{"", "notaurl", "ftp://example.com/file", "mailto:a@b.com", "://bad"} {
		_, err := Normalize(raw, nil)
		assert.ErrorIs(t, err, ErrInvalidURL, raw)
	}
}

func TestDeduplicatePreservesFirstSeenOrder(t *testing.T) {
	urls := []string{
		"https://example.com/a?utm_source=x",
		"https://example.com/b",
		"https://EXAMPLE.com/a/",
		"https://example.com/a",
		"not a url",
		"https://example.com/b#frag",
	}
	deduped := Deduplicate(urls, nil)
	require.Len(t, deduped, 2)
	assert.Equal(t, "https://example.com/a", deduped[0].URL)
	assert.Equal(t, "https://example.com/b", deduped[1].URL)
}

func TestDeduplicateInvariant(t *testing.T) {
	urls := []string{
		"https://example.com/x",
		"https://example.com/x/",
		"https://example.com/y?b=2&a=1",
		"https://example.com/y?a=1&b=2",
		"https://example.com/z",
	}
	hashes := make(map[string]struct{})
	for _, raw := range urls {
		cu, err := Normalize(raw, nil)
		require.NoError(t, err)
		hashes[cu.Hash] = struct{}{}
	}
	assert.Len(t, Deduplicate(urls, nil), len(hashes))
}

func TestResolveCanonicalPrefersDeclaredLink(t *testing.T) {
	html := `<html><head><link rel="canonical" href="https://example.com/canonical-page"></head><body></body></html>`
	cu, err := ResolveCanonical("https://example.com/fetched?utm_source=x", html, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/canonical-page", cu.URL)
}

func TestResolveCanonicalFallsBackToOgUrl(t *testing.T) {
	html := `<html><head><meta property="og:url" content="https://example.com/og-page"></head></html>`
	cu, err := ResolveCanonical("https://example.com/fetched", html, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/og-page", cu.URL)
}

func TestResolveCanonicalFallsBackToFetchedUrl(t *testing.T) {
	cu, err := ResolveCanonical("https://example.com/fetched/", "<html><body>no hints</body></html>", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/fetched", cu.URL)
}

func TestResolveCanonicalResolvesRelativeHref(t *testing.T) {
	html := `<html><head><link rel="canonical" href="/clean-path"></head></html>`
	cu, err := ResolveCanonical("https://example.com/dirty?ref=mail", html, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/clean-path", cu.URL)
}

func TestHashURLIsFixedLength(t *testing.T) {
	assert.Len(t, HashURL("https://example.com/"), 64)
	assert.Equal(t, HashURL("a"), HashURL("a"))
	assert.NotEqual(t, HashURL("a"), HashURL("b"))
}
