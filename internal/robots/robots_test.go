package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/IliaW/aeo-crawler/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const declaredAgent = "aeo-crawler/1.0"

func newTestEngine(robotsBody string, status int) (*Engine, *httptest.Server) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(robotsBody))
	}))
	cfg := &config.RobotsConfig{
		CacheTtl:       time.Minute,
		RequestTimeout: 5 * time.Second,
	}
	return NewEngine(cfg, &http.Transport{}, declaredAgent), server
}

func TestCheckAllowedAsDeclaredAgent(t *testing.T) {
	body := "User-agent: *\nDisallow: /private\n"
	engine, server := newTestEngine(body, http.StatusOK)
	defer server.Close()

	policy, err := engine.Check(context.Background(), server.URL+"/public/page")
	require.NoError(t, err)
	assert.Equal(t, AllowedAsDeclared, policy.Status)
	assert.True(t, policy.CanCrawl())
	assert.True(t, policy.AllowedAsDeclared)
	assert.Equal(t, declaredAgent, policy.EffectiveUserAgent)
	assert.True(t, policy.Exists)
}

func TestCheckBrowserAgentFallback(t *testing.T) {
	// The declared agent is disallowed everywhere; browser agents fall
	// under the wildcard group which is permitted.
	body := "User-agent: aeo-crawler\nDisallow: /\n\nUser-agent: *\nDisallow: /private\n"
	engine, server := newTestEngine(body, http.StatusOK)
	defer server.Close()

	policy, err := engine.Check(context.Background(), server.URL+"/public/page")
	require.NoError(t, err)
	assert.Equal(t, AllowedAsBrowser, policy.Status)
	assert.True(t, policy.CanCrawl())
	assert.False(t, policy.AllowedAsDeclared)
	assert.True(t, policy.AllowedAsBrowser)
	assert.Equal(t, DefaultBrowserAgents[0], policy.EffectiveUserAgent)
}

func TestCheckFullyBlocked(t *testing.T) {
	body := "User-agent: *\nDisallow: /\n"
	engine, server := newTestEngine(body, http.StatusOK)
	defer server.Close()

	policy, err := engine.Check(context.Background(), server.URL+"/any/page")
	require.NoError(t, err)
	assert.Equal(t, Blocked, policy.Status)
	assert.False(t, policy.CanCrawl())
	assert.NotEmpty(t, policy.Reason)
}

func TestCheckMissingRobotsIsPermissive(t *testing.T) {
	engine, server := newTestEngine("", http.StatusNotFound)
	defer server.Close()

	policy, err := engine.Check(context.Background(), server.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, ErrorFallbackPermissive, policy.Status)
	assert.True(t, policy.CanCrawl())
	assert.False(t, policy.Exists)
	assert.NotEmpty(t, policy.Reason)
	assert.Equal(t, defaultCrawlDelay, policy.CrawlDelay)
}

func TestCheckUnreachableHostIsPermissive(t *testing.T) {
	cfg := &config.RobotsConfig{CacheTtl: time.Minute, RequestTimeout: time.Second}
	engine := NewEngine(cfg, &http.Transport{}, declaredAgent)

	policy, err := engine.Check(context.Background(), "http://127.0.0.1:1/page")
	require.NoError(t, err)
	assert.Equal(t, ErrorFallbackPermissive, policy.Status)
	assert.True(t, policy.CanCrawl())
}

func TestCheckCrawlDelayFromWildcard(t *testing.T) {
	body := "User-agent: *\nCrawl-delay: 3\nDisallow: /private\n"
	engine, server := newTestEngine(body, http.StatusOK)
	defer server.Close()

	policy, err := engine.Check(context.Background(), server.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, policy.CrawlDelay)
}

func TestCheckCollectsSitemapsAndDisallows(t *testing.T) {
	body := "User-agent: *\nDisallow: /admin\nDisallow: /tmp\nSitemap: https://example.com/sitemap.xml\n"
	engine, server := newTestEngine(body, http.StatusOK)
	defer server.Close()

	policy, err := engine.Check(context.Background(), server.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/sitemap.xml"}, policy.SitemapURLs)
	assert.Equal(t, []string{"/admin", "/tmp"}, policy.DisallowedPaths)
}

func TestCheckUsesCacheUntilInvalidated(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("User-agent: *\nDisallow:\n"))
	}))
	defer server.Close()

	cfg := &config.RobotsConfig{CacheTtl: time.Minute, RequestTimeout: 5 * time.Second}
	engine := NewEngine(cfg, &http.Transport{}, declaredAgent)

	_, err := engine.Check(context.Background(), server.URL+"/a")
	require.NoError(t, err)
	_, err = engine.Check(context.Background(), server.URL+"/b")
	require.NoError(t, err)
	assert.Equal(t, 1, hits)

	u, _ := engine.Check(context.Background(), server.URL+"/c")
	engine.InvalidateDomain(u.Domain)
	_, err = engine.Check(context.Background(), server.URL+"/d")
	require.NoError(t, err)
	assert.Equal(t, 2, hits)
}
