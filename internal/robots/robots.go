// Package robots resolves per-domain crawl permissions from robots.txt.
// A domain that disallows the declared crawler agent is retried against a
// list of common browser agents before being treated as blocked.
package robots

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/IliaW/aeo-crawler/config"
	"github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
)

const (
	robotsPath        = "/robots.txt"
	maxRobotsBody     = 512 * 1024
	defaultCrawlDelay = 1 * time.Second
)

// DefaultBrowserAgents is the fallback priority order when the config
// does not provide its own list.
var DefaultBrowserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

type Status int

const (
	Unchecked Status = iota
	AllowedAsDeclared
	AllowedAsBrowser
	Blocked
	ErrorFallbackPermissive
)

func (s Status) String() string {
	return [...]string{"unchecked", "allowed_as_declared", "allowed_as_browser", "blocked",
		"error_fallback_permissive"}[s]
}

// Policy is the per-domain decision record. Replaced wholesale when the
// cache entry expires, never partially updated.
type Policy struct {
	Domain             string        `json:"domain"`
	Exists             bool          `json:"exists"`
	Status             Status        `json:"-"`
	StatusName         string        `json:"status"`
	AllowedAsDeclared  bool          `json:"allowed_as_declared_agent"`
	AllowedAsBrowser   bool          `json:"allowed_as_browser_agent"`
	EffectiveUserAgent string        `json:"effective_user_agent"`
	CrawlDelay         time.Duration `json:"crawl_delay"`
	DisallowedPaths    []string      `json:"disallowed_paths,omitempty"`
	SitemapURLs        []string      `json:"sitemap_urls,omitempty"`
	Reason             string        `json:"reason,omitempty"`
	CheckedAt          time.Time     `json:"checked_at"`
}

// CanCrawl reports whether any agent is permitted for the checked path.
func (p *Policy) CanCrawl() bool {
	return p.Status != Blocked
}

type Engine struct {
	httpClient    *http.Client
	declaredAgent string
	browserAgents []string
	localCache    *cache.Cache
	cfg           *config.RobotsConfig
}

func NewEngine(cfg *config.RobotsConfig, transport *http.Transport, declaredAgent string) *Engine {
	agents := cfg.BrowserAgents
	if len(agents) == 0 {
		agents = DefaultBrowserAgents
	}
	return &Engine{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		declaredAgent: declaredAgent,
		browserAgents: agents,
		localCache:    cache.New(cfg.CacheTtl, 2*cfg.CacheTtl),
		cfg:           cfg,
	}
}

// Check resolves the robots policy for the given page URL. The fetched
// robots.txt is cached per (domain, declared agent) with a TTL; an expired
// entry forces a full re-fetch.
func (e *Engine) Check(ctx context.Context, pageURL string) (*Policy, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("robots: parse url %q: %w", pageURL, err)
	}
	domain := strings.ToLower(u.Host)
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	data, err := e.robotsData(ctx, domain, u.Scheme)
	if err != nil {
		return nil, err
	}

	policy := e.evaluate(domain, path, data)
	return policy, nil
}

type robotsRecord struct {
	data            *robotstxt.RobotsData
	exists          bool
	reason          string
	disallowedPaths []string
	fetchedAt       time.Time
}

func (e *Engine) robotsData(ctx context.Context, domain, scheme string) (*robotsRecord, error) {
	key := domain + "|" + e.declaredAgent
	if cached, ok := e.localCache.Get(key); ok {
		return cached.(*robotsRecord), nil
	}

	record := e.fetchRobots(ctx, domain, scheme)
	e.localCache.Set(key, record, cache.DefaultExpiration)

	return record, nil
}

func (e *Engine) fetchRobots(ctx context.Context, domain, scheme string) *robotsRecord {
	if scheme == "" {
		scheme = "https"
	}
	robotsURL := scheme + "://" + domain + robotsPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return &robotsRecord{reason: "failed to build robots request: " + err.Error(), fetchedAt: time.Now()}
	}
	req.Header.Set("User-Agent", e.declaredAgent)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		slog.Debug("robots.txt fetch failed. fallback to permissive.", slog.String("domain", domain),
			slog.String("err", err.Error()))
		return &robotsRecord{reason: "robots fetch failed: " + err.Error(), fetchedAt: time.Now()}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return &robotsRecord{reason: fmt.Sprintf("robots.txt status %d", resp.StatusCode),
			fetchedAt: time.Now()}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
	if err != nil {
		return &robotsRecord{reason: "robots read failed: " + err.Error(), fetchedAt: time.Now()}
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return &robotsRecord{reason: "robots parse failed: " + err.Error(), fetchedAt: time.Now()}
	}

	return &robotsRecord{
		data:            data,
		exists:          true,
		disallowedPaths: extractDisallowedPaths(string(body)),
		fetchedAt:       time.Now(),
	}
}

// evaluate walks the state machine: declared agent first, then the
// browser-agent list in priority order, blocked only when no agent passes.
func (e *Engine) evaluate(domain, path string, record *robotsRecord) *Policy {
	policy := &Policy{
		Domain:          domain,
		Exists:          record.exists,
		DisallowedPaths: record.disallowedPaths,
		CheckedAt:       time.Now().UTC(),
	}

	if !record.exists {
		policy.Status = ErrorFallbackPermissive
		policy.StatusName = policy.Status.String()
		policy.AllowedAsDeclared = true
		policy.EffectiveUserAgent = e.declaredAgent
		policy.CrawlDelay = defaultCrawlDelay
		policy.Reason = record.reason
		return policy
	}
	policy.SitemapURLs = record.data.Sitemaps

	if record.data.TestAgent(path, e.declaredAgent) {
		policy.Status = AllowedAsDeclared
		policy.StatusName = policy.Status.String()
		policy.AllowedAsDeclared = true
		policy.EffectiveUserAgent = e.declaredAgent
		policy.CrawlDelay = crawlDelayFor(record.data, e.declaredAgent)
		return policy
	}

	for _, agent := range e.browserAgents {
		if record.data.TestAgent(path, agent) {
			policy.Status = AllowedAsBrowser
			policy.StatusName = policy.Status.String()
			policy.AllowedAsBrowser = true
			policy.EffectiveUserAgent = agent
			policy.CrawlDelay = crawlDelayFor(record.data, agent)
			policy.Reason = "declared agent disallowed, browser agent permitted"
			return policy
		}
	}

	policy.Status = Blocked
	policy.StatusName = policy.Status.String()
	policy.Reason = "no permitted user agent for path " + path
	return policy
}

// InvalidateDomain drops the cached record so the next check re-fetches.
func (e *Engine) InvalidateDomain(domain string) {
	e.localCache.Delete(strings.ToLower(domain) + "|" + e.declaredAgent)
}

func crawlDelayFor(data *robotstxt.RobotsData, agent string) time.Duration {
	if group := data.FindGroup(agent); group != nil && group.CrawlDelay > 0 {
		return group.CrawlDelay
	}
	if group := data.FindGroup("*"); group != nil && group.CrawlDelay > 0 {
		return group.CrawlDelay
	}
	return defaultCrawlDelay
}

func extractDisallowedPaths(body string) []string {
	var paths []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if !strings.HasPrefix(lower, "disallow:") {
			continue
		}
		value := strings.TrimSpace(line[len("disallow:"):])
		if value != "" {
			paths = append(paths, value)
		}
	}
	return paths
}
