package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IliaW/aeo-crawler/config"
	"github.com/IliaW/aeo-crawler/internal/model"
	"github.com/IliaW/aeo-crawler/internal/sitemap"
	"github.com/IliaW/aeo-crawler/internal/urlutil"
	"github.com/google/uuid"
)

// deltaWindow bounds which sitemap entries a delta run considers.
const deltaWindow = 30 * 24 * time.Hour

// SitemapSource is the discovery dependency, satisfied by the sitemap
// parser.
type SitemapSource interface {
	Discover(ctx context.Context, baseURL string, robotsSitemaps []string) []string
	Parse(ctx context.Context, sitemapURL string) ([]sitemap.Entry, error)
}

// Crawler walks a whole domain: sitemap seeding plus breadth-first
// link following, with per-domain politeness and pause/resume.
type Crawler struct {
	Cfg      *config.Config
	Pipeline *Pipeline
	Sitemaps SitemapSource
	Results  chan<- *model.ScoreResult
	Log      *slog.Logger

	mu      sync.Mutex
	paused  bool
	resume  chan struct{}
	status  model.RunStatus
	scored  int
	visited map[string]struct{}
}

// DomainAnalysis is the quick pre-crawl report for a domain.
type DomainAnalysis struct {
	BaseURL         string   `json:"base_url"`
	RobotsExists    bool     `json:"robots_exists"`
	CanCrawl        bool     `json:"can_crawl"`
	UserAgent       string   `json:"user_agent"`
	CrawlDelayMs    int64    `json:"crawl_delay_ms"`
	SitemapURLs     []string `json:"sitemap_urls,omitempty"`
	SitemapPages    int      `json:"sitemap_pages"`
	SpecificURL     string   `json:"specific_url,omitempty"`
	SpecificAllowed bool     `json:"specific_allowed,omitempty"`
}

// AnalyzeDomain inspects robots policy and sitemaps without fetching
// or scoring any page. A non-empty specificURL additionally reports
// whether that single page may be crawled.
func (c *Crawler) AnalyzeDomain(ctx context.Context, baseURL, specificURL string) (*DomainAnalysis, error) {
	canonical, err := urlutil.Normalize(baseURL, nil)
	if err != nil {
		return nil, err
	}
	policy, err := c.Pipeline.Robots.Check(ctx, canonical.URL)
	if err != nil {
		return nil, err
	}

	analysis := &DomainAnalysis{
		BaseURL:      canonical.URL,
		RobotsExists: policy.Exists,
		CanCrawl:     policy.CanCrawl(),
		UserAgent:    policy.EffectiveUserAgent,
		CrawlDelayMs: policy.CrawlDelay.Milliseconds(),
	}
	if specificURL != "" {
		specific, err := urlutil.Normalize(specificURL, nil)
		if err != nil {
			return nil, err
		}
		specificPolicy, err := c.Pipeline.Robots.Check(ctx, specific.URL)
		if err != nil {
			return nil, err
		}
		analysis.SpecificURL = specific.URL
		analysis.SpecificAllowed = specificPolicy.CanCrawl()
	}
	if !policy.CanCrawl() {
		return analysis, nil
	}

	analysis.SitemapURLs = c.Sitemaps.Discover(ctx, canonical.URL, policy.SitemapURLs)
	for _, sitemapURL := range analysis.SitemapURLs {
		entries, err := c.Sitemaps.Parse(ctx, sitemapURL)
		if err != nil {
			continue
		}
		analysis.SitemapPages += len(entries)
	}
	return analysis, nil
}

// RunCrawl processes a whole domain according to the run config and
// streams every page's ScoreResult to the Results channel. It returns
// when the frontier is exhausted, the sample size is reached, or ctx
// is cancelled.
func (c *Crawler) RunCrawl(ctx context.Context, runCfg *model.RunConfig) error {
	if runCfg.RunID == "" {
		runCfg.RunID = uuid.New().String()
	}
	c.applyDefaults(runCfg)
	c.setStatus(model.RunRunning)
	c.mu.Lock()
	c.scored = 0
	c.visited = make(map[string]struct{})
	c.mu.Unlock()

	base, err := urlutil.Normalize(runCfg.BaseURL, nil)
	if err != nil {
		c.setStatus(model.RunFailed)
		return err
	}
	c.Log.Info("starting crawl run.", slog.String("run_id", runCfg.RunID),
		slog.String("base_url", base.URL), slog.String("run_type", string(runCfg.RunType)))

	policy, err := c.Pipeline.Robots.Check(ctx, base.URL)
	if err != nil {
		c.setStatus(model.RunFailed)
		return err
	}
	if !policy.CanCrawl() {
		// The whole domain is off limits: one terminal zero-score
		// result for the base url and nothing else.
		result, _, err := c.Pipeline.ProcessPage(ctx, c.taskFor(runCfg, base.URL))
		if err == nil {
			c.Results <- result
		}
		c.setStatus(model.RunCompleted)
		return nil
	}

	delay := policy.CrawlDelay
	if delay <= 0 {
		delay = c.Cfg.CrawlerSettings.DefaultCrawlDelay
	}
	limiter := &politenessGate{delay: delay}

	frontier := c.seedFrontier(ctx, runCfg, base, policy.SitemapURLs)
	c.Log.Info("crawl frontier seeded.", slog.String("run_id", runCfg.RunID),
		slog.Int("urls", len(frontier)))

	followLinks := runCfg.RunType != model.RunSitemapOnly
	for depth := 0; len(frontier) > 0 && depth <= runCfg.DepthLimit; depth++ {
		if err := ctx.Err(); err != nil {
			c.setStatus(model.RunFailed)
			return err
		}
		next := c.processFrontier(ctx, runCfg, frontier, limiter)
		if c.done(runCfg) {
			break
		}
		if !followLinks {
			break
		}
		frontier = next
	}

	c.setStatus(model.RunCompleted)
	c.Log.Info("crawl run finished.", slog.String("run_id", runCfg.RunID),
		slog.Int("pages", c.Scored()))
	return nil
}

// Pause stops dequeuing new pages; in-flight pages finish. Resume
// unblocks the workers.
func (c *Crawler) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.paused = true
	c.resume = make(chan struct{})
	c.status = model.RunPaused
	c.Log.Info("crawl paused.")
}

func (c *Crawler) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	c.status = model.RunRunning
	close(c.resume)
	c.Log.Info("crawl resumed.")
}

func (c *Crawler) Status() model.RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Crawler) Scored() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scored
}

func (c *Crawler) applyDefaults(runCfg *model.RunConfig) {
	crawler := c.Cfg.CrawlerSettings
	if runCfg.RunType == "" {
		runCfg.RunType = model.RunFull
	}
	if runCfg.DepthLimit <= 0 {
		runCfg.DepthLimit = crawler.DepthLimit
	}
	if runCfg.SampleSize <= 0 {
		runCfg.SampleSize = crawler.SampleSize
	}
	if runCfg.UserAgent == "" {
		runCfg.UserAgent = crawler.UserAgent
	}
	if len(runCfg.ExcludedPatterns) == 0 {
		runCfg.ExcludedPatterns = crawler.ExcludedPatterns
	}
}

func (c *Crawler) seedFrontier(ctx context.Context, runCfg *model.RunConfig, base urlutil.CanonicalURL,
	robotsSitemaps []string) []string {
	filter := sitemap.Filter{ExcludePatterns: runCfg.ExcludedPatterns}
	if runCfg.RunType == model.RunDelta {
		filter.ModifiedAfter = time.Now().Add(-deltaWindow)
	}

	var entries []sitemap.Entry
	for _, sitemapURL := range c.Sitemaps.Discover(ctx, base.URL, robotsSitemaps) {
		parsed, err := c.Sitemaps.Parse(ctx, sitemapURL)
		if err != nil {
			c.Log.Warn("sitemap parse failed.", slog.String("sitemap", sitemapURL), slog.Any("err", err))
			continue
		}
		entries = append(entries, parsed...)
	}
	entries = sitemap.FilterURLs(entries, filter)

	seeds := make([]string, 0, len(entries)+1)
	seeds = append(seeds, base.URL)
	for _, entry := range entries {
		seeds = append(seeds, entry.URL)
	}
	return c.claimNew(seeds, runCfg.ExcludedPatterns)
}

// processFrontier runs one BFS level through a bounded worker pool and
// returns the next level's not-yet-visited urls.
func (c *Crawler) processFrontier(ctx context.Context, runCfg *model.RunConfig, frontier []string,
	limiter *politenessGate) []string {
	workers := c.Cfg.CrawlerSettings.MaxInFlight
	if workers <= 0 {
		workers = 1
	}
	if workers > len(frontier) {
		workers = len(frontier)
	}

	jobs := make(chan string)
	var discovered []string
	var discoveredMu sync.Mutex
	wg := &sync.WaitGroup{}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pageURL := range jobs {
				if err := c.awaitResume(ctx); err != nil {
					return
				}
				if err := limiter.wait(ctx); err != nil {
					return
				}

				result, links, err := c.Pipeline.ProcessPage(ctx, c.taskFor(runCfg, pageURL))
				if err != nil {
					c.Log.Error("page processing failed.", slog.String("url", pageURL),
						slog.String("err", err.Error()))
					c.Pipeline.Metrics.PageFailedCounter(1)
					c.Results <- &model.ScoreResult{
						RunID:   runCfg.RunID,
						URL:     pageURL,
						URLHash: urlutil.HashURL(pageURL),
						Error:   err.Error(),
					}
					continue
				}
				c.Results <- result
				c.countScored()

				discoveredMu.Lock()
				discovered = append(discovered, links...)
				discoveredMu.Unlock()
			}
		}()
	}

	for _, pageURL := range frontier {
		if c.done(runCfg) || ctx.Err() != nil {
			break
		}
		jobs <- pageURL
	}
	close(jobs)
	wg.Wait()

	return c.claimNew(discovered, runCfg.ExcludedPatterns)
}

// claimNew canonicalizes candidates, drops excluded and already-seen
// urls, and marks the survivors visited.
func (c *Crawler) claimNew(candidates []string, excluded []string) []string {
	canonical := urlutil.Deduplicate(candidates, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(canonical))
	for _, cu := range canonical {
		if _, seen := c.visited[cu.Hash]; seen {
			continue
		}
		if matchesPattern(cu.URL, excluded) {
			continue
		}
		c.visited[cu.Hash] = struct{}{}
		out = append(out, cu.URL)
	}
	return out
}

func (c *Crawler) taskFor(runCfg *model.RunConfig, pageURL string) *model.CrawlTask {
	return &model.CrawlTask{
		RunID:            runCfg.RunID,
		URL:              pageURL,
		RunType:          runCfg.RunType,
		DepthLimit:       runCfg.DepthLimit,
		SampleSize:       runCfg.SampleSize,
		TokenLimit:       runCfg.TokenLimit,
		ExcludedPatterns: runCfg.ExcludedPatterns,
		UserAgent:        runCfg.UserAgent,
		WithAiScore:      runCfg.WithAiScore,
	}
}

func (c *Crawler) countScored() {
	c.mu.Lock()
	c.scored++
	c.mu.Unlock()
}

// done reports whether a sample run has hit its page budget.
func (c *Crawler) done(runCfg *model.RunConfig) bool {
	if runCfg.RunType != model.RunSample {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scored >= runCfg.SampleSize
}

func (c *Crawler) awaitResume(ctx context.Context) error {
	c.mu.Lock()
	paused := c.paused
	resume := c.resume
	c.mu.Unlock()
	if !paused {
		return nil
	}
	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Crawler) setStatus(status model.RunStatus) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

func matchesPattern(u string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern != "" && strings.Contains(u, pattern) {
			return true
		}
	}
	return false
}

// politenessGate serializes fetches against one domain with the
// crawl-delay spacing.
type politenessGate struct {
	mu    sync.Mutex
	next  time.Time
	delay time.Duration
}

func (g *politenessGate) wait(ctx context.Context) error {
	g.mu.Lock()
	now := time.Now()
	wait := g.next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	g.next = now.Add(wait + g.delay)
	g.mu.Unlock()

	if wait == 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
