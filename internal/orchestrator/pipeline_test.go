package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IliaW/aeo-crawler/config"
	"github.com/IliaW/aeo-crawler/internal/extract"
	"github.com/IliaW/aeo-crawler/internal/model"
	"github.com/IliaW/aeo-crawler/internal/prepare"
	"github.com/IliaW/aeo-crawler/internal/robots"
	"github.com/IliaW/aeo-crawler/internal/score"
	"github.com/IliaW/aeo-crawler/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRobots struct {
	policies map[string]*robots.Policy
	err      error
}

func (f *fakeRobots) Check(_ context.Context, pageURL string) (*robots.Policy, error) {
	if f.err != nil {
		return nil, f.err
	}
	if policy, ok := f.policies[pageURL]; ok {
		return policy, nil
	}
	return &robots.Policy{Status: robots.AllowedAsDeclared, EffectiveUserAgent: "aeo-crawler"}, nil
}

type fakeFetcher struct {
	pages     map[string]*model.PageFetchResult
	err       error
	calls     int
	transient int
}

func (f *fakeFetcher) Fetch(_ context.Context, url, _ string) (*model.PageFetchResult, error) {
	f.calls++
	if f.transient > 0 {
		f.transient--
		return &model.PageFetchResult{URL: url, FinalURL: url, StatusCode: 503}, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	if page, ok := f.pages[url]; ok {
		return page, nil
	}
	return &model.PageFetchResult{URL: url, FinalURL: url, StatusCode: 404}, nil
}

type fakePreparer struct {
	err        error
	tokenLimit int
}

func (f *fakePreparer) Prepare(_ context.Context, e *model.ContentExtraction,
	tokenLimit int) (*prepare.PreparedContent, error) {
	f.tokenLimit = tokenLimit
	if f.err != nil {
		return nil, f.err
	}
	return &prepare.PreparedContent{Text: e.Title, Method: prepare.MethodStructuredOnly}, nil
}

type fakeAiScorer struct {
	result *model.AiScoreResult
	err    error
	calls  int
}

func (f *fakeAiScorer) Score(_ context.Context, _ *prepare.PreparedContent, contentHash string,
	_ model.PageType, _ bool) (*model.AiScoreResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	result := *f.result
	result.CacheKey = contentHash
	return &result, nil
}

type fakeBucket struct {
	snapshots []*model.PageSnapshot
	err       error
	mu        sync.Mutex
}

func (f *fakeBucket) WriteSnapshot(s *model.PageSnapshot) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	f.snapshots = append(f.snapshots, s)
	f.mu.Unlock()
	return "snapshots/" + s.URLHash + "/snapshot.json", nil
}

func (f *fakeBucket) ReadObject(string) ([]byte, error) { return nil, errors.New("not used") }

type fakeStorage struct {
	mu     sync.Mutex
	scores []*model.ScoreResult
	metas  int
}

func (f *fakeStorage) SaveSnapshotMeta(*model.PageSnapshot, string) {
	f.mu.Lock()
	f.metas++
	f.mu.Unlock()
}

func (f *fakeStorage) SaveScore(result *model.ScoreResult) {
	f.mu.Lock()
	f.scores = append(f.scores, result)
	f.mu.Unlock()
}

type fakeCache struct {
	mu     sync.Mutex
	hashes map[string]string
}

func newFakeCache() *fakeCache { return &fakeCache{hashes: make(map[string]string)} }

func (f *fakeCache) GetContentHash(urlHash string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[urlHash]
	return h, ok
}

func (f *fakeCache) SaveContentHash(urlHash, contentHash string) {
	f.mu.Lock()
	f.hashes[urlHash] = contentHash
	f.mu.Unlock()
}

func (f *fakeCache) GetAiScore(string) (*model.AiScoreResult, bool) { return nil, false }
func (f *fakeCache) SaveAiScore(string, *model.AiScoreResult)       {}
func (f *fakeCache) Close()                                         {}

func noopMetrics() *telemetry.AppMetrics {
	noop := func(int64) {}
	return &telemetry.AppMetrics{
		PageScoredCounter:     noop,
		PageFailedCounter:     noop,
		RobotsBlockedCounter:  noop,
		RenderFallbackCounter: noop,
		AiCacheHitCounter:     noop,
		AiCacheMissCounter:    noop,
		AiScoreFailedCounter:  noop,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Version: "test",
		CrawlerSettings: &config.CrawlerConfig{
			UserAgent:   "aeo-crawler",
			DepthLimit:  3,
			SampleSize:  10,
			MaxInFlight: 2,
		},
		ScoringSettings: &config.ScoringConfig{RecommendationThreshold: 70},
		WorkerSettings:  &config.WorkerConfig{RetryAttempts: 3, RetryDelay: time.Millisecond},
	}
}

const testPageHTML = `<html><head><title>What Is a Test Page? A Practical Guide</title>
<meta name="description" content="A page used to exercise the processing pipeline end to end in tests.">
</head><body><main><h1>What Is a Test Page?</h1>
<p>A test page is a page processed by tests. According to research, 90% of pipelines need one.</p>
<a href="/blog/first-post">first</a><a href="/blog/second-post">second</a></main></body></html>`

func testPipeline(fetcher *fakeFetcher, aiScorer *fakeAiScorer) (*Pipeline, *fakeStorage, *fakeBucket, *fakeCache) {
	storage := &fakeStorage{}
	bucket := &fakeBucket{}
	pageCache := newFakeCache()
	p := &Pipeline{
		Cfg:      testConfig(),
		Robots:   &fakeRobots{},
		Fetcher:  fetcher,
		Extract:  extract.New(),
		Rule:     score.NewCalculator(),
		Preparer: &fakePreparer{},
		AiScorer: aiScorer,
		S3:       bucket,
		Db:       storage,
		Cache:    pageCache,
		Metrics:  noopMetrics(),
		Log:      slog.New(slog.DiscardHandler),
	}
	return p, storage, bucket, pageCache
}

func okFetcher(url string) *fakeFetcher {
	return &fakeFetcher{pages: map[string]*model.PageFetchResult{
		url: {URL: url, FinalURL: url, StatusCode: 200, HTML: testPageHTML,
			Headers: map[string]string{"Content-Type": "text/html"}, TimeToFetch: 500,
			Render: model.Static.String()},
	}}
}

func TestProcessPageHappyPath(t *testing.T) {
	url := "https://example.com/blog/post"
	fetcher := okFetcher(url)
	p, storage, bucket, _ := testPipeline(fetcher, &fakeAiScorer{result: &model.AiScoreResult{OverallScore: 80}})

	result, links, err := p.ProcessPage(context.Background(), &model.CrawlTask{
		RunID: "run-1", URL: url, WithAiScore: true,
	})
	require.NoError(t, err)

	assert.Equal(t, model.PageBlog, result.PageType)
	require.NotNil(t, result.RuleScore)
	assert.Positive(t, result.RuleScore.Overall)
	require.NotNil(t, result.AiScore)
	assert.Equal(t, 80, result.AiScore.OverallScore)
	assert.NotEmpty(t, result.S3Key)
	assert.Len(t, links, 2)

	require.Len(t, bucket.snapshots, 1)
	assert.Equal(t, "run-1", bucket.snapshots[0].RunID)
	assert.NotEmpty(t, bucket.snapshots[0].ContentHash)
	require.Len(t, storage.scores, 1)
	assert.Equal(t, 1, storage.metas)
}

func TestProcessPageBlockedIsTerminalZeroScore(t *testing.T) {
	url := "https://blocked.example.com/page"
	fetcher := &fakeFetcher{}
	p, storage, _, _ := testPipeline(fetcher, &fakeAiScorer{})
	p.Robots = &fakeRobots{policies: map[string]*robots.Policy{
		url: {Status: robots.Blocked, Reason: "disallowed by robots.txt"},
	}}

	result, links, err := p.ProcessPage(context.Background(), &model.CrawlTask{RunID: "run-1", URL: url})
	require.NoError(t, err)

	assert.True(t, result.Blocked)
	assert.Equal(t, "disallowed by robots.txt", result.BlockedReason)
	require.NotNil(t, result.RuleScore)
	assert.Zero(t, result.RuleScore.Overall)
	assert.Empty(t, links)
	assert.Zero(t, fetcher.calls, "blocked pages must not be fetched")
	require.Len(t, storage.scores, 1)
}

func TestProcessPageFetchErrorPropagates(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	p, storage, _, _ := testPipeline(fetcher, &fakeAiScorer{})

	_, _, err := p.ProcessPage(context.Background(), &model.CrawlTask{RunID: "r", URL: "https://example.com/x"})
	require.Error(t, err)
	assert.Empty(t, storage.scores)
}

func TestProcessPageRetriesTransientFetchFailures(t *testing.T) {
	url := "https://example.com/blog/post"
	fetcher := okFetcher(url)
	fetcher.transient = 2
	p, _, _, _ := testPipeline(fetcher, &fakeAiScorer{})

	result, _, err := p.ProcessPage(context.Background(), &model.CrawlTask{RunID: "r", URL: url})
	require.NoError(t, err)
	assert.Equal(t, 3, fetcher.calls, "two 503 responses then success")
	assert.Equal(t, model.PageBlog, result.PageType)
}

func TestProcessPageRetriesExhaustTransientFailures(t *testing.T) {
	url := "https://example.com/blog/post"
	fetcher := okFetcher(url)
	fetcher.transient = 10
	p, _, _, _ := testPipeline(fetcher, &fakeAiScorer{})

	_, _, err := p.ProcessPage(context.Background(), &model.CrawlTask{RunID: "r", URL: url})
	assert.ErrorContains(t, err, "status 503")
	assert.Equal(t, 4, fetcher.calls, "first attempt plus the configured retries")
}

func TestProcessPageDoesNotRetryPermanentStatus(t *testing.T) {
	fetcher := &fakeFetcher{}
	p, _, _, _ := testPipeline(fetcher, &fakeAiScorer{})

	_, _, err := p.ProcessPage(context.Background(), &model.CrawlTask{RunID: "r", URL: "https://example.com/gone"})
	assert.ErrorContains(t, err, "status 404")
	assert.Equal(t, 1, fetcher.calls)
}

func TestProcessPageNon2xxIsError(t *testing.T) {
	p, _, _, _ := testPipeline(&fakeFetcher{}, &fakeAiScorer{})
	_, _, err := p.ProcessPage(context.Background(), &model.CrawlTask{RunID: "r", URL: "https://example.com/missing"})
	assert.ErrorContains(t, err, "status 404")
}

func TestProcessPageAiFailureDegrades(t *testing.T) {
	url := "https://example.com/blog/post"
	p, storage, _, _ := testPipeline(okFetcher(url), &fakeAiScorer{err: errors.New("llm down")})

	result, _, err := p.ProcessPage(context.Background(), &model.CrawlTask{
		RunID: "r", URL: url, WithAiScore: true,
	})
	require.NoError(t, err)

	assert.True(t, result.AiScoreUnavailable)
	assert.Nil(t, result.AiScore)
	require.NotNil(t, result.RuleScore, "rule score survives rubric failure")
	require.Len(t, storage.scores, 1)
}

func TestProcessPageSkipsAiWhenNotRequested(t *testing.T) {
	url := "https://example.com/blog/post"
	aiScorer := &fakeAiScorer{result: &model.AiScoreResult{}}
	p, _, _, _ := testPipeline(okFetcher(url), aiScorer)

	result, _, err := p.ProcessPage(context.Background(), &model.CrawlTask{RunID: "r", URL: url})
	require.NoError(t, err)
	assert.Nil(t, result.AiScore)
	assert.Zero(t, aiScorer.calls)
}

func TestProcessPagePassesTokenLimitToPreparer(t *testing.T) {
	url := "https://example.com/blog/post"
	p, _, _, _ := testPipeline(okFetcher(url), &fakeAiScorer{result: &model.AiScoreResult{}})
	preparer := &fakePreparer{}
	p.Preparer = preparer

	_, _, err := p.ProcessPage(context.Background(), &model.CrawlTask{
		RunID: "r", URL: url, WithAiScore: true, TokenLimit: 512,
	})
	require.NoError(t, err)
	assert.Equal(t, 512, preparer.tokenLimit)
}

func TestProcessPageUnchangedContentSkipsSnapshotWrite(t *testing.T) {
	url := "https://example.com/blog/post"
	p, storage, bucket, _ := testPipeline(okFetcher(url), &fakeAiScorer{result: &model.AiScoreResult{}})
	task := &model.CrawlTask{RunID: "r", URL: url}

	_, _, err := p.ProcessPage(context.Background(), task)
	require.NoError(t, err)
	_, _, err = p.ProcessPage(context.Background(), task)
	require.NoError(t, err)

	assert.Len(t, bucket.snapshots, 1, "unchanged page keeps its snapshot")
	assert.Len(t, storage.scores, 2, "score row is still refreshed")
}

func TestProcessPageForceRescoreRewritesSnapshot(t *testing.T) {
	url := "https://example.com/blog/post"
	p, _, bucket, _ := testPipeline(okFetcher(url), &fakeAiScorer{result: &model.AiScoreResult{}})

	_, _, err := p.ProcessPage(context.Background(), &model.CrawlTask{RunID: "r", URL: url})
	require.NoError(t, err)
	_, _, err = p.ProcessPage(context.Background(), &model.CrawlTask{RunID: "r", URL: url, ForceRescore: true})
	require.NoError(t, err)

	assert.Len(t, bucket.snapshots, 2)
}

func TestProcessPageNormalizesUrlBeforeProcessing(t *testing.T) {
	canonical := "https://example.com/blog/post"
	p, _, _, _ := testPipeline(okFetcher(canonical), &fakeAiScorer{})

	result, _, err := p.ProcessPage(context.Background(), &model.CrawlTask{
		RunID: "r", URL: "HTTPS://EXAMPLE.COM/blog/post?utm_source=x",
	})
	require.NoError(t, err)
	assert.Equal(t, canonical, result.URL)
}

func TestComputeHashIsStable(t *testing.T) {
	assert.Equal(t, ComputeHash("body"), ComputeHash("body"))
	assert.NotEqual(t, ComputeHash("body"), ComputeHash("other"))
	assert.Len(t, ComputeHash("body"), 64)
}
