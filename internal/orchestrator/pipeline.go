// Package orchestrator ties the pipeline together: robots policy,
// fetch, extraction, classification, rule scoring and the optional
// rubric evaluation, ending in a persisted snapshot and a score result.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/IliaW/aeo-crawler/config"
	"github.com/IliaW/aeo-crawler/internal/aws_s3"
	"github.com/IliaW/aeo-crawler/internal/cache"
	"github.com/IliaW/aeo-crawler/internal/extract"
	"github.com/IliaW/aeo-crawler/internal/fetch"
	"github.com/IliaW/aeo-crawler/internal/model"
	"github.com/IliaW/aeo-crawler/internal/persistence"
	"github.com/IliaW/aeo-crawler/internal/prepare"
	"github.com/IliaW/aeo-crawler/internal/robots"
	"github.com/IliaW/aeo-crawler/internal/score"
	"github.com/IliaW/aeo-crawler/internal/telemetry"
	"github.com/IliaW/aeo-crawler/internal/urlutil"
)

// Consumer-side interfaces over the concrete components so the
// pipeline can be tested with fakes.

type RobotsChecker interface {
	Check(ctx context.Context, pageURL string) (*robots.Policy, error)
}

type ContentPreparer interface {
	Prepare(ctx context.Context, e *model.ContentExtraction, tokenLimit int) (*prepare.PreparedContent, error)
}

type RubricScorer interface {
	Score(ctx context.Context, prepared *prepare.PreparedContent, contentHash string,
		pageType model.PageType, bypassCache bool) (*model.AiScoreResult, error)
}

type Pipeline struct {
	Cfg      *config.Config
	Robots   RobotsChecker
	Fetcher  fetch.Fetcher
	Extract  *extract.Extractor
	Rule     *score.Calculator
	Preparer ContentPreparer
	AiScorer RubricScorer
	S3       aws_s3.BucketClient
	Db       persistence.MetadataStorage
	Cache    cache.CachedClient
	Metrics  *telemetry.AppMetrics
	Log      *slog.Logger
}

// ComputeHash fingerprints the analyzable content of a page.
func ComputeHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ProcessPage runs one page through the whole pipeline. Robots-blocked
// pages terminate immediately with a zero score and no fetch. A rubric
// scoring failure degrades the result instead of failing it; fetch and
// extraction failures are returned as errors for the caller to retry
// or dead-letter. The second return value lists the page's internal
// links for crawl expansion.
func (p *Pipeline) ProcessPage(ctx context.Context, task *model.CrawlTask) (*model.ScoreResult, []string, error) {
	canonical, err := urlutil.Normalize(task.URL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("normalize url: %w", err)
	}

	result := &model.ScoreResult{
		RunID:   task.RunID,
		URL:     canonical.URL,
		URLHash: canonical.Hash,
		Force:   task.ForceRescore,
	}

	policy, err := p.Robots.Check(ctx, canonical.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("robots check: %w", err)
	}
	if !policy.CanCrawl() {
		p.Metrics.RobotsBlockedCounter(1)
		result.Blocked = true
		result.BlockedReason = policy.Reason
		result.RuleScore = &model.RuleScore{}
		p.Log.Info("page blocked by robots policy.", slog.String("url", canonical.URL),
			slog.String("reason", policy.Reason))
		p.Db.SaveScore(result)
		return result, nil, nil
	}

	fetched, err := p.fetchWithRetry(ctx, canonical.URL, policy.EffectiveUserAgent)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch: %w", err)
	}
	if fetched.StatusCode/100 != 2 {
		return nil, nil, fmt.Errorf("fetch: status %d for %s", fetched.StatusCode, canonical.URL)
	}

	extraction, err := p.Extract.Extract(fetched.HTML, fetched.FinalURL, fetched.Headers["Content-Type"])
	if err != nil {
		return nil, nil, fmt.Errorf("extract: %w", err)
	}
	pageType := extract.DetectPageType(fetched.FinalURL, extraction)
	result.PageType = pageType

	contentHash := ComputeHash(extraction.BodyText)
	unchanged := false
	if previous, found := p.Cache.GetContentHash(canonical.Hash); found && previous == contentHash {
		unchanged = true
	}

	ruleScore := p.Rule.Score(extraction, pageType, fetched.TimeToFetch)
	result.RuleScore = &ruleScore
	result.Recommendations = score.GenerateRecommendations(ruleScore, pageType,
		p.Cfg.ScoringSettings.RecommendationThreshold)

	if task.WithAiScore {
		p.scoreWithRubric(ctx, task, result, extraction, contentHash, pageType)
	}

	snapshot := &model.PageSnapshot{
		RunID:         task.RunID,
		URL:           canonical.URL,
		CanonicalURL:  extraction.CanonicalURL,
		URLHash:       canonical.Hash,
		StatusCode:    fetched.StatusCode,
		RenderMethod:  fetched.Render,
		CleanedText:   extraction.BodyText,
		ContentHash:   contentHash,
		Extraction:    extraction,
		PageType:      pageType,
		TimeToFetch:   fetched.TimeToFetch,
		WorkerVersion: p.Cfg.Version,
		CreatedAt:     time.Now().UTC(),
	}
	if p.Cfg.CrawlerSettings.SaveFullHtml {
		snapshot.FullHTML = fetched.HTML
	}

	// Unchanged pages keep their existing snapshot; the score row is
	// still refreshed since the rubric version may have moved.
	if !unchanged || task.ForceRescore {
		s3Key, err := p.S3.WriteSnapshot(snapshot)
		if err != nil {
			return nil, nil, fmt.Errorf("write snapshot: %w", err)
		}
		result.S3Key = s3Key
		p.Db.SaveSnapshotMeta(snapshot, s3Key)
		p.Cache.SaveContentHash(canonical.Hash, contentHash)
	}
	p.Db.SaveScore(result)
	p.Metrics.PageScoredCounter(1)

	return result, extraction.InternalLinks, nil
}

// fetchWithRetry retries transient failures (network errors, timeouts,
// 429/5xx throttling responses) with exponential backoff. Permanent
// answers such as 404 are returned on the first attempt.
func (p *Pipeline) fetchWithRetry(ctx context.Context, url, userAgent string) (*model.PageFetchResult, error) {
	fetched, err := p.Fetcher.Fetch(ctx, url, userAgent)
	attempts := p.Cfg.WorkerSettings.RetryAttempts
	delay := p.Cfg.WorkerSettings.RetryDelay
	for ; attempts > 0 && shouldRetryFetch(fetched, err); attempts, delay = attempts-1, delay*2 {
		p.Log.Warn("transient fetch failure. retrying...", slog.String("url", url),
			slog.Int("attempts_left", attempts), slog.Any("err", err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		fetched, err = p.Fetcher.Fetch(ctx, url, userAgent)
	}
	return fetched, err
}

func shouldRetryFetch(result *model.PageFetchResult, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return true
		}
		msg := err.Error()
		return strings.Contains(msg, "timeout") ||
			strings.Contains(msg, "connection refused") ||
			strings.Contains(msg, "connection reset") ||
			strings.Contains(msg, "EOF")
	}
	switch result.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// scoreWithRubric degrades gracefully: any failure leaves the rule
// score intact and marks the rubric score unavailable.
func (p *Pipeline) scoreWithRubric(ctx context.Context, task *model.CrawlTask, result *model.ScoreResult,
	extraction *model.ContentExtraction, contentHash string, pageType model.PageType) {
	prepared, err := p.Preparer.Prepare(ctx, extraction, task.TokenLimit)
	if err != nil {
		p.Log.Warn("content preparation failed, rubric score unavailable.",
			slog.String("url", result.URL), slog.Any("err", err))
		p.Metrics.AiScoreFailedCounter(1)
		result.AiScoreUnavailable = true
		return
	}

	aiScore, err := p.AiScorer.Score(ctx, prepared, contentHash, pageType, task.ForceRescore)
	if err != nil {
		p.Log.Warn("rubric scoring failed, continuing with rule score only.",
			slog.String("url", result.URL), slog.Any("err", err))
		p.Metrics.AiScoreFailedCounter(1)
		result.AiScoreUnavailable = true
		return
	}
	if aiScore.FromCache {
		p.Metrics.AiCacheHitCounter(1)
	} else {
		p.Metrics.AiCacheMissCounter(1)
	}
	result.AiScore = aiScore
}
