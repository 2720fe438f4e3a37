package persistence

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/IliaW/aeo-crawler/internal/model"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MetadataStorage persists the per-page crawl record and the score
// breakdown. Write failures are logged, not propagated: losing a
// database row must not fail the page.
type MetadataStorage interface {
	SaveSnapshotMeta(snapshot *model.PageSnapshot, s3Key string)
	SaveScore(result *model.ScoreResult)
}

type MetadataRepository struct {
	db *sql.DB
}

func NewMetadataRepository(db *sql.DB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

func (mr *MetadataRepository) SaveSnapshotMeta(snapshot *model.PageSnapshot, s3Key string) {
	_, err := mr.db.Exec(`INSERT INTO aeo_crawler.page_snapshot
    (url_hash, run_id, full_url, canonical_url, content_hash, page_type, status_code, render_method,
     time_to_fetch, s3_key, worker_version, timestamp)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (url_hash) DO UPDATE
	SET run_id = EXCLUDED.run_id,
	    full_url = EXCLUDED.full_url,
	    canonical_url = EXCLUDED.canonical_url,
		content_hash = EXCLUDED.content_hash,
		page_type = EXCLUDED.page_type,
		status_code = EXCLUDED.status_code,
		render_method = EXCLUDED.render_method,
		time_to_fetch = EXCLUDED.time_to_fetch,
		s3_key = EXCLUDED.s3_key,
		worker_version = EXCLUDED.worker_version,
		timestamp = EXCLUDED.timestamp;`,
		snapshot.URLHash,
		snapshot.RunID,
		snapshot.URL,
		snapshot.CanonicalURL,
		snapshot.ContentHash,
		snapshot.PageType,
		snapshot.StatusCode,
		snapshot.RenderMethod,
		snapshot.TimeToFetch,
		s3Key,
		snapshot.WorkerVersion,
		time.Now().UTC())
	if err != nil {
		slog.Error("failed to save snapshot metadata to database.", slog.String("err", err.Error()))
		return
	}
	slog.Debug("snapshot metadata saved to db.")
}

func (mr *MetadataRepository) SaveScore(result *model.ScoreResult) {
	ruleScore, err := json.Marshal(result.RuleScore)
	if err != nil {
		slog.Error("failed to marshal rule score.", slog.String("err", err.Error()))
		return
	}
	var aiScore []byte
	if result.AiScore != nil {
		aiScore, err = json.Marshal(result.AiScore)
		if err != nil {
			slog.Error("failed to marshal ai score.", slog.String("err", err.Error()))
			return
		}
	}

	_, err = mr.db.Exec(`INSERT INTO aeo_crawler.page_score
    (url_hash, run_id, full_url, page_type, rule_score, overall_score, ai_score, ai_unavailable,
     blocked, blocked_reason, timestamp)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (url_hash, run_id) DO UPDATE
	SET full_url = EXCLUDED.full_url,
	    page_type = EXCLUDED.page_type,
		rule_score = EXCLUDED.rule_score,
		overall_score = EXCLUDED.overall_score,
		ai_score = EXCLUDED.ai_score,
		ai_unavailable = EXCLUDED.ai_unavailable,
		blocked = EXCLUDED.blocked,
		blocked_reason = EXCLUDED.blocked_reason,
		timestamp = EXCLUDED.timestamp;`,
		result.URLHash,
		result.RunID,
		result.URL,
		result.PageType,
		ruleScore,
		overallScore(result),
		aiScore,
		result.AiScoreUnavailable,
		result.Blocked,
		result.BlockedReason,
		time.Now().UTC())
	if err != nil {
		slog.Error("failed to save page score to database.", slog.String("err", err.Error()))
		return
	}
	slog.Debug("page score saved to db.")
}

func overallScore(result *model.ScoreResult) int {
	if result.RuleScore == nil {
		return 0
	}
	return result.RuleScore.Overall
}
