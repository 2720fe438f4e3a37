// Package rubric loads and caches the versioned scoring rubric that
// drives the rubric-based page evaluation.
package rubric

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/IliaW/aeo-crawler/config"
	"github.com/IliaW/aeo-crawler/internal/model"
	jsoniter "github.com/json-iterator/go"
	gocache "github.com/patrickmn/go-cache"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrNotFound  = errors.New("rubric not found")
	ErrMalformed = errors.New("rubric document is malformed")
)

const cacheKey = "rubric"

// Document is the full rubric: a version plus criteria, each tagged
// with the page types it is emphasized for.
type Document struct {
	Version  string      `json:"version"`
	Criteria []Criterion `json:"criteria"`
}

type Criterion struct {
	Name            string   `json:"name"`
	Category        string   `json:"category"`
	Description     string   `json:"description"`
	ScoringGuidance string   `json:"scoring_guidance"`
	BestPractices   []string `json:"best_practices,omitempty"`
	EmphasizedFor   []string `json:"emphasized_for,omitempty"`
}

// ObjectReader is the storage dependency: satisfied by the s3 client.
type ObjectReader interface {
	ReadObject(key string) ([]byte, error)
}

type Store struct {
	cfg    *config.RubricConfig
	reader ObjectReader
	cache  *gocache.Cache
	log    *slog.Logger
}

func NewStore(cfg *config.RubricConfig, reader ObjectReader, log *slog.Logger) *Store {
	ttl := cfg.CacheTtl
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		cfg:    cfg,
		reader: reader,
		cache:  gocache.New(ttl, ttl),
		log:    log,
	}
}

// Get returns the current rubric, loading it from s3 (preferred) or
// the local file path on cache miss.
func (s *Store) Get() (*Document, error) {
	if cached, found := s.cache.Get(cacheKey); found {
		return cached.(*Document), nil
	}

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(cacheKey, doc)
	s.log.Info("rubric loaded.", slog.String("version", doc.Version),
		slog.Int("criteria", len(doc.Criteria)))
	return doc, nil
}

// Invalidate drops the cached rubric so the next Get reloads it.
func (s *Store) Invalidate() {
	s.cache.Delete(cacheKey)
}

func (s *Store) load() (*Document, error) {
	var body []byte
	var err error

	switch {
	case s.cfg.S3Key != "" && s.reader != nil:
		body, err = s.reader.ReadObject(s.cfg.S3Key)
		if err != nil && s.cfg.FilePath != "" {
			s.log.Warn("rubric read from s3 failed, falling back to file.",
				slog.String("key", s.cfg.S3Key), slog.Any("err", err))
			body, err = os.ReadFile(s.cfg.FilePath)
		}
	case s.cfg.FilePath != "":
		body, err = os.ReadFile(s.cfg.FilePath)
	default:
		return nil, fmt.Errorf("%w: no s3 key or file path configured", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, err)
	}

	return Parse(body, s.cfg.Version)
}

// Parse validates the rubric document. configVersion overrides the
// document's own version when set.
func Parse(body []byte, configVersion string) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	if len(doc.Criteria) == 0 {
		return nil, fmt.Errorf("%w: no criteria", ErrMalformed)
	}
	for i, c := range doc.Criteria {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: criterion %d has no name", ErrMalformed, i)
		}
	}
	if configVersion != "" {
		doc.Version = configVersion
	}
	if doc.Version == "" {
		return nil, fmt.Errorf("%w: no version", ErrMalformed)
	}
	return &doc, nil
}

// CriteriaFor returns every criterion with the Emphasized flag set for
// the ones that matter most for the given page type. All criteria
// apply to all page types; emphasis only steers the evaluator's
// attention.
func (d *Document) CriteriaFor(pageType model.PageType) []model.RubricCriterion {
	out := make([]model.RubricCriterion, 0, len(d.Criteria))
	for _, c := range d.Criteria {
		emphasized := false
		for _, pt := range c.EmphasizedFor {
			if strings.EqualFold(pt, string(pageType)) {
				emphasized = true
				break
			}
		}
		out = append(out, model.RubricCriterion{
			Name:            c.Name,
			Category:        c.Category,
			Description:     c.Description,
			ScoringGuidance: c.ScoringGuidance,
			BestPractices:   c.BestPractices,
			Emphasized:      emphasized,
		})
	}
	return out
}
