// Package aiscore runs the rubric-based LLM evaluation of a prepared
// page and caches the result keyed by content hash and rubric version.
package aiscore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/IliaW/aeo-crawler/internal/llm"
	"github.com/IliaW/aeo-crawler/internal/model"
	"github.com/IliaW/aeo-crawler/internal/prepare"
	"github.com/IliaW/aeo-crawler/internal/rubric"
	jsoniter "github.com/json-iterator/go"
	gocache "github.com/patrickmn/go-cache"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrResponseParse = errors.New("llm response is not valid rubric json")

// ScoreCache is the shared cache layer, satisfied by the memcached
// client. The scorer also keeps a small in-process cache in front of it.
type ScoreCache interface {
	GetAiScore(cacheKey string) (*model.AiScoreResult, bool)
	SaveAiScore(cacheKey string, result *model.AiScoreResult)
}

type Scorer struct {
	client      llm.CompletionClient
	rubricStore *rubric.Store
	cache       ScoreCache
	localCache  *gocache.Cache
	log         *slog.Logger
}

func NewScorer(client llm.CompletionClient, rubricStore *rubric.Store, cache ScoreCache,
	localTtl time.Duration, log *slog.Logger) *Scorer {
	if localTtl <= 0 {
		localTtl = 10 * time.Minute
	}
	return &Scorer{
		client:      client,
		rubricStore: rubricStore,
		cache:       cache,
		localCache:  gocache.New(localTtl, localTtl),
		log:         log,
	}
}

// CacheKey ties a score to exactly one content version and one rubric
// version. Either changing invalidates the entry naturally.
func CacheKey(contentHash, rubricVersion string) string {
	sum := sha256.Sum256([]byte(contentHash + ":" + rubricVersion))
	return hex.EncodeToString(sum[:])
}

// Score evaluates prepared content against the rubric. Cached results
// are returned with FromCache set unless bypassCache is true.
func (s *Scorer) Score(ctx context.Context, prepared *prepare.PreparedContent, contentHash string,
	pageType model.PageType, bypassCache bool) (*model.AiScoreResult, error) {
	doc, err := s.rubricStore.Get()
	if err != nil {
		return nil, fmt.Errorf("load rubric: %w", err)
	}
	key := CacheKey(contentHash, doc.Version)

	if !bypassCache {
		if cached := s.cachedResult(key); cached != nil {
			return cached, nil
		}
	}

	criteria := doc.CriteriaFor(pageType)
	prompt := buildPrompt(prepared.Text, pageType, criteria)

	result, usage, err := s.evaluate(ctx, prompt, criteria)
	if err != nil {
		return nil, err
	}

	result.CacheKey = key
	result.RubricVersion = doc.Version
	result.TokensUsed = usage
	result.ScoredAt = time.Now().UTC()

	s.localCache.SetDefault(key, result)
	if s.cache != nil {
		s.cache.SaveAiScore(key, result)
	}
	return result, nil
}

func (s *Scorer) cachedResult(key string) *model.AiScoreResult {
	if cached, found := s.localCache.Get(key); found {
		result := *cached.(*model.AiScoreResult)
		result.FromCache = true
		return &result
	}
	if s.cache != nil {
		if result, found := s.cache.GetAiScore(key); found {
			s.localCache.SetDefault(key, result)
			copied := *result
			copied.FromCache = true
			return &copied
		}
	}
	return nil
}

// evaluate sends the prompt and parses the strict-json reply. One
// corrective retry is allowed when the reply is not parseable.
func (s *Scorer) evaluate(ctx context.Context, prompt string,
	criteria []model.RubricCriterion) (*model.AiScoreResult, model.TokenUsage, error) {
	var usage model.TokenUsage

	resp, err := s.client.Complete(ctx, llm.CompletionRequest{System: systemPrompt, Prompt: prompt})
	if err != nil {
		return nil, usage, fmt.Errorf("rubric evaluation: %w", err)
	}
	usage.PromptTokens += resp.PromptTokens
	usage.CompletionTokens += resp.CompletionTokens

	result, parseErr := parseResponse(resp.Text, criteria)
	if parseErr == nil {
		return result, usage, nil
	}

	s.log.Warn("rubric response parse failed, retrying with correction.", slog.Any("err", parseErr))
	retryPrompt := prompt + "\n\nYour previous reply was not valid JSON. " +
		"Respond again with ONLY the JSON object, no prose and no code fences."
	resp, err = s.client.Complete(ctx, llm.CompletionRequest{System: systemPrompt, Prompt: retryPrompt})
	if err != nil {
		return nil, usage, fmt.Errorf("rubric evaluation retry: %w", err)
	}
	usage.PromptTokens += resp.PromptTokens
	usage.CompletionTokens += resp.CompletionTokens

	result, parseErr = parseResponse(resp.Text, criteria)
	if parseErr != nil {
		return nil, usage, parseErr
	}
	return result, usage, nil
}

const systemPrompt = "You are an answer-engine readiness evaluator. " +
	"You score web pages against a rubric and reply with strict JSON only."

func buildPrompt(content string, pageType model.PageType, criteria []model.RubricCriterion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Evaluate the following %s page against each rubric criterion. "+
		"Score each criterion from 0 to 100.\n\nCRITERIA:\n", pageType)
	for _, c := range criteria {
		name := c.Name
		if c.Emphasized {
			name += " [EMPHASIZED]"
		}
		fmt.Fprintf(&b, "- %s (%s): %s Guidance: %s\n", name, c.Category, c.Description, c.ScoringGuidance)
	}
	b.WriteString("\nReply with a single JSON object of this exact shape:\n" +
		`{"scores": {"<criterion name>": <0-100>, ...},` +
		` "explanations": {"<criterion name>": "<one sentence>", ...},` +
		` "recommendations": [{"category": "<category>", "priority": "high|medium|low", "text": "<advice>"}]}` +
		"\nCriterion names in the reply must match the rubric exactly, without the [EMPHASIZED] marker.\n")
	b.WriteString("\nPAGE CONTENT:\n")
	b.WriteString(content)
	return b.String()
}

type rubricReply struct {
	Scores          map[string]int         `json:"scores"`
	Explanations    map[string]string      `json:"explanations"`
	Recommendations []model.Recommendation `json:"recommendations"`
}

func parseResponse(text string, criteria []model.RubricCriterion) (*model.AiScoreResult, error) {
	payload := extractJSON(text)
	if payload == "" {
		return nil, fmt.Errorf("%w: no json object found", ErrResponseParse)
	}

	var reply rubricReply
	if err := json.Unmarshal([]byte(payload), &reply); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrResponseParse, err)
	}
	if len(reply.Scores) == 0 {
		return nil, fmt.Errorf("%w: empty scores", ErrResponseParse)
	}
	for _, c := range criteria {
		if _, ok := reply.Scores[c.Name]; !ok {
			return nil, fmt.Errorf("%w: missing score for %q", ErrResponseParse, c.Name)
		}
	}

	scores := make(map[string]int, len(reply.Scores))
	total := 0
	for name, value := range reply.Scores {
		clamped := value
		if clamped < 0 {
			clamped = 0
		}
		if clamped > 100 {
			clamped = 100
		}
		scores[name] = clamped
		total += clamped
	}

	return &model.AiScoreResult{
		CriteriaScores:  scores,
		Explanations:    reply.Explanations,
		Recommendations: reply.Recommendations,
		OverallScore:    int(math.Round(float64(total) / float64(len(scores)))),
	}, nil
}

// extractJSON tolerates prose or code fences around the json object.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
