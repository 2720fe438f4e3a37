package model

import "time"

type RenderMethod int

const (
	Static RenderMethod = iota
	Rendered
)

func (rm RenderMethod) String() string {
	return [...]string{"static", "rendered"}[rm]
}

type RunType string

const (
	RunFull        RunType = "full"
	RunSitemapOnly RunType = "sitemap_only"
	RunSample      RunType = "sample"
	RunDelta       RunType = "delta"
	RunManual      RunType = "manual"
)

type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// CrawlTask is the inbound kafka message. One task per target page.
type CrawlTask struct {
	RunID            string   `json:"run_id"`
	URL              string   `json:"url"`
	RunType          RunType  `json:"run_type"`
	DepthLimit       int      `json:"depth_limit"`
	SampleSize       int      `json:"sample_size"`
	TokenLimit       int      `json:"token_limit"`
	ExcludedPatterns []string `json:"excluded_patterns"`
	UserAgent        string   `json:"user_agent"`
	WithAiScore      bool     `json:"with_ai_score"`
	ForceRescore     bool     `json:"force_rescore"`
}

// RunConfig is the project-level configuration for a whole crawl run.
type RunConfig struct {
	RunID            string   `json:"run_id"`
	BaseURL          string   `json:"base_url"`
	RunType          RunType  `json:"run_type"`
	DepthLimit       int      `json:"depth_limit"`
	SampleSize       int      `json:"sample_size"`
	TokenLimit       int      `json:"token_limit"`
	ExcludedPatterns []string `json:"excluded_patterns"`
	UserAgent        string   `json:"user_agent"`
	WithAiScore      bool     `json:"with_ai_score"`
}

// PageFetchResult holds the raw outcome of a single page fetch attempt.
// Immutable once produced.
type PageFetchResult struct {
	URL          string            `json:"url"`
	FinalURL     string            `json:"final_url"`
	HTML         string            `json:"html,omitempty"`
	StatusCode   int               `json:"status_code"`
	Status       string            `json:"status"`
	Headers      map[string]string `json:"headers,omitempty"`
	RenderMethod RenderMethod      `json:"-"`
	Render       string            `json:"render_method"`
	TimeToFetch  int64             `json:"time_to_fetch"` // in milliseconds
	FetchedAt    time.Time         `json:"fetched_at"`
}

type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ContentExtraction is the structured view of a page. Derived
// deterministically from the fetched HTML: same input, same extraction.
type ContentExtraction struct {
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	MetaDescription string    `json:"meta_description"`
	CanonicalURL    string    `json:"canonical_url,omitempty"`
	Headings        []Heading `json:"headings,omitempty"`
	BodyText        string    `json:"body_text,omitempty"`
	WordCount       int       `json:"word_count"`
	FAQs            []FAQ     `json:"faqs,omitempty"`
	InternalLinks   []string  `json:"internal_links,omitempty"`
	OutboundLinks   []string  `json:"outbound_links,omitempty"`
	SchemaTypes     []string  `json:"schema_types,omitempty"`
	Author          string    `json:"author,omitempty"`
	PublishDate     string    `json:"publish_date,omitempty"`

	// Technical facts used by the rule scorer.
	HTTPS         bool `json:"https"`
	HasViewport   bool `json:"has_viewport"`
	HasCanonical  bool `json:"has_canonical"`
	HasRobotsMeta bool `json:"has_robots_meta"`
	HasForm       bool `json:"has_form"`
	HasPricing    bool `json:"has_pricing"`
	ImageCount    int  `json:"image_count"`
	ImagesWithAlt int  `json:"images_with_alt"`
	ResponsiveImg int  `json:"responsive_images"`
	ListItemCount int  `json:"list_item_count"`
}

type PageType string

const (
	PageHomepage   PageType = "homepage"
	PageProduct    PageType = "product"
	PageSolution   PageType = "solution"
	PageBlog       PageType = "blog"
	PageResource   PageType = "resource"
	PageConversion PageType = "conversion"
)

// RuleScore holds the four weighted component scores plus the overall
// value. Every component is clamped to [0,100].
type RuleScore struct {
	Content        int `json:"content"`
	Eat            int `json:"eat"`
	Technical      int `json:"technical"`
	StructuredData int `json:"structured_data"`
	Overall        int `json:"overall"`
}

type Recommendation struct {
	Category   string   `json:"category"`
	Priority   string   `json:"priority"` // high, medium, low
	Text       string   `json:"text"`
	References []string `json:"references,omitempty"`
	Example    string   `json:"example,omitempty"`
}

type RubricCriterion struct {
	Name            string   `json:"name"`
	Category        string   `json:"category"`
	Description     string   `json:"description"`
	ScoringGuidance string   `json:"scoring_guidance"`
	BestPractices   []string `json:"best_practices,omitempty"`
	Emphasized      bool     `json:"emphasized"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// AiScoreResult is the rubric-driven LLM scoring outcome for one page.
type AiScoreResult struct {
	CriteriaScores  map[string]int    `json:"criteria_scores"`
	Explanations    map[string]string `json:"explanations,omitempty"`
	Recommendations []Recommendation  `json:"recommendations,omitempty"`
	OverallScore    int               `json:"overall_score"`
	CacheKey        string            `json:"cache_key"`
	RubricVersion   string            `json:"rubric_version"`
	TokensUsed      TokenUsage        `json:"tokens_used"`
	FromCache       bool              `json:"from_cache"`
	ScoredAt        time.Time         `json:"scored_at"`
}

// PageSnapshot is the immutable record emitted to storage after a page
// is processed. Never mutated once written.
type PageSnapshot struct {
	RunID         string             `json:"run_id"`
	URL           string             `json:"url"`
	CanonicalURL  string             `json:"canonical_url"`
	URLHash       string             `json:"url_hash"`
	StatusCode    int                `json:"status_code"`
	RenderMethod  string             `json:"render_method"`
	FullHTML      string             `json:"full_html,omitempty"`
	CleanedText   string             `json:"cleaned_text,omitempty"`
	ContentHash   string             `json:"content_hash"`
	Extraction    *ContentExtraction `json:"extraction,omitempty"`
	PageType      PageType           `json:"page_type"`
	TimeToFetch   int64              `json:"time_to_fetch"` // in milliseconds
	WorkerVersion string             `json:"worker_version"`
	CreatedAt     time.Time          `json:"created_at"`
}

// ScoreResult is the outbound kafka message with the score breakdown,
// or a terminal blocked/error record.
type ScoreResult struct {
	RunID              string           `json:"run_id"`
	URL                string           `json:"url"`
	URLHash            string           `json:"url_hash"`
	S3Key              string           `json:"s3_key,omitempty"`
	PageType           PageType         `json:"page_type,omitempty"`
	RuleScore          *RuleScore       `json:"rule_score,omitempty"`
	Recommendations    []Recommendation `json:"recommendations,omitempty"`
	AiScore            *AiScoreResult   `json:"ai_score,omitempty"`
	AiScoreUnavailable bool             `json:"ai_score_unavailable,omitempty"`
	Blocked            bool             `json:"blocked,omitempty"`
	BlockedReason      string           `json:"blocked_reason,omitempty"`
	Error              string           `json:"error,omitempty"`
	Force              bool             `json:"force,omitempty"`
}
