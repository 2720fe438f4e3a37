// Package prepare shapes an extracted page into the text sent to the
// rubric scorer. Short pages pass through as-is; long pages are
// summarized to keep prompts inside the token budget.
package prepare

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IliaW/aeo-crawler/config"
	"github.com/IliaW/aeo-crawler/internal/llm"
	"github.com/IliaW/aeo-crawler/internal/model"
)

const (
	MethodStructuredOnly = "structured-only"
	MethodAiSummarized   = "ai-summarized"

	defaultTokenThreshold = 1000
	defaultSummaryWords   = 300
)

// PreparedContent is the scoring input for one page.
type PreparedContent struct {
	Text            string
	Method          string
	EstimatedTokens int
	OriginalTokens  int
	ReductionPct    int
}

type Preparer struct {
	client         llm.CompletionClient
	tokenThreshold int
	summaryWords   int
	log            *slog.Logger
}

func NewPreparer(cfg *config.AiConfig, client llm.CompletionClient, log *slog.Logger) *Preparer {
	threshold := cfg.TokenThreshold
	if threshold <= 0 {
		threshold = defaultTokenThreshold
	}
	words := cfg.SummaryTargetWords
	if words <= 0 {
		words = defaultSummaryWords
	}
	return &Preparer{client: client, tokenThreshold: threshold, summaryWords: words, log: log}
}

// EstimateTokens approximates the token count of text. One token per
// four characters tracks English prose closely enough for budgeting.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Prepare builds the scoring text. The structured context (title,
// description, headings, FAQs, schema types) is always included; the
// body is kept verbatim under the token threshold and summarized above
// it. A positive tokenLimit overrides the configured threshold for
// this page. A summarization failure falls back to a truncated body
// rather than failing the page.
func (p *Preparer) Prepare(ctx context.Context, e *model.ContentExtraction,
	tokenLimit int) (*PreparedContent, error) {
	threshold := p.tokenThreshold
	if tokenLimit > 0 {
		threshold = tokenLimit
	}

	structured := StructuredContext(e)
	full := structured + "\n\nBODY:\n" + e.BodyText
	originalTokens := EstimateTokens(full)

	if originalTokens <= threshold {
		return &PreparedContent{
			Text:            full,
			Method:          MethodStructuredOnly,
			EstimatedTokens: originalTokens,
			OriginalTokens:  originalTokens,
		}, nil
	}

	summary, err := p.summarize(ctx, e)
	if err != nil {
		p.log.Warn("body summarization failed, truncating instead.",
			slog.String("url", e.URL), slog.Any("err", err))
		summary = truncateWords(e.BodyText, p.summaryWords*2)
	}

	text := structured + "\n\nBODY SUMMARY:\n" + summary
	estimated := EstimateTokens(text)
	reduction := 0
	if originalTokens > 0 {
		reduction = (originalTokens - estimated) * 100 / originalTokens
	}
	return &PreparedContent{
		Text:            text,
		Method:          MethodAiSummarized,
		EstimatedTokens: estimated,
		OriginalTokens:  originalTokens,
		ReductionPct:    reduction,
	}, nil
}

// StructuredContext renders the extraction facts that must survive
// summarization untouched.
func StructuredContext(e *model.ContentExtraction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nTITLE: %s\n", e.URL, e.Title)
	if e.MetaDescription != "" {
		fmt.Fprintf(&b, "META DESCRIPTION: %s\n", e.MetaDescription)
	}
	if e.Author != "" {
		fmt.Fprintf(&b, "AUTHOR: %s\n", e.Author)
	}
	if e.PublishDate != "" {
		fmt.Fprintf(&b, "PUBLISH DATE: %s\n", e.PublishDate)
	}
	if len(e.SchemaTypes) > 0 {
		fmt.Fprintf(&b, "SCHEMA TYPES: %s\n", strings.Join(e.SchemaTypes, ", "))
	}
	fmt.Fprintf(&b, "WORD COUNT: %d\nINTERNAL LINKS: %d\nOUTBOUND LINKS: %d\n",
		e.WordCount, len(e.InternalLinks), len(e.OutboundLinks))
	if len(e.Headings) > 0 {
		b.WriteString("HEADINGS:\n")
		for _, h := range e.Headings {
			fmt.Fprintf(&b, "  h%d: %s\n", h.Level, h.Text)
		}
	}
	if len(e.FAQs) > 0 {
		b.WriteString("FAQS:\n")
		for _, faq := range e.FAQs {
			fmt.Fprintf(&b, "  Q: %s\n  A: %s\n", faq.Question, faq.Answer)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (p *Preparer) summarize(ctx context.Context, e *model.ContentExtraction) (string, error) {
	prompt := fmt.Sprintf(
		"Summarize the following web page body in roughly %d words. "+
			"Preserve factual claims, named entities, numbers, and the overall structure of the argument. "+
			"Do not add commentary.\n\n%s", p.summaryWords, e.BodyText)
	resp, err := p.client.Complete(ctx, llm.CompletionRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func truncateWords(text string, limit int) string {
	words := strings.Fields(text)
	if len(words) <= limit {
		return text
	}
	return strings.Join(words[:limit], " ")
}
