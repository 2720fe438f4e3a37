package prepare

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/IliaW/aeo-crawler/config"
	"github.com/IliaW/aeo-crawler/internal/llm"
	"github.com/IliaW/aeo-crawler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	response string
	err      error
	calls    int
}

func (f *fakeClient) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Text: f.response}, nil
}

func testPreparer(client llm.CompletionClient) *Preparer {
	cfg := &config.AiConfig{TokenThreshold: 1000, SummaryTargetWords: 300}
	return NewPreparer(cfg, client, slog.New(slog.DiscardHandler))
}

func TestPrepareShortPagePassesThrough(t *testing.T) {
	client := &fakeClient{}
	e := &model.ContentExtraction{
		URL:      "https://example.com/short",
		Title:    "Short Page",
		BodyText: "A short body that fits well under the token threshold.",
		Headings: []model.Heading{{Level: 1, Text: "Short Page"}},
	}

	pc, err := testPreparer(client).Prepare(context.Background(), e, 0)
	require.NoError(t, err)

	assert.Equal(t, MethodStructuredOnly, pc.Method)
	assert.Contains(t, pc.Text, "A short body")
	assert.Contains(t, pc.Text, "TITLE: Short Page")
	assert.Zero(t, client.calls, "short pages must not hit the llm")
}

func TestPrepareTokenLimitOverridesThreshold(t *testing.T) {
	client := &fakeClient{response: "A tight summary."}
	e := &model.ContentExtraction{
		URL:      "https://example.com/short",
		Title:    "Short Page",
		BodyText: strings.Repeat("fits under the configured threshold ", 20),
	}

	pc, err := testPreparer(client).Prepare(context.Background(), e, 40)
	require.NoError(t, err)

	assert.Equal(t, MethodAiSummarized, pc.Method)
	assert.Equal(t, 1, client.calls, "the per-page limit forces summarization")
}

func TestPrepareLongPageIsSummarized(t *testing.T) {
	client := &fakeClient{response: "A faithful summary of the page."}
	e := &model.ContentExtraction{
		URL:      "https://example.com/long",
		Title:    "Long Page",
		BodyText: strings.Repeat("many words of body content here ", 500),
	}

	pc, err := testPreparer(client).Prepare(context.Background(), e, 0)
	require.NoError(t, err)

	assert.Equal(t, MethodAiSummarized, pc.Method)
	assert.Contains(t, pc.Text, "A faithful summary")
	assert.NotContains(t, pc.Text, "BODY:\nmany words")
	assert.Equal(t, 1, client.calls)
	assert.Positive(t, pc.ReductionPct)
	assert.Less(t, pc.EstimatedTokens, pc.OriginalTokens)
}

func TestPrepareSummaryFailureFallsBackToTruncation(t *testing.T) {
	client := &fakeClient{err: errors.New("rate limited")}
	e := &model.ContentExtraction{
		URL:      "https://example.com/long",
		Title:    "Long Page",
		BodyText: strings.Repeat("many words of body content here ", 500),
	}

	pc, err := testPreparer(client).Prepare(context.Background(), e, 0)
	require.NoError(t, err)

	assert.Equal(t, MethodAiSummarized, pc.Method)
	assert.Contains(t, pc.Text, "many words of body content")
	assert.Less(t, pc.EstimatedTokens, pc.OriginalTokens)
}

func TestStructuredContextIncludesFaqsAndHeadings(t *testing.T) {
	e := &model.ContentExtraction{
		URL:           "https://example.com/faq",
		Title:         "FAQ",
		SchemaTypes:   []string{"FAQPage"},
		Headings:      []model.Heading{{Level: 2, Text: "What is this?"}},
		FAQs:          []model.FAQ{{Question: "What is this?", Answer: "A test."}},
		WordCount:     42,
		InternalLinks: []string{"https://example.com/a", "https://example.com/b"},
		OutboundLinks: []string{"https://other.example.org/"},
	}
	ctx := StructuredContext(e)
	assert.Contains(t, ctx, "SCHEMA TYPES: FAQPage")
	assert.Contains(t, ctx, "h2: What is this?")
	assert.Contains(t, ctx, "Q: What is this?")
	assert.Contains(t, ctx, "A: A test.")
	assert.Contains(t, ctx, "WORD COUNT: 42")
	assert.Contains(t, ctx, "INTERNAL LINKS: 2")
	assert.Contains(t, ctx, "OUTBOUND LINKS: 1")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100)))
}
