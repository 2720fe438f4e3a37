package fetch

import (
	"context"
	"log/slog"

	"github.com/IliaW/aeo-crawler/internal/model"
)

// CompositeFetcher renders pages with the headless browser and
// downgrades to the plain static fetch when the browser fails.
type CompositeFetcher struct {
	browser Fetcher
	static  Fetcher
	log     *slog.Logger
	// OnFallback is called when a page was downgraded to the static
	// fetch. Used for the render fallback counter.
	OnFallback func(url string)
}

func NewCompositeFetcher(browser, static Fetcher, log *slog.Logger) *CompositeFetcher {
	return &CompositeFetcher{browser: browser, static: static, log: log}
}

func (f *CompositeFetcher) Fetch(ctx context.Context, url, userAgent string) (*model.PageFetchResult, error) {
	rendered, err := f.browser.Fetch(ctx, url, userAgent)
	if err == nil {
		return rendered, nil
	}

	f.log.Warn("browser render failed, falling back to static fetch.",
		slog.String("url", url), slog.Any("err", err))
	if f.OnFallback != nil {
		f.OnFallback(url)
	}

	return f.static.Fetch(ctx, url, userAgent)
}
