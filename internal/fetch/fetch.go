// Package fetch retrieves page HTML. Static fetching is the default;
// a headless browser renders pages whose static HTML is too thin.
package fetch

import (
	"context"
	"net/http"
	"time"

	"github.com/IliaW/aeo-crawler/config"
	"github.com/IliaW/aeo-crawler/internal/model"
	"github.com/gocolly/colly"
)

type Fetcher interface {
	Fetch(ctx context.Context, url, userAgent string) (*model.PageFetchResult, error)
}

// StaticFetcher does a plain HTTP fetch without javascript execution.
type StaticFetcher struct {
	cfg       *config.Config
	transport *http.Transport
}

func NewStaticFetcher(cfg *config.Config, transport *http.Transport) *StaticFetcher {
	return &StaticFetcher{cfg: cfg, transport: transport}
}

func (f *StaticFetcher) Fetch(_ context.Context, url, userAgent string) (*model.PageFetchResult, error) {
	result := &model.PageFetchResult{
		URL:          url,
		FinalURL:     url,
		RenderMethod: model.Static,
		Render:       model.Static.String(),
		Headers:      make(map[string]string),
	}

	c := colly.NewCollector()
	c.WithTransport(f.transport)
	c.SetRequestTimeout(f.cfg.HttpClientSettings.RequestTimeout)
	c.UserAgent = userAgent

	c.OnResponse(func(resp *colly.Response) {
		result.HTML = string(resp.Body)
		result.StatusCode = resp.StatusCode
		result.Status = http.StatusText(resp.StatusCode)
		result.FinalURL = resp.Request.URL.String()
		for _, header := range []string{"ETag", "Content-Type", "Last-Modified"} {
			if value := resp.Headers.Get(header); value != "" {
				result.Headers[header] = value
			}
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		result.StatusCode = r.StatusCode
		if result.StatusCode == 0 {
			result.StatusCode = -1
		}
		if len(err.Error()) > 1000 {
			result.Status = err.Error()[:1000]
		} else {
			result.Status = err.Error()
		}
	})

	t := time.Now()
	err := c.Visit(url)
	result.TimeToFetch = time.Since(t).Milliseconds()
	result.FetchedAt = time.Now().UTC()
	if err != nil {
		return result, err
	}

	return result, nil
}
