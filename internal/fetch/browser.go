package fetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/IliaW/aeo-crawler/config"
	"github.com/IliaW/aeo-crawler/internal/model"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// BrowserFetcher renders pages in headless chrome. One exec allocator
// is shared by all workers; each fetch opens its own tab context.
type BrowserFetcher struct {
	cfg             *config.Config
	allocatorCtx    context.Context
	cancelAllocator context.CancelFunc
}

func NewBrowserFetcher(cfg *config.Config) *BrowserFetcher {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocatorCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &BrowserFetcher{
		cfg:             cfg,
		allocatorCtx:    allocatorCtx,
		cancelAllocator: cancel,
	}
}

func (f *BrowserFetcher) Close() {
	f.cancelAllocator()
}

func (f *BrowserFetcher) Fetch(ctx context.Context, url, userAgent string) (*model.PageFetchResult, error) {
	startTime := time.Now()
	result := &model.PageFetchResult{
		URL:          url,
		FinalURL:     url,
		RenderMethod: model.Rendered,
		Render:       model.Rendered.String(),
		Headers:      make(map[string]string),
	}
	responseHeaders := make(map[string]interface{}, 20)

	tCtx, cancelTCtx := context.WithTimeout(ctx, f.cfg.HttpClientSettings.RequestTimeout)
	defer cancelTCtx()
	tabCtx, cancel := chromedp.NewContext(f.allocatorCtx)
	defer cancel()
	go func() {
		<-tCtx.Done()
		cancel()
	}()

	chromedp.ListenTarget(tabCtx, func(event interface{}) {
		switch responseReceivedEvent := event.(type) {
		case *network.EventResponseReceived:
			response := responseReceivedEvent.Response
			if response.URL == result.FinalURL || response.URL == result.FinalURL+"/" {
				result.StatusCode = int(response.Status)
				if len(response.StatusText) > 1000 {
					result.Status = response.StatusText[:1000]
				} else {
					result.Status = response.StatusText
				}
				responseHeaders = response.Headers
			}
		case *network.EventRequestWillBeSent:
			request := responseReceivedEvent.Request
			if responseReceivedEvent.RedirectResponse != nil {
				result.FinalURL = request.URL
				slog.Info("redirected.", slog.String("url",
					responseReceivedEvent.RedirectResponse.URL))
			}
		}
	})
	err := chromedp.Run(tabCtx,
		chromedp.Tasks{
			network.Enable(),
			network.SetExtraHTTPHeaders(map[string]interface{}{
				"User-Agent": userAgent,
			}),
			enableLifeCycleEvents(),
			navigateAndWaitFor(url, "networkIdle"),
		},
		chromedp.ActionFunc(func(ctx context.Context) error {
			rootNode, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			result.HTML, err = dom.GetOuterHTML().WithNodeID(rootNode.NodeID).Do(ctx)
			return err
		}),
	)
	for _, header := range []string{"ETag", "Content-Type", "Last-Modified"} {
		if value, ok := responseHeaders[header].(string); ok {
			result.Headers[header] = value
		}
	}
	if result.StatusCode == 0 && err == nil {
		result.StatusCode = 200
		result.Status = "OK"
	}
	result.TimeToFetch = time.Since(startTime).Milliseconds()
	result.FetchedAt = time.Now().UTC()

	return result, err
}

func enableLifeCycleEvents() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		err := page.Enable().Do(ctx)
		if err != nil {
			return err
		}
		err = page.SetLifecycleEventsEnabled(true).Do(ctx)
		if err != nil {
			return err
		}
		return nil
	}
}

func navigateAndWaitFor(url string, eventName string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		_, _, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		return waitFor(ctx, eventName)
	}
}

func waitFor(ctx context.Context, eventName string) error {
	ch := make(chan struct{})
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	chromedp.ListenTarget(cctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventLifecycleEvent:
			if e.Name == eventName {
				cancel()
				close(ch)
			}
		}
	})
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
