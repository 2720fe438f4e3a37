// Package sitemap discovers and parses sitemap XML, including recursive
// sitemap indexes, and filters entries for delta and sample crawl runs.
package sitemap

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/IliaW/aeo-crawler/config"
)

var ErrMalformed = errors.New("malformed sitemap xml")

const (
	defaultMaxDepth = 5
	maxSitemapBody  = 50 * 1024 * 1024
)

// conventionalPaths are probed in order when robots.txt declares nothing.
var conventionalPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/sitemaps.xml",
	"/wp-sitemap.xml",
	"/sitemap1.xml",
}

// Entry is a single leaf sitemap record.
type Entry struct {
	URL        string     `json:"url"`
	LastMod    *time.Time `json:"lastmod,omitempty"`
	ChangeFreq string     `json:"changefreq,omitempty"`
	Priority   float64    `json:"priority,omitempty"`
}

// Filter scopes entries for delta and sample run types.
type Filter struct {
	ModifiedAfter   time.Time
	MinPriority     float64
	ExcludePatterns []string
	Limit           int
}

type Parser struct {
	httpClient *http.Client
	userAgent  string
	maxDepth   int
}

func NewParser(cfg *config.SitemapConfig, transport *http.Transport, userAgent string) *Parser {
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	return &Parser{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		userAgent: userAgent,
		maxDepth:  maxDepth,
	}
}

// Discover returns candidate sitemap URLs for the site: robots-declared
// sitemaps first, then conventional paths that respond with XML.
func (p *Parser) Discover(ctx context.Context, baseURL string, robotsSitemaps []string) []string {
	found := make([]string, 0, len(robotsSitemaps))
	seen := make(map[string]struct{})
	for _, s := range robotsSitemaps {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		found = append(found, s)
	}
	if len(found) > 0 {
		return found
	}

	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return found
	}
	for _, path := range conventionalPaths {
		candidate := base.Scheme + "://" + base.Host + path
		if p.exists(ctx, candidate) {
			found = append(found, candidate)
		}
	}
	return found
}

// Parse fetches and parses the sitemap at the given URL. Index nodes are
// followed recursively up to maxDepth with a visited-set guard, so an
// index referencing itself terminates. A malformed node yields an empty
// result for that node without aborting siblings.
func (p *Parser) Parse(ctx context.Context, sitemapURL string) ([]Entry, error) {
	visited := make(map[string]struct{})
	return p.parseNode(ctx, sitemapURL, 0, visited)
}

func (p *Parser) parseNode(ctx context.Context, sitemapURL string, depth int,
	visited map[string]struct{}) ([]Entry, error) {
	if depth >= p.maxDepth {
		slog.Warn("sitemap max depth reached. skip node.", slog.String("url", sitemapURL))
		return nil, nil
	}
	if _, ok := visited[sitemapURL]; ok {
		return nil, nil
	}
	visited[sitemapURL] = struct{}{}

	body, err := p.fetch(ctx, sitemapURL)
	if err != nil {
		slog.Warn("failed to fetch sitemap node.", slog.String("url", sitemapURL),
			slog.String("err", err.Error()))
		return nil, nil
	}

	entries, children, err := ParseDocument(body)
	if err != nil {
		slog.Warn("malformed sitemap node. skip.", slog.String("url", sitemapURL),
			slog.String("err", err.Error()))
		return nil, nil
	}

	for _, child := range children {
		childEntries, _ := p.parseNode(ctx, child, depth+1, visited)
		entries = append(entries, childEntries...)
	}
	return entries, nil
}

// ParseDocument parses one sitemap document. The root element decides
// whether it is a leaf urlset (entries) or an index (child sitemap URLs).
func ParseDocument(body []byte) (entries []Entry, children []string, err error) {
	root, err := rootElement(body)
	if err != nil {
		return nil, nil, err
	}

	switch root {
	case "sitemapindex":
		var index xmlSitemapIndex
		if unmarshalErr := xml.Unmarshal(body, &index); unmarshalErr != nil {
			return nil, nil, errors.Join(ErrMalformed, unmarshalErr)
		}
		for _, s := range index.Sitemaps {
			loc := strings.TrimSpace(s.Loc)
			if loc != "" {
				children = append(children, loc)
			}
		}
		return nil, children, nil
	case "urlset":
		var urlset xmlURLSet
		if unmarshalErr := xml.Unmarshal(body, &urlset); unmarshalErr != nil {
			return nil, nil, errors.Join(ErrMalformed, unmarshalErr)
		}
		entries = make([]Entry, 0, len(urlset.URLs))
		for i := range urlset.URLs {
			if entry, ok := convertXMLURL(&urlset.URLs[i]); ok {
				entries = append(entries, entry)
			}
		}
		return entries, nil, nil
	default:
		return nil, nil, ErrMalformed
	}
}

// FilterURLs applies modification-date, priority, exclude-pattern and
// sample-size filters. Entries without lastmod pass the date filter.
func FilterURLs(entries []Entry, filter Filter) []Entry {
	result := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if !filter.ModifiedAfter.IsZero() && entry.LastMod != nil &&
			entry.LastMod.Before(filter.ModifiedAfter) {
			continue
		}
		if filter.MinPriority > 0 && entry.Priority > 0 && entry.Priority < filter.MinPriority {
			continue
		}
		if matchesAny(entry.URL, filter.ExcludePatterns) {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result
}

func matchesAny(u string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern != "" && strings.Contains(u, pattern) {
			return true
		}
	}
	return false
}

func (p *Parser) exists(ctx context.Context, sitemapURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", p.userAgent)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return false
	}
	head, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return strings.Contains(string(head), "<")
}

func (p *Parser) fetch(ctx context.Context, sitemapURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, errors.New("sitemap status " + strconv.Itoa(resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBody))
	if err != nil {
		return nil, err
	}
	return maybeGunzip(body)
}

// maybeGunzip handles .xml.gz sitemaps served without a gzip
// Content-Encoding header.
func maybeGunzip(body []byte) ([]byte, error) {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	reader, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(io.LimitReader(reader, maxSitemapBody))
}

type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []xmlURL `xml:"url"`
}

type xmlURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

type xmlSitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []xmlSitemap `xml:"sitemap"`
}

type xmlSitemap struct {
	Loc string `xml:"loc"`
}

func rootElement(body []byte) (string, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(body)))
	for {
		token, err := decoder.Token()
		if err != nil {
			return "", errors.Join(ErrMalformed, err)
		}
		if start, ok := token.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

func convertXMLURL(raw *xmlURL) (Entry, bool) {
	loc := strings.TrimSpace(raw.Loc)
	if loc == "" {
		return Entry{}, false
	}
	entry := Entry{URL: loc, ChangeFreq: strings.TrimSpace(raw.ChangeFreq)}
	if raw.LastMod != "" {
		if t, err := parseLastMod(raw.LastMod); err == nil {
			entry.LastMod = &t
		}
	}
	if raw.Priority != "" {
		if p, err := strconv.ParseFloat(strings.TrimSpace(raw.Priority), 64); err == nil {
			entry.Priority = p
		}
	}
	return entry, true
}

// parseLastMod tries RFC 3339 first, then the date-only format.
func parseLastMod(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", trimmed)
}
