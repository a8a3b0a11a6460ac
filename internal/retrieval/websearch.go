// Package retrieval blends web-search snippets and local knowledge into a
// bounded context string for prompt construction.
//
// This file implements the SERP-scraping web search provider. It queries
// Bing and Baidu result pages (provider order is configurable), parses the
// result markup with goquery, filters and deduplicates the hits, and ranks
// the surviving snippets against the query by hash-embedding similarity.
// Only SERP snippets are used; result pages are never fetched.
package retrieval

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Default web search configuration.
const (
	DefaultWebTopK        = 1
	DefaultWebSearchPages = 2
	DefaultWebTimeout     = 10 * time.Second

	// maxCandidateResults caps how many deduplicated SERP hits are ranked.
	maxCandidateResults = 20
	// maxRelevanceKeywords caps the query keywords used for relevance filtering.
	maxRelevanceKeywords = 8
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36"

// SearchResult is one ranked web retrieval hit.
type SearchResult struct {
	Content string
	URL     string
	Title   string
}

// WebSearcher is the capability contract for web retrieval. Implementations
// may fail or return no results; callers tolerate either.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// SERPOpts holds configuration options for the SERP searcher.
type SERPOpts struct {
	TopK         int
	Pages        int
	Timeout      time.Duration
	PreferBaidu  bool
	BingBaseURL  string
	BaiduBaseURL string
}

// SERPOption configures the SERP searcher.
type SERPOption func(*SERPOpts)

// WithTopK sets how many ranked snippets a search returns.
func WithTopK(k int) SERPOption { return func(o *SERPOpts) { o.TopK = k } }

// WithPages sets how many result pages are fetched per provider.
func WithPages(n int) SERPOption { return func(o *SERPOpts) { o.Pages = n } }

// WithSearchTimeout sets the per-request timeout.
func WithSearchTimeout(d time.Duration) SERPOption { return func(o *SERPOpts) { o.Timeout = d } }

// WithPreferBaidu tries Baidu before Bing.
func WithPreferBaidu(prefer bool) SERPOption { return func(o *SERPOpts) { o.PreferBaidu = prefer } }

// WithBingBaseURL overrides the Bing endpoint (used in tests).
func WithBingBaseURL(u string) SERPOption { return func(o *SERPOpts) { o.BingBaseURL = u } }

// WithBaiduBaseURL overrides the Baidu endpoint (used in tests).
func WithBaiduBaseURL(u string) SERPOption { return func(o *SERPOpts) { o.BaiduBaseURL = u } }

// serpItem is one raw SERP hit before filtering and ranking.
type serpItem struct {
	url     string
	title   string
	snippet string
}

// SERPSearcher scrapes search engine result pages.
type SERPSearcher struct {
	client       *http.Client
	topK         int
	pages        int
	preferBaidu  bool
	bingBaseURL  string
	baiduBaseURL string

	// After a search where every provider fails, web retrieval is latched
	// off for the rest of the process lifetime: SERP scraping that fails
	// once (blocked network, markup change) keeps failing, and retrying on
	// every turn would add its timeout to every reply.
	mu       sync.Mutex
	disabled bool
}

// NewSERPSearcher creates a SERP searcher from options.
func NewSERPSearcher(opts ...SERPOption) *SERPSearcher {
	cfg := SERPOpts{
		TopK:         DefaultWebTopK,
		Pages:        DefaultWebSearchPages,
		Timeout:      DefaultWebTimeout,
		BingBaseURL:  "https://cn.bing.com",
		BaiduBaseURL: "https://www.baidu.com",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &SERPSearcher{
		client:       &http.Client{Timeout: cfg.Timeout},
		topK:         cfg.TopK,
		pages:        cfg.Pages,
		preferBaidu:  cfg.PreferBaidu,
		bingBaseURL:  strings.TrimRight(cfg.BingBaseURL, "/"),
		baiduBaseURL: strings.TrimRight(cfg.BaiduBaseURL, "/"),
	}
}

// Search queries the configured providers in preference order and returns
// up to TopK ranked snippet results.
func (s *SERPSearcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	s.mu.Lock()
	disabled := s.disabled
	s.mu.Unlock()
	if disabled {
		slog.Debug("SERPSearcher.Search: web retrieval latched off, skipping", "query_len", len(query))
		return nil, nil
	}

	type provider struct {
		name string
		fn   func(context.Context, string) ([]serpItem, error)
	}
	providers := []provider{{"bing", s.searchBing}, {"baidu", s.searchBaidu}}
	if s.preferBaidu {
		providers[0], providers[1] = providers[1], providers[0]
	}

	var items []serpItem
	var lastErr error
	for _, p := range providers {
		found, err := p.fn(ctx, query)
		if err != nil {
			slog.Warn("SERPSearcher.Search: provider failed", "provider", p.name, "error", err)
			lastErr = err
			continue
		}
		if len(found) > 0 {
			slog.Debug("SERPSearcher.Search: provider returned candidates", "provider", p.name, "count", len(found))
			items = found
			break
		}
	}
	if len(items) == 0 {
		s.mu.Lock()
		s.disabled = true
		s.mu.Unlock()
		if lastErr != nil {
			return nil, fmt.Errorf("web search failed: %w", lastErr)
		}
		return nil, nil
	}

	items = dedupeByURL(items, maxCandidateResults)
	items = filterByRelevance(items, query)
	if len(items) == 0 {
		return nil, nil
	}
	return rankSnippets(items, query, s.topK), nil
}

// searchBing scrapes cn.bing.com result pages.
func (s *SERPSearcher) searchBing(ctx context.Context, query string) ([]serpItem, error) {
	var items []serpItem
	for page := 1; page <= max(1, s.pages); page++ {
		first := 1 + (page-1)*10
		pageURL := fmt.Sprintf("%s/search?q=%s&first=%d", s.bingBaseURL, url.QueryEscape(query), first)
		doc, err := s.fetchDocument(ctx, pageURL)
		if err != nil {
			return items, err
		}
		doc.Find("li.b_algo").Each(func(_ int, sel *goquery.Selection) {
			a := sel.Find("h2 > a").First()
			href, ok := a.Attr("href")
			if !ok || href == "" {
				return
			}
			cap := sel.Find("div.b_caption p").First()
			if cap.Length() == 0 {
				cap = sel.Find("p").First()
			}
			items = append(items, serpItem{
				url:     href,
				title:   strings.TrimSpace(a.Text()),
				snippet: truncateRunes(strings.TrimSpace(cap.Text()), 180),
			})
		})
	}
	return items, nil
}

// searchBaidu scrapes www.baidu.com result pages.
func (s *SERPSearcher) searchBaidu(ctx context.Context, query string) ([]serpItem, error) {
	var items []serpItem
	for page := 1; page <= max(1, s.pages); page++ {
		pn := (page - 1) * 10
		pageURL := fmt.Sprintf("%s/s?wd=%s&pn=%d", s.baiduBaseURL, url.QueryEscape(query), pn)
		doc, err := s.fetchDocument(ctx, pageURL)
		if err != nil {
			return items, err
		}
		doc.Find("h3").Each(func(_ int, sel *goquery.Selection) {
			a := sel.Find("a[href]").First()
			href, ok := a.Attr("href")
			if !ok || !strings.HasPrefix(href, "http") {
				return
			}
			snippet := ""
			if parent := sel.Parent(); parent.Length() > 0 {
				txt := parent.Find("div, p").First()
				snippet = truncateRunes(strings.Join(strings.Fields(txt.Text()), " "), 180)
			}
			items = append(items, serpItem{
				url:     href,
				title:   strings.TrimSpace(a.Text()),
				snippet: snippet,
			})
		})
		if len(items) == 0 {
			doc.Find(`a[href^="http"]`).Each(func(_ int, a *goquery.Selection) {
				href, _ := a.Attr("href")
				items = append(items, serpItem{url: href, title: strings.TrimSpace(a.Text())})
			})
		}
	}
	return items, nil
}

// fetchDocument GETs a SERP URL and parses it with goquery.
func (s *SERPSearcher) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("search request returned status %d", resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search result page: %w", err)
	}
	return doc, nil
}

// dedupeByURL keeps the first occurrence of each URL, up to limit entries.
func dedupeByURL(items []serpItem, limit int) []serpItem {
	seen := make(map[string]bool, len(items))
	var unique []serpItem
	for _, it := range items {
		if it.url == "" || seen[it.url] {
			continue
		}
		seen[it.url] = true
		unique = append(unique, it)
		if len(unique) >= limit {
			break
		}
	}
	return unique
}

var asciiWordPattern = regexp.MustCompile(`[A-Za-z]{3,}`)

// extractKeywords pulls relevance keywords from the query: runs of two or
// more Han characters plus ASCII words of three or more letters.
func extractKeywords(query string) []string {
	var keywords []string
	var run []rune
	flush := func() {
		if len(run) >= 2 {
			keywords = append(keywords, string(run))
		}
		run = run[:0]
	}
	for _, r := range query {
		if r >= 0x4e00 && r <= 0x9fff {
			run = append(run, r)
		} else {
			flush()
		}
	}
	flush()
	keywords = append(keywords, asciiWordPattern.FindAllString(query, -1)...)

	seen := make(map[string]bool, len(keywords))
	var unique []string
	for _, k := range keywords {
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, k)
		if len(unique) >= maxRelevanceKeywords {
			break
		}
	}
	return unique
}

// filterByRelevance drops hits whose title and snippet share no keyword
// with the query. When nothing would survive, the unfiltered set is kept:
// an over-aggressive filter must not erase a successful search.
func filterByRelevance(items []serpItem, query string) []serpItem {
	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return items
	}
	var kept []serpItem
	for _, it := range items {
		text := strings.ToLower(it.title + " " + it.snippet)
		for _, k := range keywords {
			if strings.Contains(text, strings.ToLower(k)) {
				kept = append(kept, it)
				break
			}
		}
	}
	if len(kept) == 0 {
		return items
	}
	return kept
}

// rankSnippets orders candidate hits by hash-embedding cosine similarity to
// the query and returns the top K as results. Snippet text is preferred,
// falling back to title, then URL.
func rankSnippets(items []serpItem, query string, topK int) []SearchResult {
	if topK <= 0 {
		topK = DefaultWebTopK
	}
	queryVec := HashEmbedding(query)

	type scored struct {
		item  serpItem
		score float64
	}
	ranked := make([]scored, 0, len(items))
	for _, it := range items {
		content := it.snippet
		if content == "" {
			content = it.title
		}
		if content == "" {
			content = it.url
		}
		if content == "" {
			continue
		}
		it.snippet = content
		ranked = append(ranked, scored{item: it, score: CosineSimilarity(queryVec, HashEmbedding(content))})
	}
	for i := 0; i < len(ranked); i++ {
		for j := i + 1; j < len(ranked); j++ {
			if ranked[j].score > ranked[i].score {
				ranked[i], ranked[j] = ranked[j], ranked[i]
			}
		}
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	results := make([]SearchResult, 0, len(ranked))
	for _, r := range ranked {
		results = append(results, SearchResult{
			Content: r.item.snippet,
			URL:     r.item.url,
			Title:   r.item.title,
		})
	}
	return results
}

// truncateRunes shortens s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
