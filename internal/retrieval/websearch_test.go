package retrieval

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

const bingFixture = `<html><body><ol>
<li class="b_algo">
  <h2><a href="http://example.com/one">考试焦虑怎么办</a></h2>
  <div class="b_caption"><p>一些关于考试焦虑的应对方法介绍</p></div>
</li>
<li class="b_algo">
  <h2><a href="http://example.com/two">考试焦虑的成因</a></h2>
  <div class="b_caption"><p>更多关于考试焦虑的背景知识</p></div>
</li>
<li class="b_algo">
  <h2><a href="http://example.com/one">考试焦虑怎么办（重复）</a></h2>
  <div class="b_caption"><p>重复链接的条目</p></div>
</li>
</ol></body></html>`

const baiduFixture = `<html><body>
<div class="result">
  <h3><a href="http://example.com/baidu">考试焦虑的调节</a></h3>
  <p>关于考试焦虑的建议内容</p>
</div>
</body></html>`

func TestSERPSearcher_BingResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(bingFixture))
	}))
	defer srv.Close()

	s := NewSERPSearcher(WithBingBaseURL(srv.URL), WithBaiduBaseURL(srv.URL), WithPages(1), WithTopK(2))
	results, err := s.Search(context.Background(), "考试焦虑")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 ranked results, got %d", len(results))
	}
	urls := map[string]bool{}
	for _, r := range results {
		if r.Content == "" || r.Title == "" || r.URL == "" {
			t.Errorf("result fields must be populated: %+v", r)
		}
		urls[r.URL] = true
	}
	if len(urls) != 2 {
		t.Error("duplicate URLs must be deduplicated")
	}
}

func TestSERPSearcher_TopKBound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(bingFixture))
	}))
	defer srv.Close()

	s := NewSERPSearcher(WithBingBaseURL(srv.URL), WithBaiduBaseURL(srv.URL), WithPages(1), WithTopK(1))
	results, err := s.Search(context.Background(), "考试焦虑")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected top-1 result, got %d", len(results))
	}
}

func TestSERPSearcher_PreferBaidu(t *testing.T) {
	var bingHits atomic.Int64
	bing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bingHits.Add(1)
		w.Write([]byte(bingFixture))
	}))
	defer bing.Close()
	baidu := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(baiduFixture))
	}))
	defer baidu.Close()

	s := NewSERPSearcher(WithBingBaseURL(bing.URL), WithBaiduBaseURL(baidu.URL), WithPages(1), WithPreferBaidu(true))
	results, err := s.Search(context.Background(), "考试焦虑")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected baidu results")
	}
	if results[0].URL != "http://example.com/baidu" {
		t.Errorf("expected the baidu hit, got %s", results[0].URL)
	}
	if bingHits.Load() != 0 {
		t.Error("bing must not be queried when baidu succeeds first")
	}
}

func TestSERPSearcher_FailureLatch(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewSERPSearcher(WithBingBaseURL(srv.URL), WithBaiduBaseURL(srv.URL), WithPages(1))
	if _, err := s.Search(context.Background(), "考试焦虑"); err == nil {
		t.Fatal("expected an error when every provider fails")
	}
	after := hits.Load()
	if after == 0 {
		t.Fatal("providers were never queried")
	}

	// Subsequent searches must be latched off without network traffic.
	results, err := s.Search(context.Background(), "考试焦虑")
	if err != nil || results != nil {
		t.Errorf("latched search must return nothing quietly, got %v, %v", results, err)
	}
	if hits.Load() != after {
		t.Error("latched search must not hit the network")
	}
}

func TestExtractKeywords(t *testing.T) {
	got := extractKeywords("我最近 SFBT 考试焦虑，很难受a")
	joined := strings.Join(got, "|")
	if !strings.Contains(joined, "考试焦虑") {
		t.Errorf("expected Han run keyword, got %v", got)
	}
	if !strings.Contains(joined, "SFBT") {
		t.Errorf("expected ASCII keyword, got %v", got)
	}
	for _, k := range got {
		if k == "a" {
			t.Error("single letters must not become keywords")
		}
	}
}

func TestFilterByRelevance_KeepsAllWhenNoneMatch(t *testing.T) {
	items := []serpItem{
		{url: "http://example.com/x", title: "完全无关的条目", snippet: "别的内容"},
	}
	kept := filterByRelevance(items, "考试焦虑")
	if len(kept) != 1 {
		t.Error("an over-aggressive filter must not erase the result set")
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("一二三四五", 3); got != "一二三" {
		t.Errorf("expected rune-safe truncation, got %q", got)
	}
	if got := truncateRunes("短", 10); got != "短" {
		t.Errorf("short strings must pass through, got %q", got)
	}
}
