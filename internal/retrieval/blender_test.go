package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kindpath/sfbtcoach/internal/models"
)

// fakeSearcher implements WebSearcher with scripted results.
type fakeSearcher struct {
	results []SearchResult
	err     error
	calls   int
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	f.calls++
	return f.results, f.err
}

// fakeLocal implements LocalRetriever with a scripted snippet.
type fakeLocal struct {
	text string
	err  error
}

func (f *fakeLocal) Retrieve(ctx context.Context, query string) (string, error) {
	return f.text, f.err
}

func TestBlend_WebAndLocal(t *testing.T) {
	web := &fakeSearcher{results: []SearchResult{
		{Content: "网页片段内容", URL: "http://example.com/a", Title: "网页标题"},
	}}
	local := &fakeLocal{text: "本地知识内容"}
	b := NewBlender(web, local, 0)

	out := b.Blend(context.Background(), "考试焦虑", true, nil)
	if !out.WebAttempted {
		t.Error("web retrieval must be marked attempted")
	}
	if !strings.Contains(out.Text, "网页片段内容") || !strings.Contains(out.Text, "本地知识内容") {
		t.Errorf("blended context must include both parts, got %q", out.Text)
	}
	if !strings.Contains(out.Text, "\n\n") {
		t.Error("parts must be joined by blank lines")
	}
	if len(out.Sources) != 1 || out.Sources[0].Title != "网页标题" {
		t.Errorf("unexpected sources: %+v", out.Sources)
	}
}

func TestBlend_WebDisabled(t *testing.T) {
	web := &fakeSearcher{results: []SearchResult{{Content: "x", URL: "u"}}}
	b := NewBlender(web, &fakeLocal{text: "本地知识内容"}, 0)

	out := b.Blend(context.Background(), "考试焦虑", false, nil)
	if out.WebAttempted {
		t.Error("disabled web retrieval must not be attempted")
	}
	if web.calls != 0 {
		t.Error("the searcher must not be called when web is disabled")
	}
	if len(out.Sources) != 0 {
		t.Error("no sources without web retrieval")
	}
	if !strings.Contains(out.Text, "本地知识内容") {
		t.Error("local context must still be blended")
	}
}

func TestBlend_WebFailureSwallowed(t *testing.T) {
	web := &fakeSearcher{err: errors.New("scrape blocked")}
	b := NewBlender(web, &fakeLocal{text: "本地知识内容"}, 0)

	out := b.Blend(context.Background(), "考试焦虑", true, nil)
	if !out.WebAttempted {
		t.Error("a failed attempt still counts as attempted")
	}
	if !strings.Contains(out.Text, "本地知识内容") {
		t.Error("web failure must not lose the local context")
	}
}

func TestBlend_LocalFailureSwallowed(t *testing.T) {
	web := &fakeSearcher{results: []SearchResult{{Content: "网页片段内容", URL: "u", Title: "t"}}}
	b := NewBlender(web, &fakeLocal{err: errors.New("corpus unavailable")}, 0)

	out := b.Blend(context.Background(), "考试焦虑", true, nil)
	if !strings.Contains(out.Text, "网页片段内容") {
		t.Error("local failure must not lose the web context")
	}
}

func TestBlend_SourceTitleFallback(t *testing.T) {
	web := &fakeSearcher{results: []SearchResult{
		{Content: "第一段", URL: "http://example.com/only-url"},
		{Content: "第二段"},
	}}
	b := NewBlender(web, nil, 0)

	out := b.Blend(context.Background(), "考试焦虑", true, nil)
	if len(out.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(out.Sources))
	}
	if out.Sources[0].Title != "http://example.com/only-url" {
		t.Errorf("missing title must fall back to URL, got %q", out.Sources[0].Title)
	}
	if out.Sources[1].Title != "来源" {
		t.Errorf("missing title and URL must fall back to the generic label, got %q", out.Sources[1].Title)
	}
}

func TestBlend_ContextBudget(t *testing.T) {
	web := &fakeSearcher{results: []SearchResult{{Content: strings.Repeat("长", 900), URL: "u", Title: "t"}}}
	local := &fakeLocal{text: strings.Repeat("知", 1500)}
	b := NewBlender(web, local, 100)

	out := b.Blend(context.Background(), "考试焦虑", true, nil)
	if utf8.RuneCountInString(out.Text) > 100 {
		t.Errorf("context must respect the budget, got %d runes", utf8.RuneCountInString(out.Text))
	}
}

func TestBlend_ProgressCheckpoints(t *testing.T) {
	web := &fakeSearcher{results: []SearchResult{{Content: "x", URL: "u", Title: "t"}}}
	b := NewBlender(web, nil, 0)

	var messages []string
	b.Blend(context.Background(), "考试焦虑", true, func(m string) { messages = append(messages, m) })
	if len(messages) != 2 {
		t.Fatalf("expected two checkpoints, got %v", messages)
	}
	if !strings.HasPrefix(messages[0], "正在搜索：考试焦虑") {
		t.Errorf("unexpected first checkpoint %q", messages[0])
	}
	if messages[1] != "搜索完成" {
		t.Errorf("unexpected second checkpoint %q", messages[1])
	}
}

func TestBlend_ProgressPanicSwallowed(t *testing.T) {
	web := &fakeSearcher{results: []SearchResult{{Content: "网页片段内容", URL: "u", Title: "t"}}}
	b := NewBlender(web, nil, 0)

	out := b.Blend(context.Background(), "考试焦虑", true, func(string) { panic("listener bug") })
	if !strings.Contains(out.Text, "网页片段内容") {
		t.Error("a panicking progress callback must not break the blend")
	}
}

func TestInvalidateLocal(t *testing.T) {
	st := &fakeKnowledgeStore{entries: []models.KnowledgeEntry{{ID: 1, Content: "量表问题说明"}}}
	r := NewKnowledgeRetriever(st)
	b := NewBlender(nil, r, 0)

	b.Blend(context.Background(), "量表", false, nil)
	b.InvalidateLocal()
	b.Blend(context.Background(), "量表", false, nil)
	if st.calls != 2 {
		t.Errorf("invalidation must force an index rebuild, store listed %d times", st.calls)
	}

	// A local retriever without an index is a no-op.
	NewBlender(nil, &fakeLocal{}, 0).InvalidateLocal()
	NewBlender(nil, nil, 0).InvalidateLocal()
}

func TestBlend_NilCollaborators(t *testing.T) {
	b := NewBlender(nil, nil, 0)
	out := b.Blend(context.Background(), "考试焦虑", true, nil)
	if out.WebAttempted {
		t.Error("nil searcher cannot attempt web retrieval")
	}
	if out.Text != "" || len(out.Sources) != 0 {
		t.Errorf("expected an empty context, got %+v", out)
	}
}
