package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kindpath/sfbtcoach/internal/models"
)

// fakeKnowledgeStore implements KnowledgeStore with a fixed corpus.
type fakeKnowledgeStore struct {
	entries []models.KnowledgeEntry
	err     error
	calls   int
}

func (f *fakeKnowledgeStore) ListKnowledge() ([]models.KnowledgeEntry, error) {
	f.calls++
	return f.entries, f.err
}

func TestKnowledgeRetriever_Retrieve(t *testing.T) {
	st := &fakeKnowledgeStore{entries: []models.KnowledgeEntry{
		{ID: 1, Title: "量表问题", Content: "量表问题帮助孩子量化感受"},
		{ID: 2, Title: "例外探索", Content: "例外探索寻找问题不发生的时刻"},
	}}
	r := NewKnowledgeRetriever(st)

	got, err := r.Retrieve(context.Background(), "量表问题")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "量表问题帮助孩子量化感受") || !strings.Contains(got, "例外探索寻找问题不发生的时刻") {
		t.Errorf("small corpora must be fully included, got %q", got)
	}
	if !strings.Contains(got, "\n\n") {
		t.Error("documents must be joined by blank lines")
	}
}

func TestKnowledgeRetriever_EmptyCorpus(t *testing.T) {
	r := NewKnowledgeRetriever(&fakeKnowledgeStore{})
	got, err := r.Retrieve(context.Background(), "量表问题")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Errorf("empty corpus must yield an empty context, got %q", got)
	}
}

func TestKnowledgeRetriever_StoreError(t *testing.T) {
	r := NewKnowledgeRetriever(&fakeKnowledgeStore{err: errors.New("db down")})
	if _, err := r.Retrieve(context.Background(), "量表问题"); err == nil {
		t.Error("store failures must surface as errors")
	}
}

func TestKnowledgeRetriever_IndexReuse(t *testing.T) {
	st := &fakeKnowledgeStore{entries: []models.KnowledgeEntry{{ID: 1, Content: "内容"}}}
	r := NewKnowledgeRetriever(st)

	r.Retrieve(context.Background(), "内容")
	r.Retrieve(context.Background(), "内容")
	if st.calls != 1 {
		t.Errorf("the index must be built once, store listed %d times", st.calls)
	}

	r.Invalidate()
	r.Retrieve(context.Background(), "内容")
	if st.calls != 2 {
		t.Errorf("invalidation must force a rebuild, store listed %d times", st.calls)
	}
}

func TestKnowledgeRetriever_LazyCorpusPickup(t *testing.T) {
	// A corpus seeded after the first empty retrieval is picked up without
	// an explicit invalidation.
	st := &fakeKnowledgeStore{}
	r := NewKnowledgeRetriever(st)

	if got, _ := r.Retrieve(context.Background(), "量表"); got != "" {
		t.Fatalf("expected empty result before seeding, got %q", got)
	}
	st.entries = []models.KnowledgeEntry{{ID: 1, Content: "量表问题说明"}}
	got, err := r.Retrieve(context.Background(), "量表")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "量表问题说明") {
		t.Errorf("late-seeded corpus must be retrievable, got %q", got)
	}
}

func TestKnowledgeRetriever_CanceledContext(t *testing.T) {
	r := NewKnowledgeRetriever(&fakeKnowledgeStore{entries: []models.KnowledgeEntry{{ID: 1, Content: "内容"}}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Retrieve(ctx, "内容"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
