package retrieval

import (
	"math"
	"testing"
)

func TestHashEmbedding_Deterministic(t *testing.T) {
	a := HashEmbedding("考试焦虑")
	b := HashEmbedding("考试焦虑")
	if len(a) != EmbeddingDim {
		t.Fatalf("expected dimension %d, got %d", EmbeddingDim, len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding must be deterministic")
		}
	}
}

func TestHashEmbedding_Range(t *testing.T) {
	vec := HashEmbedding("任意文本")
	for i, v := range vec {
		if v < 0 || v > 1 {
			t.Fatalf("component %d out of range: %v", i, v)
		}
	}
}

func TestHashEmbedding_DistinctTexts(t *testing.T) {
	a := HashEmbedding("第一段文本")
	b := HashEmbedding("第二段文本")
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts must map to different vectors")
	}
}

func TestCosineSimilarity_Self(t *testing.T) {
	vec := HashEmbedding("考试焦虑")
	if got := CosineSimilarity(vec, vec); math.Abs(got-1) > 1e-9 {
		t.Errorf("self similarity must be 1, got %v", got)
	}
}

func TestCosineSimilarity_Degenerate(t *testing.T) {
	if got := CosineSimilarity([]float64{1, 2}, []float64{1, 2, 3}); got != 0 {
		t.Errorf("length mismatch must yield 0, got %v", got)
	}
	if got := CosineSimilarity(nil, nil); got != 0 {
		t.Errorf("empty vectors must yield 0, got %v", got)
	}
	if got := CosineSimilarity([]float64{0, 0}, []float64{1, 1}); got != 0 {
		t.Errorf("zero magnitude must yield 0, got %v", got)
	}
}
