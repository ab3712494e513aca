package embedding

import (
	"math"
	"testing"
)

func l2(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestEmbedUnitNormAndDimension(t *testing.T) {
	e := NewHashEmbedder(64)
	for _, text := range []string{"a", "西湖", "西湖门票多少钱？", "hello world hello"} {
		v := e.Embed(text)
		if len(v) != 64 {
			t.Fatalf("len(Embed(%q)) = %d, want 64", text, len(v))
		}
		if n := l2(v); math.Abs(n-1) > 1e-5 {
			t.Fatalf("norm(Embed(%q)) = %f, want 1", text, n)
		}
	}
}

func TestEmbedEmptyIsZeroVector(t *testing.T) {
	e := NewHashEmbedder(0)
	v := e.Embed("")
	if len(v) != DefaultDimension {
		t.Fatalf("len = %d, want %d", len(v), DefaultDimension)
	}
	for i, x := range v {
		if x != 0 {
			t.Fatalf("v[%d] = %f, want 0", i, x)
		}
	}
}

func TestEmbedDeterministic(t *testing.T) {
	a := NewHashEmbedder(128).Embed("营业时间")
	b := NewHashEmbedder(128).Embed("营业时间")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("component %d differs: %f vs %f", i, a[i], b[i])
		}
	}
}

func TestEmbedCountsRepeatedRunes(t *testing.T) {
	e := NewHashEmbedder(32)
	v := e.Embed("aa")
	nonZero := 0
	for _, x := range v {
		if x != 0 {
			nonZero++
			if math.Abs(float64(x)-1) > 1e-6 {
				t.Fatalf("single bucket should hold 1 after normalization, got %f", x)
			}
		}
	}
	if nonZero != 1 {
		t.Fatalf("non-zero buckets = %d, want 1", nonZero)
	}
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	e := NewHashEmbedder(32)
	texts := []string{"一", "二", "", "三"}
	batch := e.EmbedBatch(texts)
	if len(batch) != len(texts) {
		t.Fatalf("len = %d, want %d", len(batch), len(texts))
	}
	for i, text := range texts {
		single := e.Embed(text)
		for j := range single {
			if batch[i][j] != single[j] {
				t.Fatalf("batch[%d] differs from Embed(%q) at %d", i, text, j)
			}
		}
	}
}
