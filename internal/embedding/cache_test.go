package embedding

import "testing"

func TestCache(t *testing.T) {
	c := NewCache(2)

	c.Set("a", []float32{1})
	c.Set("b", []float32{2})

	if v, ok := c.Get("a"); !ok || v[0] != 1 {
		t.Errorf("Get(a) = %v, %v", v, ok)
	}

	// "b" is now least recently used; adding "c" should evict it.
	c.Set("c", []float32{3})
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should still be cached")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should be cached")
	}
}

func TestCacheUpdate(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1})
	c.Set("a", []float32{9})
	if v, _ := c.Get("a"); v[0] != 9 {
		t.Errorf("updated value = %v, want 9", v[0])
	}
	if c.lru.Len() != 1 {
		t.Errorf("cache len = %d, want 1", c.lru.Len())
	}
}
