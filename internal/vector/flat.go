package vector

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FlatIndex is a brute-force vector index with file persistence. Trial
// corpora are small enough (thousands of documents) that exhaustive search
// stays well under a millisecond.
type FlatIndex struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	metas      []*Metadata
	mu         sync.RWMutex
}

// NewFlatIndex creates an empty index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{dimensions: dimensions}, nil
}

// OpenFlatIndex creates an index and loads persisted contents from path.
// A missing file yields an empty index, matching Load semantics.
func OpenFlatIndex(path string, dimensions int) (*FlatIndex, error) {
	idx, err := NewFlatIndex(dimensions)
	if err != nil {
		return nil, err
	}
	if err := idx.Load(path); err != nil {
		return nil, err
	}
	return idx, nil
}

// Add appends vectors with their IDs and metadata as one atomic batch.
func (f *FlatIndex) Add(ctx context.Context, ids []string, vectors [][]float32, metas []*Metadata) error {
	if len(ids) != len(vectors) || len(ids) != len(metas) {
		return fmt.Errorf("ids, vectors, and metas length mismatch: %d/%d/%d", len(ids), len(vectors), len(metas))
	}
	for i := range vectors {
		if len(vectors[i]) != f.dimensions {
			return fmt.Errorf("vector dimension mismatch at %s: got %d, expected %d", ids[i], len(vectors[i]), f.dimensions)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, id := range ids {
		vec := make([]float32, f.dimensions)
		copy(vec, vectors[i])
		f.ids = append(f.ids, id)
		f.vectors = append(f.vectors, vec)
		f.metas = append(f.metas, metas[i])
	}
	return nil
}

// Search returns the top-k entries by ascending cosine distance.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]*Result, error) {
	return f.SearchWithin(ctx, query, nil, k)
}

// SearchWithin is Search restricted to ids; a nil set searches everything.
func (f *FlatIndex) SearchWithin(ctx context.Context, query []float32, ids map[string]bool, k int) ([]*Result, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.ids) == 0 {
		return nil, nil
	}
	results := make([]*Result, 0, len(f.ids))
	for i, vec := range f.vectors {
		if ids != nil && !ids[f.ids[i]] {
			continue
		}
		var dot float64
		for j := 0; j < f.dimensions; j++ {
			dot += float64(query[j] * vec[j])
		}
		results = append(results, &Result{
			ID:       f.ids[i],
			Distance: 1 - dot,
			Meta:     f.metas[i],
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// Save persists the index to path. Directory is created if needed.
// Format: dimension (4), n (4), then per entry: idLen (4), id bytes,
// vector (dimension*4 bytes), metaLen (4), metadata JSON.
func (f *FlatIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer file.Close()
	if err := binary.Write(file, binary.LittleEndian, uint32(f.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, uint32(len(f.ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, id := range f.ids {
		if err := writeBytes(file, []byte(id)); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := file.Write(float32SliceToBytes(f.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
		metaJSON, err := json.Marshal(f.metas[i])
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if err := writeBytes(file, metaJSON); err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
	}
	return nil
}

// Load reads the index from path and replaces the in-memory contents.
// Dimensions must match. A missing file leaves the index unchanged.
func (f *FlatIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()
	var dim, n uint32
	if err := binary.Read(file, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != f.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, f.dimensions)
	}
	if err := binary.Read(file, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = make([]string, 0, n)
	f.vectors = make([][]float32, 0, n)
	f.metas = make([]*Metadata, 0, n)
	vecBuf := make([]byte, f.dimensions*4)
	for i := uint32(0); i < n; i++ {
		idBytes, err := readBytes(file)
		if err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(file, vecBuf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		metaJSON, err := readBytes(file)
		if err != nil {
			return fmt.Errorf("read metadata: %w", err)
		}
		var meta Metadata
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return fmt.Errorf("unmarshal metadata: %w", err)
		}
		f.ids = append(f.ids, string(idBytes))
		f.vectors = append(f.vectors, bytesToFloat32Slice(vecBuf))
		f.metas = append(f.metas, &meta)
	}
	return nil
}

// Close is a no-op for FlatIndex.
func (f *FlatIndex) Close() error {
	return nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
