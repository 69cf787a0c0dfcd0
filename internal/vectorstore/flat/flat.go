package flat

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"ragmerge/internal/domain"
	"ragmerge/internal/vectorstore"
)

// Index is a brute-force squared-L2 index over row-major float32 vectors.
// Once an Index is shared with readers it must not be mutated; Store
// appends to a clone and swaps the pointer.
type Index struct {
	dimension int
	data      []float32
}

var _ vectorstore.Index = (*Index)(nil)

// New creates an empty index for vectors of the given dimension.
func New(dimension int) (*Index, error) {
	if dimension <= 0 {
		return nil, errors.New("invalid dimension")
	}
	return &Index{dimension: dimension}, nil
}

// FromVectors builds an index sized to the first vector.
func FromVectors(vectors [][]float32) (*Index, error) {
	if len(vectors) == 0 {
		return nil, errors.New("no vectors to index")
	}
	x, err := New(len(vectors[0]))
	if err != nil {
		return nil, err
	}
	if err := x.Add(vectors); err != nil {
		return nil, err
	}
	return x, nil
}

// Add appends vectors in order. Nothing is appended if any vector has the wrong size.
func (x *Index) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != x.dimension {
			return fmt.Errorf("vector %d has %d values, index has %d: %w", i, len(v), x.dimension, domain.ErrDimensionMismatch)
		}
	}
	x.data = slices.Grow(x.data, len(vectors)*x.dimension)
	for _, v := range vectors {
		x.data = append(x.data, v...)
	}
	return nil
}

// Len returns the number of stored vectors. A nil index is empty.
func (x *Index) Len() int {
	if x == nil || x.dimension == 0 {
		return 0
	}
	return len(x.data) / x.dimension
}

// Dimension returns the vector size.
func (x *Index) Dimension() int {
	if x == nil {
		return 0
	}
	return x.dimension
}

// Clone returns a deep copy.
func (x *Index) Clone() *Index {
	data := make([]float32, len(x.data))
	copy(data, x.data)
	return &Index{dimension: x.dimension, data: data}
}

// Vectors returns a copy of the stored vectors in position order.
func (x *Index) Vectors() [][]float32 {
	n := x.Len()
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		v := make([]float32, x.dimension)
		copy(v, x.data[i*x.dimension:(i+1)*x.dimension])
		out[i] = v
	}
	return out
}

// Search returns up to k positions ordered by ascending squared L2 distance.
// Ties keep insertion order. An empty index yields no hits.
func (x *Index) Search(query []float32, k int) ([]vectorstore.Hit, error) {
	n := x.Len()
	if n == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != x.dimension {
		return nil, fmt.Errorf("query has %d values, index has %d: %w", len(query), x.dimension, domain.ErrDimensionMismatch)
	}
	hits := make([]vectorstore.Hit, n)
	for i := 0; i < n; i++ {
		hits[i] = vectorstore.Hit{Position: i, Distance: squaredL2(x.data[i*x.dimension:(i+1)*x.dimension], query)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k > n {
		k = n
	}
	return hits[:k], nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
