// Package vectorstore defines the positional nearest-neighbour index contract.
package vectorstore

// Hit is one search result: the insertion position of a vector and its
// squared Euclidean distance to the query.
type Hit struct {
	Position int
	Distance float32
}

// Index stores fixed-dimension vectors by insertion position and returns
// the k nearest by squared L2 distance.
type Index interface {
	Len() int
	Dimension() int
	Search(query []float32, k int) ([]Hit, error)
}
