package embedding

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragmerge/internal/domain"
)

type fakeEmbedder struct {
	calls atomic.Int32
	fail  bool
	dim   int
}

func (f *fakeEmbedder) Name() string   { return "fake" }
func (f *fakeEmbedder) Dimension() int { return f.dim }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	if f.fail {
		return nil, errors.New("boom")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		n, _ := strconv.Atoi(t)
		out[i] = make([]float32, f.dim)
		out[i][0] = float32(n)
	}
	return out, nil
}

func TestBatch_PreservesOrderAcrossBatches(t *testing.T) {
	emb := &fakeEmbedder{dim: 2}
	texts := make([]string, 10)
	for i := range texts {
		texts[i] = strconv.Itoa(i)
	}

	vecs, err := Batch(context.Background(), emb, texts, 3, 4)

	require.NoError(t, err)
	require.Len(t, vecs, 10)
	for i, v := range vecs {
		assert.Equal(t, float32(i), v[0])
	}
	assert.Equal(t, int32(4), emb.calls.Load())
}

func TestBatch_Empty(t *testing.T) {
	vecs, err := Batch(context.Background(), &fakeEmbedder{dim: 2}, nil, 3, 1)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestBatch_PropagatesErrors(t *testing.T) {
	_, err := Batch(context.Background(), &fakeEmbedder{dim: 2, fail: true}, []string{"1", "2"}, 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestDimension_Mismatch(t *testing.T) {
	_, err := Dimension([][]float32{{1, 2}, {1}})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	dim, err := Dimension([][]float32{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, 2, dim)
}

func TestOne(t *testing.T) {
	v, err := One(context.Background(), &fakeEmbedder{dim: 3}, "7")
	require.NoError(t, err)
	assert.Equal(t, []float32{7, 0, 0}, v)
}
