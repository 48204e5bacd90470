package quantization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProductQuantizerRejectsIndivisibleDimension(t *testing.T) {
	_, err := NewProductQuantizer(10, 3, 4)
	assert.Error(t, err)
}

func TestNewProductQuantizerRejectsTooManyCentroids(t *testing.T) {
	_, err := NewProductQuantizer(8, 2, 300)
	assert.Error(t, err)
}

func TestProductQuantizerTrainRequiresEnoughVectors(t *testing.T) {
	pq, err := NewProductQuantizer(8, 2, 16)
	require.NoError(t, err)
	err = pq.Train(sampleVectors(4, 8))
	assert.Error(t, err)
}

func TestProductQuantizerRoundTripApproximatesInput(t *testing.T) {
	pq, err := NewProductQuantizer(8, 4, 4)
	require.NoError(t, err)
	vectors := sampleVectors(32, 8)
	require.NoError(t, pq.Train(vectors))
	assert.True(t, pq.Trained())

	codes, err := pq.Encode(vectors[5])
	require.NoError(t, err)
	assert.Len(t, codes, 4)

	decoded, err := pq.Decode(codes)
	require.NoError(t, err)
	assert.Len(t, decoded, 8)
}

func TestProductQuantizerEstimatedBytesIsOneBytePerSubspace(t *testing.T) {
	pq, _ := NewProductQuantizer(8, 4, 16)
	assert.Equal(t, 4, pq.EstimatedBytes(1))
	assert.Equal(t, 40, pq.EstimatedBytes(10))
}

func TestProductQuantizerDecodeRejectsBadCodeLength(t *testing.T) {
	pq, _ := NewProductQuantizer(8, 4, 4)
	require.NoError(t, pq.Train(sampleVectors(32, 8)))
	_, err := pq.Decode([]byte{0, 1})
	assert.Error(t, err)
}

func TestProductQuantizerEncodeBeforeTrainFails(t *testing.T) {
	pq, _ := NewProductQuantizer(8, 4, 4)
	_, err := pq.Encode(make([]float32, 8))
	assert.Error(t, err)
}
