package prior

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestUniform_SampleWithinSupport(t *testing.T) {
	u, err := NewUniform([]float64{-1, 0}, []float64{1, 2})
	require.NoError(t, err)
	require.Equal(t, 2, u.NumParameters())

	rng := rand.New(rand.NewSource(1))
	for _, v := range u.Sample(200, rng) {
		require.False(t, math.IsInf(u.LogProb(v), -1), "sample %v outside support", v)
	}
}

func TestUniform_LogProb(t *testing.T) {
	u, err := NewUniform([]float64{0, 0}, []float64{2, 2})
	require.NoError(t, err)

	// Density 1/4 everywhere inside the box.
	require.InDelta(t, math.Log(0.25), u.LogProb([]float64{1, 1}), 1e-12)
	require.True(t, math.IsInf(u.LogProb([]float64{3, 1}), -1))
	require.True(t, math.IsInf(u.LogProb([]float64{1}), -1))
}

func TestUniform_CDFICDFInverse(t *testing.T) {
	u, err := NewUniform([]float64{-2, 1}, []float64{2, 5})
	require.NoError(t, err)

	v := []float64{0.5, 3.25}
	back := u.ICDF(u.CDF(v))
	require.InDelta(t, v[0], back[0], 1e-12)
	require.InDelta(t, v[1], back[1], 1e-12)
}

func TestNewUniform_RejectsEmptyInterval(t *testing.T) {
	_, err := NewUniform([]float64{0, 1}, []float64{1, 1})
	require.Error(t, err)
	_, err = NewUniform([]float64{0}, []float64{1, 2})
	require.Error(t, err)
}

func TestTruncated_RestrictsSupport(t *testing.T) {
	u, err := NewUniform([]float64{0, 0}, []float64{1, 1})
	require.NoError(t, err)

	tr, err := Truncate(u, Box{Low: []float64{0, 0}, High: []float64{0.5, 0.5}})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for _, v := range tr.Sample(200, rng) {
		require.Less(t, v[0], 0.5)
		require.Less(t, v[1], 0.5)
	}

	// Renormalized density: base density 1, box volume 1/4.
	require.InDelta(t, math.Log(4), tr.LogProb([]float64{0.25, 0.25}), 1e-12)
	require.True(t, math.IsInf(tr.LogProb([]float64{0.75, 0.25}), -1))
}

func TestTruncated_ComposesWithTruncatedBase(t *testing.T) {
	u, err := NewUniform([]float64{0, 0}, []float64{2, 2})
	require.NoError(t, err)

	// First truncation keeps parameters in [0.5, 1.5) per dimension.
	t1, err := Truncate(u, Box{Low: []float64{0.25, 0.25}, High: []float64{0.75, 0.75}})
	require.NoError(t, err)

	// Second truncation keeps the upper half of t1's own hypercube,
	// i.e. parameters in [1, 1.5) per dimension.
	t2, err := Truncate(t1, Box{Low: []float64{0.5, 0.5}, High: []float64{1, 1}})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	for _, v := range t2.Sample(200, rng) {
		require.GreaterOrEqual(t, v[0], 1.0)
		require.Less(t, v[0], 1.5)
		require.GreaterOrEqual(t, v[1], 1.0)
		require.Less(t, v[1], 1.5)
	}

	// Effective support is a 0.5x0.5 box, so density 4 inside.
	require.InDelta(t, math.Log(4), t2.LogProb([]float64{1.25, 1.25}), 1e-12)
	require.True(t, math.IsInf(t2.LogProb([]float64{0.75, 1.25}), -1))

	// The composed mapping inverts cleanly.
	v := []float64{1.1, 1.4}
	back := t2.ICDF(t2.CDF(v))
	require.InDelta(t, v[0], back[0], 1e-12)
	require.InDelta(t, v[1], back[1], 1e-12)
}

func TestTruncate_RejectsBadBox(t *testing.T) {
	u, err := NewUniform([]float64{0}, []float64{1})
	require.NoError(t, err)

	_, err = Truncate(u, Box{Low: []float64{-0.1}, High: []float64{0.5}})
	require.Error(t, err)
	_, err = Truncate(u, Box{Low: []float64{0, 0}, High: []float64{1, 1}})
	require.Error(t, err)
}

func TestEncodeDecode_Uniform(t *testing.T) {
	u, err := NewUniform([]float64{-1, -1}, []float64{1, 1})
	require.NoError(t, err)

	enc, err := Encode(u)
	require.NoError(t, err)
	require.Equal(t, "uniform", enc.Type)

	dec, err := Decode(enc)
	require.NoError(t, err)
	require.Equal(t, u.LogProb([]float64{0, 0}), dec.LogProb([]float64{0, 0}))
	require.Equal(t, 2, dec.NumParameters())
}

func TestEncodeDecode_TruncatedNested(t *testing.T) {
	u, err := NewUniform([]float64{0, 0}, []float64{2, 2})
	require.NoError(t, err)
	tr, err := Truncate(u, Box{Low: []float64{0.25, 0.25}, High: []float64{0.75, 0.75}})
	require.NoError(t, err)

	enc, err := Encode(tr)
	require.NoError(t, err)

	dec, err := Decode(enc)
	require.NoError(t, err)

	inside := []float64{1, 1}
	outside := []float64{0.1, 0.1}
	require.InDelta(t, tr.LogProb(inside), dec.LogProb(inside), 1e-12)
	require.True(t, math.IsInf(dec.LogProb(outside), -1))
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode(Encoded{Type: "cauchy"})
	require.ErrorIs(t, err, ErrUnknownType)
}
