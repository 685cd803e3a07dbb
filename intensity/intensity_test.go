package intensity

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/swyftgo/swyft/prior"
)

func unitSquare(t *testing.T) *prior.Uniform {
	t.Helper()
	u, err := prior.NewUniform([]float64{0, 0}, []float64{1, 1})
	require.NoError(t, err)
	return u
}

func TestRecord_LogIntensity(t *testing.T) {
	u := unitSquare(t)
	r := Record{Dist: u, N: 100}

	// Density 1 on the unit square: log-intensity is log N.
	require.InDelta(t, math.Log(100), r.LogIntensity([]float64{0.5, 0.5}), 1e-12)
	require.True(t, math.IsInf(r.LogIntensity([]float64{2, 0.5}), -1))

	require.True(t, math.IsInf(Record{Dist: u, N: 0}.LogIntensity([]float64{0.5, 0.5}), -1))
}

func TestStack_LogIntensityIsMax(t *testing.T) {
	u := unitSquare(t)

	s := &Stack{}
	require.True(t, math.IsInf(s.LogIntensity([]float64{0.5, 0.5}), -1))

	s.Append(Record{Dist: u, N: 10})
	s.Append(Record{Dist: u, N: 1000})
	s.Append(Record{Dist: u, N: 100})

	require.InDelta(t, math.Log(1000), s.LogIntensity([]float64{0.5, 0.5}), 1e-12)
}

func TestPoissonCount_MeanWithinThreeSigma(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	const mean = 100.0
	const draws = 200
	total := 0
	for i := 0; i < draws; i++ {
		total += PoissonCount(mean, rng)
	}
	avg := float64(total) / draws

	// Mean of the sample average is 100, stddev sqrt(100/draws).
	sigma := math.Sqrt(mean / draws)
	require.InDelta(t, mean, avg, 3*sigma)

	require.Equal(t, 0, PoissonCount(0, rng))
	require.Equal(t, 0, PoissonCount(-5, rng))
}

func TestPropose_EmptyStackAcceptsEverything(t *testing.T) {
	u := unitSquare(t)
	rng := rand.New(rand.NewSource(3))

	s := &Stack{}
	points, logw := s.Propose(Record{Dist: u, N: 100}, rng)

	// Against an empty stack (log-intensity -Inf) every proposal wins.
	require.NotEmpty(t, points)
	require.Len(t, logw, len(points))
	for i, v := range points {
		require.Len(t, v, 2)
		require.Greater(t, logw[i], math.Inf(-1))
	}
}

func TestPropose_SaturatedStackAcceptsFew(t *testing.T) {
	u := unitSquare(t)
	rng := rand.New(rand.NewSource(5))

	// A stack already holding a much larger request dominates the target
	// intensity everywhere; almost no proposal should get through.
	s := &Stack{}
	s.Append(Record{Dist: u, N: 10000})

	points, _ := s.Propose(Record{Dist: u, N: 50}, rng)
	require.Less(t, len(points), 10)
}

func TestCoverage_Bounds(t *testing.T) {
	u := unitSquare(t)
	target := Record{Dist: u, N: 10}

	require.Equal(t, 0.0, Coverage(nil, nil, target))
	require.Equal(t, 1.0, Coverage(nil, nil, Record{Dist: u, N: 0}))

	// Saturate: propose a big request, then ask for a small one.
	rng := rand.New(rand.NewSource(11))
	s := &Stack{}
	points, logw := s.Propose(Record{Dist: u, N: 1000}, rng)
	s.Append(Record{Dist: u, N: 1000})

	c := Coverage(points, logw, target)
	require.Equal(t, 1.0, c)

	// And a larger one than stored is only partially covered.
	c = Coverage(points, logw, Record{Dist: u, N: 1e6})
	require.Greater(t, c, 0.0)
	require.Less(t, c, 1.0)
}

func TestSelect_ExcludesOutsideSupport(t *testing.T) {
	u := unitSquare(t)
	half, err := prior.Truncate(u, prior.Box{Low: []float64{0, 0}, High: []float64{0.5, 1}})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(13))
	s := &Stack{}
	points, logw := s.Propose(Record{Dist: u, N: 500}, rng)
	s.Append(Record{Dist: u, N: 500})

	idx := Select(points, logw, Record{Dist: half, N: 250})
	for _, i := range idx {
		require.Less(t, points[i][0], 0.5, "selected point outside target support")
	}
}

func TestStack_JSONRoundTrip(t *testing.T) {
	u := unitSquare(t)
	s := &Stack{}
	s.Append(Record{Dist: u, N: 100})
	tr, err := prior.Truncate(u, prior.Box{Low: []float64{0, 0}, High: []float64{0.5, 0.5}})
	require.NoError(t, err)
	s.Append(Record{Dist: tr, N: 50})

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var back Stack
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, 2, back.Len())

	v := []float64{0.4, 0.4}
	require.InDelta(t, s.LogIntensity(v), back.LogIntensity(v), 1e-12)
}
