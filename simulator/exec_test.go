//go:build unix

package simulator

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Plain-text codecs: one parameter per line in, one value per line out.
func lineEncoder(w io.Writer, params []float64) error {
	for _, p := range params {
		if _, err := fmt.Fprintf(w, "%g\n", p); err != nil {
			return err
		}
	}
	return nil
}

func lineDecoder(field string) Decoder {
	return func(stdout []byte) (Observation, error) {
		var vals []float64
		for _, line := range strings.Split(strings.TrimSpace(string(stdout)), "\n") {
			if line == "" {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		return Observation{field: vals}, nil
	}
}

func TestExec_RoundTrip(t *testing.T) {
	// cat echoes the encoded parameters straight back.
	sim := NewExec(map[string][]int{"x": {2}}, lineEncoder, lineDecoder("x"), "cat", nil)

	obs, err := sim.Simulate(context.Background(), []float64{1.5, -2})
	require.NoError(t, err)
	require.Equal(t, Observation{"x": []float64{1.5, -2}}, obs)
}

func TestExec_NonZeroExit(t *testing.T) {
	sim := NewExec(map[string][]int{"x": {1}}, lineEncoder, lineDecoder("x"),
		"sh", []string{"-c", "echo failed to converge >&2; exit 3"})

	_, err := sim.Simulate(context.Background(), []float64{1})
	var simErr *Error
	require.ErrorAs(t, err, &simErr)
	require.Contains(t, simErr.Stderr, "failed to converge")
}

func TestExec_MalformedOutput(t *testing.T) {
	sim := NewExec(map[string][]int{"x": {1}}, lineEncoder, lineDecoder("x"),
		"sh", []string{"-c", "echo not-a-number"})

	_, err := sim.Simulate(context.Background(), []float64{1})
	var simErr *Error
	require.ErrorAs(t, err, &simErr)
}

func TestExec_IsolatedWorkingDirectory(t *testing.T) {
	// The script refuses to run if its scratch file already exists, so a
	// second call only succeeds when it gets a fresh working directory.
	sim := NewExec(map[string][]int{"x": {1}}, lineEncoder, lineDecoder("x"),
		"sh", []string{"-c", "[ ! -e scratch ] || exit 1; touch scratch; echo 1"})

	_, err := sim.Simulate(context.Background(), []float64{1})
	require.NoError(t, err)
	_, err = sim.Simulate(context.Background(), []float64{1})
	require.NoError(t, err)
}

func TestExec_ShapeValidated(t *testing.T) {
	sim := NewExec(map[string][]int{"x": {3}}, lineEncoder, lineDecoder("x"), "cat", nil)

	_, err := sim.Simulate(context.Background(), []float64{1, 2})
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestExec_ContextCancel(t *testing.T) {
	sim := NewExec(map[string][]int{"x": {1}}, lineEncoder, lineDecoder("x"),
		"sleep", []string{"10"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sim.Simulate(ctx, []float64{1})
	require.Error(t, err)
}
