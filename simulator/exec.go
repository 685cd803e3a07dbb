package simulator

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
)

// Encoder writes a parameter vector to the subprocess's standard input.
type Encoder func(w io.Writer, params []float64) error

// Decoder parses an observation from the subprocess's standard output.
type Decoder func(stdout []byte) (Observation, error)

// Exec runs an external program once per simulation.
//
// Each invocation gets a fresh temporary working directory, removed after
// the call, so simulators that scribble scratch files cannot interfere
// with each other. Parameters travel over stdin via the Encoder; the
// observation is read from stdout via the Decoder. Standard error is
// captured and attached to the failure when the program exits non-zero.
// Timeouts are the caller's concern: pass a deadline context.
type Exec struct {
	shapes map[string][]int
	encode Encoder
	decode Decoder
	name   string
	args   []string
	env    []string
}

// ExecOption configures an Exec adapter.
type ExecOption func(*Exec)

// WithEnv sets additional environment variables (os.Environ form) for the
// subprocess, appended to the parent environment.
func WithEnv(env []string) ExecOption {
	return func(e *Exec) {
		e.env = env
	}
}

// NewExec creates a subprocess-backed simulator.
func NewExec(shapes map[string][]int, encode Encoder, decode Decoder, name string, args []string, optFns ...ExecOption) *Exec {
	e := &Exec{
		shapes: shapes,
		encode: encode,
		decode: decode,
		name:   name,
		args:   args,
	}
	for _, fn := range optFns {
		fn(e)
	}
	return e
}

// Shapes returns the declared schema.
func (e *Exec) Shapes() map[string][]int { return e.shapes }

// Simulate invokes the program for one parameter vector.
func (e *Exec) Simulate(ctx context.Context, params []float64) (Observation, error) {
	workDir, err := os.MkdirTemp("", "swyft-sim-*")
	if err != nil {
		return nil, &Error{Op: "exec", Err: err}
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	var stdin bytes.Buffer
	if err := e.encode(&stdin, params); err != nil {
		return nil, &Error{Op: "exec", Err: err}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.name, e.args...) //nolint:gosec // G204: command is caller-configured
	cmd.Dir = workDir
	cmd.Stdin = &stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(e.env) > 0 {
		cmd.Env = append(os.Environ(), e.env...)
	}

	if err := cmd.Run(); err != nil {
		return nil, &Error{Op: "exec", Stderr: stderr.String(), Err: err}
	}

	obs, err := e.decode(stdout.Bytes())
	if err != nil {
		return nil, &Error{Op: "exec", Stderr: stderr.String(), Err: err}
	}
	if err := Validate(obs, e.shapes); err != nil {
		return nil, &Error{Op: "exec", Err: err}
	}
	return obs, nil
}

var _ Simulator = (*Exec)(nil)
