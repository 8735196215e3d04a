package job

import (
	"fmt"
	"io"

	"github.com/arkstor/coreplane"
)

// Pipe is one unidirectional byte stream between a job body and its
// caller. The body holds one end, the caller the other.
type Pipe struct {
	R io.ReadCloser
	W io.WriteCloser
}

// NewPipe returns a connected in-memory pipe.
func NewPipe() *Pipe {
	r, w := io.Pipe()
	return &Pipe{R: r, W: w}
}

// Ready reports whether both ends are attached.
func (p *Pipe) Ready() bool {
	return p != nil && p.R != nil && p.W != nil
}

// Close closes both ends, ignoring nil.
func (p *Pipe) Close() error {
	if p == nil {
		return nil
	}
	var first error
	if p.R != nil {
		if err := p.R.Close(); err != nil {
			first = err
		}
	}
	if p.W != nil {
		if err := p.W.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Pipes is the named pipe set attached to a submission. Only "input"
// and "output" are recognized.
type Pipes struct {
	Input  *Pipe
	Output *Pipe
}

// Get returns the pipe for name, or nil.
func (ps *Pipes) Get(name string) *Pipe {
	if ps == nil {
		return nil
	}
	switch name {
	case "input":
		return ps.Input
	case "output":
		return ps.Output
	}
	return nil
}

// Check verifies every declared pipe is attached and ready. The error
// wraps ErrPipeNotReady and names the first missing pipe.
func (ps *Pipes) Check(declared []string) error {
	for _, name := range declared {
		if !ps.Get(name).Ready() {
			return fmt.Errorf("pipe %q: %w", name, coreplane.ErrPipeNotReady)
		}
	}
	return nil
}

// Close closes every attached pipe.
func (ps *Pipes) Close() {
	if ps == nil {
		return
	}
	ps.Input.Close()
	ps.Output.Close()
}
