package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"

	"github.com/arkstor/coreplane"
)

// ProcessRunner executes process-mode job bodies in a subprocess. The
// helper binary receives a JSON request on stdin and writes a JSON
// response to stdout; stderr is forwarded to the job's log writer.
type ProcessRunner struct {
	path   string
	logger *slog.Logger
}

// ProcessRequest is the wire format written to the helper's stdin.
type ProcessRequest struct {
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// ProcessResponse is the wire format read from the helper's stdout.
type ProcessResponse struct {
	Result any    `json:"result"`
	Error  string `json:"error,omitempty"`
}

// NewProcessRunner creates a runner launching the helper at path. An
// empty path disables process mode; Run then returns
// ErrNoProcessPool.
func NewProcessRunner(path string, logger *slog.Logger) *ProcessRunner {
	return &ProcessRunner{path: path, logger: logger}
}

// Enabled reports whether a helper binary is configured.
func (r *ProcessRunner) Enabled() bool { return r.path != "" }

// Run invokes method in a subprocess and returns its result. The
// subprocess is killed when ctx ends. logs may be nil.
func (r *ProcessRunner) Run(ctx context.Context, method string, args []any, logs io.Writer) (any, error) {
	if r.path == "" {
		return nil, coreplane.ErrNoProcessPool
	}

	cmd := exec.CommandContext(ctx, r.path, method)
	if logs != nil {
		cmd.Stderr = logs
	}

	req, err := json.Marshal(ProcessRequest{Method: method, Args: args})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", r.path, err)
	}
	r.logger.Debug("process job started",
		slog.String("method", method),
		slog.Int("pid", cmd.Process.Pid),
	)

	if _, err := stdin.Write(req); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("write request: %w", err)
	}
	stdin.Close()

	out, readErr := io.ReadAll(stdout)
	waitErr := cmd.Wait()
	if readErr != nil {
		return nil, fmt.Errorf("read response: %w", readErr)
	}
	if waitErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s exited: %w", r.path, waitErr)
	}

	var resp ProcessResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp.Result, nil
}
