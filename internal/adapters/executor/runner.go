package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/target/mmk-autoingest/internal/domain/model"
)

// maxStderrBytes caps the stderr tail carried in a stage failure.
const maxStderrBytes = 4 * 1024

// StageRunner performs one pipeline stage for a job. Implementations must
// return promptly once ctx is cancelled.
type StageRunner interface {
	RunStage(ctx context.Context, rec model.JobRecord, stage string) error
}

// StageRunnerFunc adapts a function to StageRunner.
type StageRunnerFunc func(ctx context.Context, rec model.JobRecord, stage string) error

// RunStage implements StageRunner.
func (f StageRunnerFunc) RunStage(ctx context.Context, rec model.JobRecord, stage string) error {
	return f(ctx, rec, stage)
}

// CommandRunner runs an external program once per stage as
// "<command> [args...] <stage>", with the job described in AUTOINGEST_*
// environment variables.
type CommandRunner struct {
	path string
	args []string
	host string
}

// NewCommandRunner parses command (program followed by space separated
// arguments) into a runner.
func NewCommandRunner(command, host string) (*CommandRunner, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("stage command is empty")
	}
	return &CommandRunner{path: fields[0], args: fields[1:], host: host}, nil
}

// RunStage implements StageRunner.
func (r *CommandRunner) RunStage(ctx context.Context, rec model.JobRecord, stage string) error {
	args := append(append([]string(nil), r.args...), stage)
	// #nosec G204 -- stage command is operator configured
	cmd := exec.CommandContext(ctx, r.path, args...)
	cmd.Env = append(os.Environ(),
		"AUTOINGEST_JOB_ID="+rec.ID,
		"AUTOINGEST_CASE_NAME="+rec.CaseName,
		"AUTOINGEST_DATA_SOURCE="+rec.DataSource,
		"AUTOINGEST_STAGE="+stage,
		"AUTOINGEST_HOST="+r.host,
		fmt.Sprintf("AUTOINGEST_PRIORITY=%d", rec.Priority),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := tail(strings.TrimSpace(stderr.String()), maxStderrBytes)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if msg == "" {
				return fmt.Errorf("exit %d", exitErr.ExitCode())
			}
			return fmt.Errorf("exit %d: %s", exitErr.ExitCode(), msg)
		}
		return fmt.Errorf("run %s: %w", r.path, err)
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
