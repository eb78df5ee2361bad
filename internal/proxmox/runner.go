// Package proxmox wraps the Proxmox VE host management tools (qm, pvesh,
// pvesm) behind a typed client. Every operation is synchronous and maps to
// exactly one tool invocation; retries belong to the caller, which knows
// which failures are safe to repeat.
package proxmox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes one host management command and returns its
// standard output. Implementations must honor context cancellation.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner shells out to the host tools.
type execRunner struct{}

// NewRunner returns a CommandRunner backed by os/exec.
func NewRunner() CommandRunner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	// Output (not CombinedOutput) keeps stdout parseable; stderr is
	// captured on the ExitError for diagnostics.
	return exec.CommandContext(ctx, name, args...).Output()
}

// CommandError reports a management tool invocation that returned
// non-success. Operation names the pipeline action rather than the binary,
// so a terminal failure message reads "import disk: ..." instead of "qm: ...".
type CommandError struct {
	Operation string
	Command   string
	Args      []string
	ExitCode  int // -1 when the process never ran
	Output    string
	Err       error
}

func (e *CommandError) Error() string {
	detail := e.Output
	if detail == "" && e.Err != nil {
		detail = e.Err.Error()
	}
	if e.ExitCode >= 0 {
		return fmt.Sprintf("%s: %s exited with code %d: %s", e.Operation, e.Command, e.ExitCode, detail)
	}
	return fmt.Sprintf("%s: %s failed to run: %s", e.Operation, e.Command, detail)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// newCommandError captures exit status and output detail from an exec
// failure. qm and pvesm report errors on stderr, which exec collects on the
// ExitError; stdout is the fallback.
func newCommandError(operation, command string, args []string, stdout []byte, err error) *CommandError {
	ce := &CommandError{
		Operation: operation,
		Command:   command,
		Args:      args,
		ExitCode:  -1,
		Err:       err,
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		ce.ExitCode = exitErr.ExitCode()
		ce.Output = strings.TrimSpace(string(exitErr.Stderr))
	}
	if ce.Output == "" {
		ce.Output = strings.TrimSpace(string(stdout))
	}
	return ce
}

// IsCommandError reports whether err wraps a *CommandError, returning it
// when found.
func IsCommandError(err error) (*CommandError, bool) {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
