package installer

import (
	"errors"
	"fmt"
	"os/exec"
)

// Tools runs the native packaging tools. It exists as an interface
// purely so that tests can assert on invocations without a mac
// toolchain present
type Tools interface {
	// Check returns an error when tool is not on PATH
	Check(tool string) error

	// Run invokes tool with args, blocking until it exits
	Run(tool string, args ...string) error
}

// ToolError is returned when a native tool exits non-zero; Output
// carries the tool's combined stdout and stderr verbatim, since
// crate cannot reinterpret platform tool failures
type ToolError struct {
	Tool     string
	ExitCode int
	Output   string
}

// Error implements the `error` interface
func (e ToolError) Error() string {
	return fmt.Sprintf("%s exited %d\n%s", e.Tool, e.ExitCode, e.Output)
}

type execTools struct{}

// NewTools returns a Tools backed by the real commands on PATH
func NewTools() Tools {
	return execTools{}
}

func (execTools) Check(tool string) error {
	_, err := exec.LookPath(tool)
	if err != nil {
		return fmt.Errorf("%s is not installed", tool)
	}

	return nil
}

func (execTools) Run(tool string, args ...string) error {
	out, err := exec.Command(tool, args...).CombinedOutput()
	if err == nil {
		return nil
	}

	code := -1

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}

	return ToolError{
		Tool:     tool,
		ExitCode: code,
		Output:   string(out),
	}
}
