package transform

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Tool describes an external command a transform shells out to.
type Tool struct {
	// Command is the binary name or path; extra words become leading args,
	// so "npx postcss" works as well as "postcss".
	Command string
	Env     []string
	Dir     string
}

// ToolError carries the diagnostic output of a failed external command.
type ToolError struct {
	Command string
	Output  string
	Err     error
}

func (e *ToolError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v\n%s", e.Command, e.Err, out)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Run executes the tool with args, feeding stdin, and returns stdout.
func (t Tool) Run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	fields := strings.Fields(t.Command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("no command configured")
	}
	argv := append(fields[1:len(fields):len(fields)], args...)

	cmd := exec.CommandContext(ctx, fields[0], argv...)
	cmd.Dir = t.Dir
	if len(t.Env) > 0 {
		cmd.Env = append(os.Environ(), t.Env...)
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		output := stderr.String()
		if strings.TrimSpace(output) == "" {
			output = stdout.String()
		}
		return nil, &ToolError{Command: fields[0], Output: output, Err: err}
	}
	return stdout.Bytes(), nil
}
