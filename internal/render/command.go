package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"latex-equations/internal/logger"
)

const (
	// EngineCommand is the name of the external command engine
	EngineCommand = "command"
	// DefaultCommandTimeout bounds one external render
	DefaultCommandTimeout = 20 * time.Second
)

// CommandRenderer runs an external tex2svg-compatible program. The TeX source
// is passed as the last argument and the SVG is read from stdout.
type CommandRenderer struct {
	command string
	args    []string
	timeout time.Duration
}

// NewCommandRenderer creates a renderer for command. args are placed before
// the equation source.
func NewCommandRenderer(command string, args []string, timeout time.Duration) *CommandRenderer {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &CommandRenderer{
		command: command,
		args:    append([]string(nil), args...),
		timeout: timeout,
	}
}

// Name returns "command".
func (r *CommandRenderer) Name() string {
	return EngineCommand
}

// Version returns the executable name.
func (r *CommandRenderer) Version() string {
	return filepath.Base(r.command)
}

// Render runs the command once. A missing executable, a timeout or a
// cancelled context is KindUnavailable; a non-zero exit is KindSyntax.
func (r *CommandRenderer) Render(ctx context.Context, latex string, opts Options) (string, error) {
	source := Source(latex, opts)
	if strings.TrimSpace(source) == "" {
		return "", syntaxError("empty equation", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := append([]string(nil), r.args...)
	if opts.Inline() {
		args = append(args, "--inline")
	}
	args = append(args, source)

	cmd := exec.CommandContext(ctx, r.command, args...)
	// children that inherit stdout must not hold Run open past the kill
	cmd.WaitDelay = time.Second
	hideWindowOnWindows(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", unavailableError(fmt.Sprintf("render timed out after %v", r.timeout), ctx.Err())
	}
	if ctx.Err() != nil {
		return "", unavailableError("render cancelled", ctx.Err())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = strings.TrimSpace(stdout.String())
			}
			if msg == "" {
				msg = exitErr.Error()
			}
			return "", syntaxError(msg, err)
		}
		logger.Error("render command failed to start", err, logger.String("command", r.command))
		return "", unavailableError(fmt.Sprintf("render command %q unavailable", r.command), err)
	}

	out := stdout.String()
	if m := mathJaxErrorPattern.FindStringSubmatch(out); m != nil {
		return "", syntaxError(m[1], nil)
	}
	if !strings.Contains(out, "<svg") {
		return "", syntaxError(strings.TrimSpace(out+"\n"+stderr.String()), nil)
	}

	logger.Debug("equation rendered by command",
		logger.String("command", r.command),
		logger.Duration("elapsed", time.Since(start)))
	return out, nil
}
