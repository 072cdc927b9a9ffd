package platform

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// errEmptyCommand is returned when no executable is configured.
var errEmptyCommand = errors.New("command is empty")

// runner executes a command and returns its combined output.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// runCommand waits for the command to finish.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// startCommand starts the command detached from ctx cancellation and reaps it
// in the background. The caller does not wait for it to finish.
func startCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(context.WithoutCancel(ctx), name, args...)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	go func() {
		_ = cmd.Wait()
	}()

	return nil, nil
}

// commandError adds the trimmed command output to err.
func commandError(name string, output []byte, err error) error {
	text := strings.TrimSpace(string(output))
	if text == "" {
		return fmt.Errorf("%s: %w", name, err)
	}

	return fmt.Errorf("%s: %w: %s", name, err, text)
}
