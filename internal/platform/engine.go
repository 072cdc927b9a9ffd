package platform

import (
	"context"
	"strconv"
	"strings"

	"github.com/oshokin/ota-installer/internal/config"
	"github.com/oshokin/ota-installer/internal/logger"
)

// CommandEngine drives the platform update engine through its command-line client.
type CommandEngine struct {
	command         string
	performanceArgs []string
	run             runner
}

// NewCommandEngine returns an engine invoking the configured client.
func NewCommandEngine(cfg config.EngineConfig) *CommandEngine {
	return &CommandEngine{
		command:         cfg.Command,
		performanceArgs: append([]string(nil), cfg.PerformanceArgs...),
		run:             runCommand,
	}
}

// ApplyPayload asks the engine to stream length bytes at offset of the file at path.
func (e *CommandEngine) ApplyPayload(
	ctx context.Context,
	path string,
	offset, length uint64,
	properties []string,
) error {
	if e.command == "" {
		return errEmptyCommand
	}

	args := ApplyArgs(path, offset, length, properties)

	logger.DebugKV(ctx, "Calling update engine", "command", e.command, "args", args)

	output, err := e.run(ctx, e.command, args...)
	if err != nil {
		return commandError(e.command, output, err)
	}

	return nil
}

// SetPerformanceMode passes the configured performance arguments to the client.
// Without configured arguments the request is a no-op.
func (e *CommandEngine) SetPerformanceMode(ctx context.Context, enabled bool) error {
	if !enabled || len(e.performanceArgs) == 0 {
		logger.Debug(ctx, "Performance mode request skipped")

		return nil
	}

	if e.command == "" {
		return errEmptyCommand
	}

	output, err := e.run(ctx, e.command, e.performanceArgs...)
	if err != nil {
		return commandError(e.command, output, err)
	}

	return nil
}

// ApplyArgs builds the update engine client arguments for a payload.
func ApplyArgs(path string, offset, length uint64, properties []string) []string {
	return []string{
		"--update",
		"--payload=file://" + path,
		"--offset=" + strconv.FormatUint(offset, 10),
		"--size=" + strconv.FormatUint(length, 10),
		"--headers=" + strings.Join(properties, "\n"),
	}
}
