package platform

import (
	"context"

	"github.com/oshokin/ota-installer/internal/logger"
)

// reboot starts the configured reboot command. The command is started
// asynchronously; the OS takes over the rest. An empty command does nothing.
func reboot(ctx context.Context, run runner, command []string) error {
	if len(command) == 0 || command[0] == "" {
		logger.Info(ctx, "No reboot command configured, recovery will apply the update on the next boot")

		return nil
	}

	logger.InfoKV(ctx, "Rebooting into recovery", "command", command)

	output, err := run(ctx, command[0], command[1:]...)
	if err != nil {
		return commandError(command[0], output, err)
	}

	return nil
}
