package process

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pentagent/pentagent/internal/shell"
)

// LaunchDetached starts a command in the background on the target and
// returns the PID of the detached process. The launch itself is a normal
// foreground round-trip; only the launched process outlives it.
func LaunchDetached(ctx context.Context, runner Runner, command, cwd string, env map[string]string) (int, error) {
	if runner == nil {
		return 0, fmt.Errorf("no execution target available")
	}

	launch := fmt.Sprintf("nohup sh -c %s >/dev/null 2>&1 & echo $!",
		shell.Quote(shell.Prefixed(command, cwd, env)))

	out, err := runner.RunCommand(ctx, launch)
	if err != nil {
		return 0, fmt.Errorf("launch background command: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("background launch returned no PID (output %q)", strings.TrimSpace(out))
	}
	return pid, nil
}
