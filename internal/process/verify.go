// Package process tracks OS processes started by agent tool calls and
// verifies, across independent tool invocations, that a remembered PID
// still belongs to the command that was launched.
package process

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pentagent/pentagent/pkg/types"
)

// Runner executes one shell command against an execution target and
// returns its stdout. Both sandbox and remote-connection targets satisfy
// this; tests use fakes.
type Runner interface {
	RunCommand(ctx context.Context, command string) (string, error)
}

// Verify checks whether pid is alive on the target and still matches the
// expected command line. Any failure to read the process table is reported
// as running=false, never as an error: absence of evidence is treated as
// "not running" because tools probe optimistically.
func Verify(ctx context.Context, runner Runner, pid int, expectedCommand string) types.ProcessStatus {
	status := types.ProcessStatus{PID: pid}
	if runner == nil {
		return status
	}

	out, err := runner.RunCommand(ctx, fmt.Sprintf("ps -p %d -o pid=,args=", pid))
	if err != nil {
		return status
	}

	line := strings.TrimSpace(out)
	if line == "" {
		return status
	}

	_, actual := splitPSLine(line)
	status.Running = true
	status.ActualCommand = actual
	status.Matches = commandMatches(expectedCommand, actual)
	return status
}

// commandMatches is deliberately permissive: the actual command line may
// contain the expected command as a substring (re-exec'd with extra flags),
// or share its first token (invoked through a wrapper). Two unrelated
// scripts run by the same interpreter will therefore both match — a known
// precision tradeoff; false mismatches hurt the agent's situational
// awareness more than false matches.
func commandMatches(expected, actual string) bool {
	expected = strings.TrimSpace(expected)
	actual = strings.TrimSpace(actual)
	if expected == "" || actual == "" {
		return false
	}
	if strings.Contains(actual, expected) || strings.Contains(expected, actual) {
		return true
	}
	return firstToken(expected) == firstToken(actual)
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// splitPSLine splits a "PID ARGS..." line from ps output.
func splitPSLine(line string) (pid int, args string) {
	line = strings.TrimSpace(line)
	idx := strings.IndexAny(line, " \t")
	if idx < 0 {
		pid, _ = strconv.Atoi(line)
		return pid, ""
	}
	pid, _ = strconv.Atoi(line[:idx])
	return pid, strings.TrimSpace(line[idx:])
}
