package process

import (
	"context"
	"fmt"
	"strings"

	"github.com/pentagent/pentagent/pkg/types"
)

// CheckBatch resolves every status request against one target in as few
// round-trips as possible: a single ps query covering all PIDs, with a
// per-PID fallback if the combined query cannot be read. A nil runner
// (no sandbox, no live connection) short-circuits every request to
// running=false without touching the process table.
func CheckBatch(ctx context.Context, runner Runner, reqs []types.ProcessStatusRequest) []types.ProcessStatus {
	results := make([]types.ProcessStatus, len(reqs))
	for i, req := range reqs {
		results[i] = types.ProcessStatus{PID: req.PID}
	}
	if runner == nil || len(reqs) == 0 {
		return results
	}

	pids := make([]string, len(reqs))
	for i, req := range reqs {
		pids[i] = fmt.Sprintf("%d", req.PID)
	}

	// ps exits non-zero when any requested PID is absent but still prints
	// the ones it found, so the combined query only truly fails when the
	// target itself could not run it.
	out, err := runner.RunCommand(ctx,
		fmt.Sprintf("ps -o pid=,args= -p %s || true", strings.Join(pids, ",")))
	if err != nil {
		// Combined query unreadable; fall back to one query per PID so a
		// single bad query cannot blank out every result.
		for i, req := range reqs {
			results[i] = Verify(ctx, runner, req.PID, req.ExpectedCommand)
		}
		return results
	}

	actual := make(map[int]string)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, args := splitPSLine(line)
		if pid > 0 {
			actual[pid] = args
		}
	}

	for i, req := range reqs {
		args, ok := actual[req.PID]
		if !ok {
			continue
		}
		results[i].Running = true
		results[i].ActualCommand = args
		results[i].Matches = commandMatches(req.ExpectedCommand, args)
	}
	return results
}
