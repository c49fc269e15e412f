package process

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// liveRunner behaves like a small process table: ps queries answer from
// the table and kill commands mutate it.
type liveRunner struct {
	procs      map[int]string
	ignoreTerm bool
	termCalls  int
	killCalls  int
}

func newLiveRunner(procs map[int]string) *liveRunner {
	return &liveRunner{procs: procs}
}

func (l *liveRunner) RunCommand(_ context.Context, command string) (string, error) {
	switch {
	case strings.HasPrefix(command, "kill -TERM "):
		l.termCalls++
		var pid int
		fmt.Sscanf(command, "kill -TERM %d", &pid)
		if !l.ignoreTerm {
			delete(l.procs, pid)
		}
		return "", nil
	case strings.HasPrefix(command, "kill -KILL "):
		l.killCalls++
		var pid int
		fmt.Sscanf(command, "kill -KILL %d", &pid)
		delete(l.procs, pid)
		return "", nil
	case strings.HasPrefix(command, "ps "):
		var out strings.Builder
		for pid, args := range l.procs {
			if strings.Contains(command, fmt.Sprintf("%d", pid)) {
				fmt.Fprintf(&out, "%d %s\n", pid, args)
			}
		}
		return out.String(), nil
	}
	return "", errors.New("unexpected command: " + command)
}

func TestTracker_RegisterAndGet(t *testing.T) {
	tracker := NewTracker()

	if err := tracker.Register(1234, "nmap -sV 10.0.0.1", "call-1", "sb-1"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	p, ok := tracker.Get(1234, "sb-1")
	if !ok {
		t.Fatal("expected process to be tracked")
	}
	if p.ExpectedCommand != "nmap -sV 10.0.0.1" || p.ToolCallID != "call-1" {
		t.Errorf("unexpected tracked process: %+v", p)
	}

	if _, ok := tracker.Get(1234, "sb-2"); ok {
		t.Error("same PID on another sandbox must not resolve")
	}
}

func TestTracker_DuplicateRegister(t *testing.T) {
	tracker := NewTracker()

	if err := tracker.Register(1234, "sleep 600", "call-1", "sb-1"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	err := tracker.Register(1234, "sleep 600", "call-2", "sb-1")
	var dup *DuplicateProcessError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateProcessError, got %v", err)
	}
	if dup.PID != 1234 || dup.SandboxID != "sb-1" {
		t.Errorf("unexpected duplicate error: %+v", dup)
	}

	// The same PID is fine on a different sandbox.
	if err := tracker.Register(1234, "sleep 600", "call-3", "sb-2"); err != nil {
		t.Errorf("Register() on second sandbox error: %v", err)
	}
}

func TestTracker_RefreshStatus(t *testing.T) {
	tracker := NewTracker()
	runner := newLiveRunner(map[int]string{
		100: "nmap -sV 10.0.0.1",
	})

	if err := tracker.Register(100, "nmap -sV 10.0.0.1", "call-1", "sb-1"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := tracker.Register(200, "gobuster dir -u http://x", "call-2", "sb-1"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	statuses := tracker.RefreshStatus(context.Background(), func(string) Runner { return runner })
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}

	// Exited processes stay registered with their last known status.
	p, ok := tracker.Get(200, "sb-1")
	if !ok {
		t.Fatal("exited process must remain tracked")
	}
	if p.LastStatus == nil || p.LastStatus.Running {
		t.Errorf("expected last status running=false, got %+v", p.LastStatus)
	}
	if p.LastCheckedAt.IsZero() {
		t.Error("expected LastCheckedAt to be set")
	}

	p, _ = tracker.Get(100, "sb-1")
	if p.LastStatus == nil || !p.LastStatus.Running || !p.LastStatus.Matches {
		t.Errorf("expected pid 100 running and matching, got %+v", p.LastStatus)
	}
}

func TestTracker_RefreshStatusUnreachableTarget(t *testing.T) {
	tracker := NewTracker()
	if err := tracker.Register(100, "sleep 600", "call-1", "sb-1"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	statuses := tracker.RefreshStatus(context.Background(), func(string) Runner { return nil })
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}
	if statuses[0].Running {
		t.Error("unreachable target must report running=false")
	}
}

func TestTracker_KillGraceful(t *testing.T) {
	tracker := NewTracker()
	tracker.KillGrace = 40 * time.Millisecond
	runner := newLiveRunner(map[int]string{100: "sleep 600"})

	if err := tracker.Register(100, "sleep 600", "call-1", "sb-1"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	killed, err := tracker.Kill(context.Background(), runner, 100, "sb-1")
	if err != nil {
		t.Fatalf("Kill() error: %v", err)
	}
	if !killed {
		t.Error("expected killed=true")
	}
	if runner.termCalls != 1 {
		t.Errorf("expected 1 SIGTERM, got %d", runner.termCalls)
	}
	if runner.killCalls != 0 {
		t.Errorf("process exited on SIGTERM, SIGKILL should not be sent (got %d)", runner.killCalls)
	}
	if _, ok := tracker.Get(100, "sb-1"); ok {
		t.Error("killed process must be deregistered")
	}
}

func TestTracker_KillEscalatesToSIGKILL(t *testing.T) {
	tracker := NewTracker()
	tracker.KillGrace = 40 * time.Millisecond
	runner := newLiveRunner(map[int]string{100: "sleep 600"})
	runner.ignoreTerm = true

	if err := tracker.Register(100, "sleep 600", "call-1", "sb-1"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	killed, err := tracker.Kill(context.Background(), runner, 100, "sb-1")
	if err != nil {
		t.Fatalf("Kill() error: %v", err)
	}
	if !killed {
		t.Error("expected killed=true after escalation")
	}
	if runner.killCalls != 1 {
		t.Errorf("expected 1 SIGKILL, got %d", runner.killCalls)
	}
	if _, ok := tracker.Get(100, "sb-1"); ok {
		t.Error("killed process must be deregistered")
	}
}

func TestTracker_KillAlreadyExited(t *testing.T) {
	tracker := NewTracker()
	runner := newLiveRunner(map[int]string{})

	if err := tracker.Register(100, "sleep 600", "call-1", "sb-1"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	killed, err := tracker.Kill(context.Background(), runner, 100, "sb-1")
	if err != nil {
		t.Fatalf("Kill() of exited process error: %v", err)
	}
	if killed {
		t.Error("expected killed=false for a process that already exited")
	}
	if runner.termCalls != 0 {
		t.Errorf("no signal should be sent to an exited process, got %d SIGTERMs", runner.termCalls)
	}
	if _, ok := tracker.Get(100, "sb-1"); ok {
		t.Error("exited process must be deregistered by Kill")
	}
}

func TestTracker_RemoveSandbox(t *testing.T) {
	tracker := NewTracker()
	for _, reg := range []struct {
		pid     int
		sandbox string
	}{
		{100, "sb-1"}, {200, "sb-1"}, {300, "sb-2"},
	} {
		if err := tracker.Register(reg.pid, "sleep 600", "call", reg.sandbox); err != nil {
			t.Fatalf("Register(%d) error: %v", reg.pid, err)
		}
	}

	tracker.RemoveSandbox("sb-1")

	if len(tracker.List()) != 1 {
		t.Errorf("expected 1 remaining process, got %d", len(tracker.List()))
	}
	if _, ok := tracker.Get(300, "sb-2"); !ok {
		t.Error("other sandbox's process must survive")
	}
}
