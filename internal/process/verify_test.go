package process

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeRunner answers ps queries from a canned process table and counts
// how many commands were dispatched.
type fakeRunner struct {
	calls     int
	responses map[string]string
	err       error
}

func (f *fakeRunner) RunCommand(_ context.Context, command string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	for pattern, out := range f.responses {
		if strings.Contains(command, pattern) {
			return out, nil
		}
	}
	return "", nil
}

func TestVerify_RunningAndMatching(t *testing.T) {
	runner := &fakeRunner{responses: map[string]string{
		"-p 1234": "1234 nmap -sV 10.0.0.1\n",
	}}

	status := Verify(context.Background(), runner, 1234, "nmap -sV 10.0.0.1")
	if !status.Running {
		t.Fatal("expected running=true")
	}
	if !status.Matches {
		t.Error("expected command to match")
	}
	if status.ActualCommand != "nmap -sV 10.0.0.1" {
		t.Errorf("unexpected actual command %q", status.ActualCommand)
	}
}

func TestVerify_NotRunning(t *testing.T) {
	runner := &fakeRunner{responses: map[string]string{}}

	status := Verify(context.Background(), runner, 1234, "nmap -sV 10.0.0.1")
	if status.Running {
		t.Error("expected running=false for absent PID")
	}
	if status.Matches {
		t.Error("absent process must not match")
	}
}

func TestVerify_PSFailureMeansNotRunning(t *testing.T) {
	runner := &fakeRunner{err: errors.New("connection reset")}

	status := Verify(context.Background(), runner, 1234, "sleep 60")
	if status.Running {
		t.Error("ps failure must report running=false, not an error")
	}
}

func TestVerify_NilRunner(t *testing.T) {
	status := Verify(context.Background(), nil, 1234, "sleep 60")
	if status.Running {
		t.Error("nil runner must report running=false")
	}
}

func TestCommandMatches(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		actual   string
		want     bool
	}{
		{"exact", "nmap -sV 10.0.0.1", "nmap -sV 10.0.0.1", true},
		{"actual has extra flags", "nmap -sV 10.0.0.1", "nmap -sV -p- 10.0.0.1", true},
		{"expected is substring", "python server.py", "/usr/bin/python server.py --port 8000", true},
		{"actual is substring", "/usr/bin/python server.py --port 8000", "python server.py", true},
		{"same binary different args", "nmap -sV 10.0.0.1", "nmap -sn 192.168.1.0/24", true},
		{"different binaries", "curl http://x", "wget http://x", false},
		{"empty expected", "", "nmap -sV 10.0.0.1", false},
		{"empty actual", "nmap -sV 10.0.0.1", "", false},
		{"surrounding whitespace", "  sleep 60  ", "sleep 60", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := commandMatches(tt.expected, tt.actual); got != tt.want {
				t.Errorf("commandMatches(%q, %q) = %v, want %v", tt.expected, tt.actual, got, tt.want)
			}
		})
	}
}

func TestSplitPSLine(t *testing.T) {
	tests := []struct {
		line     string
		wantPID  int
		wantArgs string
	}{
		{"1234 nmap -sV 10.0.0.1", 1234, "nmap -sV 10.0.0.1"},
		{"  567\tsleep 60", 567, "sleep 60"},
		{"89", 89, ""},
		{"", 0, ""},
	}
	for _, tt := range tests {
		pid, args := splitPSLine(tt.line)
		if pid != tt.wantPID || args != tt.wantArgs {
			t.Errorf("splitPSLine(%q) = (%d, %q), want (%d, %q)",
				tt.line, pid, args, tt.wantPID, tt.wantArgs)
		}
	}
}
