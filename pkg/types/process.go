package types

// ProcessStatusRequest asks whether a previously started process is still
// alive and still the process we think it is.
type ProcessStatusRequest struct {
	PID             int    `json:"pid"`
	ExpectedCommand string `json:"expectedCommand"`
}

// ProcessStatus is the answer for one PID. Matches uses a deliberately
// permissive comparison (substring or first-token equality) so a process
// that re-exec'd with extra flags is still recognized.
type ProcessStatus struct {
	PID           int    `json:"pid"`
	Running       bool   `json:"running"`
	ActualCommand string `json:"actualCommand,omitempty"`
	Matches       bool   `json:"matches"`
}
