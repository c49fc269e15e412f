package types

import "time"

// IsolationMode selects where a remote client runs commands.
type IsolationMode string

const (
	// IsolationContainer runs commands inside a long-lived Docker container.
	IsolationContainer IsolationMode = "container"
	// IsolationHost runs commands directly on the client's host. No
	// isolation is in effect; the client warns loudly at startup.
	IsolationHost IsolationMode = "host"
)

// OSInfo describes the host a remote client runs on. Only reported in
// host mode, where the agent needs to know what platform it is driving.
type OSInfo struct {
	// Platform and Arch use Go's GOOS/GOARCH vocabulary ("linux",
	// "amd64").
	Platform string `json:"platform"`
	Arch     string `json:"arch"`
	Hostname string `json:"hostname,omitempty"`
}

// RemoteConnection is a user-operated client registered with the backend.
// Updated on every heartbeat; considered disconnected once no heartbeat
// arrives within the liveness window.
type RemoteConnection struct {
	ID              string        `json:"connectionID"`
	UserID          string        `json:"userID"`
	Name            string        `json:"name"`
	Mode            IsolationMode `json:"mode"`
	ContainerID     string        `json:"containerID,omitempty"`
	OS              *OSInfo       `json:"os,omitempty"`
	LastHeartbeatAt time.Time     `json:"lastHeartbeatAt"`
}

// ConnectRequest is the one-time authentication payload of a remote client.
type ConnectRequest struct {
	Token       string        `json:"token"`
	Name        string        `json:"name"`
	Mode        IsolationMode `json:"mode"`
	ContainerID string        `json:"containerID,omitempty"`
	OS          *OSInfo       `json:"os,omitempty"`
}

// ConnectResponse is returned on successful authentication. AccessToken is
// a connection-scoped credential used for all subsequent calls.
type ConnectResponse struct {
	Success      bool   `json:"success"`
	UserID       string `json:"userID,omitempty"`
	ConnectionID string `json:"connectionID,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	Error        string `json:"error,omitempty"`
}
