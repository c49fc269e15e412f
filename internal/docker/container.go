package docker

import (
	"context"
	"fmt"
	"strings"
)

// ContainerConfig defines how to create the long-lived execution container.
type ContainerConfig struct {
	Name    string
	Image   string
	Labels  map[string]string
	Memory  string // e.g. "2g"
	CPUs    string // e.g. "2"
	Network string // "bridge" so pentest tools can reach targets
}

// DefaultContainerConfig returns the config for a client's execution
// container: networked (the whole point is reaching scan targets) and kept
// alive by a no-op long-running process.
func DefaultContainerConfig(name, image string) ContainerConfig {
	return ContainerConfig{
		Name:    name,
		Image:   image,
		Labels:  map[string]string{"pentagent.role": "execution"},
		Memory:  "2g",
		CPUs:    "2",
		Network: "bridge",
	}
}

// CreateContainer creates and starts the long-lived container. Returns the
// container ID.
func (c *Client) CreateContainer(ctx context.Context, cfg ContainerConfig) (string, error) {
	args := []string{"run", "-d", "--name", cfg.Name}

	for k, v := range cfg.Labels {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, v))
	}
	if cfg.Memory != "" {
		args = append(args, "--memory", cfg.Memory)
	}
	if cfg.CPUs != "" {
		args = append(args, "--cpus", cfg.CPUs)
	}
	if cfg.Network != "" {
		args = append(args, "--network", cfg.Network)
	}

	// sleep infinity keeps the container alive between exec round-trips.
	args = append(args, cfg.Image, "sleep", "infinity")

	result, err := c.Run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", cfg.Name, err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("docker run failed (exit %d): %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	return strings.TrimSpace(result.Stdout), nil
}

// ExecInContainer runs a shell command inside the container. A non-zero
// command exit is returned as a result, not an error.
func (c *Client) ExecInContainer(ctx context.Context, containerID, command string) (*ExecResult, error) {
	return c.Run(ctx, "exec", containerID, "sh", "-c", command)
}

// RemoveContainer force-removes the container. Removing an already-gone
// container is not an error; teardown must be idempotent.
func (c *Client) RemoveContainer(ctx context.Context, containerID string) error {
	result, err := c.Run(ctx, "rm", "-f", containerID)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		stderr := strings.TrimSpace(result.Stderr)
		if strings.Contains(stderr, "No such container") {
			return nil
		}
		return fmt.Errorf("docker rm failed (exit %d): %s", result.ExitCode, stderr)
	}
	return nil
}
