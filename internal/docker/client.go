// Package docker wraps the docker CLI for the remote execution client's
// containerized isolation mode.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Client wraps the docker CLI for container operations.
type Client struct {
	binaryPath string
}

// ExecResult holds the output from a docker command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// NewClient creates a new Docker client. It verifies docker is available
// and reachable (the daemon may be down even when the binary exists).
func NewClient(ctx context.Context) (*Client, error) {
	path, err := exec.LookPath("docker")
	if err != nil {
		return nil, fmt.Errorf("docker not found in PATH: %w", err)
	}

	client := &Client{binaryPath: path}
	if _, err := client.Version(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Version returns the docker client version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	result, err := c.Run(ctx, "--version")
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("docker not available (exit %d): %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return strings.TrimSpace(result.Stdout), nil
}

// Run executes a docker command and returns the result.
func (c *Client) Run(ctx context.Context, args ...string) (*ExecResult, error) {
	cmd := exec.CommandContext(ctx, c.binaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("docker exec failed: %w", err)
	}

	return result, nil
}

// ImageExists reports whether an image is available locally.
func (c *Client) ImageExists(ctx context.Context, image string) (bool, error) {
	result, err := c.Run(ctx, "images", "-q", image)
	if err != nil {
		return false, err
	}
	if result.ExitCode != 0 {
		return false, fmt.Errorf("docker images failed (exit %d): %s",
			result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return strings.TrimSpace(result.Stdout) != "", nil
}

// PullImage pulls an image from its registry.
func (c *Client) PullImage(ctx context.Context, image string) error {
	result, err := c.Run(ctx, "pull", image)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("docker pull %s failed (exit %d): %s",
			image, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}
