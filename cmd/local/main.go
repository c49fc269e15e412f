// pentagent-local is the remote execution client: it runs on the end
// user's machine, polls the relay backend for commands, executes them in
// a Docker container (or directly on the host with --dangerous), and
// reports results.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pentagent/pentagent/internal/local"
	"github.com/pentagent/pentagent/pkg/types"
)

var (
	flagToken      string
	flagName       string
	flagImage      string
	flagDangerous  bool
	flagBackendURL string
)

var rootCmd = &cobra.Command{
	Use:   "pentagent-local",
	Short: "Run a local execution client for the pentagent backend",
	Long: `pentagent-local connects your machine to the pentagent backend so the
agent can run commands here instead of in a cloud sandbox.

By default commands execute inside a Docker container. With --dangerous
they run directly on this host with no isolation.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		token := flagToken
		if token == "" {
			var err error
			token, err = promptToken()
			if err != nil {
				return err
			}
		}
		if token == "" {
			return fmt.Errorf("a connect token is required (--token or PENTAGENT_TOKEN)")
		}

		name := flagName
		if name == "" {
			name, _ = os.Hostname()
		}

		mode := types.IsolationContainer
		if flagDangerous {
			mode = types.IsolationHost
		}

		agent := local.New(local.Config{
			Token:      token,
			Name:       name,
			Image:      flagImage,
			Mode:       mode,
			BackendURL: flagBackendURL,
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		return agent.Run(ctx)
	},
}

// promptToken reads the token interactively when stdin is a terminal, so
// it never lands in shell history.
func promptToken() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", nil
	}
	fmt.Fprint(os.Stderr, "Connect token: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return string(raw), nil
}

func init() {
	rootCmd.Flags().StringVar(&flagToken, "token", os.Getenv("PENTAGENT_TOKEN"), "Long-lived connect token")
	rootCmd.Flags().StringVar(&flagName, "name", "", "Human-readable connection name (default: hostname)")
	rootCmd.Flags().StringVar(&flagImage, "image", "", "Execution container image (default: "+local.DefaultImage+")")
	rootCmd.Flags().BoolVar(&flagDangerous, "dangerous", false, "Run commands directly on this host without container isolation")
	rootCmd.Flags().StringVar(&flagBackendURL, "backend-url",
		envOrDefault("PENTAGENT_BACKEND_URL", "http://localhost:8080"), "Relay backend base URL")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	if err := rootCmd.Execute(); err != nil {
		log.Printf("pentagent-local: %v", err)
		os.Exit(1)
	}
}
