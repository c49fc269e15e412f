package db

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pentagent/pentagent/internal/dispatch"
	"github.com/pentagent/pentagent/pkg/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store provides data access to the global PostgreSQL database: remote
// connections, dispatched commands, and their results. It implements
// dispatch.Store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with a connection pool.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate runs database migrations.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err = s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	migrations := []struct {
		version  int
		filename string
	}{
		{1, "migrations/001_initial.up.sql"},
	}

	for _, m := range migrations {
		if currentVersion >= m.version {
			continue
		}
		sql, err := migrationsFS.ReadFile(m.filename)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", m.filename, err)
		}
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", m.version, err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("failed to apply migration %03d: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
			return fmt.Errorf("failed to record migration %03d: %w", m.version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %03d: %w", m.version, err)
		}
	}

	return nil
}

// --- Connection operations ---

// CreateConnection records a freshly authenticated remote connection.
func (s *Store) CreateConnection(ctx context.Context, conn types.RemoteConnection) error {
	var platform, arch, hostname *string
	if conn.OS != nil {
		platform, arch, hostname = &conn.OS.Platform, &conn.OS.Arch, &conn.OS.Hostname
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO connections (id, user_id, name, mode, container_id, os_platform, os_arch, os_hostname, last_heartbeat_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, now())
	`, conn.ID, conn.UserID, conn.Name, string(conn.Mode), conn.ContainerID, platform, arch, hostname)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

// GetConnection fetches a connection by ID. Returns nil when absent.
func (s *Store) GetConnection(ctx context.Context, connectionID string) (*types.RemoteConnection, error) {
	var (
		conn                     types.RemoteConnection
		mode                     string
		containerID              *string
		platform, arch, hostname *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, name, mode, container_id, os_platform, os_arch, os_hostname, last_heartbeat_at
		FROM connections WHERE id = $1
	`, connectionID).Scan(&conn.ID, &conn.UserID, &conn.Name, &mode, &containerID,
		&platform, &arch, &hostname, &conn.LastHeartbeatAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	conn.Mode = types.IsolationMode(mode)
	if containerID != nil {
		conn.ContainerID = *containerID
	}
	if platform != nil {
		conn.OS = &types.OSInfo{Platform: *platform}
		if arch != nil {
			conn.OS.Arch = *arch
		}
		if hostname != nil {
			conn.OS.Hostname = *hostname
		}
	}
	return &conn, nil
}

// TouchConnection updates a connection's heartbeat timestamp. Returns
// false when the connection no longer exists.
func (s *Store) TouchConnection(ctx context.Context, connectionID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE connections SET last_heartbeat_at = now() WHERE id = $1`, connectionID)
	if err != nil {
		return false, fmt.Errorf("failed to touch connection: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteConnection removes a connection on explicit disconnect.
func (s *Store) DeleteConnection(ctx context.Context, connectionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM connections WHERE id = $1`, connectionID); err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return nil
}

// SweepStaleConnections deletes connections whose last heartbeat is older
// than the liveness window and returns their IDs.
func (s *Store) SweepStaleConnections(ctx context.Context, window time.Duration) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM connections
		WHERE last_heartbeat_at < now() - make_interval(secs => $1)
		RETURNING id
	`, window.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to sweep stale connections: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan stale connection: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Command queue operations (dispatch.Store) ---

// EnqueueCommand records a new pending command.
func (s *Store) EnqueueCommand(ctx context.Context, cmd types.Command) error {
	envs, err := json.Marshal(cmd.Env)
	if err != nil {
		return fmt.Errorf("failed to marshal envs: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO commands (id, connection_id, command, cwd, envs, timeout_ms, status, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, 'pending', $7)
	`, cmd.ID, cmd.ConnectionID, cmd.Text, cmd.Cwd, envs, cmd.TimeoutMs, cmd.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue command: %w", err)
	}
	return nil
}

// PendingCommands returns unclaimed commands for a connection, oldest first.
func (s *Store) PendingCommands(ctx context.Context, connectionID string) ([]types.Command, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, connection_id, command, COALESCE(cwd, ''), envs, timeout_ms, status, created_at
		FROM commands
		WHERE connection_id = $1 AND status = 'pending'
		ORDER BY created_at
	`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending commands: %w", err)
	}
	defer rows.Close()

	var cmds []types.Command
	for rows.Next() {
		var (
			cmd    types.Command
			envs   []byte
			status string
		)
		if err := rows.Scan(&cmd.ID, &cmd.ConnectionID, &cmd.Text, &cmd.Cwd, &envs, &cmd.TimeoutMs, &status, &cmd.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		if len(envs) > 0 {
			if err := json.Unmarshal(envs, &cmd.Env); err != nil {
				return nil, fmt.Errorf("failed to unmarshal envs for %s: %w", cmd.ID, err)
			}
		}
		cmd.Status = types.CommandStatus(status)
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

// MarkExecuting claims a command for a connection. The WHERE clause makes a
// second claim a no-op, so a retried poll cannot re-run a command. When no
// row is updated the ownership check distinguishes an already-claimed
// command from one dispatched to a different connection.
func (s *Store) MarkExecuting(ctx context.Context, connectionID, commandID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE commands SET status = 'executing'
		WHERE id = $1 AND connection_id = $2 AND status = 'pending'
	`, commandID, connectionID)
	if err != nil {
		return fmt.Errorf("failed to mark command executing: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.checkCommandOwner(ctx, connectionID, commandID)
}

// checkCommandOwner verifies that a command exists and was dispatched to
// connectionID.
func (s *Store) checkCommandOwner(ctx context.Context, connectionID, commandID string) error {
	var owner string
	err := s.pool.QueryRow(ctx,
		`SELECT connection_id FROM commands WHERE id = $1`, commandID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("command %s: %w", commandID, dispatch.ErrCommandNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up command owner: %w", err)
	}
	if owner != connectionID {
		return fmt.Errorf("command %s: %w", commandID, dispatch.ErrNotOwned)
	}
	return nil
}

// MarkAbandoned marks a never-claimed command the dispatcher gave up on.
func (s *Store) MarkAbandoned(ctx context.Context, commandID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE commands SET status = 'abandoned' WHERE id = $1 AND status = 'pending'`, commandID)
	if err != nil {
		return fmt.Errorf("failed to mark command abandoned: %w", err)
	}
	return nil
}

// CommandStatus returns the lifecycle state of a command.
func (s *Store) CommandStatus(ctx context.Context, commandID string) (types.CommandStatus, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM commands WHERE id = $1`, commandID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("command %s: %w", commandID, dispatch.ErrCommandNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get command status: %w", err)
	}
	return types.CommandStatus(status), nil
}

// SubmitResult stores a result. ON CONFLICT DO UPDATE gives last-write-wins
// semantics for clients retrying a submission. The ownership check runs
// first so one connection cannot write a result for another's command.
func (s *Store) SubmitResult(ctx context.Context, connectionID string, result types.CommandResult) error {
	if err := s.checkCommandOwner(ctx, connectionID, result.CommandID); err != nil {
		return err
	}

	stdout, stderr, compressed := compressOutputs(result.Stdout, result.Stderr)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO command_results (command_id, stdout, stderr, compressed, exit_code, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (command_id) DO UPDATE SET
			stdout = EXCLUDED.stdout,
			stderr = EXCLUDED.stderr,
			compressed = EXCLUDED.compressed,
			exit_code = EXCLUDED.exit_code,
			duration_ms = EXCLUDED.duration_ms,
			submitted_at = now()
	`, result.CommandID, stdout, stderr, compressed, result.ExitCode, result.DurationMs)
	if err != nil {
		return fmt.Errorf("failed to submit result: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE commands SET status = 'completed'
		WHERE id = $1 AND status IN ('pending', 'executing')
	`, result.CommandID)
	if err != nil {
		return fmt.Errorf("failed to complete command: %w", err)
	}
	return nil
}

// Result returns the stored result for a command, or nil if none yet.
func (s *Store) Result(ctx context.Context, commandID string) (*types.CommandResult, error) {
	var (
		result         types.CommandResult
		stdout, stderr []byte
		compressed     bool
	)
	err := s.pool.QueryRow(ctx, `
		SELECT command_id, stdout, stderr, compressed, exit_code, duration_ms
		FROM command_results WHERE command_id = $1
	`, commandID).Scan(&result.CommandID, &stdout, &stderr, &compressed, &result.ExitCode, &result.DurationMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	result.Stdout, result.Stderr, err = decompressOutputs(stdout, stderr, compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress result %s: %w", commandID, err)
	}
	return &result, nil
}
