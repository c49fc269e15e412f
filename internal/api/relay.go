package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pentagent/pentagent/internal/auth"
	"github.com/pentagent/pentagent/internal/dispatch"
	"github.com/pentagent/pentagent/internal/metrics"
	"github.com/pentagent/pentagent/pkg/types"
)

// connect authenticates a remote client once with its long-lived token and
// registers the connection. The response carries a connection-scoped JWT
// used on every later call.
func (s *Server) connect(c echo.Context) error {
	var req types.ConnectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, types.ConnectResponse{
			Error: "invalid request body: " + err.Error(),
		})
	}
	if req.Token == "" || req.Name == "" {
		return c.JSON(http.StatusBadRequest, types.ConnectResponse{
			Error: "token and name are required",
		})
	}
	if req.Mode != types.IsolationContainer && req.Mode != types.IsolationHost {
		return c.JSON(http.StatusBadRequest, types.ConnectResponse{
			Error: "mode must be container or host",
		})
	}

	ctx := c.Request().Context()
	userID, err := s.tokens.VerifyToken(ctx, req.Token)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, types.ConnectResponse{
			Error: "invalid token",
		})
	}

	connection := types.RemoteConnection{
		ID:              uuid.NewString(),
		UserID:          userID,
		Name:            req.Name,
		Mode:            req.Mode,
		ContainerID:     req.ContainerID,
		OS:              req.OS,
		LastHeartbeatAt: time.Now(),
	}
	if err := s.store.CreateConnection(ctx, connection); err != nil {
		log.Printf("relay: create connection for user %s: %v", userID, err)
		return c.JSON(http.StatusInternalServerError, types.ConnectResponse{
			Error: "failed to register connection",
		})
	}
	if err := s.registry.MarkAlive(ctx, connection); err != nil {
		log.Printf("relay: initial heartbeat for %s: %v", connection.ID, err)
	}

	accessToken, err := s.jwt.IssueConnectionToken(userID, connection.ID, s.connTokenTTL)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, types.ConnectResponse{
			Error: "failed to issue access token",
		})
	}

	if s.events != nil {
		s.events.ConnectionOpened(connection)
	}
	log.Printf("relay: connection %s (%s, mode=%s) registered for user %s",
		connection.ID, connection.Name, connection.Mode, userID)

	return c.JSON(http.StatusOK, types.ConnectResponse{
		Success:      true,
		UserID:       userID,
		ConnectionID: connection.ID,
		AccessToken:  accessToken,
	})
}

func (s *Server) heartbeat(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	found, err := s.store.TouchConnection(ctx, id)
	if err != nil {
		metrics.HeartbeatsTotal.WithLabelValues("error").Inc()
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if !found {
		metrics.HeartbeatsTotal.WithLabelValues("unknown").Inc()
		return c.JSON(http.StatusNotFound, map[string]any{"success": false})
	}

	connection, err := s.store.GetConnection(ctx, id)
	if err == nil && connection != nil {
		if err := s.registry.MarkAlive(ctx, *connection); err != nil {
			log.Printf("relay: liveness refresh for %s: %v", id, err)
		}
	}

	metrics.HeartbeatsTotal.WithLabelValues("ok").Inc()
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

func (s *Server) disconnect(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	if err := s.store.DeleteConnection(ctx, id); err != nil {
		// Disconnect is best-effort cleanup; the stale sweep will finish
		// the job if this fails.
		log.Printf("relay: delete connection %s: %v", id, err)
	}
	s.registry.Drop(ctx, id)
	if s.events != nil {
		s.events.ConnectionClosed(id, "disconnect")
	}
	log.Printf("relay: connection %s disconnected", id)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) pendingCommands(c echo.Context) error {
	id := c.Param("id")

	cmds, err := s.dispatcher.PendingCommands(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if cmds == nil {
		cmds = []types.Command{}
	}
	return c.JSON(http.StatusOK, cmds)
}

func (s *Server) markExecuting(c echo.Context) error {
	connectionID := c.Param("id")
	commandID := c.Param("commandID")

	// The JWT middleware has already matched the token against the :id
	// segment; the dispatcher checks the command actually belongs to that
	// connection, so knowing another connection's command UUID is not
	// enough to claim it.
	if err := s.dispatcher.MarkExecuting(c.Request().Context(), connectionID, commandID); err != nil {
		return commandError(c, connectionID, commandID, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) submitResult(c echo.Context) error {
	connectionID := c.Param("id")
	commandID := c.Param("commandID")

	var result types.CommandResult
	if err := c.Bind(&result); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
	}
	result.CommandID = commandID

	claims, _ := auth.GetClaims(c)
	if err := s.dispatcher.SubmitResult(c.Request().Context(), connectionID, result); err != nil {
		return commandError(c, connectionID, commandID, err)
	}
	if claims != nil {
		log.Printf("relay: result for command %s (exit=%d) from user %s",
			commandID, result.ExitCode, claims.UserID)
	}
	return c.NoContent(http.StatusNoContent)
}

// commandError maps dispatch errors on the claim/result path to HTTP
// statuses: 403 for a command owned by another connection, 404 for an
// unknown command ID.
func commandError(c echo.Context, connectionID, commandID string, err error) error {
	switch {
	case errors.Is(err, dispatch.ErrNotOwned):
		log.Printf("relay: connection %s touched foreign command %s", connectionID, commandID)
		return c.JSON(http.StatusForbidden, map[string]string{
			"error": "command belongs to another connection",
		})
	case errors.Is(err, dispatch.ErrCommandNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "command not found"})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
