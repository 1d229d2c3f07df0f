// Package server is the HTTP surface of the generation service.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ubuygold/gosparklio/internal/coordinator"
	"github.com/ubuygold/gosparklio/internal/failure"
	"github.com/ubuygold/gosparklio/internal/model"
	"github.com/ubuygold/gosparklio/internal/quota"
)

// Runner executes generation batches.
type Runner interface {
	Run(ctx context.Context, req model.GenerationRequest, userID string) (coordinator.Batch, error)
}

// Vault manages the caller's own API key.
type Vault interface {
	Persist(ctx context.Context, userID, secret string) error
	Remove(ctx context.Context, userID string) error
	HasCredential(ctx context.Context, userID string) bool
}

// UsageReporter reports quota usage.
type UsageReporter interface {
	Stats(ctx context.Context, key string, personal bool) (quota.Usage, error)
}

// HealthFunc reports whether the service dependencies are reachable.
type HealthFunc func(ctx context.Context) error

type CredentialRequest struct {
	APIKey string `json:"api_key"`
}

type UsageResponse struct {
	quota.Usage
	Personal bool `json:"personal"`
}

type Handler struct {
	runner Runner
	vault  Vault
	usage  UsageReporter
	health HealthFunc
	logger *slog.Logger
}

func NewHandler(runner Runner, vault Vault, usage UsageReporter, health HealthFunc, log *slog.Logger) *Handler {
	return &Handler{runner: runner, vault: vault, usage: usage, health: health, logger: log.With("component", "server")}
}

func (h *Handler) GenerateHandler(c *gin.Context) {
	var req model.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	req.ID = ""

	batch, err := h.runner.Run(c.Request.Context(), req, UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (h *Handler) PutCredentialHandler(c *gin.Context) {
	var req CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := h.vault.Persist(c.Request.Context(), UserID(c), req.APIKey); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "API key saved successfully"})
}

func (h *Handler) DeleteCredentialHandler(c *gin.Context) {
	if err := h.vault.Remove(c.Request.Context(), UserID(c)); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "API key removed successfully"})
}

func (h *Handler) UsageHandler(c *gin.Context) {
	userID := UserID(c)
	personal := h.vault.HasCredential(c.Request.Context(), userID)
	usage, err := h.usage.Stats(c.Request.Context(), userID, personal)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, UsageResponse{Usage: usage, Personal: personal})
}

func (h *Handler) HealthHandler(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			h.logger.Error("Health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// StatusFor maps a failure kind to the HTTP status returned to clients.
func StatusFor(err error) int {
	switch failure.KindOf(err) {
	case failure.KindValidation:
		return http.StatusBadRequest
	case failure.KindNeedsCredential, failure.KindInvalidCredential:
		return http.StatusUnauthorized
	case failure.KindQuotaDenied, failure.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case failure.KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	body := gin.H{
		"error": failure.UserMessage(err),
		"kind":  failure.KindOf(err).String(),
	}
	if failure.NeedsOnboarding(err) {
		body["action"] = "onboard"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", c.Request.URL.Path, "status", status, "error", err)
	}
	c.JSON(status, body)
}
