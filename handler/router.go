package handler

import (
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"teams-answer-bot/internal/logger"
	"teams-answer-bot/internal/usecase"
)

const maxActivityBytes = 1 << 20

// NewRouter serves the bot over HTTP for hosts outside Lambda.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/api/messages", h.Messages)
	return router
}

// Messages is the Bot Framework messaging endpoint.
func (h *Handler) Messages(c *gin.Context) {
	corrID := correlationID(map[string]string{correlationHeader: c.GetHeader(correlationHeader)})
	ctx := logger.WithFields(c.Request.Context(), logger.Fields{CorrelationID: corrID, Component: "http"})
	c.Header(correlationHeader, corrID)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxActivityBytes))
	if err != nil {
		slog.WarnContext(ctx, "read activity body failed", "error", err)
		c.JSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "unreadable_body"})
		return
	}

	status, payload := h.process(ctx, c.GetHeader(authorizationHeader), body)
	if payload == nil {
		c.Status(status)
		return
	}
	c.JSON(status, payload)
}

func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				slog.ErrorContext(c.Request.Context(), "panic recovered",
					"error", err,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
			}
		}()
		c.Next()
	}
}
