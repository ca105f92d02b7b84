// Package middleware provides Gin middleware for the Pilot routing engine:
// request logging, panic recovery, rate limiting, and admin key authentication.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/cache"
)

// Logging returns a Gin middleware that logs request and response metadata:
// method, path, status code, latency, and client IP.
func Logging(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("body_size", c.Writer.Size()),
		}

		switch {
		case status >= 500:
			fields = append(fields, zap.String("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()))
			logger.Error("request", fields...)
		case status >= 400:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}

// Recovery returns a Gin middleware that recovers from panics and returns a
// 500 error instead of crashing the server.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.Any("panic", err),
					zap.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "internal_server_error",
					"message": "An unexpected error occurred.",
				})
			}
		}()
		c.Next()
	}
}

// RateLimit returns a Gin middleware that enforces per-client fixed-window
// rate limiting using Redis. It allows maxRequests within the specified window.
func RateLimit(c *cache.Cache, logger *zap.Logger, maxRequests int64, window time.Duration) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		// Identify the client by API key, falling back to IP address.
		id := ctx.GetHeader("X-API-Key")
		if id == "" {
			id = strings.TrimPrefix(ctx.GetHeader("Authorization"), "Bearer ")
		}
		if id == "" {
			id = ctx.ClientIP()
		}

		// Use only the first 16 chars of the key for privacy in Redis.
		if len(id) > 16 {
			id = id[:16]
		}

		allowed, err := c.RateLimitCheck(ctx.Request.Context(), id, maxRequests, window)
		if err != nil {
			// On Redis error, allow the request but log the issue.
			logger.Warn("rate limit check failed", zap.Error(err))
			ctx.Next()
			return
		}

		if !allowed {
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests. Please slow down.",
			})
			return
		}

		ctx.Next()
	}
}

// AdminKeyAuth returns a Gin middleware that validates the X-Admin-Key header
// (or an Authorization bearer token) against the configured admin key.
func AdminKeyAuth(expectedKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Admin-Key")
		if key == "" {
			key = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(expectedKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized: invalid or missing admin API key",
			})
			return
		}
		c.Next()
	}
}
