package http

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const addrKey = "callerAddr"

// AuthMiddleware extracts the caller address from the X-Addr header and
// stores the lowercase form on the context. Missing identity is not rejected
// here; services return ErrAuthRequired so public endpoints can share the
// chain.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := strings.ToLower(strings.TrimSpace(c.GetHeader("X-Addr")))
		c.Set(addrKey, addr)
		c.Next()
	}
}

func callerAddr(c *gin.Context) string {
	return c.GetString(addrKey)
}

// RequestIDMiddleware tags every request with a uuid, echoed in the
// X-Request-Id response header and attached to the access log.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// LoggingMiddleware writes one structured access-log line per request.
func LoggingMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"duration":  time.Since(start).String(),
			"requestId": c.GetString("requestID"),
		}).Info("request")
	}
}
