package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hochk2019/congno/internal/identity"
)

// ActorMiddleware resolves the calling user from the X-User header set by
// the gateway in front of this service and puts the actor on the request
// context. Requests without a user are rejected before any handler runs.
func (s *Server) ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.GetHeader("X-User")
		if username == "" {
			AbortWithError(c, apiError{
				Status:  http.StatusUnauthorized,
				Code:    "unauthenticated",
				Message: "missing X-User header",
			})
			return
		}
		actor, err := s.identitySvc.ResolveActor(c.Request.Context(), username)
		if err != nil {
			AbortWithError(c, apiError{
				Status:  http.StatusUnauthorized,
				Code:    "unauthenticated",
				Message: "unable to resolve user",
			})
			return
		}
		c.Request = c.Request.WithContext(identity.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// RateLimitMiddleware applies a fixed-window per-user limit.
func (s *Server) RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := identity.ActorFromContext(c.Request.Context())
		key := c.ClientIP()
		if ok {
			key = actor.Username
		}
		if !s.limiter.Allow(key) {
			AbortWithError(c, apiError{
				Status:  http.StatusTooManyRequests,
				Code:    "rate_limited",
				Message: "too many requests",
			})
			return
		}
		c.Next()
	}
}
