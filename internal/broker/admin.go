package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/trustedbroker/internal/auth"
	"github.com/danmuck/trustedbroker/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type revokeRequest struct {
	Reason string `json:"reason"`
}

// AdminRouter builds the admin HTTP surface.
func (s *Service) AdminRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.ComponentLogger("broker.admin")))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.BrokerID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.AdminCORSOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.startedAt).String(),
			"broker": s.cfg.BrokerID,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Snapshot())
	})

	r.GET("/revocation", func(c *gin.Context) {
		if s.revocation == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "revocation not configured"})
			return
		}
		revoked, reason := s.revocation.Revocation()
		c.JSON(http.StatusOK, gin.H{"revoked": revoked, "reason": reason})
	})
	ops := r.Group("")
	if token := strings.TrimSpace(s.cfg.AdminToken); token != "" {
		ops.Use(auth.RequireToken(auth.StaticToken{Token: token}))
	} else {
		s.log.Warn().Msg("admin_token not set; revocation routes are unauthenticated")
	}
	ops.POST("/revocation", func(c *gin.Context) {
		if s.revocation == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "revocation not configured"})
			return
		}
		var req revokeRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = "revoked by operator"
		}
		changed := s.revocation.Revoke(reason)
		s.log.Warn().Str("reason", reason).Bool("changed", changed).Msg("revocation requested")
		c.JSON(http.StatusOK, gin.H{"revoked": true, "reason": reason, "changed": changed})
	})
	ops.DELETE("/revocation", func(c *gin.Context) {
		if s.revocation == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "revocation not configured"})
			return
		}
		changed := s.revocation.Reinstate()
		s.log.Warn().Bool("changed", changed).Msg("revocation cleared")
		c.JSON(http.StatusOK, gin.H{"revoked": false, "changed": changed})
	})
	return r
}

func (s *Service) serveAdmin(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.AdminRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("admin_addr", ln.Addr().String()).Msg("admin listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("broker: admin server: %w", err)
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
