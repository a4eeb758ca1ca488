// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package health_check_api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/callcenter/config"
	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/connectors"
)

type HealthCheckApi struct {
	cfg      *config.AppConfig
	logger   commons.Logger
	postgres connectors.PostgresConnector
	redis    connectors.RedisConnector
}

func New(cfg *config.AppConfig, logger commons.Logger, postgres connectors.PostgresConnector, redis connectors.RedisConnector) *HealthCheckApi {
	return &HealthCheckApi{cfg: cfg, logger: logger, postgres: postgres, redis: redis}
}

// Healthz reports that the process is up.
func (h *HealthCheckApi) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"healthy": true,
		"service": h.cfg.Name,
		"version": h.cfg.Version,
	})
}

// Readiness reports whether the backing stores are reachable.
func (h *HealthCheckApi) Readiness(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{}
	ready := true
	if h.postgres != nil {
		ok := h.postgres.IsConnected(ctx)
		checks[h.postgres.Name()] = ok
		ready = ready && ok
	}
	if h.redis != nil {
		ok := h.redis.IsConnected(ctx)
		checks[h.redis.Name()] = ok
		ready = ready && ok
	}
	if !ready {
		h.logger.Warnf("readiness check failed: %v", checks)
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "checks": checks})
}
