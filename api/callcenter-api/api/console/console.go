// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package callcenter_console_api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	internal_media "github.com/rapidaai/callcenter/api/callcenter-api/internal/media"
	"github.com/rapidaai/callcenter/config"
	"github.com/rapidaai/callcenter/pkg/commons"
)

var consoleUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type ConsoleApi struct {
	cfg    *config.AppConfig
	logger commons.Logger
	hub    *internal_media.Hub
}

func New(cfg *config.AppConfig, logger commons.Logger, hub *internal_media.Hub) *ConsoleApi {
	return &ConsoleApi{cfg: cfg, logger: logger, hub: hub}
}

// Media attaches an operator console. The socket carries microphone
// permission messages and the microphone audio itself.
//
// @Router /v1/console/media/:operatorId [get]
// @Success 101 "Switching Protocols"
func (api *ConsoleApi) Media(c *gin.Context) {
	operatorId := c.Param("operatorId")
	conn, err := consoleUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		api.logger.Errorf("WebSocket upgrade failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unable to upgrade to WebSocket"})
		return
	}
	if err := api.hub.Serve(c.Request.Context(), operatorId, conn); err != nil {
		api.logger.Warnf("console session ended with error: operator=%s, err=%v", operatorId, err)
	}
}
