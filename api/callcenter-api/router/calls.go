// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package callcenter_routers

import (
	"github.com/gin-gonic/gin"

	callsApi "github.com/rapidaai/callcenter/api/callcenter-api/api/calls"
	consoleApi "github.com/rapidaai/callcenter/api/callcenter-api/api/console"
	telephonyApi "github.com/rapidaai/callcenter/api/callcenter-api/api/telephony"
	internal_callstore "github.com/rapidaai/callcenter/api/callcenter-api/internal/callstore"
	internal_inbound "github.com/rapidaai/callcenter/api/callcenter-api/internal/inbound"
	internal_media "github.com/rapidaai/callcenter/api/callcenter-api/internal/media"
	internal_session "github.com/rapidaai/callcenter/api/callcenter-api/internal/session"
	"github.com/rapidaai/callcenter/config"
	"github.com/rapidaai/callcenter/pkg/commons"
)

func CallApiRoute(
	Cfg *config.AppConfig,
	Engine *gin.Engine,
	Logger commons.Logger,
	Registry *internal_session.Registry,
	Store internal_callstore.Store,
) {
	api := callsApi.New(Cfg, Logger, Registry, Store)
	apiv1 := Engine.Group("/v1")
	{
		apiv1.POST("/sessions", api.Initiate)
		apiv1.GET("/sessions/:sessionId", api.GetSession)
		apiv1.POST("/sessions/:sessionId/terminate", api.Terminate)
		apiv1.GET("/calls", api.ListCalls)
		apiv1.GET("/calls/:callId", api.GetCall)
	}
}

func TelephonyApiRoute(
	Cfg *config.AppConfig,
	Engine *gin.Engine,
	Logger commons.Logger,
	Router *internal_inbound.Router,
) {
	api := telephonyApi.New(Cfg, Logger, Router)
	apiv1 := Engine.Group("/v1/telephony")
	{
		apiv1.POST("/twilio/inbound", api.TwilioInbound)
		apiv1.POST("/inbound", api.Inbound)
	}
}

func ConsoleApiRoute(
	Cfg *config.AppConfig,
	Engine *gin.Engine,
	Logger commons.Logger,
	Hub *internal_media.Hub,
) {
	api := consoleApi.New(Cfg, Logger, Hub)
	Engine.GET("/v1/console/media/:operatorId", api.Media)
}
