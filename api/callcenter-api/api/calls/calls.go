// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package callcenter_calls_api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	internal_callstore "github.com/rapidaai/callcenter/api/callcenter-api/internal/callstore"
	internal_call_entity "github.com/rapidaai/callcenter/api/callcenter-api/internal/entity/calls"
	internal_media "github.com/rapidaai/callcenter/api/callcenter-api/internal/media"
	internal_session "github.com/rapidaai/callcenter/api/callcenter-api/internal/session"
	internal_telephony "github.com/rapidaai/callcenter/api/callcenter-api/internal/telephony"
	"github.com/rapidaai/callcenter/config"
	"github.com/rapidaai/callcenter/pkg/commons"
)

// OperatorHeader identifies the console operator placing the call.
const OperatorHeader = "X-Operator-Id"

type CallApi struct {
	cfg      *config.AppConfig
	logger   commons.Logger
	registry *internal_session.Registry
	store    internal_callstore.Store
}

func New(cfg *config.AppConfig, logger commons.Logger, registry *internal_session.Registry, store internal_callstore.Store) *CallApi {
	return &CallApi{cfg: cfg, logger: logger, registry: registry, store: store}
}

type sessionResponse struct {
	SessionId  string                                 `json:"sessionId"`
	OperatorId string                                 `json:"operatorId"`
	State      internal_session.State                 `json:"state"`
	Call       *internal_call_entity.CallSession      `json:"call,omitempty"`
	Transcript []internal_call_entity.TranscriptEntry `json:"transcript,omitempty"`
}

func toSessionResponse(c *internal_session.Controller) sessionResponse {
	return sessionResponse{
		SessionId:  c.Id(),
		OperatorId: c.OperatorId(),
		State:      c.State(),
		Call:       c.Session(),
		Transcript: c.Transcript(),
	}
}

// Initiate places an outbound call for the operator.
//
// @Router /v1/sessions [post]
func (api *CallApi) Initiate(c *gin.Context) {
	operatorId := c.GetHeader(OperatorHeader)
	if operatorId == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing " + OperatorHeader})
		return
	}
	var req internal_session.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	controller, err := api.registry.Initiate(c.Request.Context(), operatorId, req)
	if err != nil {
		api.logger.Warnf("initiate failed: operator=%s, err=%v", operatorId, err)
		c.JSON(initiateStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toSessionResponse(controller))
}

func initiateStatus(err error) int {
	switch {
	case errors.Is(err, internal_session.ErrInvalidNumber):
		return http.StatusBadRequest
	case errors.Is(err, internal_media.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, internal_session.ErrCallInProgress),
		errors.Is(err, internal_telephony.ErrDuplicateDial):
		return http.StatusConflict
	case errors.Is(err, internal_session.ErrSessionAborted):
		return http.StatusGone
	case errors.Is(err, internal_telephony.ErrProviderDialFailure):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Terminate hangs up the session's call.
//
// @Router /v1/sessions/:sessionId/terminate [post]
func (api *CallApi) Terminate(c *gin.Context) {
	controller, err := api.registry.Get(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := controller.Terminate(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "session": toSessionResponse(controller)})
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(controller))
}

// GetSession reports a live session's state.
//
// @Router /v1/sessions/:sessionId [get]
func (api *CallApi) GetSession(c *gin.Context) {
	controller, err := api.registry.Get(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(controller))
}

// GetCall loads a persisted call with its transcript.
//
// @Router /v1/calls/:callId [get]
func (api *CallApi) GetCall(c *gin.Context) {
	cs, err := api.store.Get(c.Request.Context(), c.Param("callId"))
	if err != nil {
		if errors.Is(err, internal_callstore.ErrCallNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		api.logger.Errorf("unable to load call: id=%s, err=%v", c.Param("callId"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to load call"})
		return
	}
	c.JSON(http.StatusOK, cs)
}

// ListCalls lists calls, newest first. Query parameters other than limit are
// exact-match filters.
//
// @Router /v1/calls [get]
func (api *CallApi) ListCalls(c *gin.Context) {
	filters := map[string]string{}
	limit := 0
	for key, values := range c.Request.URL.Query() {
		if len(values) == 0 {
			continue
		}
		if key == "limit" {
			n, err := strconv.Atoi(values[0])
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = n
			continue
		}
		filters[key] = values[0]
	}

	calls, err := api.store.ListCalls(c.Request.Context(), filters, limit)
	if err != nil {
		if errors.Is(err, internal_callstore.ErrUnsupportedQueryFilter) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		api.logger.Errorf("unable to list calls: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to list calls"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls})
}
