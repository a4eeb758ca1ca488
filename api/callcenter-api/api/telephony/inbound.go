// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package callcenter_telephony_api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	internal_inbound "github.com/rapidaai/callcenter/api/callcenter-api/internal/inbound"
	internal_twilio_telephony "github.com/rapidaai/callcenter/api/callcenter-api/internal/telephony/twilio"
	"github.com/rapidaai/callcenter/config"
	"github.com/rapidaai/callcenter/pkg/commons"
)

const (
	signatureHeader = "X-Twilio-Signature"
	// carrier webhooks are a handful of form fields
	maxWebhookBody = 64 << 10
)

type TelephonyApi struct {
	cfg       *config.AppConfig
	logger    commons.Logger
	router    *internal_inbound.Router
	validator *internal_twilio_telephony.SignatureValidator
}

// New builds the webhook api. Signatures are checked only when enabled and
// an auth token is configured.
func New(cfg *config.AppConfig, logger commons.Logger, router *internal_inbound.Router) *TelephonyApi {
	api := &TelephonyApi{cfg: cfg, logger: logger, router: router}
	twilioCfg := cfg.TelephonyConfig.Twilio
	if twilioCfg.ValidateWebhook && twilioCfg.AuthToken != "" {
		api.validator = internal_twilio_telephony.NewSignatureValidator(twilioCfg.AuthToken)
	}
	return api
}

func (api *TelephonyApi) markup(c *gin.Context, out string) {
	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(out))
}

// TwilioInbound answers Twilio's voice webhook.
//
// @Router /v1/telephony/twilio/inbound [post]
func (api *TelephonyApi) TwilioInbound(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	if err := c.Request.ParseForm(); err != nil {
		api.logger.Warnf("unreadable twilio webhook: %v", err)
		api.markup(c, api.router.Apology())
		return
	}
	if api.validator != nil {
		if err := api.validator.Validate(api.webhookUrl(c), c.Request.PostForm, c.GetHeader(signatureHeader)); err != nil {
			api.logger.Warnf("rejected twilio webhook: remote=%s, err=%v", c.ClientIP(), err)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
	}

	hook, err := internal_inbound.WebhookFromForm(c.Request.PostForm)
	if err != nil {
		api.logger.Warnf("malformed twilio webhook: %v", err)
		api.markup(c, api.router.Apology())
		return
	}
	api.markup(c, api.router.Handle(c.Request.Context(), hook))
}

// Inbound answers a provider-neutral JSON webhook with the same markup.
//
// @Router /v1/telephony/inbound [post]
func (api *TelephonyApi) Inbound(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		api.logger.Warnf("unreadable webhook body: %v", err)
		api.markup(c, api.router.Apology())
		return
	}
	hook, err := internal_inbound.WebhookFromJSON(body)
	if err != nil {
		api.logger.Warnf("malformed webhook: %v", err)
		api.markup(c, api.router.Apology())
		return
	}
	api.markup(c, api.router.Handle(c.Request.Context(), hook))
}

// webhookUrl is the URL Twilio signed: the configured public base when set,
// otherwise what the request says about itself.
func (api *TelephonyApi) webhookUrl(c *gin.Context) string {
	if base := strings.TrimRight(api.cfg.InboundConfig.PublicWebhookUrl, "/"); base != "" {
		return base + c.Request.URL.RequestURI()
	}
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}
