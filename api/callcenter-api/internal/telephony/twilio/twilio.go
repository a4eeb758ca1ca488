// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_twilio_telephony

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/twilio/twilio-go"
	twilio_client "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	internal_telephony "github.com/rapidaai/callcenter/api/callcenter-api/internal/telephony"
	"github.com/rapidaai/callcenter/config"
	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/utils"
)

// callsApi is the slice of the Twilio REST API the provider needs.
type callsApi interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
	FetchCall(sid string, params *openapi.FetchCallParams) (*openapi.ApiV2010Call, error)
	UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error)
}

type twl struct {
	cfg    config.TwilioConfig
	calls  callsApi
	logger commons.Logger
}

// NewTwilio builds the Twilio provider from the account credentials.
func NewTwilio(cfg config.TwilioConfig, logger commons.Logger) (internal_telephony.Provider, error) {
	if utils.IsEmpty(cfg.AccountSid) || utils.IsEmpty(cfg.AuthToken) {
		return nil, fmt.Errorf("illegal twilio config: account_sid and auth_token are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSid,
		Password: cfg.AuthToken,
	})
	return newTwilio(cfg, client.Api, logger), nil
}

func newTwilio(cfg config.TwilioConfig, calls callsApi, logger commons.Logger) *twl {
	return &twl{cfg: cfg, calls: calls, logger: logger}
}

func (tpc *twl) Name() string {
	return "twilio"
}

// answerUrl carries the agent hint to the webhook Twilio fetches on answer.
func (tpc *twl) answerUrl(agentHint string) string {
	if agentHint == "" {
		return tpc.cfg.AnswerUrl
	}
	u, err := url.Parse(tpc.cfg.AnswerUrl)
	if err != nil {
		return tpc.cfg.AnswerUrl
	}
	q := u.Query()
	q.Set("agent", agentHint)
	u.RawQuery = q.Encode()
	return u.String()
}

func (tpc *twl) Dial(ctx context.Context, req internal_telephony.DialRequest) (*internal_telephony.DialResult, error) {
	params := &openapi.CreateCallParams{}
	params.SetTo(req.Number)
	params.SetFrom(tpc.cfg.FromNumber)
	params.SetUrl(tpc.answerUrl(req.AgentHint))

	resp, err := tpc.calls.CreateCall(params)
	if err != nil {
		tpc.logger.Errorf("twilio create call failed: to=%s, err=%v", req.Number, err)
		return nil, fmt.Errorf("%w: twilio: %w", internal_telephony.ErrProviderDialFailure, err)
	}
	if resp == nil || utils.IsEmpty(utils.Deref(resp.Sid)) {
		return nil, fmt.Errorf("%w: twilio returned no call sid", internal_telephony.ErrProviderDialFailure)
	}
	tpc.logger.Infof("twilio call created: sid=%s, to=%s", *resp.Sid, req.Number)
	return &internal_telephony.DialResult{ProviderCallId: *resp.Sid}, nil
}

func (tpc *twl) QueryStatus(ctx context.Context, providerCallId string) (string, error) {
	resp, err := tpc.calls.FetchCall(providerCallId, &openapi.FetchCallParams{})
	if err != nil {
		return "", fmt.Errorf("twilio fetch call %s: %w", providerCallId, err)
	}
	if resp == nil || resp.Status == nil {
		return "", fmt.Errorf("%w: twilio returned no status for %s", internal_telephony.ErrProviderStatusUnknown, providerCallId)
	}
	return *resp.Status, nil
}

func (tpc *twl) Hangup(ctx context.Context, providerCallId string) error {
	params := &openapi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := tpc.calls.UpdateCall(providerCallId, params); err != nil {
		return fmt.Errorf("twilio hangup %s: %w", providerCallId, err)
	}
	tpc.logger.Infof("twilio call hung up: sid=%s", providerCallId)
	return nil
}

var ErrInvalidSignature = errors.New("invalid twilio signature")

// SignatureValidator checks X-Twilio-Signature on inbound webhooks.
type SignatureValidator struct {
	validator twilio_client.RequestValidator
}

func NewSignatureValidator(authToken string) *SignatureValidator {
	return &SignatureValidator{validator: twilio_client.NewRequestValidator(authToken)}
}

// Validate checks a form-encoded webhook. fullUrl must be the public URL
// Twilio posted to, query string included.
func (s *SignatureValidator) Validate(fullUrl string, form url.Values, signature string) error {
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	if !s.validator.Validate(fullUrl, params, signature) {
		return ErrInvalidSignature
	}
	return nil
}
