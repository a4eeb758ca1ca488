// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_vonage_telephony

import (
	"context"
	"fmt"

	vng "github.com/vonage/vonage-go-sdk"

	internal_telephony "github.com/rapidaai/callcenter/api/callcenter-api/internal/telephony"
	"github.com/rapidaai/callcenter/config"
	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/utils"
)

// voiceApi narrows the Vonage voice client to the calls the provider makes.
type voiceApi interface {
	create(to, from, answerUrl string) (uuid string, err error)
	status(uuid string) (string, error)
	hangup(uuid string) error
}

type sdkVoice struct {
	client *vng.VoiceClient
}

func (s sdkVoice) create(to, from, answerUrl string) (string, error) {
	result, vErr, err := s.client.CreateCall(vng.CreateCallOpts{
		From:      vng.CallFrom{Type: "phone", Number: from},
		To:        vng.CallTo{Type: "phone", Number: to},
		AnswerUrl: []string{answerUrl},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %+v", err, vErr)
	}
	return result.Uuid, nil
}

func (s sdkVoice) status(uuid string) (string, error) {
	result, vErr, err := s.client.GetCall(uuid)
	if err != nil {
		return "", fmt.Errorf("%w: %+v", err, vErr)
	}
	return result.Status, nil
}

func (s sdkVoice) hangup(uuid string) error {
	_, vErr, err := s.client.Hangup(uuid)
	if err != nil {
		return fmt.Errorf("%w: %+v", err, vErr)
	}
	return nil
}

type vg struct {
	cfg    config.VonageConfig
	voice  voiceApi
	logger commons.Logger
}

// NewVonage builds the Vonage provider authenticated with the application key.
func NewVonage(cfg config.VonageConfig, logger commons.Logger) (internal_telephony.Provider, error) {
	if utils.IsEmpty(cfg.ApplicationId) || utils.IsEmpty(cfg.PrivateKey) {
		return nil, fmt.Errorf("illegal vonage config: application_id and private_key are required")
	}
	auth, err := vng.CreateAuthFromAppPrivateKey(cfg.ApplicationId, []byte(cfg.PrivateKey))
	if err != nil {
		return nil, err
	}
	return newVonage(cfg, sdkVoice{client: vng.NewVoiceClient(auth)}, logger), nil
}

func newVonage(cfg config.VonageConfig, voice voiceApi, logger commons.Logger) *vg {
	return &vg{cfg: cfg, voice: voice, logger: logger}
}

func (vt *vg) Name() string {
	return "vonage"
}

func (vt *vg) Dial(ctx context.Context, req internal_telephony.DialRequest) (*internal_telephony.DialResult, error) {
	uuid, err := vt.voice.create(req.Number, vt.cfg.FromNumber, vt.cfg.AnswerUrl)
	if err != nil {
		vt.logger.Errorf("vonage create call failed: to=%s, err=%v", req.Number, err)
		return nil, fmt.Errorf("%w: vonage: %w", internal_telephony.ErrProviderDialFailure, err)
	}
	if uuid == "" {
		return nil, fmt.Errorf("%w: vonage returned no call uuid", internal_telephony.ErrProviderDialFailure)
	}
	vt.logger.Infof("vonage call created: uuid=%s, to=%s", uuid, req.Number)
	return &internal_telephony.DialResult{ProviderCallId: uuid}, nil
}

func (vt *vg) QueryStatus(ctx context.Context, providerCallId string) (string, error) {
	status, err := vt.voice.status(providerCallId)
	if err != nil {
		return "", fmt.Errorf("vonage get call %s: %w", providerCallId, err)
	}
	return status, nil
}

func (vt *vg) Hangup(ctx context.Context, providerCallId string) error {
	if err := vt.voice.hangup(providerCallId); err != nil {
		return fmt.Errorf("vonage hangup %s: %w", providerCallId, err)
	}
	vt.logger.Infof("vonage call hung up: uuid=%s", providerCallId)
	return nil
}
