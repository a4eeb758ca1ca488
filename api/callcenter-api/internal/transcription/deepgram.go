// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transcription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rapidaai/callcenter/config"
	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/utils"
)

const (
	defaultDeepgramBaseUrl = "https://api.deepgram.com"
	defaultDeepgramModel   = "nova-2"
)

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// deepgramTranscriber uses the pre-recorded listen endpoint; each window is a
// complete WAV so no streaming session is needed.
type deepgramTranscriber struct {
	client   *resty.Client
	model    string
	language string
	logger   commons.Logger
}

func NewDeepgramTranscriber(cfg config.TranscriptionConfig, logger commons.Logger) (Transcriber, error) {
	if utils.IsEmpty(cfg.ApiKey) {
		return nil, fmt.Errorf("illegal transcription config: deepgram api_key is required")
	}
	baseUrl := cfg.BaseUrl
	if utils.IsEmpty(baseUrl) {
		baseUrl = defaultDeepgramBaseUrl
	}
	model := cfg.Model
	if utils.IsEmpty(model) {
		model = defaultDeepgramModel
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseUrl, "/")).
		SetHeader("Authorization", "Token "+cfg.ApiKey).
		SetTimeout(30 * time.Second)
	return &deepgramTranscriber{client: client, model: model, language: cfg.Language, logger: logger}, nil
}

func (t *deepgramTranscriber) Name() string {
	return "deepgram"
}

func (t *deepgramTranscriber) Transcribe(ctx context.Context, audio []byte, callId string) (string, error) {
	start := time.Now()
	query := map[string]string{
		"model":        t.model,
		"smart_format": "true",
		"punctuate":    "true",
	}
	if t.language != "" {
		query["language"] = t.language
	}

	var out deepgramResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "audio/wav").
		SetQueryParams(query).
		SetBody(audio).
		SetResult(&out).
		Post("/v1/listen")
	if err != nil {
		return "", fmt.Errorf("deepgram transcription: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("deepgram transcription: status %d: %s", resp.StatusCode(), resp.String())
	}
	t.logger.Benchmark("deepgramTranscriber.Transcribe", time.Since(start))

	parts := make([]string, 0, len(out.Results.Channels))
	for _, channel := range out.Results.Channels {
		if len(channel.Alternatives) > 0 {
			parts = append(parts, channel.Alternatives[0].Transcript)
		}
	}
	return strings.Join(parts, " "), nil
}
