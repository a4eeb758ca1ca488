// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transcription

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/rapidaai/callcenter/config"
	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/utils"
)

const defaultOpenAIModel = "whisper-1"

type openaiTranscriber struct {
	client   openai.Client
	model    string
	language string
	logger   commons.Logger
}

func NewOpenAITranscriber(cfg config.TranscriptionConfig, logger commons.Logger) (Transcriber, error) {
	if utils.IsEmpty(cfg.ApiKey) {
		return nil, fmt.Errorf("illegal transcription config: openai api_key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.ApiKey),
		// a window is worthless once the next one is due
		option.WithMaxRetries(0),
		option.WithRequestTimeout(30 * time.Second),
	}
	if !utils.IsEmpty(cfg.BaseUrl) {
		opts = append(opts, option.WithBaseURL(cfg.BaseUrl))
	}
	model := cfg.Model
	if utils.IsEmpty(model) {
		model = defaultOpenAIModel
	}
	return &openaiTranscriber{
		client:   openai.NewClient(opts...),
		model:    model,
		language: cfg.Language,
		logger:   logger,
	}, nil
}

func (t *openaiTranscriber) Name() string {
	return "openai"
}

func (t *openaiTranscriber) Transcribe(ctx context.Context, audio []byte, callId string) (string, error) {
	start := time.Now()
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), callId+".wav", "audio/wav"),
		Model: openai.AudioModel(t.model),
	}
	if t.language != "" {
		params.Language = openai.String(t.language)
	}
	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	t.logger.Benchmark("openaiTranscriber.Transcribe", time.Since(start))
	return resp.Text, nil
}
