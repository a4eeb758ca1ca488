// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transcription

import (
	"context"
	"fmt"

	"github.com/rapidaai/callcenter/config"
	"github.com/rapidaai/callcenter/pkg/commons"
)

// Transcriber turns one WAV encoded window into text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, callId string) (string, error)
}

// NewTranscriber selects the backend named by cfg.Provider.
func NewTranscriber(cfg config.TranscriptionConfig, logger commons.Logger) (Transcriber, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAITranscriber(cfg, logger)
	case "deepgram":
		return NewDeepgramTranscriber(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported transcription provider %q", cfg.Provider)
	}
}
