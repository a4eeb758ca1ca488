// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"context"

	internal_agentbridge "github.com/rapidaai/callcenter/api/callcenter-api/internal/agentbridge"
	"github.com/rapidaai/callcenter/pkg/commons"
)

type bridgeConnector struct {
	bridge *internal_agentbridge.Bridge
	logger commons.Logger
}

// NewAgentConnector hands calls to agents through the conversation bridge.
func NewAgentConnector(bridge *internal_agentbridge.Bridge, logger commons.Logger) AgentConnector {
	return &bridgeConnector{bridge: bridge, logger: logger}
}

func (b *bridgeConnector) Connect(ctx context.Context, agentId, callId string, metadata map[string]string) (AgentChannel, error) {
	channel, err := b.bridge.Connect(ctx, agentId, callId, metadata, func(event internal_agentbridge.AgentEvent) {
		switch e := event.(type) {
		case internal_agentbridge.AudioChunk:
			b.logger.Debugf("agent audio: call=%s, bytes=%d, rate=%d", callId, len(e.Audio), e.SampleRate)
		case internal_agentbridge.AgentError:
			b.logger.Warnf("agent reported error: call=%s, code=%d, message=%s", callId, e.Code, e.Message)
		}
	})
	if err != nil {
		return nil, err
	}
	return channel, nil
}
