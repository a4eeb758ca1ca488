// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_agentbridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	internal_call_entity "github.com/rapidaai/callcenter/api/callcenter-api/internal/entity/calls"
	"github.com/rapidaai/callcenter/pkg/commons"
)

var ErrChannelClosed = errors.New("agent channel closed")

// BridgeStore is what the bridge persists through.
type BridgeStore interface {
	ToolStore
	AppendTranscript(ctx context.Context, entry *internal_call_entity.TranscriptEntry) error
	Complete(ctx context.Context, id string) (bool, error)
}

// Observer sees every decoded agent event after the bridge has handled it.
type Observer func(event AgentEvent)

// Bridge hands calls over to AI agents. One Bridge serves every call; tool
// registrations are remembered per agent for the life of the process.
type Bridge struct {
	client *Client
	tools  *ToolSet
	store  BridgeStore
	logger commons.Logger

	mu         sync.Mutex
	registered map[string]bool
}

func NewBridge(client *Client, tools *ToolSet, store BridgeStore, logger commons.Logger) *Bridge {
	return &Bridge{
		client:     client,
		tools:      tools,
		store:      store,
		logger:     logger,
		registered: make(map[string]bool),
	}
}

// RegisterTools declares the allow-listed tools on the agent, skipping those
// already registered.
func (b *Bridge) RegisterTools(ctx context.Context, agentId string) error {
	start := time.Now()
	g, gCtx := errgroup.WithContext(ctx)
	for _, def := range b.tools.Definitions() {
		key := agentId + "/" + def.Name
		b.mu.Lock()
		done := b.registered[key]
		b.mu.Unlock()
		if done {
			continue
		}
		g.Go(func() error {
			if err := b.client.RegisterTool(gCtx, agentId, def); err != nil {
				return err
			}
			b.mu.Lock()
			b.registered[key] = true
			b.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		b.logger.Errorf("Error registering tools: agent=%s, err=%v", agentId, err)
		return err
	}
	b.logger.Benchmark("Bridge.RegisterTools", time.Since(start))
	return nil
}

func (b *Bridge) StartConversation(ctx context.Context, agentId string, metadata map[string]string) (string, error) {
	conversationId, err := b.client.StartConversation(ctx, agentId, metadata)
	if err != nil {
		return "", err
	}
	b.logger.Infof("conversation started: agent=%s, conversation=%s", agentId, conversationId)
	return conversationId, nil
}

// OpenChannel connects the websocket and starts listening. The listener
// outlives ctx; Close ends it.
func (b *Bridge) OpenChannel(ctx context.Context, agentId, conversationId, callId string, onMessage Observer) (*Channel, error) {
	conn, err := b.client.Dial(ctx, agentId, conversationId, callId)
	if err != nil {
		return nil, err
	}
	ch := newChannel(conn, agentId, conversationId, callId, b.tools, b.store, onMessage, b.logger)
	ch.start()

	if err := ch.send(WSRequest{
		Type:      WSTypeConfiguration,
		Timestamp: time.Now().UnixMilli(),
		Data: WSConfigurationData{
			AgentId:        agentId,
			ConversationId: conversationId,
			CallId:         callId,
		},
	}); err != nil {
		_ = ch.shutdown()
		return nil, err
	}
	return ch, nil
}

// Connect runs the full hand-over: tools, conversation, channel.
func (b *Bridge) Connect(ctx context.Context, agentId, callId string, metadata map[string]string, onMessage Observer) (*Channel, error) {
	if err := b.RegisterTools(ctx, agentId); err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["call_id"] = callId
	conversationId, err := b.StartConversation(ctx, agentId, metadata)
	if err != nil {
		return nil, err
	}
	return b.OpenChannel(ctx, agentId, conversationId, callId, onMessage)
}
