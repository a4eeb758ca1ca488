// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	internal_call_entity "github.com/rapidaai/callcenter/api/callcenter-api/internal/entity/calls"
	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/connectors"
)

// NewCallEvent is broadcast to consoles when an inbound call creates a session.
type NewCallEvent struct {
	CallId         string                      `json:"callId"`
	ProviderCallId string                      `json:"providerCallId"`
	From           string                      `json:"from"`
	ContactName    string                      `json:"contactName,omitempty"`
	AiAgentId      string                      `json:"aiAgentId,omitempty"`
	Status         internal_call_entity.Status `json:"status"`
	Timestamp      time.Time                   `json:"timestamp"`
}

func NewCallEventFrom(cs *internal_call_entity.CallSession) NewCallEvent {
	event := NewCallEvent{
		CallId:    cs.Id,
		From:      cs.CounterpartNumber,
		Status:    cs.Status,
		Timestamp: cs.StartTime,
	}
	if cs.ProviderCallId != nil {
		event.ProviderCallId = *cs.ProviderCallId
	}
	if cs.CounterpartName != nil {
		event.ContactName = *cs.CounterpartName
	}
	if cs.AiAgentId != nil {
		event.AiAgentId = *cs.AiAgentId
	}
	return event
}

type Notifier interface {
	NewCall(ctx context.Context, event NewCallEvent) error
}

type redisNotifier struct {
	redis   connectors.RedisConnector
	channel string
	logger  commons.Logger
}

// NewRedisNotifier publishes events on a Redis pub/sub channel.
func NewRedisNotifier(redis connectors.RedisConnector, channel string, logger commons.Logger) Notifier {
	return &redisNotifier{redis: redis, channel: channel, logger: logger}
}

func (n *redisNotifier) NewCall(ctx context.Context, event NewCallEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	receivers, err := n.redis.GetConnection().Publish(ctx, n.channel, string(payload)).Result()
	if err != nil {
		return fmt.Errorf("publish new call %s: %w", event.CallId, err)
	}
	n.logger.Debugf("published new call: call=%s, channel=%s, receivers=%d", event.CallId, n.channel, receivers)
	return nil
}
