// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_telephony

import (
	"context"
	"fmt"
	"time"

	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/connectors"
)

const (
	dialKeyPrefix  = "callcenter:dial:"
	dialPending    = "pending"
	DefaultDialTTL = 2 * time.Minute
)

type dedupProvider struct {
	Provider
	redis  connectors.RedisConnector
	ttl    time.Duration
	logger commons.Logger
}

// NewDedupProvider wraps a provider so that dials flagged PreventDuplicate
// are placed at most once per idempotency key within ttl. The key is claimed
// with SETNX before dialing and released again if the dial fails.
func NewDedupProvider(inner Provider, redis connectors.RedisConnector, ttl time.Duration, logger commons.Logger) Provider {
	if ttl <= 0 {
		ttl = DefaultDialTTL
	}
	return &dedupProvider{Provider: inner, redis: redis, ttl: ttl, logger: logger}
}

func (d *dedupProvider) Dial(ctx context.Context, req DialRequest) (*DialResult, error) {
	if !req.PreventDuplicate || req.IdempotencyKey == "" {
		return d.Provider.Dial(ctx, req)
	}

	key := dialKeyPrefix + req.IdempotencyKey
	client := d.redis.GetConnection()
	claimed, err := client.SetNX(ctx, key, dialPending, d.ttl).Result()
	if err != nil {
		// redis outage must not block outbound calling
		d.logger.Warnf("dial guard unavailable, dialing without it: key=%s, err=%v", req.IdempotencyKey, err)
		return d.Provider.Dial(ctx, req)
	}
	if !claimed {
		existing, _ := client.Get(ctx, key).Result()
		d.logger.Warnf("suppressed duplicate dial: key=%s, existing=%s", req.IdempotencyKey, existing)
		return nil, fmt.Errorf("%w: %s", ErrDuplicateDial, req.IdempotencyKey)
	}

	result, err := d.Provider.Dial(ctx, req)
	if err != nil {
		if delErr := client.Del(ctx, key).Err(); delErr != nil {
			d.logger.Warnf("unable to release dial guard: key=%s, err=%v", req.IdempotencyKey, delErr)
		}
		return nil, err
	}
	if err := client.Set(ctx, key, result.ProviderCallId, d.ttl).Err(); err != nil {
		d.logger.Warnf("unable to record provider call id on dial guard: key=%s, err=%v", req.IdempotencyKey, err)
	}
	return result, nil
}
