// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package connectors

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/configs"
)

type RedisConnector interface {
	Connect(ctx context.Context) error
	GetConnection() *redis.Client
	IsConnected(ctx context.Context) bool
	Disconnect(ctx context.Context) error
	Name() string
}

type redisConnector struct {
	cfg    *configs.RedisConfig
	client *redis.Client
	logger commons.Logger
}

func NewRedisConnector(cfg *configs.RedisConfig, logger commons.Logger) RedisConnector {
	return &redisConnector{cfg: cfg, logger: logger}
}

// NewRedisConnectorFromClient wraps an existing client (tests pass a redismock client).
func NewRedisConnectorFromClient(client *redis.Client, logger commons.Logger) RedisConnector {
	return &redisConnector{client: client, logger: logger, cfg: &configs.RedisConfig{Host: "client"}}
}

func (r *redisConnector) Connect(ctx context.Context) error {
	if r.client != nil {
		return nil
	}
	opts := &redis.Options{
		Addr:     r.cfg.Addr(),
		Password: r.cfg.Password,
		DB:       r.cfg.DB,
	}
	if r.cfg.MaxConnection > 0 {
		opts.PoolSize = r.cfg.MaxConnection
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("unable to reach redis at %s: %w", r.cfg.Addr(), err)
	}
	r.client = client
	r.logger.Infof("connected to redis %s", r.cfg.Addr())
	return nil
}

func (r *redisConnector) GetConnection() *redis.Client {
	return r.client
}

func (r *redisConnector) IsConnected(ctx context.Context) bool {
	return r.client != nil && r.client.Ping(ctx).Err() == nil
}

func (r *redisConnector) Disconnect(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *redisConnector) Name() string {
	return fmt.Sprintf("redis://%s", r.cfg.Addr())
}
