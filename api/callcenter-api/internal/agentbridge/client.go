// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_agentbridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/callcenter/config"
	"github.com/rapidaai/callcenter/pkg/commons"
)

// Client talks to the conversational AI service: REST for setup, websocket
// for the live conversation.
type Client struct {
	rest         *resty.Client
	websocketUrl string
	apiKey       string
	logger       commons.Logger
}

type startConversationRequest struct {
	Metadata map[string]string `json:"metadata,omitempty"`
}

type startConversationResponse struct {
	ConversationId string `json:"conversationId"`
}

func NewClient(cfg config.ConversationalAIConfig, logger commons.Logger) *Client {
	baseUrl := strings.TrimRight(cfg.BaseUrl, "/")
	wsUrl := strings.TrimRight(cfg.WebsocketUrl, "/")
	if wsUrl == "" {
		wsUrl = "ws" + strings.TrimPrefix(baseUrl, "http")
	}

	rest := resty.New().
		SetBaseURL(baseUrl).
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetHeader("Content-Type", "application/json")
	if cfg.ApiKey != "" {
		rest.SetAuthToken(cfg.ApiKey)
	}
	return &Client{rest: rest, websocketUrl: wsUrl, apiKey: cfg.ApiKey, logger: logger}
}

// RegisterTool declares one tool on the agent. PUT keyed by tool name, so a
// repeat is harmless.
func (c *Client) RegisterTool(ctx context.Context, agentId string, def ToolDefinition) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"agentId": agentId, "tool": def.Name}).
		SetBody(def).
		Put("/v1/agents/{agentId}/tools/{tool}")
	if err != nil {
		return fmt.Errorf("register tool %s: %w", def.Name, err)
	}
	if resp.IsError() {
		return fmt.Errorf("register tool %s: status %d: %s", def.Name, resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) StartConversation(ctx context.Context, agentId string, metadata map[string]string) (string, error) {
	var out startConversationResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("agentId", agentId).
		SetBody(startConversationRequest{Metadata: metadata}).
		SetResult(&out).
		Post("/v1/agents/{agentId}/conversations")
	if err != nil {
		return "", fmt.Errorf("start conversation: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("start conversation: status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.ConversationId == "" {
		return "", fmt.Errorf("start conversation: no conversation id returned")
	}
	return out.ConversationId, nil
}

// Dial opens the duplex websocket for one conversation.
func (c *Client) Dial(ctx context.Context, agentId, conversationId, callId string) (*websocket.Conn, error) {
	wsURL, err := url.Parse(fmt.Sprintf("%s/v1/agents/%s/conversations/%s/stream",
		c.websocketUrl, url.PathEscape(agentId), url.PathEscape(conversationId)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse websocket URL: %w", err)
	}
	query := wsURL.Query()
	query.Set("call_id", callId)
	wsURL.RawQuery = query.Encode()

	headers := http.Header{}
	if c.apiKey != "" {
		headers.Set("Authorization", "Bearer "+c.apiKey)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 30 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to websocket: %w", err)
	}
	conn.SetReadLimit(10 * 1024 * 1024) // 10MB max message size
	return conn, nil
}
