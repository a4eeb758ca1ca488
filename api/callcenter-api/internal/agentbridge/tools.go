// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_agentbridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	internal_callstore "github.com/rapidaai/callcenter/api/callcenter-api/internal/callstore"
	internal_call_entity "github.com/rapidaai/callcenter/api/callcenter-api/internal/entity/calls"
	"github.com/rapidaai/callcenter/pkg/commons"
)

var (
	ErrToolExecutionFailure = errors.New("tool execution failure")
	ErrUnknownTool          = errors.New("unknown tool")
	ErrMalformedToolCall    = errors.New("malformed tool call")
)

const (
	ToolQueryStore  = "query_store"
	ToolCreateAgent = "create_agent"
)

// ToolDefinition is what the conversational AI service is told about a tool.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolResult always goes back to the agent, failures included.
type ToolResult struct {
	ToolCallId string      `json:"toolCallId"`
	Name       string      `json:"name"`
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type Tool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, callId string, params map[string]interface{}) (interface{}, error)
}

// ToolStore is the part of the call store tools may touch.
type ToolStore interface {
	ListCalls(ctx context.Context, filters map[string]string, limit int) ([]internal_call_entity.CallSession, error)
	ListAgents(ctx context.Context, filters map[string]string, limit int) ([]internal_call_entity.Agent, error)
	ListContacts(ctx context.Context, filters map[string]string, limit int) ([]internal_call_entity.Contact, error)
	CreateAgent(ctx context.Context, agent *internal_call_entity.Agent) error
}

// ToolSet is the allow-list of tools an agent may invoke.
type ToolSet struct {
	tools  map[string]Tool
	logger commons.Logger
}

func NewToolSet(store ToolStore, logger commons.Logger) *ToolSet {
	ts := &ToolSet{tools: make(map[string]Tool), logger: logger}
	for _, tool := range []Tool{
		&queryStoreTool{store: store},
		&createAgentTool{store: store},
	} {
		ts.tools[tool.Definition().Name] = tool
	}
	return ts
}

// Definitions returns the allow-list sorted by name.
func (ts *ToolSet) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(ts.tools))
	for _, tool := range ts.tools {
		defs = append(defs, tool.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Dispatch runs the named tool. It never returns an error: every outcome is
// a ToolResult for the agent.
func (ts *ToolSet) Dispatch(ctx context.Context, callId string, call ToolCall) ToolResult {
	result := ToolResult{ToolCallId: call.Id, Name: call.Name}

	if call.malformed != nil {
		ts.logger.Warnf("agent sent malformed tool call: call=%s, tool_call=%s, err=%v", callId, call.Id, call.malformed)
		result.Error = fmt.Errorf("%w: %w", ErrMalformedToolCall, call.malformed).Error()
		return result
	}
	tool, ok := ts.tools[call.Name]
	if !ok {
		ts.logger.Warnf("agent requested unknown tool: call=%s, tool=%s", callId, call.Name)
		result.Error = fmt.Errorf("%w: %s", ErrUnknownTool, call.Name).Error()
		return result
	}

	data, err := tool.Execute(ctx, callId, call.Parameters)
	if err != nil {
		ts.logger.Warnf("tool failed: call=%s, tool=%s, err=%v", callId, call.Name, err)
		result.Error = fmt.Errorf("%w: %s: %w", ErrToolExecutionFailure, call.Name, err).Error()
		return result
	}
	result.Success = true
	result.Data = data
	return result
}

func decodeParams(params map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(params); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

// =============================================================================
// query_store
// =============================================================================

type queryStoreParams struct {
	Collection string            `json:"collection"`
	Filters    map[string]string `json:"filters"`
	Limit      int               `json:"limit"`
}

type queryStoreTool struct {
	store ToolStore
}

func (t *queryStoreTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolQueryStore,
		Description: "Look up calls, agents or contacts. Filters are exact matches on allowed fields.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"collection": map[string]interface{}{"type": "string", "enum": []string{"calls", "agents", "contacts"}},
				"filters":    map[string]interface{}{"type": "object", "additionalProperties": map[string]interface{}{"type": "string"}},
				"limit":      map[string]interface{}{"type": "integer", "minimum": 1, "maximum": internal_callstore.MaxQueryLimit},
			},
			"required": []string{"collection"},
		},
	}
}

func (t *queryStoreTool) Execute(ctx context.Context, callId string, params map[string]interface{}) (interface{}, error) {
	var p queryStoreParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	switch strings.ToLower(p.Collection) {
	case "calls":
		return t.store.ListCalls(ctx, p.Filters, p.Limit)
	case "agents":
		return t.store.ListAgents(ctx, p.Filters, p.Limit)
	case "contacts":
		return t.store.ListContacts(ctx, p.Filters, p.Limit)
	default:
		return nil, fmt.Errorf("%w: %q", internal_callstore.ErrUnsupportedCollection, p.Collection)
	}
}

// =============================================================================
// create_agent
// =============================================================================

type createAgentParams struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	ChannelUrl string `json:"channel_url"`
}

type createAgentTool struct {
	store ToolStore
}

func (t *createAgentTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolCreateAgent,
		Description: "Register a new agent that can take calls.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name":        map[string]interface{}{"type": "string"},
				"type":        map[string]interface{}{"type": "string", "enum": []string{"ai", "human"}},
				"channel_url": map[string]interface{}{"type": "string"},
			},
			"required": []string{"name"},
		},
	}
}

func (t *createAgentTool) Execute(ctx context.Context, callId string, params map[string]interface{}) (interface{}, error) {
	var p createAgentParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("name is required")
	}
	agentType := internal_call_entity.AgentType(strings.ToLower(p.Type))
	switch agentType {
	case "":
		agentType = internal_call_entity.AgentTypeAi
	case internal_call_entity.AgentTypeAi, internal_call_entity.AgentTypeHuman:
	default:
		return nil, fmt.Errorf("unsupported agent type %q", p.Type)
	}

	agent := &internal_call_entity.Agent{
		Name:       strings.TrimSpace(p.Name),
		Type:       agentType,
		Status:     internal_call_entity.AgentStatusAvailable,
		ChannelUrl: p.ChannelUrl,
	}
	if err := t.store.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}
