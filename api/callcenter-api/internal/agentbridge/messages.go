// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_agentbridge

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// WebSocket Message Types
// =============================================================================

// WSMessageType defines the type of message and what data structure to expect
type WSMessageType string

const (
	// Request types (bridge -> agent)
	WSTypeConfiguration WSMessageType = "configuration" // Data: WSConfigurationData
	WSTypeUserMessage   WSMessageType = "user_message"  // Data: WSUserMessageData
	WSTypeUserAudio     WSMessageType = "user_audio"    // Data: WSAudioData
	WSTypeToolResult    WSMessageType = "tool_result"   // Data: ToolResult

	// Response types (agent -> bridge)
	WSTypeAgentResponse WSMessageType = "agent_response" // Data: AgentResponse
	WSTypeAudio         WSMessageType = "audio"          // Data: AudioChunk
	WSTypeToolCall      WSMessageType = "tool_call"      // Data: ToolCall
	WSTypeError         WSMessageType = "error"          // Data: AgentError

	// Control types (bidirectional)
	WSTypePing WSMessageType = "ping" // Data: nil
	WSTypePong WSMessageType = "pong" // Data: nil
)

// WSRequest represents an outgoing WebSocket message with typed data
type WSRequest struct {
	Type      WSMessageType `json:"type"`
	Timestamp int64         `json:"timestamp"`
	Data      interface{}   `json:"data,omitempty"`
}

// WSResponse represents an incoming WebSocket message before decoding
type WSResponse struct {
	Type      WSMessageType   `json:"type"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type WSConfigurationData struct {
	AgentId        string            `json:"agentId"`
	ConversationId string            `json:"conversationId"`
	CallId         string            `json:"callId"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type WSUserMessageData struct {
	Id        string `json:"id"`
	Content   string `json:"content"`
	Completed bool   `json:"completed"`
	Timestamp int64  `json:"timestamp"`
}

type WSAudioData struct {
	Audio      []byte `json:"audio"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
}

// =============================================================================
// Agent events
// =============================================================================

// AgentEvent is a decoded inbound frame: one of AgentResponse, AudioChunk,
// ToolCall, AgentError, Ping or Pong.
type AgentEvent interface {
	eventType() WSMessageType
}

// AgentResponse is a conversational turn spoken by the agent.
type AgentResponse struct {
	Id        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

type AudioChunk struct {
	Audio      []byte `json:"audio"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
}

// ToolCall asks the bridge to run an allow-listed tool. A call whose name or
// parameters could not be read keeps its id and carries the decode error, so
// the agent still gets a failed result for it.
type ToolCall struct {
	Id         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	malformed error
}

type AgentError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type Ping struct{}

type Pong struct{}

func (AgentResponse) eventType() WSMessageType { return WSTypeAgentResponse }
func (AudioChunk) eventType() WSMessageType    { return WSTypeAudio }
func (ToolCall) eventType() WSMessageType      { return WSTypeToolCall }
func (AgentError) eventType() WSMessageType    { return WSTypeError }
func (Ping) eventType() WSMessageType          { return WSTypePing }
func (Pong) eventType() WSMessageType          { return WSTypePong }

// DecodeEvent parses one text frame into its event variant.
func DecodeEvent(raw []byte) (AgentEvent, error) {
	var resp WSResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed agent frame: %w", err)
	}

	var (
		event AgentEvent
		err   error
	)
	switch resp.Type {
	case WSTypeAgentResponse:
		var v AgentResponse
		err = decodeData(resp.Data, &v)
		event = v
	case WSTypeAudio:
		var v AudioChunk
		err = decodeData(resp.Data, &v)
		event = v
	case WSTypeToolCall:
		event, err = decodeToolCall(resp.Data)
	case WSTypeError:
		var v AgentError
		err = decodeData(resp.Data, &v)
		event = v
	case WSTypePing:
		event = Ping{}
	case WSTypePong:
		event = Pong{}
	default:
		return nil, fmt.Errorf("unknown agent frame type %q", resp.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("malformed %s frame: %w", resp.Type, err)
	}
	return event, nil
}

// decodeToolCall fails only when no tool call id can be read.
func decodeToolCall(data json.RawMessage) (ToolCall, error) {
	var wire struct {
		Id         string          `json:"id"`
		Name       json.RawMessage `json:"name"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := decodeData(data, &wire); err != nil {
		return ToolCall{}, err
	}
	if wire.Id == "" {
		return ToolCall{}, fmt.Errorf("tool call has no id")
	}

	call := ToolCall{Id: wire.Id}
	if len(wire.Name) > 0 {
		if err := json.Unmarshal(wire.Name, &call.Name); err != nil {
			call.malformed = fmt.Errorf("name: %w", err)
			return call, nil
		}
	}
	if call.Name == "" {
		call.malformed = fmt.Errorf("tool call %q has no name", wire.Id)
		return call, nil
	}
	if len(wire.Parameters) > 0 {
		if err := json.Unmarshal(wire.Parameters, &call.Parameters); err != nil {
			call.malformed = fmt.Errorf("parameters: %w", err)
		}
	}
	return call, nil
}

func decodeData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("missing data")
	}
	return json.Unmarshal(data, v)
}
