// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_agentbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	internal_call_entity "github.com/rapidaai/callcenter/api/callcenter-api/internal/entity/calls"
	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/utils"
)

// Channel is the live conversation between a call and its agent.
type Channel struct {
	agentId        string
	conversationId string
	callId         string
	tools          *ToolSet
	store          BridgeStore
	onMessage      Observer
	logger         commons.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	done     chan struct{}
	closeErr error
	once     sync.Once
}

func newChannel(conn *websocket.Conn, agentId, conversationId, callId string, tools *ToolSet, store BridgeStore, onMessage Observer, logger commons.Logger) *Channel {
	conn.SetPongHandler(func(appData string) error {
		logger.Debugf("Received pong from agent: call=%s", callId)
		return nil
	})
	return &Channel{
		agentId:        agentId,
		conversationId: conversationId,
		callId:         callId,
		tools:          tools,
		store:          store,
		onMessage:      onMessage,
		logger:         logger,
		conn:           conn,
		done:           make(chan struct{}),
	}
}

func (c *Channel) ConversationId() string {
	return c.conversationId
}

func (c *Channel) start() {
	ctx := context.Background()
	utils.Go(ctx, func() {
		defer close(c.done)
		if err := c.responseListener(ctx); err != nil {
			c.logger.Errorf("Error in agent channel listener: call=%s, err=%v", c.callId, err)
		}
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	})
}

// send safely writes one envelope.
func (c *Channel) send(msg WSRequest) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// SendText forwards something the caller said.
func (c *Channel) SendText(text string) error {
	now := time.Now().UnixMilli()
	return c.send(WSRequest{
		Type:      WSTypeUserMessage,
		Timestamp: now,
		Data: WSUserMessageData{
			Id:        uuid.NewString(),
			Content:   text,
			Completed: true,
			Timestamp: now,
		},
	})
}

// SendAudio forwards PCM16 audio from the call.
func (c *Channel) SendAudio(pcm []byte, sampleRate int) error {
	return c.send(WSRequest{
		Type:      WSTypeUserAudio,
		Timestamp: time.Now().UnixMilli(),
		Data:      WSAudioData{Audio: pcm, Encoding: "pcm16", SampleRate: sampleRate},
	})
}

func (c *Channel) responseListener(ctx context.Context) error {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closed
			c.mu.Unlock()
			if closing || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debugf("Agent channel closed: call=%s", c.callId)
				return nil
			}
			return fmt.Errorf("websocket read error: %w", err)
		}

		event, err := DecodeEvent(message)
		if err != nil {
			c.logger.Errorf("Failed to decode agent frame: call=%s, err=%v", c.callId, err)
			continue
		}
		for _, eff := range c.handle(event) {
			c.apply(ctx, eff)
		}
		if c.onMessage != nil {
			c.onMessage(event)
		}
	}
}

// =============================================================================
// Event handling
// =============================================================================

type effect interface{}

type appendTranscriptEffect struct {
	entry internal_call_entity.TranscriptEntry
}

type runToolEffect struct {
	call ToolCall
}

type sendEffect struct {
	msg WSRequest
}

type logEffect struct {
	message string
}

// handle maps an event to the effects it causes. It does no I/O.
func (c *Channel) handle(event AgentEvent) []effect {
	switch e := event.(type) {
	case AgentResponse:
		text := strings.TrimSpace(e.Text)
		if text == "" {
			return nil
		}
		return []effect{appendTranscriptEffect{
			entry: internal_call_entity.NewTranscriptEntry(c.callId, internal_call_entity.SourceAi, text),
		}}
	case ToolCall:
		return []effect{runToolEffect{call: e}}
	case AgentError:
		return []effect{logEffect{message: fmt.Sprintf("agent error: code=%d, message=%s", e.Code, e.Message)}}
	case Ping:
		return []effect{sendEffect{msg: WSRequest{Type: WSTypePong, Timestamp: time.Now().UnixMilli()}}}
	case AudioChunk, Pong:
		// audio only goes to the observer
		return nil
	}
	return nil
}

func (c *Channel) apply(ctx context.Context, eff effect) {
	switch e := eff.(type) {
	case appendTranscriptEffect:
		entry := e.entry
		if err := c.store.AppendTranscript(ctx, &entry); err != nil {
			c.logger.Errorf("unable to append agent turn: call=%s, err=%v", c.callId, err)
		}
	case runToolEffect:
		result := c.tools.Dispatch(ctx, c.callId, e.call)
		if err := c.send(WSRequest{Type: WSTypeToolResult, Timestamp: time.Now().UnixMilli(), Data: result}); err != nil {
			c.logger.Errorf("unable to return tool result: call=%s, tool=%s, err=%v", c.callId, e.call.Name, err)
		}
	case sendEffect:
		if err := c.send(e.msg); err != nil {
			c.logger.Warnf("unable to send %s: call=%s, err=%v", e.msg.Type, c.callId, err)
		}
	case logEffect:
		c.logger.Warnf("%s: call=%s", e.message, c.callId)
	}
}

// =============================================================================
// Close
// =============================================================================

// shutdown closes the socket and waits for the listener.
func (c *Channel) shutdown() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Debugf("Error sending close message: %v", err)
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Debugf("Error closing websocket connection: %v", err)
	}
	<-c.done
	return nil
}

// Close ends the conversation and marks the call completed. Only the first
// call has any effect; later calls return the first result.
func (c *Channel) Close(ctx context.Context) error {
	c.once.Do(func() {
		_ = c.shutdown()
		updated, err := c.store.Complete(ctx, c.callId)
		if err != nil {
			c.closeErr = err
			c.logger.Errorf("unable to complete call on channel close: call=%s, err=%v", c.callId, err)
			return
		}
		c.logger.Infof("agent channel closed: call=%s, conversation=%s, completed=%v", c.callId, c.conversationId, updated)
	})
	return c.closeErr
}

// Done is closed when the listener has exited.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}
