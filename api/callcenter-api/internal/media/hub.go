// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_media

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/callcenter/pkg/commons"
)

// Hub tracks the console websocket of every connected operator. The console
// is the only place a microphone can come from, so a session acquiring media
// goes through the hub to reach its operator's browser.
type Hub struct {
	logger commons.Logger

	mu       sync.RWMutex
	consoles map[string]*console
}

func NewHub(logger commons.Logger) *Hub {
	return &Hub{
		logger:   logger,
		consoles: make(map[string]*console),
	}
}

// Serve attaches conn as operatorId's console and blocks until it
// disconnects. A newer connection for the same operator replaces the older.
func (h *Hub) Serve(ctx context.Context, operatorId string, conn *websocket.Conn) error {
	c := newConsole(operatorId, conn, h.logger)

	h.mu.Lock()
	previous := h.consoles[operatorId]
	h.consoles[operatorId] = c
	h.mu.Unlock()
	if previous != nil {
		h.logger.Warnf("console replaced: operator=%s", operatorId)
		previous.shutdown()
	}

	h.logger.Infof("console connected: operator=%s", operatorId)
	err := c.readLoop(ctx)

	h.mu.Lock()
	if h.consoles[operatorId] == c {
		delete(h.consoles, operatorId)
	}
	h.mu.Unlock()
	c.shutdown()
	h.logger.Infof("console disconnected: operator=%s", operatorId)
	return err
}

// Connected reports whether the operator has a live console.
func (h *Hub) Connected(operatorId string) bool {
	return h.console(operatorId) != nil
}

func (h *Hub) console(operatorId string) *console {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.consoles[operatorId]
}

type permissionReply struct {
	MicrophonePermissionData
	disconnected bool
}

type console struct {
	operatorId string
	conn       *websocket.Conn
	logger     commons.Logger
	writeMu    sync.Mutex

	mu      sync.Mutex
	closed  bool
	pending map[string]chan permissionReply
	active  *micStream
}

func newConsole(operatorId string, conn *websocket.Conn, logger commons.Logger) *console {
	conn.SetReadLimit(1024 * 1024)
	return &console{
		operatorId: operatorId,
		conn:       conn,
		logger:     logger,
		pending:    make(map[string]chan permissionReply),
	}
}

func (c *console) send(msg ConsoleRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal console message: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write console message: %w", err)
	}
	return nil
}

func (c *console) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("console read error: %w", err)
		}

		if messageType == websocket.BinaryMessage {
			c.mu.Lock()
			active := c.active
			c.mu.Unlock()
			if active != nil {
				active.push(payload)
			}
			continue
		}

		var resp ConsoleResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			c.logger.Errorf("Failed to unmarshal console message: operator=%s, err=%v", c.operatorId, err)
			continue
		}
		c.process(&resp)
	}
}

func (c *console) process(resp *ConsoleResponse) {
	switch resp.Type {
	case ConsoleTypeMicrophonePermission:
		var data MicrophonePermissionData
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			c.logger.Errorf("Failed to parse permission data: %v", err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[data.RequestId]
		delete(c.pending, data.RequestId)
		c.mu.Unlock()
		if !ok {
			// the request already timed out; make sure the browser lets go
			if data.Granted {
				_ = c.send(ConsoleRequest{
					Type:      ConsoleTypeReleaseMicrophone,
					Timestamp: time.Now().UnixMilli(),
					Data:      ReleaseMicrophoneData{RequestId: data.RequestId},
				})
			}
			return
		}
		ch <- permissionReply{MicrophonePermissionData: data}

	case ConsoleTypePing:
		_ = c.send(ConsoleRequest{Type: ConsoleTypePong, Timestamp: time.Now().UnixMilli()})

	case ConsoleTypePong:
		c.logger.Debugf("Received pong from console: operator=%s", c.operatorId)

	default:
		c.logger.Warnf("Unknown console message type: operator=%s, type=%s", c.operatorId, resp.Type)
	}
}

// requestMicrophone asks the browser for the microphone and waits for the
// answer or ctx.
func (c *console) requestMicrophone(ctx context.Context, constraints Constraints) (*micStream, error) {
	requestId := uuid.NewString()
	reply := make(chan permissionReply, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: console disconnected", ErrPermissionDenied)
	}
	if c.active != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: microphone already in use", ErrPermissionDenied)
	}
	c.pending[requestId] = reply
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, requestId)
		c.mu.Unlock()
	}

	err := c.send(ConsoleRequest{
		Type:      ConsoleTypeRequestMicrophone,
		Timestamp: time.Now().UnixMilli(),
		Data:      RequestMicrophoneData{RequestId: requestId, Constraints: constraints},
	})
	if err != nil {
		forget()
		return nil, fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}

	select {
	case <-ctx.Done():
		forget()
		return nil, fmt.Errorf("%w: %w", ErrPermissionDenied, ctx.Err())
	case r := <-reply:
		if r.disconnected {
			return nil, fmt.Errorf("%w: console disconnected", ErrPermissionDenied)
		}
		if !r.Granted {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, r.Reason)
		}
		stream := newMicStream(requestId, r.Encoding, r.SampleRate, c.logger)

		c.mu.Lock()
		if c.closed || c.active != nil {
			c.mu.Unlock()
			stream.close()
			return nil, fmt.Errorf("%w: microphone already in use", ErrPermissionDenied)
		}
		c.active = stream
		c.mu.Unlock()
		return stream, nil
	}
}

// release tells the browser to stop the tracks and closes the stream.
func (c *console) release(stream *micStream) {
	c.mu.Lock()
	if c.active == stream {
		c.active = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if !closed {
		if err := c.send(ConsoleRequest{
			Type:      ConsoleTypeReleaseMicrophone,
			Timestamp: time.Now().UnixMilli(),
			Data:      ReleaseMicrophoneData{RequestId: stream.id},
		}); err != nil {
			c.logger.Warnf("unable to notify console of release: operator=%s, err=%v", c.operatorId, err)
		}
	}
	stream.close()
}

// shutdown fails pending requests, ends the active stream and closes the conn.
func (c *console) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan permissionReply)
	active := c.active
	c.active = nil
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- permissionReply{disconnected: true}
	}
	if active != nil {
		active.close()
	}

	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	_ = c.conn.Close()
}
