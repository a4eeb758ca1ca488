// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rapidaai/callcenter/pkg/commons"
)

var ErrPermissionDenied = errors.New("microphone permission denied")

const DefaultPermissionTimeout = 30 * time.Second

// Manager owns the microphone of one call.
type Manager interface {
	// Acquire prompts the operator for the microphone. Denial, a missing
	// console or timeout all yield ErrPermissionDenied.
	Acquire(ctx context.Context) (Stream, error)
	// Release stops the stream. Safe to call any number of times, before or
	// after Acquire.
	Release() error
}

type consoleManager struct {
	hub         *Hub
	operatorId  string
	constraints Constraints
	timeout     time.Duration
	logger      commons.Logger

	mu       sync.Mutex
	console  *console
	stream   *micStream
	released bool
	once     sync.Once
}

func NewManager(hub *Hub, operatorId string, timeout time.Duration, logger commons.Logger) Manager {
	if timeout <= 0 {
		timeout = DefaultPermissionTimeout
	}
	return &consoleManager{
		hub:         hub,
		operatorId:  operatorId,
		constraints: DefaultConstraints(),
		timeout:     timeout,
		logger:      logger,
	}
}

func (m *consoleManager) Acquire(ctx context.Context) (Stream, error) {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return nil, fmt.Errorf("%w: media already released", ErrPermissionDenied)
	}
	if m.stream != nil {
		return m.stream, nil
	}

	c := m.hub.console(m.operatorId)
	if c == nil {
		return nil, fmt.Errorf("%w: no console connected for operator %s", ErrPermissionDenied, m.operatorId)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	stream, err := c.requestMicrophone(ctx, m.constraints)
	if err != nil {
		m.logger.Warnf("microphone not granted: operator=%s, err=%v", m.operatorId, err)
		return nil, err
	}
	m.console = c
	m.stream = stream
	m.logger.Infof("microphone granted: operator=%s, stream=%s, sample_rate=%d", m.operatorId, stream.id, stream.sampleRate)
	m.logger.Benchmark("media.Acquire", time.Since(start))
	return stream, nil
}

func (m *consoleManager) Release() error {
	m.once.Do(func() {
		m.mu.Lock()
		m.released = true
		c, stream := m.console, m.stream
		m.mu.Unlock()
		if stream == nil {
			return
		}
		c.release(stream)
		m.logger.Infof("microphone released: operator=%s, stream=%s", m.operatorId, stream.id)
	})
	return nil
}
