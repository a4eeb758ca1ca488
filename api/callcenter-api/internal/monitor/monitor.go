// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	internal_call_entity "github.com/rapidaai/callcenter/api/callcenter-api/internal/entity/calls"
	internal_telephony "github.com/rapidaai/callcenter/api/callcenter-api/internal/telephony"
	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/utils"
)

const DefaultPollInterval = 3 * time.Second

var ErrMonitorStarted = errors.New("status monitor already started")

type StatusSource interface {
	QueryStatus(ctx context.Context, providerCallId string) (string, error)
}

type StatusWriter interface {
	UpdateStatus(ctx context.Context, id string, status internal_call_entity.Status) error
}

// TerminalFunc is invoked once when the provider reports the call over. The
// monitor has already persisted the status and stopped by then, so the
// callback may call Stop.
type TerminalFunc func(status internal_call_entity.Status)

// Monitor polls the provider for one call.
type Monitor struct {
	source   StatusSource
	writer   StatusWriter
	interval time.Duration
	logger   commons.Logger

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

func New(source StatusSource, writer StatusWriter, interval time.Duration, logger commons.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Monitor{
		source:   source,
		writer:   writer,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins polling. A monitor runs at most once.
func (m *Monitor) Start(ctx context.Context, providerCallId, sessionId string, onTerminal TerminalFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrMonitorStarted
	}
	m.started = true

	// detached from the caller's request context; Stop owns cancellation
	ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	utils.Go(ctx, func() {
		m.run(ctx, providerCallId, sessionId, onTerminal)
	})
	m.logger.Debugf("status monitor started: session=%s, provider_call_id=%s, interval=%s", sessionId, providerCallId, m.interval)
	return nil
}

func (m *Monitor) run(ctx context.Context, providerCallId, sessionId string, onTerminal TerminalFunc) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer m.finish()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, terminal := m.poll(ctx, providerCallId, sessionId)
		if !terminal {
			continue
		}
		m.cancel()
		m.finish()
		if onTerminal != nil {
			onTerminal(status)
		}
		return
	}
}

func (m *Monitor) poll(ctx context.Context, providerCallId, sessionId string) (internal_call_entity.Status, bool) {
	raw, err := m.source.QueryStatus(ctx, providerCallId)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warnf("status poll failed: session=%s, err=%v", sessionId, err)
		}
		return "", false
	}
	status, terminal, err := internal_telephony.MapStatus(raw)
	if err != nil {
		m.logger.Warnf("ignoring provider status: session=%s, err=%v", sessionId, err)
		return "", false
	}
	if !terminal {
		return status, false
	}

	if err := m.writer.UpdateStatus(context.WithoutCancel(ctx), sessionId, status); err != nil {
		m.logger.Errorf("unable to persist terminal status: session=%s, status=%s, err=%v", sessionId, status, err)
	}
	m.logger.Infof("provider reported call over: session=%s, provider_status=%s, status=%s", sessionId, raw, status)
	return status, true
}

func (m *Monitor) finish() {
	m.doneOnce.Do(func() { close(m.done) })
}

// Stop cancels polling and waits for the loop to exit. Safe to call before
// Start, more than once, and from within the TerminalFunc.
func (m *Monitor) Stop() {
	m.mu.Lock()
	started, cancel := m.started, m.cancel
	m.started = true
	m.mu.Unlock()

	if !started || cancel == nil {
		m.finish()
		return
	}
	cancel()
	<-m.done
}

// Done is closed once polling has ended.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}
