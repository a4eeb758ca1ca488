// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rapidaai/callcenter/pkg/commons"
)

// Registry owns every live controller, indexed by session id and by
// operator. An operator has at most one live session.
type Registry struct {
	deps   Dependencies
	logger commons.Logger

	mu         sync.RWMutex
	sessions   map[string]*Controller
	byOperator map[string]string
	observers  []StateObserver
}

func NewRegistry(deps Dependencies, logger commons.Logger) *Registry {
	return &Registry{
		deps:       deps,
		logger:     logger,
		sessions:   make(map[string]*Controller),
		byOperator: make(map[string]string),
	}
}

// OnStateChange registers an observer attached to every future session.
func (r *Registry) OnStateChange(observer StateObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, observer)
}

// Create registers a new idle controller for the operator.
func (r *Registry) Create(operatorId string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byOperator[operatorId]; ok {
		return nil, fmt.Errorf("%w: operator %s has session %s", ErrCallInProgress, operatorId, existing)
	}

	c := NewController(operatorId, r.deps, r.logger)
	for _, observer := range r.observers {
		c.OnStateChange(observer)
	}
	c.OnStateChange(func(sessionId string, from, to State) {
		if to == StateEnded {
			r.Remove(sessionId)
		}
	})
	r.sessions[c.Id()] = c
	r.byOperator[operatorId] = c.Id()
	return c, nil
}

func (r *Registry) Get(sessionId string) (*Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[sessionId]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionId)
	}
	return c, nil
}

func (r *Registry) ForOperator(operatorId string) (*Controller, error) {
	r.mu.RLock()
	sessionId, ok := r.byOperator[operatorId]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: operator %s", ErrSessionNotFound, operatorId)
	}
	return r.Get(sessionId)
}

func (r *Registry) Remove(sessionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[sessionId]
	if !ok {
		return
	}
	delete(r.sessions, sessionId)
	if r.byOperator[c.OperatorId()] == sessionId {
		delete(r.byOperator, c.OperatorId())
	}
}

// Initiate creates a session for the operator and places the call. A failed
// initiation leaves nothing registered.
func (r *Registry) Initiate(ctx context.Context, operatorId string, req InitiateRequest) (*Controller, error) {
	c, err := r.Create(operatorId)
	if err != nil {
		return nil, err
	}
	if _, err := c.Initiate(ctx, req); err != nil {
		r.Remove(c.Id())
		return nil, err
	}
	return c, nil
}

func (r *Registry) Terminate(ctx context.Context, sessionId string) error {
	c, err := r.Get(sessionId)
	if err != nil {
		return err
	}
	return c.Terminate(ctx)
}

// Shutdown terminates every live session.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.RLock()
	live := make([]*Controller, 0, len(r.sessions))
	for _, c := range r.sessions {
		live = append(live, c)
	}
	r.mu.RUnlock()

	for _, c := range live {
		if err := c.Terminate(ctx); err != nil {
			r.logger.Errorf("terminating session on shutdown: session=%s, err=%v", c.Id(), err)
		}
	}
	r.logger.Infof("terminated %d live sessions", len(live))
}
