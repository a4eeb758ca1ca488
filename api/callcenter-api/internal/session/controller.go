// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	internal_call_entity "github.com/rapidaai/callcenter/api/callcenter-api/internal/entity/calls"
	internal_media "github.com/rapidaai/callcenter/api/callcenter-api/internal/media"
	internal_monitor "github.com/rapidaai/callcenter/api/callcenter-api/internal/monitor"
	internal_telephony "github.com/rapidaai/callcenter/api/callcenter-api/internal/telephony"
	internal_transcription "github.com/rapidaai/callcenter/api/callcenter-api/internal/transcription"
	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/utils"
)

var (
	ErrCallInProgress  = errors.New("call already in progress")
	ErrSessionAborted  = errors.New("call session aborted")
	ErrSessionNotFound = errors.New("call session not found")
	ErrInvalidNumber   = errors.New("invalid phone number")
)

type State string

const (
	StateIdle                  State = "idle"
	StateRequestingPermissions State = "requesting_permissions"
	StateConnecting            State = "connecting"
	StateConnected             State = "connected"
	StateEnded                 State = "ended"
)

func (s State) String() string {
	return string(s)
}

// StateObserver is told about every transition, in order, after the
// controller has released its lock.
type StateObserver func(sessionId string, from, to State)

type InitiateRequest struct {
	Number    string `json:"number" binding:"required"`
	AgentHint string `json:"agentHint"`
	AiAgentId string `json:"aiAgentId"`
}

// Store is what a session persists through.
type Store interface {
	Create(ctx context.Context, cs *internal_call_entity.CallSession) error
	UpdateStatus(ctx context.Context, id string, status internal_call_entity.Status) error
	// Complete moves a still-live call to completed and reports whether it did.
	Complete(ctx context.Context, id string) (bool, error)
	AppendTranscript(ctx context.Context, entry *internal_call_entity.TranscriptEntry) error
}

// AgentChannel is the live link to an AI agent on the call. SendAudio carries
// each captured window and SendText each transcribed turn.
type AgentChannel interface {
	SendText(text string) error
	SendAudio(pcm []byte, sampleRate int) error
	Close(ctx context.Context) error
}

type AgentConnector interface {
	Connect(ctx context.Context, agentId, callId string, metadata map[string]string) (AgentChannel, error)
}

// Dependencies are shared by every session the registry creates.
type Dependencies struct {
	Provider    internal_telephony.Provider
	Store       Store
	Media       func(operatorId string) internal_media.Manager
	Transcriber internal_transcription.Transcriber
	// Agents is optional; without it calls never get an AI agent.
	Agents AgentConnector

	PollInterval time.Duration
	Pipeline     internal_transcription.Options
}

type stateChange struct {
	from, to State
}

// Controller drives one outbound call for one operator:
// idle -> requesting_permissions -> connecting -> connected -> ended.
type Controller struct {
	id         string
	operatorId string
	deps       Dependencies
	logger     commons.Logger

	mu        sync.Mutex
	state     State
	pending   []stateChange
	observers []StateObserver
	abort     context.CancelFunc

	session  *internal_call_entity.CallSession
	media    internal_media.Manager
	monitor  *internal_monitor.Monitor
	pipeline *internal_transcription.Pipeline
	channel  AgentChannel
}

func NewController(operatorId string, deps Dependencies, logger commons.Logger) *Controller {
	id := uuid.NewString()
	return &Controller{
		id:         id,
		operatorId: operatorId,
		deps:       deps,
		logger:     logger.With("session_id", id, "operator_id", operatorId),
		state:      StateIdle,
	}
}

func (c *Controller) Id() string {
	return c.id
}

func (c *Controller) OperatorId() string {
	return c.operatorId
}

func (c *Controller) OnStateChange(observer StateObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, observer)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the persisted call, nil before connect.
func (c *Controller) Session() *internal_call_entity.CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	cs := *c.session
	return &cs
}

// Transcript returns what the operator side has said so far.
func (c *Controller) Transcript() []internal_call_entity.TranscriptEntry {
	c.mu.Lock()
	pipeline := c.pipeline
	c.mu.Unlock()
	if pipeline == nil {
		return nil
	}
	return pipeline.Entries()
}

// setState must be called with mu held; observers run in unlock.
func (c *Controller) setState(to State) {
	if c.state == to {
		return
	}
	c.pending = append(c.pending, stateChange{from: c.state, to: to})
	c.logger.Debugf("session state: %s -> %s", c.state, to)
	c.state = to
}

func (c *Controller) unlock() {
	pending := c.pending
	c.pending = nil
	observers := append([]StateObserver(nil), c.observers...)
	c.mu.Unlock()
	for _, change := range pending {
		for _, observer := range observers {
			observer(c.id, change.from, change.to)
		}
	}
}

// advance moves from one state to the next unless the session was aborted
// in between.
func (c *Controller) advance(from, to State) bool {
	c.mu.Lock()
	defer c.unlock()
	if c.state != from {
		return false
	}
	c.setState(to)
	return true
}

// fail returns a failed initiation to idle. It reports true when the session
// was terminated meanwhile and stays ended.
func (c *Controller) fail() bool {
	c.mu.Lock()
	defer c.unlock()
	c.abort = nil
	if c.state == StateEnded {
		return true
	}
	c.setState(StateIdle)
	return false
}

// Initiate places an outbound call. Nothing is dialed without the
// microphone, and nothing is persisted without an accepted dial.
func (c *Controller) Initiate(ctx context.Context, req InitiateRequest) (*internal_call_entity.CallSession, error) {
	start := time.Now()
	number := strings.TrimSpace(req.Number)

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, ErrCallInProgress
	}
	if len(utils.PhoneDigits(number)) < 7 {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, req.Number)
	}
	initCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.abort = cancel
	c.media = c.deps.Media(c.operatorId)
	media := c.media
	c.setState(StateRequestingPermissions)
	c.unlock()

	stream, err := media.Acquire(initCtx)
	if err != nil {
		c.logger.Warnf("microphone not granted: %v", err)
		_ = media.Release()
		if c.fail() {
			return nil, ErrSessionAborted
		}
		return nil, err
	}
	if !c.advance(StateRequestingPermissions, StateConnecting) {
		_ = media.Release()
		c.fail()
		return nil, ErrSessionAborted
	}

	result, err := c.deps.Provider.Dial(initCtx, internal_telephony.DialRequest{
		Number:           number,
		AgentHint:        req.AgentHint,
		PreventDuplicate: true,
		IdempotencyKey:   c.id,
	})
	if err != nil {
		c.logger.Errorf("dial failed: provider=%s, err=%v", c.deps.Provider.Name(), err)
		_ = media.Release()
		if c.fail() {
			return nil, ErrSessionAborted
		}
		return nil, err
	}

	cs := &internal_call_entity.CallSession{
		Id:                c.id,
		ProviderCallId:    utils.Ptr(result.ProviderCallId),
		Direction:         internal_call_entity.DirectionOutbound,
		CounterpartNumber: number,
		Status:            internal_call_entity.StatusActive,
		AiAgentId:         utils.PtrOrNil(req.AiAgentId),
		HumanAgentId:      utils.Ptr(c.operatorId),
	}
	if err := c.deps.Store.Create(context.WithoutCancel(ctx), cs); err != nil {
		// the carrier leg exists but cannot be tracked
		c.logger.Errorf("unable to persist call, hanging up: provider_call_id=%s, err=%v", result.ProviderCallId, err)
		if hErr := c.deps.Provider.Hangup(context.WithoutCancel(ctx), result.ProviderCallId); hErr != nil {
			c.logger.Errorf("hangup after persistence failure: %v", hErr)
		}
		_ = media.Release()
		c.fail()
		return nil, err
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// terminated while dialing
		c.abort = nil
		c.unlock()
		c.logger.Warnf("session ended while dialing, hanging up: provider_call_id=%s", result.ProviderCallId)
		bg := context.WithoutCancel(ctx)
		_, completeErr := c.deps.Store.Complete(bg, c.id)
		err := errors.Join(
			c.deps.Provider.Hangup(bg, result.ProviderCallId),
			completeErr,
			media.Release(),
		)
		if err != nil {
			c.logger.Errorf("cleanup after abort: %v", err)
		}
		return nil, ErrSessionAborted
	}
	c.abort = nil
	c.session = cs
	c.monitor = internal_monitor.New(c.deps.Provider, c.deps.Store, c.deps.PollInterval, c.logger)
	c.pipeline = internal_transcription.NewPipeline(c.id, c.deps.Transcriber, c.deps.Store, c.deps.Pipeline, c.logger)
	c.pipeline.OnEntry(c.forwardToAgent)
	c.pipeline.OnAudio(c.streamToAgent)
	monitor, pipeline := c.monitor, c.pipeline
	c.setState(StateConnected)
	c.unlock()

	if err := monitor.Start(ctx, result.ProviderCallId, c.id, c.onProviderTerminal); err != nil {
		c.logger.Errorf("unable to start status monitor: %v", err)
	}
	if err := pipeline.Start(ctx, stream); err != nil {
		c.logger.Errorf("unable to start transcription: %v", err)
	}
	if req.AiAgentId != "" {
		c.connectAgent(ctx, req.AiAgentId, number)
	}

	c.logger.Benchmark("Controller.Initiate", time.Since(start))
	c.logger.Infof("call connected: provider=%s, provider_call_id=%s", c.deps.Provider.Name(), result.ProviderCallId)
	return c.Session(), nil
}

// connectAgent hands the call to an AI agent. A failure leaves the call up
// without one.
func (c *Controller) connectAgent(ctx context.Context, agentId, number string) {
	if c.deps.Agents == nil {
		c.logger.Warnf("no agent connector configured, skipping agent %s", agentId)
		return
	}
	channel, err := c.deps.Agents.Connect(ctx, agentId, c.id, map[string]string{
		"direction":   string(internal_call_entity.DirectionOutbound),
		"number":      number,
		"operator_id": c.operatorId,
	})
	if err != nil {
		c.logger.Errorf("unable to connect agent %s: %v", agentId, err)
		return
	}

	c.mu.Lock()
	if c.state == StateConnected {
		c.channel = channel
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	// session ended while the agent was connecting
	if err := channel.Close(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warnf("closing late agent channel: %v", err)
	}
}

// forwardToAgent relays a transcribed operator-side turn to the AI agent,
// when one is on the call.
func (c *Controller) forwardToAgent(entry internal_call_entity.TranscriptEntry) {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()
	if channel == nil {
		return
	}
	if err := channel.SendText(entry.Text); err != nil {
		c.logger.Warnf("unable to forward transcript to agent: entry=%s, err=%v", entry.Id, err)
	}
}

// streamToAgent relays each captured audio window to the AI agent, when one
// is on the call.
func (c *Controller) streamToAgent(pcm []byte, sampleRate int) {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()
	if channel == nil {
		return
	}
	if err := channel.SendAudio(pcm, sampleRate); err != nil {
		c.logger.Warnf("unable to stream audio to agent: call=%s, bytes=%d, err=%v", c.id, len(pcm), err)
	}
}

// Terminate ends the call. Only the first call after connect hangs up and
// writes the status; later calls return nil.
func (c *Controller) Terminate(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StateEnded:
		c.mu.Unlock()
		return nil
	case StateRequestingPermissions, StateConnecting:
		// Initiate notices and cleans up what it holds
		abort := c.abort
		c.setState(StateEnded)
		c.unlock()
		if abort != nil {
			abort()
		}
		return nil
	}
	c.setState(StateEnded)
	providerCallId := utils.Deref(c.session.ProviderCallId)
	c.unlock()

	start := time.Now()
	bg := context.WithoutCancel(ctx)

	// stop polling first so a racing terminal status is not written twice
	c.monitor.Stop()

	var errs []error
	if providerCallId != "" {
		if err := c.deps.Provider.Hangup(bg, providerCallId); err != nil {
			errs = append(errs, err)
		}
	}
	// a terminal status the monitor already wrote is kept
	if updated, err := c.deps.Store.Complete(bg, c.id); err != nil {
		errs = append(errs, err)
	} else if updated {
		c.markStatus(internal_call_entity.StatusCompleted)
	}
	errs = append(errs, c.teardown(bg))

	err := errors.Join(errs...)
	if err != nil {
		c.logger.Errorf("call terminated with errors: %v", err)
	} else {
		c.logger.Infof("call terminated")
	}
	c.logger.Benchmark("Controller.Terminate", time.Since(start))
	return err
}

// onProviderTerminal runs when the carrier reports the call over. The status
// is already persisted by the monitor.
func (c *Controller) onProviderTerminal(status internal_call_entity.Status) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.setState(StateEnded)
	c.unlock()

	c.markStatus(status)
	if err := c.teardown(context.Background()); err != nil {
		c.logger.Errorf("teardown after provider ended call: %v", err)
	}
	c.logger.Infof("call ended by provider: status=%s", status)
}

func (c *Controller) markStatus(status internal_call_entity.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return
	}
	c.session.Status = status
	now := time.Now().UTC()
	c.session.EndTime = &now
}

// teardown stops children in order: monitor, pipeline, agent, media. Every
// step runs even when an earlier one fails.
func (c *Controller) teardown(ctx context.Context) error {
	c.mu.Lock()
	monitor, pipeline, media := c.monitor, c.pipeline, c.media
	c.mu.Unlock()

	var errs []error
	if monitor != nil {
		monitor.Stop()
	}
	if pipeline != nil {
		// the final flush still reaches the agent
		if err := pipeline.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("transcription: %w", err))
		}
	}

	c.mu.Lock()
	channel := c.channel
	c.channel = nil
	c.mu.Unlock()
	if channel != nil {
		if err := channel.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("agent channel: %w", err))
		}
	}
	if media != nil {
		if err := media.Release(); err != nil {
			errs = append(errs, fmt.Errorf("media: %w", err))
		}
	}
	return errors.Join(errs...)
}
