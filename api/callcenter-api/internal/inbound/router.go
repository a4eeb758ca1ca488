// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_inbound

import (
	"context"
	"errors"
	"time"

	internal_callstore "github.com/rapidaai/callcenter/api/callcenter-api/internal/callstore"
	internal_call_entity "github.com/rapidaai/callcenter/api/callcenter-api/internal/entity/calls"
	internal_notifier "github.com/rapidaai/callcenter/api/callcenter-api/internal/notifier"
	internal_telephony "github.com/rapidaai/callcenter/api/callcenter-api/internal/telephony"
	"github.com/rapidaai/callcenter/config"
	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/utils"
)

// Store is what inbound routing reads and writes.
type Store interface {
	Create(ctx context.Context, cs *internal_call_entity.CallSession) error
	GetByProviderCallId(ctx context.Context, providerCallId string) (*internal_call_entity.CallSession, error)
	UpdateStatus(ctx context.Context, id string, status internal_call_entity.Status) error
	AssignAgents(ctx context.Context, id string, aiAgentId, humanAgentId *string) error
	FirstAvailable(ctx context.Context, agentType internal_call_entity.AgentType) (*internal_call_entity.Agent, error)
	GetAgent(ctx context.Context, id string) (*internal_call_entity.Agent, error)
	FindByPhoneSuffix(ctx context.Context, number string) (*internal_call_entity.Contact, error)
}

// Router answers carrier webhooks for inbound calls. It holds no call state;
// the store's provider_call_id uniqueness is the dedup point.
type Router struct {
	store    Store
	notifier internal_notifier.Notifier
	texts    config.InboundConfig
	logger   commons.Logger
}

// Decision is the routing outcome for one webhook.
type Decision struct {
	Session *internal_call_entity.CallSession
	Agent   *internal_call_entity.Agent
	Created bool
}

func NewRouter(store Store, notifier internal_notifier.Notifier, texts config.InboundConfig, logger commons.Logger) *Router {
	return &Router{store: store, notifier: notifier, texts: texts, logger: logger}
}

// Handle routes the webhook and renders the call-control markup. It always
// returns markup: failures get the apology.
func (r *Router) Handle(ctx context.Context, hook Webhook) string {
	start := time.Now()
	decision, err := r.Route(ctx, hook)
	if err != nil {
		r.logger.Errorf("inbound routing failed: provider_call_id=%s, err=%v", hook.ProviderCallId, err)
		return r.Apology()
	}
	out, err := r.directive(decision.Session, decision.Agent)
	if err != nil {
		r.logger.Errorf("unable to render directive: call=%s, err=%v", decision.Session.Id, err)
		return r.Apology()
	}
	r.logger.Benchmark("Router.Handle", time.Since(start))
	return out
}

// Route applies one webhook to the store.
func (r *Router) Route(ctx context.Context, hook Webhook) (*Decision, error) {
	if err := hook.validate(); err != nil {
		return nil, err
	}
	status := internal_telephony.InboundStatus(hook.Status)

	existing, err := r.store.GetByProviderCallId(ctx, hook.ProviderCallId)
	switch {
	case err == nil:
		return r.update(ctx, existing, status)
	case !errors.Is(err, internal_callstore.ErrCallNotFound):
		return nil, err
	}

	decision, err := r.create(ctx, hook, status)
	if errors.Is(err, internal_callstore.ErrDuplicateProviderCall) {
		// a concurrent delivery created it first
		existing, getErr := r.store.GetByProviderCallId(ctx, hook.ProviderCallId)
		if getErr != nil {
			return nil, getErr
		}
		return r.update(ctx, existing, status)
	}
	return decision, err
}

func (r *Router) update(ctx context.Context, cs *internal_call_entity.CallSession, status internal_call_entity.Status) (*Decision, error) {
	var agent *internal_call_entity.Agent
	if cs.AiAgentId != nil {
		found, err := r.store.GetAgent(ctx, *cs.AiAgentId)
		if err != nil {
			r.logger.Warnf("assigned agent not loadable: call=%s, agent=%s, err=%v", cs.Id, *cs.AiAgentId, err)
		} else {
			agent = found
		}
	} else if !status.IsTerminal() {
		agent = r.pickAgent(ctx)
		if agent != nil {
			if err := r.store.AssignAgents(ctx, cs.Id, &agent.Id, nil); err != nil {
				return nil, err
			}
			cs.AiAgentId = utils.Ptr(agent.Id)
		}
	}
	status = liveStatus(status, agent)

	if err := r.store.UpdateStatus(ctx, cs.Id, status); err != nil {
		return nil, err
	}
	cs.Status = status
	r.logger.Infof("inbound webhook redelivered: call=%s, provider_call_id=%s, status=%s", cs.Id, utils.Deref(cs.ProviderCallId), status)
	return &Decision{Session: cs, Agent: agent}, nil
}

func (r *Router) create(ctx context.Context, hook Webhook, status internal_call_entity.Status) (*Decision, error) {
	agent := r.pickAgent(ctx)

	cs := &internal_call_entity.CallSession{
		ProviderCallId:    utils.Ptr(hook.ProviderCallId),
		Direction:         internal_call_entity.DirectionInbound,
		CounterpartNumber: hook.From,
		Status:            status,
	}
	if agent != nil {
		cs.AiAgentId = utils.Ptr(agent.Id)
	}
	cs.Status = liveStatus(status, agent)
	if contact, err := r.store.FindByPhoneSuffix(ctx, hook.From); err == nil {
		cs.CounterpartName = utils.Ptr(contact.Name)
	} else if !errors.Is(err, internal_callstore.ErrContactNotFound) {
		r.logger.Warnf("contact lookup failed: from=%s, err=%v", hook.From, err)
	}
	cs.Transcript = []internal_call_entity.TranscriptEntry{
		internal_call_entity.NewTranscriptEntry("", internal_call_entity.SourceAi, r.texts.Greeting),
	}

	if err := r.store.Create(ctx, cs); err != nil {
		return nil, err
	}
	r.logger.Infof("inbound call created: call=%s, provider_call_id=%s, status=%s, agent=%s",
		cs.Id, hook.ProviderCallId, cs.Status, utils.Deref(cs.AiAgentId))

	if r.notifier != nil {
		if err := r.notifier.NewCall(ctx, internal_notifier.NewCallEventFrom(cs)); err != nil {
			r.logger.Warnf("unable to broadcast new call: call=%s, err=%v", cs.Id, err)
		}
	}
	return &Decision{Session: cs, Agent: agent, Created: true}, nil
}

func (r *Router) pickAgent(ctx context.Context) *internal_call_entity.Agent {
	agent, err := r.store.FirstAvailable(ctx, internal_call_entity.AgentTypeAi)
	if err != nil {
		if !errors.Is(err, internal_callstore.ErrNoAvailableAgent) {
			r.logger.Warnf("agent lookup failed: %v", err)
		}
		return nil
	}
	return agent
}

// reachable reports whether the carrier can connect a caller to the agent.
func reachable(agent *internal_call_entity.Agent) bool {
	return agent != nil && agent.ChannelUrl != ""
}

// liveStatus keeps a call live only while someone can take it; otherwise
// nobody will pick it up and it is abandoned.
func liveStatus(status internal_call_entity.Status, agent *internal_call_entity.Agent) internal_call_entity.Status {
	if status.IsTerminal() || reachable(agent) {
		return status
	}
	return internal_call_entity.StatusAbandoned
}
