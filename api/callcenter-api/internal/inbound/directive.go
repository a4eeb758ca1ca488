// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_inbound

import (
	"github.com/twilio/twilio-go/twiml"

	internal_call_entity "github.com/rapidaai/callcenter/api/callcenter-api/internal/entity/calls"
)

// apologyFallback is served when even the apology cannot be rendered.
const apologyFallback = `<?xml version="1.0" encoding="UTF-8"?><Response><Hangup></Hangup></Response>`

// directive renders greeting, agent stream or unavailability, then hangup.
func (r *Router) directive(cs *internal_call_entity.CallSession, agent *internal_call_entity.Agent) (string, error) {
	elements := []twiml.Element{
		&twiml.VoiceSay{Message: r.texts.Greeting},
	}
	if reachable(agent) && !cs.Status.IsTerminal() {
		elements = append(elements, &twiml.VoiceConnect{
			InnerElements: []twiml.Element{
				&twiml.VoiceStream{
					Url: agent.ChannelUrl,
					InnerElements: []twiml.Element{
						&twiml.VoiceParameter{Name: "call_id", Value: cs.Id},
						&twiml.VoiceParameter{Name: "agent_id", Value: agent.Id},
					},
				},
			},
		})
	} else {
		elements = append(elements, &twiml.VoiceSay{Message: r.texts.Unavailable})
	}
	elements = append(elements, &twiml.VoiceHangup{})
	return twiml.Voice(elements)
}

// Apology is the directive for anything that went wrong: say sorry, hang up.
func (r *Router) Apology() string {
	out, err := twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: r.texts.Apology},
		&twiml.VoiceHangup{},
	})
	if err != nil {
		r.logger.Errorf("unable to render apology: %v", err)
		return apologyFallback
	}
	return out
}
