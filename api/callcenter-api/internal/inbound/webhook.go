// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_inbound

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrWebhookMalformedPayload = errors.New("malformed webhook payload")

// Webhook is one carrier event for an inbound call.
type Webhook struct {
	ProviderCallId string `json:"provider_call_id"`
	From           string `json:"from"`
	To             string `json:"to"`
	Status         string `json:"status"`
}

func (w Webhook) validate() error {
	if strings.TrimSpace(w.ProviderCallId) == "" {
		return fmt.Errorf("%w: missing provider call id", ErrWebhookMalformedPayload)
	}
	if strings.TrimSpace(w.From) == "" {
		return fmt.Errorf("%w: missing caller number", ErrWebhookMalformedPayload)
	}
	return nil
}

// WebhookFromForm reads Twilio's form-encoded voice webhook.
func WebhookFromForm(form url.Values) (Webhook, error) {
	hook := Webhook{
		ProviderCallId: form.Get("CallSid"),
		From:           form.Get("From"),
		To:             form.Get("To"),
		Status:         form.Get("CallStatus"),
	}
	if hook.ProviderCallId == "" {
		hook.ProviderCallId = form.Get("provider_call_id")
		hook.From = firstNonEmpty(hook.From, form.Get("from"))
		hook.To = firstNonEmpty(hook.To, form.Get("to"))
		hook.Status = firstNonEmpty(hook.Status, form.Get("status"))
	}
	return hook, hook.validate()
}

// WebhookFromJSON reads the provider-neutral JSON shape. Vonage's answer
// webhook keys (uuid) are accepted too.
func WebhookFromJSON(body []byte) (Webhook, error) {
	var raw struct {
		Webhook
		Uuid string `json:"uuid"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Webhook{}, fmt.Errorf("%w: %v", ErrWebhookMalformedPayload, err)
	}
	hook := raw.Webhook
	hook.ProviderCallId = firstNonEmpty(hook.ProviderCallId, raw.Uuid)
	return hook, hook.validate()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
