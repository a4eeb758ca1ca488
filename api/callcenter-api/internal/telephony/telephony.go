// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_telephony

import (
	"context"
	"errors"
	"fmt"
	"strings"

	internal_call_entity "github.com/rapidaai/callcenter/api/callcenter-api/internal/entity/calls"
)

var (
	ErrProviderDialFailure   = errors.New("provider dial failure")
	ErrProviderStatusUnknown = errors.New("provider status unknown")
	ErrDuplicateDial         = errors.New("dial already placed for idempotency key")
)

type DialRequest struct {
	Number    string
	AgentHint string
	// PreventDuplicate asks the provider to refuse a second dial carrying the
	// same IdempotencyKey.
	PreventDuplicate bool
	IdempotencyKey   string
}

type DialResult struct {
	ProviderCallId string
}

// Provider is the carrier side of a call. Implementations must be safe for
// concurrent use by many sessions.
type Provider interface {
	Name() string
	Dial(ctx context.Context, req DialRequest) (*DialResult, error)
	// QueryStatus returns the provider's raw status string for the call.
	QueryStatus(ctx context.Context, providerCallId string) (string, error)
	Hangup(ctx context.Context, providerCallId string) error
}

var (
	ongoingStatuses = map[string]bool{
		"queued":      true,
		"initiated":   true,
		"started":     true,
		"ringing":     true,
		"in-progress": true,
		"answered":    true,
	}
	abandonedStatuses = map[string]bool{
		"failed":     true,
		"busy":       true,
		"no-answer":  true,
		"canceled":   true,
		"cancelled":  true,
		"rejected":   true,
		"timeout":    true,
		"unanswered": true,
	}
)

// MapStatus translates a provider status into the call status vocabulary.
// terminal is false for statuses of a call still in flight, in which case the
// returned status is active.
func MapStatus(raw string) (status internal_call_entity.Status, terminal bool, err error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case ongoingStatuses[normalized]:
		return internal_call_entity.StatusActive, false, nil
	case normalized == "completed":
		return internal_call_entity.StatusCompleted, true, nil
	case abandonedStatuses[normalized]:
		return internal_call_entity.StatusAbandoned, true, nil
	}
	return "", false, fmt.Errorf("%w: %q", ErrProviderStatusUnknown, raw)
}

// InboundStatus maps the status carried by an inbound webhook. Webhooks arrive
// while the call rings, so every in-flight status lands as active and unknown
// values fall back to active as well.
func InboundStatus(raw string) internal_call_entity.Status {
	status, _, err := MapStatus(raw)
	if err != nil {
		return internal_call_entity.StatusActive
	}
	return status
}
