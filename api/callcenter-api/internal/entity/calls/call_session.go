// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_call_entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusQueued    Status = "queued"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// IsTerminal reports whether no further transition happens from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

func (s Status) String() string {
	return string(s)
}

// CallSession is the record tracking one phone interaction end to end.
//
// A session row is never deleted. It is created when an outbound dial is
// accepted or when the first inbound webhook for a provider call id arrives,
// and it ends as a terminal historical record. EndTime is set exactly when
// Status is terminal; the store is the only writer of either column.
type CallSession struct {
	Id                string     `json:"id" gorm:"column:id;type:varchar(36);primaryKey;<-:create"`
	ProviderCallId    *string    `json:"providerCallId" gorm:"column:provider_call_id;type:varchar(200);uniqueIndex"`
	Direction         Direction  `json:"direction" gorm:"column:direction;type:varchar(20);not null"`
	CounterpartNumber string     `json:"counterpartNumber" gorm:"column:counterpart_number;type:varchar(50);not null;default:''"`
	CounterpartName   *string    `json:"counterpartName" gorm:"column:counterpart_name;type:varchar(200)"`
	Status            Status     `json:"status" gorm:"column:status;type:varchar(20);not null;index"`
	StartTime         time.Time  `json:"startTime" gorm:"column:start_time;not null;<-:create"`
	EndTime           *time.Time `json:"endTime" gorm:"column:end_time"`
	// AiAgentId and HumanAgentId may both be set: a human operator supervising
	// an AI agent on the same call.
	AiAgentId    *string `json:"aiAgentId" gorm:"column:ai_agent_id;type:varchar(36)"`
	HumanAgentId *string `json:"humanAgentId" gorm:"column:human_agent_id;type:varchar(100)"`

	Transcript []TranscriptEntry `json:"transcript" gorm:"foreignKey:CallId;references:Id"`
}

func (CallSession) TableName() string {
	return "call_sessions"
}

func (cs *CallSession) BeforeCreate(tx *gorm.DB) (err error) {
	if cs.Id == "" {
		cs.Id = uuid.NewString()
	}
	if cs.StartTime.IsZero() {
		cs.StartTime = time.Now().UTC()
	}
	return nil
}
