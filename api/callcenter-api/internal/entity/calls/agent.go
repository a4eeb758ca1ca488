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

type AgentType string

const (
	AgentTypeAi    AgentType = "ai"
	AgentTypeHuman AgentType = "human"
)

type AgentStatus string

const (
	AgentStatusAvailable AgentStatus = "available"
	AgentStatusBusy      AgentStatus = "busy"
	AgentStatusOffline   AgentStatus = "offline"
)

type Agent struct {
	Id     string      `json:"id" gorm:"column:id;type:varchar(36);primaryKey;<-:create"`
	Name   string      `json:"name" gorm:"column:name;type:varchar(200);not null"`
	Type   AgentType   `json:"type" gorm:"column:type;type:varchar(20);not null;index:idx_agents_status_type"`
	Status AgentStatus `json:"status" gorm:"column:status;type:varchar(20);not null;index:idx_agents_status_type"`
	// ChannelUrl is the media stream endpoint the carrier connects a caller to.
	ChannelUrl  string    `json:"channelUrl" gorm:"column:channel_url;type:varchar(500);not null;default:''"`
	CreatedDate time.Time `json:"createdDate" gorm:"column:created_date;not null;<-:create"`
}

func (Agent) TableName() string {
	return "agents"
}

func (a *Agent) BeforeCreate(tx *gorm.DB) (err error) {
	if a.Id == "" {
		a.Id = uuid.NewString()
	}
	if a.CreatedDate.IsZero() {
		a.CreatedDate = time.Now().UTC()
	}
	return nil
}
