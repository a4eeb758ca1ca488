// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_callstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	internal_call_entity "github.com/rapidaai/callcenter/api/callcenter-api/internal/entity/calls"
	"github.com/rapidaai/callcenter/pkg/utils"
)

const (
	DefaultQueryLimit = 25
	MaxQueryLimit     = 200
)

// Allowlists of filterable columns per collection. Filters arrive from AI
// tool calls, so nothing outside these lists reaches a WHERE clause.
var (
	callFilters = map[string]bool{
		"status":             true,
		"direction":          true,
		"counterpart_number": true,
		"provider_call_id":   true,
		"ai_agent_id":        true,
		"human_agent_id":     true,
	}
	agentFilters = map[string]bool{
		"status": true,
		"type":   true,
		"name":   true,
	}
	contactFilters = map[string]bool{
		"name":  true,
		"phone": true,
	}
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

func applyFilters(db *gorm.DB, allowed map[string]bool, filters map[string]string) (*gorm.DB, error) {
	for field, value := range filters {
		if !allowed[field] {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedQueryFilter, field)
		}
		db = db.Where(fmt.Sprintf("%s = ?", field), value)
	}
	return db, nil
}

func (s *postgresStore) ListCalls(ctx context.Context, filters map[string]string, limit int) ([]internal_call_entity.CallSession, error) {
	db, err := applyFilters(s.postgres.DB(ctx), callFilters, filters)
	if err != nil {
		return nil, err
	}
	var calls []internal_call_entity.CallSession
	if err := db.Order("start_time DESC").Limit(clampLimit(limit)).Find(&calls).Error; err != nil {
		return nil, persistenceError("list", "calls", err)
	}
	return calls, nil
}

func (s *postgresStore) FirstAvailable(ctx context.Context, agentType internal_call_entity.AgentType) (*internal_call_entity.Agent, error) {
	db := s.postgres.DB(ctx).
		Where("status = ? AND type = ?", internal_call_entity.AgentStatusAvailable, agentType)
	if agentType == internal_call_entity.AgentTypeAi {
		// an AI agent without a media endpoint cannot take a call
		db = db.Where("channel_url <> ''")
	}
	var agent internal_call_entity.Agent
	err := db.Order("created_date ASC").First(&agent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: type=%s", ErrNoAvailableAgent, agentType)
		}
		return nil, persistenceError("find available agent", string(agentType), err)
	}
	return &agent, nil
}

func (s *postgresStore) GetAgent(ctx context.Context, id string) (*internal_call_entity.Agent, error) {
	var agent internal_call_entity.Agent
	if err := s.postgres.DB(ctx).Where("id = ?", id).First(&agent).Error; err != nil {
		return nil, persistenceError("get agent", id, err)
	}
	return &agent, nil
}

func (s *postgresStore) CreateAgent(ctx context.Context, agent *internal_call_entity.Agent) error {
	if err := s.postgres.DB(ctx).Create(agent).Error; err != nil {
		return persistenceError("create agent", agent.Name, err)
	}
	s.logger.Infof("created agent: id=%s, name=%s, type=%s", agent.Id, agent.Name, agent.Type)
	return nil
}

func (s *postgresStore) ListAgents(ctx context.Context, filters map[string]string, limit int) ([]internal_call_entity.Agent, error) {
	db, err := applyFilters(s.postgres.DB(ctx), agentFilters, filters)
	if err != nil {
		return nil, err
	}
	var agents []internal_call_entity.Agent
	if err := db.Order("created_date ASC").Limit(clampLimit(limit)).Find(&agents).Error; err != nil {
		return nil, persistenceError("list", "agents", err)
	}
	return agents, nil
}

func (s *postgresStore) FindByPhoneSuffix(ctx context.Context, number string) (*internal_call_entity.Contact, error) {
	suffix := utils.PhoneSuffix(number)
	if suffix == "" {
		return nil, fmt.Errorf("%w: empty number", ErrContactNotFound)
	}
	var contact internal_call_entity.Contact
	err := s.postgres.DB(ctx).
		Where("phone_digits LIKE ?", "%"+suffix).
		Order("name ASC").
		First(&contact).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrContactNotFound, suffix)
		}
		return nil, persistenceError("find contact", suffix, err)
	}
	return &contact, nil
}

func (s *postgresStore) CreateContact(ctx context.Context, contact *internal_call_entity.Contact) error {
	if err := s.postgres.DB(ctx).Create(contact).Error; err != nil {
		return persistenceError("create contact", contact.Phone, err)
	}
	return nil
}

func (s *postgresStore) ListContacts(ctx context.Context, filters map[string]string, limit int) ([]internal_call_entity.Contact, error) {
	db, err := applyFilters(s.postgres.DB(ctx), contactFilters, filters)
	if err != nil {
		return nil, err
	}
	var contacts []internal_call_entity.Contact
	if err := db.Order("name ASC").Limit(clampLimit(limit)).Find(&contacts).Error; err != nil {
		return nil, persistenceError("list", "contacts", err)
	}
	return contacts, nil
}
