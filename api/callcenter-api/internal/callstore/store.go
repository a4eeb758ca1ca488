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
	"time"

	"gorm.io/gorm"

	internal_call_entity "github.com/rapidaai/callcenter/api/callcenter-api/internal/entity/calls"
	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/connectors"
	"github.com/rapidaai/callcenter/pkg/utils"
)

var (
	ErrCallNotFound           = errors.New("call session not found")
	ErrDuplicateProviderCall  = errors.New("call session already exists for provider call id")
	ErrPersistenceFailure     = errors.New("persistence failure")
	ErrNoAvailableAgent       = errors.New("no available agent")
	ErrContactNotFound        = errors.New("contact not found")
	ErrUnsupportedCollection  = errors.New("unsupported collection")
	ErrUnsupportedQueryFilter = errors.New("unsupported query filter")
)

// CallStore persists call sessions.
//
// Sessions are never deleted. Telephony providers redeliver webhooks and fire
// status callbacks long after the media has gone, so a row only ever moves
// between statuses and ends as a terminal record.
type CallStore interface {
	// Create inserts a session together with any seed transcript entries.
	// A provider call id that already exists yields ErrDuplicateProviderCall.
	Create(ctx context.Context, cs *internal_call_entity.CallSession) error

	// Get loads a session with its transcript in append order.
	Get(ctx context.Context, id string) (*internal_call_entity.CallSession, error)

	// GetByProviderCallId is the dedup lookup used for inbound webhooks.
	GetByProviderCallId(ctx context.Context, providerCallId string) (*internal_call_entity.CallSession, error)

	// UpdateStatus writes status and keeps end_time consistent with it: set
	// (once) for terminal statuses, cleared otherwise.
	UpdateStatus(ctx context.Context, id string, status internal_call_entity.Status) error

	// Complete moves a non-terminal session to completed. It reports false
	// when the session was already terminal.
	Complete(ctx context.Context, id string) (bool, error)

	// AssignAgents sets whichever agent ids are non-nil.
	AssignAgents(ctx context.Context, id string, aiAgentId, humanAgentId *string) error

	ListCalls(ctx context.Context, filters map[string]string, limit int) ([]internal_call_entity.CallSession, error)
}

// TranscriptStore is the append-only transcript log.
type TranscriptStore interface {
	// AppendTranscript inserts one entry. Each append is a single INSERT so
	// concurrent producers on the same call never overwrite each other.
	AppendTranscript(ctx context.Context, entry *internal_call_entity.TranscriptEntry) error

	Transcript(ctx context.Context, callId string) ([]internal_call_entity.TranscriptEntry, error)
}

type AgentStore interface {
	// FirstAvailable returns the oldest agent with status=available of the given
	// type. AI agents also need a channel url.
	FirstAvailable(ctx context.Context, agentType internal_call_entity.AgentType) (*internal_call_entity.Agent, error)
	GetAgent(ctx context.Context, id string) (*internal_call_entity.Agent, error)
	CreateAgent(ctx context.Context, agent *internal_call_entity.Agent) error
	ListAgents(ctx context.Context, filters map[string]string, limit int) ([]internal_call_entity.Agent, error)
}

type ContactStore interface {
	// FindByPhoneSuffix matches on the trailing digits of the normalized number.
	FindByPhoneSuffix(ctx context.Context, number string) (*internal_call_entity.Contact, error)
	CreateContact(ctx context.Context, contact *internal_call_entity.Contact) error
	ListContacts(ctx context.Context, filters map[string]string, limit int) ([]internal_call_entity.Contact, error)
}

type Store interface {
	CallStore
	TranscriptStore
	AgentStore
	ContactStore
}

type postgresStore struct {
	postgres connectors.PostgresConnector
	logger   commons.Logger
	clock    func() time.Time
}

// NewStore creates a new call store backed by Postgres.
func NewStore(postgres connectors.PostgresConnector, logger commons.Logger) Store {
	return &postgresStore{
		postgres: postgres,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// AutoMigrate creates the tables for development databases. Production
// schemas are owned by the SQL migrations.
func AutoMigrate(ctx context.Context, postgres connectors.PostgresConnector) error {
	return postgres.DB(ctx).AutoMigrate(
		&internal_call_entity.CallSession{},
		&internal_call_entity.TranscriptEntry{},
		&internal_call_entity.Agent{},
		&internal_call_entity.Contact{},
	)
}

func persistenceError(op string, id string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrPersistenceFailure, op, id, err)
}

func (s *postgresStore) Create(ctx context.Context, cs *internal_call_entity.CallSession) error {
	if cs.Status.IsTerminal() && cs.EndTime == nil {
		now := s.clock()
		cs.EndTime = &now
	}
	if !cs.Status.IsTerminal() {
		cs.EndTime = nil
	}

	err := s.postgres.DB(ctx).Transaction(func(tx *gorm.DB) error {
		seed := cs.Transcript
		cs.Transcript = nil
		if err := tx.Create(cs).Error; err != nil {
			return err
		}
		for i := range seed {
			seed[i].CallId = cs.Id
			if err := tx.Create(&seed[i]).Error; err != nil {
				return err
			}
		}
		cs.Transcript = seed
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %w", ErrDuplicateProviderCall, err)
		}
		return persistenceError("create call session", cs.Id, err)
	}

	s.logger.Infof("saved call session: id=%s, direction=%s, status=%s, provider_call_id=%v",
		cs.Id, cs.Direction, cs.Status, utils.Deref(cs.ProviderCallId))
	return nil
}

func (s *postgresStore) Get(ctx context.Context, id string) (*internal_call_entity.CallSession, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *postgresStore) GetByProviderCallId(ctx context.Context, providerCallId string) (*internal_call_entity.CallSession, error) {
	return s.first(ctx, "provider_call_id = ?", providerCallId)
}

func (s *postgresStore) first(ctx context.Context, query string, arg string) (*internal_call_entity.CallSession, error) {
	var cs internal_call_entity.CallSession
	err := s.postgres.DB(ctx).
		Preload("Transcript", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where(query, arg).
		First(&cs).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCallNotFound, arg)
		}
		return nil, persistenceError("get call session", arg, err)
	}
	return &cs, nil
}

func (s *postgresStore) UpdateStatus(ctx context.Context, id string, status internal_call_entity.Status) error {
	updates := map[string]interface{}{"status": status}
	if status.IsTerminal() {
		// keep the first terminal timestamp when a terminal status is redelivered
		updates["end_time"] = gorm.Expr("COALESCE(end_time, ?)", s.clock())
	} else {
		updates["end_time"] = nil
	}

	result := s.postgres.DB(ctx).
		Model(&internal_call_entity.CallSession{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return persistenceError("update status of", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrCallNotFound, id)
	}

	s.logger.Debugf("updated call session status: id=%s, status=%s", id, status)
	return nil
}

func (s *postgresStore) Complete(ctx context.Context, id string) (bool, error) {
	db := s.postgres.DB(ctx)

	// Atomic update: only succeeds while the session is still live
	result := db.Model(&internal_call_entity.CallSession{}).
		Where("id = ? AND status IN ?", id, []internal_call_entity.Status{
			internal_call_entity.StatusActive,
			internal_call_entity.StatusQueued,
		}).
		Updates(map[string]interface{}{
			"status":   internal_call_entity.StatusCompleted,
			"end_time": s.clock(),
		})
	if result.Error != nil {
		return false, persistenceError("complete", id, result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := db.Model(&internal_call_entity.CallSession{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return false, persistenceError("complete", id, err)
		}
		if count == 0 {
			return false, fmt.Errorf("%w: %s", ErrCallNotFound, id)
		}
		s.logger.Debugf("call session already terminal: id=%s", id)
		return false, nil
	}

	s.logger.Debugf("completed call session: id=%s", id)
	return true, nil
}

func (s *postgresStore) AssignAgents(ctx context.Context, id string, aiAgentId, humanAgentId *string) error {
	updates := map[string]interface{}{}
	if aiAgentId != nil {
		updates["ai_agent_id"] = *aiAgentId
	}
	if humanAgentId != nil {
		updates["human_agent_id"] = *humanAgentId
	}
	if len(updates) == 0 {
		return nil
	}
	result := s.postgres.DB(ctx).
		Model(&internal_call_entity.CallSession{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return persistenceError("assign agents to", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrCallNotFound, id)
	}
	return nil
}

func (s *postgresStore) AppendTranscript(ctx context.Context, entry *internal_call_entity.TranscriptEntry) error {
	if err := s.postgres.DB(ctx).Create(entry).Error; err != nil {
		return persistenceError("append transcript to", entry.CallId, err)
	}
	s.logger.Debugf("appended transcript entry: call=%s, seq=%d, source=%s", entry.CallId, entry.Seq, entry.Source)
	return nil
}

func (s *postgresStore) Transcript(ctx context.Context, callId string) ([]internal_call_entity.TranscriptEntry, error) {
	var entries []internal_call_entity.TranscriptEntry
	if err := s.postgres.DB(ctx).Where("call_id = ?", callId).Order("seq ASC").Find(&entries).Error; err != nil {
		return nil, persistenceError("read transcript of", callId, err)
	}
	return entries, nil
}
