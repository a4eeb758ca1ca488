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

type Source string

const (
	SourceHuman  Source = "human"
	SourceAi     Source = "ai"
	SourceSystem Source = "system"
)

// TranscriptEntry is one timestamped turn of a call transcript. Entries live
// in their own append-only table; Seq is assigned by the database on insert
// and is the display order. Rows are never updated or deleted.
type TranscriptEntry struct {
	Seq       uint64    `json:"-" gorm:"column:seq;primaryKey;autoIncrement;<-:create"`
	Id        string    `json:"id" gorm:"column:id;type:varchar(36);uniqueIndex;not null;<-:create"`
	CallId    string    `json:"callId" gorm:"column:call_id;type:varchar(36);index;not null;<-:create"`
	Text      string    `json:"text" gorm:"column:text;type:text;not null;<-:create"`
	Source    Source    `json:"source" gorm:"column:source;type:varchar(20);not null;<-:create"`
	Timestamp time.Time `json:"timestamp" gorm:"column:timestamp;not null;<-:create"`
}

func (TranscriptEntry) TableName() string {
	return "transcript_entries"
}

// NewTranscriptEntry stamps a fresh entry for callId.
func NewTranscriptEntry(callId string, source Source, text string) TranscriptEntry {
	return TranscriptEntry{
		Id:        uuid.NewString(),
		CallId:    callId,
		Text:      text,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
}

func (te *TranscriptEntry) BeforeCreate(tx *gorm.DB) (err error) {
	if te.Id == "" {
		te.Id = uuid.NewString()
	}
	if te.Timestamp.IsZero() {
		te.Timestamp = time.Now().UTC()
	}
	return nil
}
