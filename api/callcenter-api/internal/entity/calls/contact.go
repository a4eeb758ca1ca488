// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_call_entity

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rapidaai/callcenter/pkg/utils"
)

type Contact struct {
	Id    string `json:"id" gorm:"column:id;type:varchar(36);primaryKey;<-:create"`
	Name  string `json:"name" gorm:"column:name;type:varchar(200);not null"`
	Phone string `json:"phone" gorm:"column:phone;type:varchar(50);not null"`
	// PhoneDigits is Phone with formatting removed, kept for suffix lookups.
	PhoneDigits string `json:"-" gorm:"column:phone_digits;type:varchar(50);not null;index"`
}

func (Contact) TableName() string {
	return "contacts"
}

func (c *Contact) BeforeSave(tx *gorm.DB) (err error) {
	if c.Id == "" {
		c.Id = uuid.NewString()
	}
	c.PhoneDigits = utils.PhoneDigits(c.Phone)
	return nil
}
