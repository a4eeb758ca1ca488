// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package utils

import "strings"

type Environment string

const (
	PRODUCTION  Environment = "production"
	DEVELOPMENT Environment = "development"
)

func (e Environment) Get() string {
	return string(e)
}

func (e Environment) IsProduction() bool {
	return e == PRODUCTION
}

// FromEnvironmentStr parses an environment name; anything unknown is development.
func FromEnvironmentStr(str string) Environment {
	switch strings.ToLower(strings.TrimSpace(str)) {
	case "production":
		return PRODUCTION
	default:
		return DEVELOPMENT
	}
}
