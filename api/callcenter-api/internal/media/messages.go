// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_media

import "encoding/json"

// ConsoleMessageType is the type tag of a console websocket text frame.
// Audio travels separately as binary frames.
type ConsoleMessageType string

const (
	// server -> console
	ConsoleTypeRequestMicrophone ConsoleMessageType = "request_microphone" // Data: RequestMicrophoneData
	ConsoleTypeReleaseMicrophone ConsoleMessageType = "release_microphone" // Data: ReleaseMicrophoneData

	// console -> server
	ConsoleTypeMicrophonePermission ConsoleMessageType = "microphone_permission" // Data: MicrophonePermissionData

	ConsoleTypePing ConsoleMessageType = "ping"
	ConsoleTypePong ConsoleMessageType = "pong"
)

type ConsoleRequest struct {
	Type      ConsoleMessageType `json:"type"`
	Timestamp int64              `json:"timestamp"`
	Data      interface{}        `json:"data,omitempty"`
}

type ConsoleResponse struct {
	Type ConsoleMessageType `json:"type"`
	Data json.RawMessage    `json:"data,omitempty"`
}

// Constraints are handed to the browser's getUserMedia.
type Constraints struct {
	EchoCancellation bool `json:"echoCancellation"`
	NoiseSuppression bool `json:"noiseSuppression"`
	AutoGainControl  bool `json:"autoGainControl"`
	SampleRate       int  `json:"sampleRate"`
	ChannelCount     int  `json:"channelCount"`
}

func DefaultConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       DefaultSampleRate,
		ChannelCount:     1,
	}
}

type RequestMicrophoneData struct {
	RequestId   string      `json:"requestId"`
	Constraints Constraints `json:"constraints"`
}

type ReleaseMicrophoneData struct {
	RequestId string `json:"requestId"`
}

type MicrophonePermissionData struct {
	RequestId  string   `json:"requestId"`
	Granted    bool     `json:"granted"`
	Reason     string   `json:"reason,omitempty"`
	Encoding   Encoding `json:"encoding,omitempty"`
	SampleRate int      `json:"sampleRate,omitempty"`
}
