// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transcription

import (
	"bytes"
	"encoding/binary"
	"time"
)

const (
	AudioBytesPerSample = 2  // LINEAR16 → 2 bytes per sample
	AudioBitsPerSample  = 16 // LINEAR16 → 16 bits per sample
	AudioPCMFormat      = 1  // WAV PCM format tag
	wavHeaderSize       = 44
)

// EncodeWAV wraps mono PCM16 in a canonical 44 byte RIFF header.
func EncodeWAV(pcmData []byte, sampleRate int) []byte {
	const channels = 1
	bps := sampleRate * channels * AudioBytesPerSample

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcmData)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcmData)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(AudioPCMFormat))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(bps))
	binary.Write(buf, binary.LittleEndian, uint16(channels*AudioBytesPerSample))
	binary.Write(buf, binary.LittleEndian, uint16(AudioBitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcmData)))
	buf.Write(pcmData)
	return buf.Bytes()
}

// pcmDuration is the playback length of mono PCM16 at sampleRate.
func pcmDuration(pcmData []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcmData) / AudioBytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
