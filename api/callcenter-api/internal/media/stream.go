// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_media

import (
	"sync"

	"github.com/zaf/g711"

	"github.com/rapidaai/callcenter/pkg/commons"
)

// Encoding of the binary audio frames a console sends.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm16"
	EncodingMulaw Encoding = "mulaw"
	EncodingAlaw  Encoding = "alaw"
)

const (
	DefaultSampleRate = 16000
	frameBufferSize   = 64
)

// Stream is a granted microphone. Frames carry 16-bit little-endian mono PCM
// regardless of the encoding on the wire; the channel closes on release.
type Stream interface {
	Id() string
	Frames() <-chan []byte
	SampleRate() int
	Done() <-chan struct{}
}

type micStream struct {
	id         string
	encoding   Encoding
	sampleRate int
	logger     commons.Logger

	mu     sync.Mutex
	closed bool
	frames chan []byte
	done   chan struct{}
}

func newMicStream(id string, encoding Encoding, sampleRate int, logger commons.Logger) *micStream {
	if encoding == "" {
		encoding = EncodingPCM16
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &micStream{
		id:         id,
		encoding:   encoding,
		sampleRate: sampleRate,
		logger:     logger,
		frames:     make(chan []byte, frameBufferSize),
		done:       make(chan struct{}),
	}
}

func (s *micStream) Id() string            { return s.id }
func (s *micStream) Frames() <-chan []byte { return s.frames }
func (s *micStream) SampleRate() int       { return s.sampleRate }
func (s *micStream) Done() <-chan struct{} { return s.done }

// decode converts one wire frame to PCM16.
func (s *micStream) decode(payload []byte) []byte {
	switch s.encoding {
	case EncodingMulaw:
		return g711.DecodeUlaw(payload)
	case EncodingAlaw:
		return g711.DecodeAlaw(payload)
	default:
		pcm := make([]byte, len(payload))
		copy(pcm, payload)
		return pcm
	}
}

// push is non-blocking: a consumer that falls behind loses frames rather than
// stalling the console read loop.
func (s *micStream) push(payload []byte) {
	if len(payload) == 0 {
		return
	}
	pcm := s.decode(payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- pcm:
	default:
		s.logger.Warnw("Microphone frame buffer full, dropping frame", "stream", s.id, "bytes", len(pcm))
	}
}

func (s *micStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.frames)
	close(s.done)
}
