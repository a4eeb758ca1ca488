// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	internal_call_entity "github.com/rapidaai/callcenter/api/callcenter-api/internal/entity/calls"
	internal_media "github.com/rapidaai/callcenter/api/callcenter-api/internal/media"
	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/utils"
)

const (
	DefaultCaptureWindow = time.Second
	DefaultFlushInterval = 3 * time.Second
)

var (
	ErrTranscriptionWindowFailure = errors.New("transcription window failure")
	ErrPipelineStarted            = errors.New("transcription pipeline already started")
)

type TranscriptAppender interface {
	AppendTranscript(ctx context.Context, entry *internal_call_entity.TranscriptEntry) error
}

// EntryObserver is told about each entry the pipeline appends, in append order.
type EntryObserver func(entry internal_call_entity.TranscriptEntry)

// AudioObserver receives each committed capture window. The slice is its own.
type AudioObserver func(pcm []byte, sampleRate int)

type Options struct {
	CaptureWindow time.Duration
	FlushInterval time.Duration
}

// Pipeline transcribes the operator's microphone for one call.
//
// Audio is captured into fixed windows; each committed window lands in the
// flush buffer. Every flush interval the buffer is drained, wrapped as WAV and
// sent to the transcriber, and the text is appended to the call transcript as
// a human entry.
type Pipeline struct {
	callId      string
	transcriber Transcriber
	store       TranscriptAppender
	opts        Options
	logger      commons.Logger

	sampleRate int
	window     bytes.Buffer // capture goroutine only
	bufferMu   sync.Mutex
	buffer     bytes.Buffer

	// flushMu serializes flushes so entries append in capture order
	flushMu   sync.Mutex
	entriesMu sync.RWMutex
	entries   []internal_call_entity.TranscriptEntry

	lifecycleMu sync.Mutex
	onEntry     EntryObserver
	onAudio     AudioObserver
	started     bool
	stopped     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func NewPipeline(callId string, transcriber Transcriber, store TranscriptAppender, opts Options, logger commons.Logger) *Pipeline {
	if opts.CaptureWindow <= 0 {
		opts.CaptureWindow = DefaultCaptureWindow
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	return &Pipeline{
		callId:      callId,
		transcriber: transcriber,
		store:       store,
		opts:        opts,
		logger:      logger,
		sampleRate:  internal_media.DefaultSampleRate,
	}
}

// OnEntry registers the observer for appended entries. It runs on the
// flushing goroutine, so it must not call back into the pipeline.
func (p *Pipeline) OnEntry(observer EntryObserver) {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	p.onEntry = observer
}

// OnAudio registers the observer for committed capture windows. It runs on
// the capture goroutine.
func (p *Pipeline) OnAudio(observer AudioObserver) {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	p.onAudio = observer
}

// Start spawns the capture and periodic flush tasks.
func (p *Pipeline) Start(ctx context.Context, stream internal_media.Stream) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	if p.started || p.stopped {
		return ErrPipelineStarted
	}
	p.started = true
	p.sampleRate = stream.SampleRate()

	ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.wg.Add(2)
	utils.Go(ctx, func() {
		defer p.wg.Done()
		p.capture(ctx, stream)
	})
	utils.Go(ctx, func() {
		defer p.wg.Done()
		p.flushLoop(ctx)
	})
	p.logger.Debugf("transcription pipeline started: call=%s, transcriber=%s, window=%s, flush=%s",
		p.callId, p.transcriber.Name(), p.opts.CaptureWindow, p.opts.FlushInterval)
	return nil
}

func (p *Pipeline) capture(ctx context.Context, stream internal_media.Stream) {
	ticker := time.NewTicker(p.opts.CaptureWindow)
	defer ticker.Stop()
	defer p.commitWindow()

	frames := stream.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.commitWindow()
		case frame, ok := <-frames:
			if !ok {
				return
			}
			p.window.Write(frame)
		}
	}
}

// commitWindow moves the captured window into the flush buffer. Only the
// capture goroutine touches window, and it calls this on exit too.
func (p *Pipeline) commitWindow() {
	if p.window.Len() == 0 {
		return
	}
	p.bufferMu.Lock()
	p.buffer.Write(p.window.Bytes())
	p.bufferMu.Unlock()

	p.lifecycleMu.Lock()
	observer := p.onAudio
	p.lifecycleMu.Unlock()
	if observer != nil {
		observer(bytes.Clone(p.window.Bytes()), p.sampleRate)
	}
	p.window.Reset()
}

func (p *Pipeline) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.logger.Warnf("periodic flush failed: call=%s, err=%v", p.callId, err)
			}
		}
	}
}

func (p *Pipeline) drain() []byte {
	p.bufferMu.Lock()
	defer p.bufferMu.Unlock()
	if p.buffer.Len() == 0 {
		return nil
	}
	pcm := make([]byte, p.buffer.Len())
	copy(pcm, p.buffer.Bytes())
	p.buffer.Reset()
	return pcm
}

// Flush transcribes whatever audio is buffered. A failed window is dropped so
// the next one starts clean.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	pcm := p.drain()
	if len(pcm) == 0 {
		return nil
	}

	text, err := p.transcriber.Transcribe(ctx, EncodeWAV(pcm, p.sampleRate), p.callId)
	if err != nil {
		p.logger.Errorf("dropping transcription window: call=%s, audio=%s, err=%v",
			p.callId, pcmDuration(pcm, p.sampleRate), err)
		return fmt.Errorf("%w: %w", ErrTranscriptionWindowFailure, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	entry := internal_call_entity.NewTranscriptEntry(p.callId, internal_call_entity.SourceHuman, text)
	if err := p.store.AppendTranscript(ctx, &entry); err != nil {
		p.logger.Errorf("unable to append transcript: call=%s, err=%v", p.callId, err)
		return err
	}

	p.entriesMu.Lock()
	p.entries = append(p.entries, entry)
	p.entriesMu.Unlock()

	p.lifecycleMu.Lock()
	observer := p.onEntry
	p.lifecycleMu.Unlock()
	if observer != nil {
		observer(entry)
	}
	return nil
}

// Stop halts capture and the periodic flush, then flushes what is left. Only
// the first call does any work.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.lifecycleMu.Lock()
	if p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	started, cancel := p.started, p.cancel
	p.lifecycleMu.Unlock()

	if !started {
		return nil
	}
	cancel()
	p.wg.Wait()

	err := p.Flush(ctx)
	p.logger.Debugf("transcription pipeline stopped: call=%s, entries=%d", p.callId, len(p.Entries()))
	return err
}

// Entries returns the entries this pipeline appended, oldest first.
func (p *Pipeline) Entries() []internal_call_entity.TranscriptEntry {
	p.entriesMu.RLock()
	defer p.entriesMu.RUnlock()
	out := make([]internal_call_entity.TranscriptEntry, len(p.entries))
	copy(out, p.entries)
	return out
}
