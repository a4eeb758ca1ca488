package internal_session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_call_entity "github.com/rapidaai/callcenter/api/callcenter-api/internal/entity/calls"
	internal_media "github.com/rapidaai/callcenter/api/callcenter-api/internal/media"
	internal_telephony "github.com/rapidaai/callcenter/api/callcenter-api/internal/telephony"
	internal_transcription "github.com/rapidaai/callcenter/api/callcenter-api/internal/transcription"
	"github.com/rapidaai/callcenter/pkg/commons"
)

// recorder keeps the order of side effects across fakes.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.list() {
		if e == event {
			n++
		}
	}
	return n
}

type fakeProvider struct {
	rec       *recorder
	dialErr   error
	hangupErr error
	status    string

	mu       sync.Mutex
	requests []internal_telephony.DialRequest
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Dial(ctx context.Context, req internal_telephony.DialRequest) (*internal_telephony.DialResult, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	p.rec.add("dial")
	if p.dialErr != nil {
		return nil, p.dialErr
	}
	return &internal_telephony.DialResult{ProviderCallId: "CA123"}, nil
}

func (p *fakeProvider) QueryStatus(ctx context.Context, providerCallId string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == "" {
		return "in-progress", nil
	}
	return p.status, nil
}

func (p *fakeProvider) Hangup(ctx context.Context, providerCallId string) error {
	p.rec.add("hangup")
	return p.hangupErr
}

func (p *fakeProvider) setStatus(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

func (p *fakeProvider) dials() []internal_telephony.DialRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]internal_telephony.DialRequest(nil), p.requests...)
}

type fakeStore struct {
	rec *recorder

	mu       sync.Mutex
	sessions map[string]*internal_call_entity.CallSession
}

func (s *fakeStore) Create(ctx context.Context, cs *internal_call_entity.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cs
	s.sessions[cs.Id] = &copied
	s.rec.add("create")
	return nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, id string, status internal_call_entity.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[id]
	if !ok {
		return errors.New("not found")
	}
	cs.Status = status
	s.rec.add("status:" + string(status))
	return nil
}

func (s *fakeStore) Complete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[id]
	if !ok {
		return false, errors.New("not found")
	}
	if cs.Status.IsTerminal() {
		return false, nil
	}
	cs.Status = internal_call_entity.StatusCompleted
	s.rec.add("status:completed")
	return true, nil
}

func (s *fakeStore) setStatus(id string, status internal_call_entity.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id].Status = status
}

func (s *fakeStore) AppendTranscript(ctx context.Context, entry *internal_call_entity.TranscriptEntry) error {
	return nil
}

func (s *fakeStore) get(id string) *internal_call_entity.CallSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

type fakeStream struct {
	frames chan []byte
	done   chan struct{}
}

func (s *fakeStream) Id() string            { return "stream-1" }
func (s *fakeStream) Frames() <-chan []byte { return s.frames }
func (s *fakeStream) SampleRate() int       { return 16000 }
func (s *fakeStream) Done() <-chan struct{} { return s.done }

type fakeMedia struct {
	rec   *recorder
	deny  bool
	block bool
	once  sync.Once
	strm  *fakeStream
}

func (m *fakeMedia) Acquire(ctx context.Context) (internal_media.Stream, error) {
	m.rec.add("acquire")
	if m.block {
		<-ctx.Done()
		return nil, internal_media.ErrPermissionDenied
	}
	if m.deny {
		return nil, internal_media.ErrPermissionDenied
	}
	m.strm = &fakeStream{frames: make(chan []byte), done: make(chan struct{})}
	return m.strm, nil
}

func (m *fakeMedia) Release() error {
	m.once.Do(func() {
		m.rec.add("release")
		if m.strm != nil {
			close(m.strm.done)
		}
	})
	return nil
}

type fakeTranscriber struct{}

func (fakeTranscriber) Name() string { return "fake" }
func (fakeTranscriber) Transcribe(ctx context.Context, audio []byte, callId string) (string, error) {
	return "hello", nil
}

type fakeChannel struct {
	rec *recorder

	mu    sync.Mutex
	texts []string
	audio [][]byte
}

func (c *fakeChannel) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func (c *fakeChannel) SendAudio(pcm []byte, sampleRate int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, pcm)
	return nil
}

func (c *fakeChannel) streamed() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.audio...)
}

func (c *fakeChannel) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func (c *fakeChannel) Close(ctx context.Context) error {
	c.rec.add("agent_close")
	return nil
}

type fakeAgents struct {
	rec     *recorder
	err     error
	channel *fakeChannel
}

func (a *fakeAgents) Connect(ctx context.Context, agentId, callId string, metadata map[string]string) (AgentChannel, error) {
	a.rec.add("agent_connect")
	if a.err != nil {
		return nil, a.err
	}
	a.channel = &fakeChannel{rec: a.rec}
	return a.channel, nil
}

type fixture struct {
	rec      *recorder
	provider *fakeProvider
	store    *fakeStore
	media    *fakeMedia
	agents   *fakeAgents
	deps     Dependencies
	logger   commons.Logger
}

func newFixture() *fixture {
	rec := &recorder{}
	f := &fixture{
		rec:      rec,
		provider: &fakeProvider{rec: rec},
		store:    &fakeStore{rec: rec, sessions: make(map[string]*internal_call_entity.CallSession)},
		media:    &fakeMedia{rec: rec},
		agents:   &fakeAgents{rec: rec},
	}
	f.logger, _ = commons.NewApplicationLogger()
	f.deps = Dependencies{
		Provider:     f.provider,
		Store:        f.store,
		Media:        func(operatorId string) internal_media.Manager { return f.media },
		Transcriber:  fakeTranscriber{},
		Agents:       f.agents,
		PollInterval: time.Hour,
		Pipeline:     internal_transcription.Options{CaptureWindow: 10 * time.Millisecond, FlushInterval: 20 * time.Millisecond},
	}
	return f
}

func (f *fixture) controller() (*Controller, *[]State) {
	c := NewController("op-1", f.deps, f.logger)
	var mu sync.Mutex
	states := &[]State{}
	c.OnStateChange(func(sessionId string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		*states = append(*states, to)
	})
	return c, states
}

func TestInitiate_PermissionDeniedNeverDials(t *testing.T) {
	f := newFixture()
	f.media.deny = true
	c, states := f.controller()

	cs, err := c.Initiate(context.Background(), InitiateRequest{Number: "+15551234567"})
	assert.ErrorIs(t, err, internal_media.ErrPermissionDenied)
	assert.Nil(t, cs)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, []State{StateRequestingPermissions, StateIdle}, *states)
	assert.Empty(t, f.provider.dials())
	assert.Nil(t, f.store.get(c.Id()))
	assert.Equal(t, 1, f.rec.count("release"))
}

func TestInitiate_ConnectsAndPersists(t *testing.T) {
	f := newFixture()
	c, states := f.controller()

	cs, err := c.Initiate(context.Background(), InitiateRequest{Number: "+1 (555) 123-4567", AgentHint: "sales"})
	require.NoError(t, err)
	defer c.Terminate(context.Background())

	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, []State{StateRequestingPermissions, StateConnecting, StateConnected}, *states)

	dials := f.provider.dials()
	require.Len(t, dials, 1)
	assert.True(t, dials[0].PreventDuplicate)
	assert.Equal(t, c.Id(), dials[0].IdempotencyKey)
	assert.Equal(t, "sales", dials[0].AgentHint)

	stored := f.store.get(c.Id())
	require.NotNil(t, stored)
	assert.Equal(t, internal_call_entity.StatusActive, stored.Status)
	assert.Equal(t, internal_call_entity.DirectionOutbound, stored.Direction)
	assert.Equal(t, "CA123", *stored.ProviderCallId)
	assert.Equal(t, "op-1", *stored.HumanAgentId)
	assert.Nil(t, stored.AiAgentId)
	assert.Equal(t, c.Id(), cs.Id)
	assert.Equal(t, 0, f.rec.count("agent_connect"))
}

func TestInitiate_WhileNotIdleIsRejected(t *testing.T) {
	f := newFixture()
	c, _ := f.controller()

	_, err := c.Initiate(context.Background(), InitiateRequest{Number: "+15551234567"})
	require.NoError(t, err)
	defer c.Terminate(context.Background())

	_, err = c.Initiate(context.Background(), InitiateRequest{Number: "+15551234567"})
	assert.ErrorIs(t, err, ErrCallInProgress)
	assert.Len(t, f.provider.dials(), 1)
	assert.Equal(t, 1, f.rec.count("acquire"))
}

func TestInitiate_InvalidNumber(t *testing.T) {
	f := newFixture()
	c, _ := f.controller()

	_, err := c.Initiate(context.Background(), InitiateRequest{Number: "abc"})
	assert.ErrorIs(t, err, ErrInvalidNumber)
	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, f.rec.list())
}

func TestInitiate_DialFailureReleasesMedia(t *testing.T) {
	f := newFixture()
	f.provider.dialErr = internal_telephony.ErrProviderDialFailure
	c, _ := f.controller()

	_, err := c.Initiate(context.Background(), InitiateRequest{Number: "+15551234567"})
	assert.ErrorIs(t, err, internal_telephony.ErrProviderDialFailure)
	assert.Equal(t, StateIdle, c.State())
	assert.Nil(t, f.store.get(c.Id()))
	assert.Equal(t, []string{"acquire", "dial", "release"}, f.rec.list())
}

func TestTerminate_IsIdempotentAndOrdered(t *testing.T) {
	f := newFixture()
	c, _ := f.controller()

	_, err := c.Initiate(context.Background(), InitiateRequest{Number: "+15551234567", AiAgentId: "agent-1"})
	require.NoError(t, err)

	require.NoError(t, c.Terminate(context.Background()))
	require.NoError(t, c.Terminate(context.Background()))

	assert.Equal(t, StateEnded, c.State())
	assert.Equal(t, 1, f.rec.count("hangup"))
	assert.Equal(t, 1, f.rec.count("status:completed"))
	assert.Equal(t, []string{
		"acquire", "dial", "create", "agent_connect",
		"hangup", "status:completed", "agent_close", "release",
	}, f.rec.list())

	assert.Equal(t, internal_call_entity.StatusCompleted, c.Session().Status)
	assert.NotNil(t, c.Session().EndTime)
	assert.Equal(t, "agent-1", *f.store.get(c.Id()).AiAgentId)
}

func TestTerminate_JoinsErrorsAndStillReleases(t *testing.T) {
	f := newFixture()
	f.provider.hangupErr = errors.New("carrier unreachable")
	c, _ := f.controller()

	_, err := c.Initiate(context.Background(), InitiateRequest{Number: "+15551234567"})
	require.NoError(t, err)

	err = c.Terminate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier unreachable")
	assert.Equal(t, 1, f.rec.count("release"))
	assert.Equal(t, 1, f.rec.count("status:completed"))
}

func TestProviderTerminalStatusTearsDown(t *testing.T) {
	f := newFixture()
	f.deps.PollInterval = 10 * time.Millisecond
	c, _ := f.controller()

	_, err := c.Initiate(context.Background(), InitiateRequest{Number: "+15551234567"})
	require.NoError(t, err)

	f.provider.setStatus("busy")
	require.Eventually(t, func() bool { return c.State() == StateEnded }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.rec.count("release") == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, internal_call_entity.StatusAbandoned, f.store.get(c.Id()).Status)
	assert.Equal(t, 0, f.rec.count("hangup"))

	// a later user hangup is a no-op
	require.NoError(t, c.Terminate(context.Background()))
	assert.Equal(t, 0, f.rec.count("hangup"))
	assert.Equal(t, 0, f.rec.count("status:completed"))
}

func TestTerminate_KeepsTerminalStatusAlreadyWritten(t *testing.T) {
	f := newFixture()
	c, _ := f.controller()

	_, err := c.Initiate(context.Background(), InitiateRequest{Number: "+15551234567"})
	require.NoError(t, err)

	// the carrier reported busy just before the operator hung up
	f.store.setStatus(c.Id(), internal_call_entity.StatusAbandoned)

	require.NoError(t, c.Terminate(context.Background()))
	assert.Equal(t, internal_call_entity.StatusAbandoned, f.store.get(c.Id()).Status)
	assert.Equal(t, 0, f.rec.count("status:completed"))
	assert.Equal(t, 1, f.rec.count("hangup"))
	assert.Equal(t, 1, f.rec.count("release"))
}

func TestTranscribedSpeechReachesAgent(t *testing.T) {
	f := newFixture()
	c, _ := f.controller()

	_, err := c.Initiate(context.Background(), InitiateRequest{Number: "+15551234567", AiAgentId: "agent-1"})
	require.NoError(t, err)
	require.NotNil(t, f.agents.channel)

	f.media.strm.frames <- []byte{1, 0, 2, 0}
	require.Eventually(t, func() bool {
		return len(f.agents.channel.sent()) > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "hello", f.agents.channel.sent()[0])
	assert.NotEmpty(t, c.Transcript())
	require.Eventually(t, func() bool {
		return len(f.agents.channel.streamed()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte{1, 0, 2, 0}, f.agents.channel.streamed()[0])

	require.NoError(t, c.Terminate(context.Background()))
}

func TestTerminate_DuringPermissionRequestAborts(t *testing.T) {
	f := newFixture()
	f.media.block = true
	c, _ := f.controller()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Initiate(context.Background(), InitiateRequest{Number: "+15551234567"})
		errCh <- err
	}()
	require.Eventually(t, func() bool { return c.State() == StateRequestingPermissions }, time.Second, time.Millisecond)

	require.NoError(t, c.Terminate(context.Background()))
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSessionAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("initiate did not return")
	}
	assert.Equal(t, StateEnded, c.State())
	assert.Empty(t, f.provider.dials())
	assert.Equal(t, 1, f.rec.count("release"))
}

func TestAgentConnectFailureKeepsCallUp(t *testing.T) {
	f := newFixture()
	f.agents.err = errors.New("agent offline")
	c, _ := f.controller()

	_, err := c.Initiate(context.Background(), InitiateRequest{Number: "+15551234567", AiAgentId: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, StateConnected, c.State())
	require.NoError(t, c.Terminate(context.Background()))
	assert.Equal(t, 0, f.rec.count("agent_close"))
}

func TestRegistry_OneLiveSessionPerOperator(t *testing.T) {
	f := newFixture()
	r := NewRegistry(f.deps, f.logger)

	c, err := r.Initiate(context.Background(), "op-1", InitiateRequest{Number: "+15551234567"})
	require.NoError(t, err)

	_, err = r.Initiate(context.Background(), "op-1", InitiateRequest{Number: "+15557654321"})
	assert.ErrorIs(t, err, ErrCallInProgress)

	found, err := r.ForOperator("op-1")
	require.NoError(t, err)
	assert.Equal(t, c.Id(), found.Id())

	require.NoError(t, r.Terminate(context.Background(), c.Id()))
	_, err = r.Get(c.Id())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = r.Create("op-1")
	assert.NoError(t, err)
}

func TestRegistry_FailedInitiateLeavesNothing(t *testing.T) {
	f := newFixture()
	f.media.deny = true
	r := NewRegistry(f.deps, f.logger)

	_, err := r.Initiate(context.Background(), "op-1", InitiateRequest{Number: "+15551234567"})
	assert.ErrorIs(t, err, internal_media.ErrPermissionDenied)
	_, err = r.ForOperator("op-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, r.Terminate(context.Background(), "missing"), ErrSessionNotFound)
}
