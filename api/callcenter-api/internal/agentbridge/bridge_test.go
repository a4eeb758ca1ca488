package internal_agentbridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_callstore "github.com/rapidaai/callcenter/api/callcenter-api/internal/callstore"
	internal_call_entity "github.com/rapidaai/callcenter/api/callcenter-api/internal/entity/calls"
	"github.com/rapidaai/callcenter/config"
	"github.com/rapidaai/callcenter/pkg/commons"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeStore struct {
	mu         sync.Mutex
	agents     []internal_call_entity.Agent
	transcript []internal_call_entity.TranscriptEntry
	completed  map[string]int
	listErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{completed: make(map[string]int)}
}

func (s *fakeStore) ListCalls(ctx context.Context, filters map[string]string, limit int) ([]internal_call_entity.CallSession, error) {
	return []internal_call_entity.CallSession{}, nil
}

func (s *fakeStore) ListAgents(ctx context.Context, filters map[string]string, limit int) ([]internal_call_entity.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := []internal_call_entity.Agent{}
	for _, a := range s.agents {
		if v, ok := filters["status"]; ok && string(a.Status) != v {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *fakeStore) ListContacts(ctx context.Context, filters map[string]string, limit int) ([]internal_call_entity.Contact, error) {
	return []internal_call_entity.Contact{}, nil
}

func (s *fakeStore) CreateAgent(ctx context.Context, agent *internal_call_entity.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent.Id = "agent-new"
	s.agents = append(s.agents, *agent)
	return nil
}

func (s *fakeStore) AppendTranscript(ctx context.Context, entry *internal_call_entity.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, *entry)
	return nil
}

func (s *fakeStore) Complete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[id]++
	return s.completed[id] == 1, nil
}

func (s *fakeStore) transcriptSnapshot() []internal_call_entity.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]internal_call_entity.TranscriptEntry(nil), s.transcript...)
}

func (s *fakeStore) completions(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed[id]
}

// agentServer plays the conversational AI service.
type agentServer struct {
	server *httptest.Server

	mu           sync.Mutex
	registered   []string
	conversation map[string]string
	conns        chan *websocket.Conn
}

func newAgentServer(t *testing.T) *agentServer {
	t.Helper()
	a := &agentServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /v1/agents/{agentId}/tools/{tool}", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.registered = append(a.registered, r.PathValue("agentId")+"/"+r.PathValue("tool"))
		a.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /v1/agents/{agentId}/conversations", func(w http.ResponseWriter, r *http.Request) {
		var body startConversationRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		a.mu.Lock()
		a.conversation = body.Metadata
		a.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"conversationId":"conv-1"}`))
	})
	mux.HandleFunc("GET /v1/agents/{agentId}/conversations/{conversationId}/stream", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		a.conns <- conn
	})
	a.server = httptest.NewServer(mux)
	t.Cleanup(a.server.Close)
	return a
}

func (a *agentServer) registrations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.registered...)
}

func (a *agentServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-a.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("agent channel was never opened")
		return nil
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) WSResponse {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame WSResponse
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, msgType WSMessageType, data interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(WSRequest{Type: msgType, Timestamp: time.Now().UnixMilli(), Data: data}))
}

type harness struct {
	agent  *agentServer
	store  *fakeStore
	bridge *Bridge
	events chan AgentEvent
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, _ := commons.NewApplicationLogger()
	agent := newAgentServer(t)
	store := newFakeStore()
	client := NewClient(config.ConversationalAIConfig{BaseUrl: agent.server.URL, ApiKey: "key-1"}, logger)
	return &harness{
		agent:  agent,
		store:  store,
		bridge: NewBridge(client, NewToolSet(store, logger), store, logger),
		events: make(chan AgentEvent, 16),
	}
}

func (h *harness) observe(event AgentEvent) {
	h.events <- event
}

func (h *harness) waitEvent(t *testing.T) AgentEvent {
	t.Helper()
	select {
	case event := <-h.events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no agent event observed")
		return nil
	}
}

// connect opens a channel and consumes the configuration frame.
func (h *harness) connect(t *testing.T) (*Channel, *websocket.Conn) {
	t.Helper()
	ch, err := h.bridge.Connect(context.Background(), "agent-1", "call-1", nil, h.observe)
	require.NoError(t, err)
	conn := h.agent.accept(t)
	frame := readFrame(t, conn)
	require.Equal(t, WSTypeConfiguration, frame.Type)
	return ch, conn
}

// =============================================================================
// Tests
// =============================================================================

func TestRegisterTools_RegistersAllowListOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.bridge.RegisterTools(ctx, "agent-1"))
	require.NoError(t, h.bridge.RegisterTools(ctx, "agent-1"))

	assert.ElementsMatch(t, []string{"agent-1/create_agent", "agent-1/query_store"}, h.agent.registrations())

	require.NoError(t, h.bridge.RegisterTools(ctx, "agent-2"))
	assert.Len(t, h.agent.registrations(), 4)
}

func TestConnect_SendsConfigurationWithCallId(t *testing.T) {
	h := newHarness(t)

	ch, err := h.bridge.Connect(context.Background(), "agent-1", "call-1", map[string]string{"from": "+15550001111"}, h.observe)
	require.NoError(t, err)
	defer ch.Close(context.Background())
	assert.Equal(t, "conv-1", ch.ConversationId())

	conn := h.agent.accept(t)
	frame := readFrame(t, conn)
	assert.Equal(t, WSTypeConfiguration, frame.Type)

	var cfg WSConfigurationData
	require.NoError(t, json.Unmarshal(frame.Data, &cfg))
	assert.Equal(t, "agent-1", cfg.AgentId)
	assert.Equal(t, "conv-1", cfg.ConversationId)
	assert.Equal(t, "call-1", cfg.CallId)

	h.agent.mu.Lock()
	assert.Equal(t, "call-1", h.agent.conversation["call_id"])
	assert.Equal(t, "+15550001111", h.agent.conversation["from"])
	h.agent.mu.Unlock()
}

func TestChannel_AgentResponseAppendsAiTurn(t *testing.T) {
	h := newHarness(t)
	ch, conn := h.connect(t)
	defer ch.Close(context.Background())

	writeFrame(t, conn, WSTypeAgentResponse, AgentResponse{Id: "r1", Text: "  How can I help?  ", Completed: true})
	event := h.waitEvent(t)
	assert.IsType(t, AgentResponse{}, event)

	entries := h.store.transcriptSnapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, internal_call_entity.SourceAi, entries[0].Source)
	assert.Equal(t, "How can I help?", entries[0].Text)
	assert.Equal(t, "call-1", entries[0].CallId)
}

func TestChannel_ToolCallReturnsResult(t *testing.T) {
	h := newHarness(t)
	h.store.agents = []internal_call_entity.Agent{
		{Id: "a1", Name: "Ava", Type: internal_call_entity.AgentTypeAi, Status: internal_call_entity.AgentStatusAvailable},
		{Id: "a2", Name: "Bo", Type: internal_call_entity.AgentTypeAi, Status: internal_call_entity.AgentStatusBusy},
	}
	ch, conn := h.connect(t)
	defer ch.Close(context.Background())

	writeFrame(t, conn, WSTypeToolCall, ToolCall{
		Id:   "tc-1",
		Name: ToolQueryStore,
		Parameters: map[string]interface{}{
			"collection": "agents",
			"filters":    map[string]interface{}{"status": "available"},
		},
	})

	frame := readFrame(t, conn)
	require.Equal(t, WSTypeToolResult, frame.Type)
	var result struct {
		ToolCallId string                       `json:"toolCallId"`
		Success    bool                         `json:"success"`
		Data       []internal_call_entity.Agent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(frame.Data, &result))
	assert.Equal(t, "tc-1", result.ToolCallId)
	assert.True(t, result.Success)
	require.Len(t, result.Data, 1)
	assert.Equal(t, "a1", result.Data[0].Id)
}

func TestChannel_FailingToolKeepsChannelOpen(t *testing.T) {
	h := newHarness(t)
	ch, conn := h.connect(t)
	defer ch.Close(context.Background())

	writeFrame(t, conn, WSTypeToolCall, ToolCall{Id: "tc-1", Name: "drop_tables"})
	frame := readFrame(t, conn)
	var unknown ToolResult
	require.NoError(t, json.Unmarshal(frame.Data, &unknown))
	assert.False(t, unknown.Success)
	assert.Equal(t, "tc-1", unknown.ToolCallId)
	assert.Contains(t, unknown.Error, ErrUnknownTool.Error())

	h.store.mu.Lock()
	h.store.listErr = errors.New("db down")
	h.store.mu.Unlock()
	writeFrame(t, conn, WSTypeToolCall, ToolCall{Id: "tc-2", Name: ToolQueryStore, Parameters: map[string]interface{}{"collection": "agents"}})
	frame = readFrame(t, conn)
	var failed ToolResult
	require.NoError(t, json.Unmarshal(frame.Data, &failed))
	assert.False(t, failed.Success)
	assert.Contains(t, failed.Error, ErrToolExecutionFailure.Error())

	require.NoError(t, ch.SendText("still there?"))
	frame = readFrame(t, conn)
	assert.Equal(t, WSTypeUserMessage, frame.Type)
}

func TestChannel_MalformedToolCallGetsFailedResult(t *testing.T) {
	h := newHarness(t)
	ch, conn := h.connect(t)
	defer ch.Close(context.Background())

	writeFrame(t, conn, WSTypeToolCall, map[string]interface{}{
		"id":         "tc-9",
		"name":       ToolQueryStore,
		"parameters": "oops",
	})
	frame := readFrame(t, conn)
	require.Equal(t, WSTypeToolResult, frame.Type)
	var result ToolResult
	require.NoError(t, json.Unmarshal(frame.Data, &result))
	assert.Equal(t, "tc-9", result.ToolCallId)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, ErrMalformedToolCall.Error())

	writeFrame(t, conn, WSTypeToolCall, map[string]interface{}{"id": "tc-10"})
	frame = readFrame(t, conn)
	require.NoError(t, json.Unmarshal(frame.Data, &result))
	assert.Equal(t, "tc-10", result.ToolCallId)
	assert.False(t, result.Success)

	require.NoError(t, ch.SendText("still there?"))
	assert.Equal(t, WSTypeUserMessage, readFrame(t, conn).Type)
}

func TestChannel_PingIsAnsweredWithPong(t *testing.T) {
	h := newHarness(t)
	ch, conn := h.connect(t)
	defer ch.Close(context.Background())

	writeFrame(t, conn, WSTypePing, nil)
	frame := readFrame(t, conn)
	assert.Equal(t, WSTypePong, frame.Type)
}

func TestChannel_AudioGoesToObserver(t *testing.T) {
	h := newHarness(t)
	ch, conn := h.connect(t)
	defer ch.Close(context.Background())

	writeFrame(t, conn, WSTypeAudio, AudioChunk{Audio: []byte{1, 2, 3, 4}, Encoding: "pcm16", SampleRate: 16000})
	event := h.waitEvent(t)
	chunk, ok := event.(AudioChunk)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4}, chunk.Audio)
	assert.Empty(t, h.store.transcriptSnapshot())
}

func TestChannel_CloseCompletesCallOnce(t *testing.T) {
	h := newHarness(t)
	ch, _ := h.connect(t)

	require.NoError(t, ch.Close(context.Background()))
	require.NoError(t, ch.Close(context.Background()))
	assert.Equal(t, 1, h.store.completions("call-1"))

	assert.ErrorIs(t, ch.SendText("hello"), ErrChannelClosed)
	assert.ErrorIs(t, ch.SendAudio([]byte{0, 0}, 16000), ErrChannelClosed)
}

func TestChannel_RemoteCloseEndsChannel(t *testing.T) {
	h := newHarness(t)
	ch, conn := h.connect(t)
	defer ch.Close(context.Background())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not notice remote close")
	}
	assert.ErrorIs(t, ch.SendText("hello"), ErrChannelClosed)
}

func TestOpenChannel_RejectedHandshake(t *testing.T) {
	logger, _ := commons.NewApplicationLogger()
	agent := newAgentServer(t)
	store := newFakeStore()
	client := NewClient(config.ConversationalAIConfig{BaseUrl: agent.server.URL, ApiKey: "wrong"}, logger)
	bridge := NewBridge(client, NewToolSet(store, logger), store, logger)

	_, err := bridge.OpenChannel(context.Background(), "agent-1", "conv-1", "call-1", nil)
	assert.Error(t, err)
}

func TestHandle_MapsEventsToEffects(t *testing.T) {
	ch := &Channel{callId: "call-1"}

	effects := ch.handle(AgentResponse{Text: "hi"})
	require.Len(t, effects, 1)
	appendEff, ok := effects[0].(appendTranscriptEffect)
	require.True(t, ok)
	assert.Equal(t, internal_call_entity.SourceAi, appendEff.entry.Source)

	assert.Empty(t, ch.handle(AgentResponse{Text: "   "}))

	effects = ch.handle(ToolCall{Id: "t", Name: ToolCreateAgent})
	require.Len(t, effects, 1)
	assert.IsType(t, runToolEffect{}, effects[0])

	effects = ch.handle(Ping{})
	require.Len(t, effects, 1)
	assert.Equal(t, WSTypePong, effects[0].(sendEffect).msg.Type)

	assert.Empty(t, ch.handle(AudioChunk{Audio: []byte{1}}))
	assert.IsType(t, logEffect{}, ch.handle(AgentError{Code: 500, Message: "boom"})[0])
}

func TestToolSet_CreateAgentDefaultsToAvailableAi(t *testing.T) {
	logger, _ := commons.NewApplicationLogger()
	store := newFakeStore()
	tools := NewToolSet(store, logger)

	result := tools.Dispatch(context.Background(), "call-1", ToolCall{
		Id: "t1", Name: ToolCreateAgent,
		Parameters: map[string]interface{}{"name": " Ava ", "channel_url": "wss://agents/ava"},
	})
	require.True(t, result.Success, result.Error)
	agent := result.Data.(*internal_call_entity.Agent)
	assert.Equal(t, "Ava", agent.Name)
	assert.Equal(t, internal_call_entity.AgentTypeAi, agent.Type)
	assert.Equal(t, internal_call_entity.AgentStatusAvailable, agent.Status)

	result = tools.Dispatch(context.Background(), "call-1", ToolCall{
		Id: "t2", Name: ToolCreateAgent, Parameters: map[string]interface{}{"name": "X", "rank": 3},
	})
	assert.False(t, result.Success)

	result = tools.Dispatch(context.Background(), "call-1", ToolCall{
		Id: "t3", Name: ToolQueryStore, Parameters: map[string]interface{}{"collection": "secrets"},
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, internal_callstore.ErrUnsupportedCollection.Error())

	names := []string{}
	for _, def := range tools.Definitions() {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{ToolCreateAgent, ToolQueryStore}, names)
}

func TestDecodeEvent(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"type":"tool_call","data":{"id":"t1","name":"query_store","parameters":{"collection":"calls"}}}`))
	require.NoError(t, err)
	call := event.(ToolCall)
	assert.Equal(t, "calls", call.Parameters["collection"])

	event, err = DecodeEvent([]byte(`{"type":"tool_call","data":{"id":"t1"}}`))
	require.NoError(t, err)
	assert.Error(t, event.(ToolCall).malformed)

	event, err = DecodeEvent([]byte(`{"type":"tool_call","data":{"id":"t2","name":"query_store","parameters":"oops"}}`))
	require.NoError(t, err)
	assert.Equal(t, "t2", event.(ToolCall).Id)
	assert.Error(t, event.(ToolCall).malformed)

	_, err = DecodeEvent([]byte(`{"type":"tool_call","data":{"name":"query_store"}}`))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`{"type":"mystery"}`))
	assert.Error(t, err)

	_, err = DecodeEvent([]byte(`not json`))
	assert.Error(t, err)

	event, err = DecodeEvent([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.IsType(t, Ping{}, event)
}
