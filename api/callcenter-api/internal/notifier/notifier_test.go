package internal_notifier

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_call_entity "github.com/rapidaai/callcenter/api/callcenter-api/internal/entity/calls"
	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/connectors"
	"github.com/rapidaai/callcenter/pkg/utils"
)

func newTestNotifier(t *testing.T) (Notifier, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	logger, _ := commons.NewApplicationLogger()
	return NewRedisNotifier(connectors.NewRedisConnectorFromClient(client, logger), "calls:new", logger), mock
}

func TestNewCallEventFrom(t *testing.T) {
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	event := NewCallEventFrom(&internal_call_entity.CallSession{
		Id:                "call-1",
		ProviderCallId:    utils.Ptr("CA1"),
		CounterpartNumber: "+12025550123",
		CounterpartName:   utils.Ptr("Ada"),
		Status:            internal_call_entity.StatusActive,
		StartTime:         start,
	})
	assert.Equal(t, "CA1", event.ProviderCallId)
	assert.Equal(t, "Ada", event.ContactName)
	assert.Empty(t, event.AiAgentId)
	assert.Equal(t, start, event.Timestamp)
}

func TestNewCall_Publishes(t *testing.T) {
	notifier, mock := newTestNotifier(t)
	event := NewCallEvent{CallId: "call-1", From: "+12025550123", Status: internal_call_entity.StatusActive}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	mock.ExpectPublish("calls:new", string(payload)).SetVal(2)
	require.NoError(t, notifier.NewCall(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewCall_PublishFailure(t *testing.T) {
	notifier, mock := newTestNotifier(t)
	event := NewCallEvent{CallId: "call-2"}
	payload, _ := json.Marshal(event)

	mock.ExpectPublish("calls:new", string(payload)).SetErr(errors.New("READONLY"))
	err := notifier.NewCall(context.Background(), event)
	assert.ErrorContains(t, err, "READONLY")
}
