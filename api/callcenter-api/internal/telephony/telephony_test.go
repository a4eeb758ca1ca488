package internal_telephony

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_call_entity "github.com/rapidaai/callcenter/api/callcenter-api/internal/entity/calls"
	"github.com/rapidaai/callcenter/pkg/commons"
	"github.com/rapidaai/callcenter/pkg/connectors"
)

// ============================================================================
// Status mapping
// ============================================================================

func TestMapStatus(t *testing.T) {
	tests := []struct {
		raw      string
		status   internal_call_entity.Status
		terminal bool
	}{
		{"queued", internal_call_entity.StatusActive, false},
		{"ringing", internal_call_entity.StatusActive, false},
		{"in-progress", internal_call_entity.StatusActive, false},
		{"answered", internal_call_entity.StatusActive, false},
		{"  In-Progress ", internal_call_entity.StatusActive, false},
		{"completed", internal_call_entity.StatusCompleted, true},
		{"failed", internal_call_entity.StatusAbandoned, true},
		{"busy", internal_call_entity.StatusAbandoned, true},
		{"no-answer", internal_call_entity.StatusAbandoned, true},
		{"canceled", internal_call_entity.StatusAbandoned, true},
		{"unanswered", internal_call_entity.StatusAbandoned, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			status, terminal, err := MapStatus(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.terminal, terminal)
		})
	}
}

func TestMapStatus_Unknown(t *testing.T) {
	_, terminal, err := MapStatus("exploded")
	assert.ErrorIs(t, err, ErrProviderStatusUnknown)
	assert.False(t, terminal)

	assert.Equal(t, internal_call_entity.StatusActive, InboundStatus("exploded"))
	assert.Equal(t, internal_call_entity.StatusCompleted, InboundStatus("completed"))
}

// ============================================================================
// Dial guard
// ============================================================================

type countingProvider struct {
	mu    sync.Mutex
	dials int
	err   error
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Dial(ctx context.Context, req DialRequest) (*DialResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dials++
	if p.err != nil {
		return nil, p.err
	}
	return &DialResult{ProviderCallId: "CA1"}, nil
}

func (p *countingProvider) QueryStatus(ctx context.Context, id string) (string, error) {
	return "in-progress", nil
}

func (p *countingProvider) Hangup(ctx context.Context, id string) error { return nil }

func newGuardedProvider(t *testing.T, inner Provider) (Provider, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	logger, _ := commons.NewApplicationLogger()
	return NewDedupProvider(inner, connectors.NewRedisConnectorFromClient(client, logger), time.Minute, logger), mock
}

func TestDedupProvider_FirstDialGoesThrough(t *testing.T) {
	inner := &countingProvider{}
	provider, mock := newGuardedProvider(t, inner)

	mock.ExpectSetNX("callcenter:dial:session-1", "pending", time.Minute).SetVal(true)
	mock.ExpectSet("callcenter:dial:session-1", "CA1", time.Minute).SetVal("OK")

	result, err := provider.Dial(context.Background(), DialRequest{
		Number: "+12025550123", PreventDuplicate: true, IdempotencyKey: "session-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "CA1", result.ProviderCallId)
	assert.Equal(t, 1, inner.dials)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupProvider_RepeatKeyIsSuppressed(t *testing.T) {
	inner := &countingProvider{}
	provider, mock := newGuardedProvider(t, inner)

	mock.ExpectSetNX("callcenter:dial:session-1", "pending", time.Minute).SetVal(false)
	mock.ExpectGet("callcenter:dial:session-1").SetVal("CA1")

	_, err := provider.Dial(context.Background(), DialRequest{
		Number: "+12025550123", PreventDuplicate: true, IdempotencyKey: "session-1",
	})
	assert.ErrorIs(t, err, ErrDuplicateDial)
	assert.Equal(t, 0, inner.dials)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupProvider_FailedDialReleasesKey(t *testing.T) {
	inner := &countingProvider{err: errors.New("carrier down")}
	provider, mock := newGuardedProvider(t, inner)

	mock.ExpectSetNX("callcenter:dial:session-2", "pending", time.Minute).SetVal(true)
	mock.ExpectDel("callcenter:dial:session-2").SetVal(1)

	_, err := provider.Dial(context.Background(), DialRequest{
		Number: "+12025550123", PreventDuplicate: true, IdempotencyKey: "session-2",
	})
	assert.EqualError(t, err, "carrier down")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupProvider_RedisOutageStillDials(t *testing.T) {
	inner := &countingProvider{}
	provider, mock := newGuardedProvider(t, inner)

	mock.ExpectSetNX("callcenter:dial:session-3", "pending", time.Minute).SetErr(errors.New("connection refused"))

	result, err := provider.Dial(context.Background(), DialRequest{
		Number: "+12025550123", PreventDuplicate: true, IdempotencyKey: "session-3",
	})
	require.NoError(t, err)
	assert.Equal(t, "CA1", result.ProviderCallId)
	assert.Equal(t, 1, inner.dials)
}

func TestDedupProvider_UnflaggedDialBypassesGuard(t *testing.T) {
	inner := &countingProvider{}
	provider, mock := newGuardedProvider(t, inner)

	_, err := provider.Dial(context.Background(), DialRequest{Number: "+12025550123"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.dials)
	assert.NoError(t, mock.ExpectationsWereMet())
}
