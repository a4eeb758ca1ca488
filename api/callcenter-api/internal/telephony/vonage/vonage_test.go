package internal_vonage_telephony

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_telephony "github.com/rapidaai/callcenter/api/callcenter-api/internal/telephony"
	"github.com/rapidaai/callcenter/config"
	"github.com/rapidaai/callcenter/pkg/commons"
)

type fakeVoice struct {
	to, from, answerUrl string
	hungUp              []string
	err                 error
}

func (f *fakeVoice) create(to, from, answerUrl string) (string, error) {
	f.to, f.from, f.answerUrl = to, from, answerUrl
	if f.err != nil {
		return "", f.err
	}
	return "63f61863-4a51-4f6b-86e1-46edebcf9356", nil
}

func (f *fakeVoice) status(uuid string) (string, error) { return "answered", nil }

func (f *fakeVoice) hangup(uuid string) error {
	f.hungUp = append(f.hungUp, uuid)
	return nil
}

func newTestVonage(voice *fakeVoice) *vg {
	logger, _ := commons.NewApplicationLogger()
	return newVonage(config.VonageConfig{FromNumber: "15550001111", AnswerUrl: "https://example.com/answer"}, voice, logger)
}

func TestNewVonage_RequiresCredentials(t *testing.T) {
	logger, _ := commons.NewApplicationLogger()
	_, err := NewVonage(config.VonageConfig{ApplicationId: "app"}, logger)
	assert.Error(t, err)
}

func TestVonageLifecycle(t *testing.T) {
	voice := &fakeVoice{}
	provider := newTestVonage(voice)

	result, err := provider.Dial(context.Background(), internal_telephony.DialRequest{Number: "12025550123"})
	require.NoError(t, err)
	assert.Equal(t, "63f61863-4a51-4f6b-86e1-46edebcf9356", result.ProviderCallId)
	assert.Equal(t, "15550001111", voice.from)
	assert.Equal(t, "https://example.com/answer", voice.answerUrl)

	status, err := provider.QueryStatus(context.Background(), result.ProviderCallId)
	require.NoError(t, err)
	_, terminal, err := internal_telephony.MapStatus(status)
	require.NoError(t, err)
	assert.False(t, terminal)

	require.NoError(t, provider.Hangup(context.Background(), result.ProviderCallId))
	assert.Equal(t, []string{result.ProviderCallId}, voice.hungUp)
}

func TestVonageDialFailure(t *testing.T) {
	provider := newTestVonage(&fakeVoice{err: errors.New("401")})
	_, err := provider.Dial(context.Background(), internal_telephony.DialRequest{Number: "12025550123"})
	assert.ErrorIs(t, err, internal_telephony.ErrProviderDialFailure)
}
