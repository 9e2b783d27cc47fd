package telegraph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/convoy/internal/logging"
	"go.uber.org/zap"
)

func TestNewNotifier_RequiresAdapter(t *testing.T) {
	_, err := NewNotifier(NotifierOpts{})
	require.Error(t, err)
}

func TestNotifier_BroadcastsToConnectedAdapters(t *testing.T) {
	logger := logging.NewTestLogger()
	slack := NewMockAdapter("slack")
	discord := NewMockAdapter("discord")
	discord.SetConnectError(errors.New("bad token"))

	n, err := NewNotifier(NotifierOpts{Adapters: []Adapter{slack, discord}, Logger: logger.Logger})
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	logger.AssertLogged(t, zap.WarnLevel, "notification adapter unavailable")

	n.TaskConcluded(context.Background(), concludedTask())

	require.Equal(t, 1, slack.SentCount())
	assert.Equal(t, 0, discord.SentCount())
	msg, _ := slack.LastSent()
	assert.Equal(t, "Task req-1 concluded", msg.Text)
	require.Len(t, msg.Events, 1)
	assert.Equal(t, "success", msg.Events[0].Severity)
}

func TestNotifier_StartFailsWhenNothingConnects(t *testing.T) {
	a := NewMockAdapter("slack")
	a.SetConnectError(errors.New("bad token"))
	n, err := NewNotifier(NotifierOpts{Adapters: []Adapter{a}})
	require.NoError(t, err)

	err = n.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad token")
}

func TestNotifier_SendFailureIsLogged(t *testing.T) {
	logger := logging.NewTestLogger()
	a := NewMockAdapter("slack")
	n, err := NewNotifier(NotifierOpts{Adapters: []Adapter{a}, Logger: logger.Logger})
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	a.SetSendError(errors.New("rate limited"))

	n.TaskFailed(context.Background(), concludedTask(), "conversation limit exceeded")

	logger.AssertLogged(t, zap.WarnLevel, "notification not delivered")
	entries := logger.FilterMessage("notification not delivered").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-1", entries[0].ContextMap()[logging.KeyRequest])
}

func TestNotifier_Close(t *testing.T) {
	a := NewMockAdapter("slack")
	n, err := NewNotifier(NotifierOpts{Adapters: []Adapter{a}})
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))

	require.NoError(t, n.Close())
	assert.True(t, a.Closed())

	n.TaskConcluded(context.Background(), concludedTask())
	assert.Equal(t, 0, a.SentCount())
}
