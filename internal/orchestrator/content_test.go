package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/convoy/internal/models"
)

func TestProcessContentEvent_Discards(t *testing.T) {
	tests := []struct {
		name   string
		seed   func(*harness, *testing.T)
		event  func() ContentEvent
		reason string
	}{
		{
			name: "consumer only",
			event: func() ContentEvent {
				ev := agentEvent("c1", "hi")
				ev.Body.Changes[0].OriginatorMetadata.Role = RoleConsumer
				return ev
			},
			reason: ReasonNoAgentChange,
		},
		{
			name: "empty message",
			event: func() ContentEvent {
				return agentEvent("c1", "")
			},
			reason: ReasonEmptyMessage,
		},
		{
			name: "agents only audience",
			event: func() ContentEvent {
				ev := agentEvent("c1", "private note")
				ev.Body.Changes[0].MessageAudience = "AGENTS_AND_MANAGERS"
				return ev
			},
			reason: ReasonAudience,
		},
		{
			name: "controller",
			event: func() ContentEvent {
				ev := agentEvent("c1", "system")
				ev.Body.Changes[0].Role = RoleController
				return ev
			},
			reason: ReasonController,
		},
		{
			name:   "unknown conversation",
			event:  func() ContentEvent { return agentEvent("nope", "hi") },
			reason: ReasonUnknown,
		},
		{
			name: "paused",
			seed: func(h *harness, t *testing.T) {
				h.seedConversation(t, "c1", func(c *models.Conversation) { c.State = models.StatePaused })
			},
			event:  func() ContentEvent { return agentEvent("c1", "hi") },
			reason: ReasonPaused,
		},
		{
			name: "inactive",
			seed: func(h *harness, t *testing.T) {
				h.seedConversation(t, "c1", func(c *models.Conversation) { c.Active = false })
			},
			event:  func() ContentEvent { return agentEvent("c1", "hi") },
			reason: ReasonInactive,
		},
		{
			name: "terminal task",
			seed: func(h *harness, t *testing.T) {
				require.NoError(t, h.store.UpdateTask(context.Background(), "acct", "req-1",
					map[string]interface{}{"status": models.TaskCancelled}))
				h.seedConversation(t, "c1", nil)
			},
			event:  func() ContentEvent { return agentEvent("c1", "hi") },
			reason: ReasonTaskTerminal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seedTask(t, nil)
			if tt.seed != nil {
				tt.seed(h, t)
			} else {
				h.seedConversation(t, "c1", nil)
			}

			out, err := h.o.ProcessContentEvent(context.Background(), "acct", tt.event())
			require.NoError(t, err)
			assert.True(t, out.Discarded())
			assert.Equal(t, tt.reason, out.Reason)

			if conv, err := h.store.GetConversation(context.Background(), "acct", "c1"); err == nil {
				assert.Empty(t, conv.AgentMessages, "discarded events must not mutate the conversation")
				assert.Zero(t, conv.AgentTurns)
				assert.False(t, conv.PendingConsumer)
			}
		})
	}
}

func TestProcessContentEvent_SchedulesReply(t *testing.T) {
	h := newHarness(t)
	h.seedTask(t, nil)
	h.seedConversation(t, "c1", nil)

	out, err := h.o.ProcessContentEvent(context.Background(), "acct", agentEvent("c1", "Hello, how can I help?"))
	require.NoError(t, err)
	assert.Equal(t, ActionScheduled, out.Action)
	assert.Equal(t, 1, out.AgentTurns)
	assert.Equal(t, 2*time.Second, out.Delay, "low end of the 2..5 range")
	assert.Equal(t, [][2]int{{2, 6}}, h.rand.calls, "range max is inclusive")

	conv := h.storedConversation(t, "c1")
	assert.True(t, conv.PendingConsumer)
	assert.True(t, conv.Queued)
	assert.Equal(t, testNow.Add(2*time.Second).UnixMilli(), conv.PendingConsumerRespondTime)
	require.Len(t, conv.AgentMessages, 1)
	assert.Equal(t, "Hello, how can I help? [2026-01-02T03:04:05Z]", conv.AgentMessages[0])
	assert.Equal(t, 1, conv.AgentMessagesSentCount)
	require.NotNil(t, conv.LastAgentMessageTime)

	due, err := h.o.DueReplies(context.Background(), testNow, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	due, err = h.o.DueReplies(context.Background(), testNow.Add(3*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "c1", due[0].ID)
}

func TestProcessContentEvent_PicksLastAgentChange(t *testing.T) {
	h := newHarness(t)
	h.seedTask(t, nil)
	h.seedConversation(t, "c1", nil)

	ev := agentEvent("c1", "first")
	second := ev.Body.Changes[0]
	second.Event.Message = "second"
	consumer := ev.Body.Changes[0]
	consumer.OriginatorMetadata.Role = RoleConsumer
	consumer.Event.Message = "from the consumer"
	ev.Body.Changes = append(ev.Body.Changes, second, consumer)

	_, err := h.o.ProcessContentEvent(context.Background(), "acct", ev)
	require.NoError(t, err)

	conv := h.storedConversation(t, "c1")
	require.Len(t, conv.AgentMessages, 1)
	assert.True(t, strings.HasPrefix(conv.AgentMessages[0], "second "))
}

func TestProcessContentEvent_BuffersAllMessagesOfATurn(t *testing.T) {
	h := newHarness(t)
	h.seedTask(t, nil)
	h.seedConversation(t, "c1", nil)
	ctx := context.Background()

	texts := []string{"one", "two", "three"}
	for _, text := range texts {
		out, err := h.o.ProcessContentEvent(ctx, "acct", agentEvent("c1", text))
		require.NoError(t, err)
		assert.Equal(t, 1, out.AgentTurns, "messages before a reply share one turn")
	}

	conv := h.storedConversation(t, "c1")
	require.Len(t, conv.AgentMessages, len(texts))
	for i, text := range texts {
		assert.Equal(t, text+" [2026-01-02T03:04:05Z]", conv.AgentMessages[i])
	}
	assert.Equal(t, 3, conv.AgentMessagesSentCount)

	require.NoError(t, h.o.PublishConsumerMessage(ctx, "acct", "c1", "", "thanks"))
	out, err := h.o.ProcessContentEvent(ctx, "acct", agentEvent("c1", "four"))
	require.NoError(t, err)
	assert.Equal(t, 2, out.AgentTurns, "a reply starts a new turn")

	conv = h.storedConversation(t, "c1")
	assert.Len(t, conv.AgentMessages, 1)
	assert.Equal(t, 2, conv.AgentTurns)
}

func TestProcessContentEvent_TurnLimitClosesDialogOnce(t *testing.T) {
	h := newHarness(t)
	h.seedTask(t, func(task *models.Task) { task.MaxTurns = 2 })
	h.seedConversation(t, "c1", nil)
	ctx := context.Background()

	for turn := 1; turn <= 2; turn++ {
		out, err := h.o.ProcessContentEvent(ctx, "acct", agentEvent("c1", "agent"))
		require.NoError(t, err)
		require.Equal(t, ActionScheduled, out.Action, "turn %d", turn)
		require.NoError(t, h.o.PublishConsumerMessage(ctx, "acct", "c1", "", "reply"))
	}

	out, err := h.o.ProcessContentEvent(ctx, "acct", agentEvent("c1", "one more"))
	require.NoError(t, err)
	assert.Equal(t, ActionCloseRequested, out.Action)
	assert.Equal(t, 3, out.AgentTurns)

	conv := h.storedConversation(t, "c1")
	assert.False(t, conv.PendingConsumer, "no reply is scheduled past the limit")
	assert.Len(t, conv.AgentMessages, 1)

	require.Len(t, h.gw.closes, 1)
	assert.Equal(t, closeCall{conversationID: "c1", dialogID: "c1", cause: CloseCauseTurns}, h.gw.closes[0])

	out, err = h.o.ProcessContentEvent(ctx, "acct", agentEvent("c1", "still talking"))
	require.NoError(t, err)
	assert.Equal(t, ActionCloseRequested, out.Action)
	assert.Len(t, h.gw.closes, 1, "the close is only issued once")
}

func TestProcessContentEvent_UnlimitedTurns(t *testing.T) {
	h := newHarness(t)
	h.seedTask(t, func(task *models.Task) { task.MaxTurns = 0 })
	h.seedConversation(t, "c1", func(c *models.Conversation) { c.AgentTurns = 500 })

	out, err := h.o.ProcessContentEvent(context.Background(), "acct", agentEvent("c1", "hi"))
	require.NoError(t, err)
	assert.Equal(t, ActionScheduled, out.Action)
	assert.Empty(t, h.gw.closes)
}

func TestProcessContentEvent_PostSurvey(t *testing.T) {
	h := newHarness(t)
	h.seedTask(t, func(task *models.Task) { task.MaxTurns = 1 })
	h.seedConversation(t, "c1", func(c *models.Conversation) {
		c.DialogID = "survey-1"
		c.DialogType = models.DialogPostSurvey
		c.Active = false
		c.AgentTurns = 5
	})

	out, err := h.o.ProcessContentEvent(context.Background(), "acct", agentEvent("c1", "How did we do?"))
	require.NoError(t, err)
	assert.Equal(t, ActionScheduled, out.Action, "turn limit does not apply to surveys")
	assert.Zero(t, out.Delay)
	assert.Empty(t, h.rand.calls)
	assert.Empty(t, h.gw.closes)

	conv := h.storedConversation(t, "c1")
	assert.True(t, conv.Active, "survey questions reactivate the conversation")
	assert.True(t, conv.PendingConsumer)
	assert.Equal(t, testNow.UnixMilli(), conv.PendingConsumerRespondTime)
}

func TestProcessContentEvent_DelayFallbacks(t *testing.T) {
	tests := []struct {
		name      string
		useDelays bool
		r         models.DelayRange
		want      time.Duration
	}{
		{"delays disabled", false, models.DelayRange{Min: 2, Max: 5}, 0},
		{"unset range", true, models.DelayRange{}, DefaultReplyDelay},
		{"inverted range", true, models.DelayRange{Min: 9, Max: 3}, DefaultReplyDelay},
		{"fixed", true, models.DelayRange{Min: 4, Max: 4}, 4 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seedTask(t, func(task *models.Task) {
				task.UseDelays = tt.useDelays
				task.ConsumerMessageDelayRange = tt.r
			})
			h.seedConversation(t, "c1", nil)

			out, err := h.o.ProcessContentEvent(context.Background(), "acct", agentEvent("c1", "hi"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Delay)
		})
	}
}

func TestProcessContentEvent_RichContent(t *testing.T) {
	h := newHarness(t)
	h.seedTask(t, nil)
	h.seedConversation(t, "c1", nil)

	ev := agentEvent("c1", "")
	ev.Body.Changes[0].Event = MessageEvent{Type: EventRichContent, Content: []byte(`{ "type": "vertical" }`)}
	_, err := h.o.ProcessContentEvent(context.Background(), "acct", ev)
	require.NoError(t, err)

	conv := h.storedConversation(t, "c1")
	require.Len(t, conv.AgentMessages, 1)
	assert.Equal(t, `[Rich content] {"type":"vertical"} [2026-01-02T03:04:05Z]`, conv.AgentMessages[0])
}

func TestProcessContentEvent_DialogFromEvent(t *testing.T) {
	h := newHarness(t)
	h.seedTask(t, nil)
	h.seedConversation(t, "c1", nil)

	ev := agentEvent("c1", "hi")
	ev.Body.Changes[0].DialogID = "d2"
	_, err := h.o.ProcessContentEvent(context.Background(), "acct", ev)
	require.NoError(t, err)

	assert.Equal(t, "d2", h.storedConversation(t, "c1").DialogID)
}
