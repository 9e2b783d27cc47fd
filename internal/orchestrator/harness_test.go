package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zulandar/convoy/internal/cache"
	"github.com/zulandar/convoy/internal/models"
	"github.com/zulandar/convoy/internal/persona"
	"github.com/zulandar/convoy/internal/platform"
	"github.com/zulandar/convoy/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type publishCall struct {
	conversationID, dialogID, consumerToken, text string
}

type closeCall struct {
	conversationID, dialogID, cause string
}

type fakeGateway struct {
	mu         sync.Mutex
	appErr     error
	createErr  error
	publishErr error
	closeErr   error
	onPublish  func()
	created    int
	consumers  []platform.ConsumerRequest
	published  []publishCall
	closes     []closeCall
}

func (g *fakeGateway) ResolveDomain(context.Context, string, string) (string, error) {
	return "platform.test", nil
}

func (g *fakeGateway) AppToken(context.Context, string) (string, error) {
	if g.appErr != nil {
		return "", g.appErr
	}
	return "app-tok", nil
}

func (g *fakeGateway) RegisterConsumer(_ context.Context, _, _ string, req platform.ConsumerRequest) (*platform.Consumer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consumers = append(g.consumers, req)
	return &platform.Consumer{Token: "jws", PlatformConsumerID: "pc-1", ExternalConsumerID: req.ExternalConsumerID}, nil
}

func (g *fakeGateway) CreateConversation(context.Context, string, string, string, platform.ConversationRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", g.createErr
	}
	g.created++
	return fmt.Sprintf("conv-%d", g.created), nil
}

func (g *fakeGateway) PublishMessage(_ context.Context, _, _, consumerToken, conversationID, dialogID, text string) error {
	if g.onPublish != nil {
		g.onPublish()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.publishErr != nil {
		return g.publishErr
	}
	g.published = append(g.published, publishCall{conversationID, dialogID, consumerToken, text})
	return nil
}

func (g *fakeGateway) CloseConversation(_ context.Context, _, _, _, conversationID, dialogID, cause string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closeErr != nil {
		return g.closeErr
	}
	g.closes = append(g.closes, closeCall{conversationID, dialogID, cause})
	return nil
}

type fakeHandoff struct {
	mu            sync.Mutex
	conversations []string
	err           error
}

func (h *fakeHandoff) ConcludeTask(context.Context, *models.Task) error { return nil }

func (h *fakeHandoff) ConcludeConversation(_ context.Context, _, _, conversationID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conversations = append(h.conversations, conversationID)
	return h.err
}

type fakeListener struct {
	mu     sync.Mutex
	events []models.ConversationConcluded
}

func (l *fakeListener) OnConversationConcluded(_ context.Context, ev models.ConversationConcluded) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

type fakeNotifier struct {
	reasons []string
}

func (n *fakeNotifier) TaskFailed(_ context.Context, _ *models.Task, reason string) {
	n.reasons = append(n.reasons, reason)
}

// minRand always returns the low end of the range and remembers the args.
type minRand struct {
	calls [][2]int
}

func (r *minRand) Int(min, max int) (int, error) {
	r.calls = append(r.calls, [2]int{min, max})
	if max <= min {
		return 0, errors.New("empty range")
	}
	return min, nil
}

type harness struct {
	o        *Orchestrator
	store    *store.Store
	cache    *cache.Cache
	gw       *fakeGateway
	handoff  *fakeHandoff
	listener *fakeListener
	notifier *fakeNotifier
	rand     *minRand
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Task{}, &models.Conversation{}))
	return db
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := store.New(testDB(t))
	require.NoError(t, err)

	h := &harness{
		store:    s,
		cache:    cache.New(cache.Opts{Now: func() time.Time { return testNow }}),
		gw:       &fakeGateway{},
		handoff:  &fakeHandoff{},
		listener: &fakeListener{},
		notifier: &fakeNotifier{},
		rand:     &minRand{},
	}
	h.o, err = New(Opts{
		Store:    h.store,
		Cache:    h.cache,
		Gateway:  h.gw,
		Handoff:  h.handoff,
		Listener: h.listener,
		Notifier: h.notifier,
		Personas: persona.NewSeeded(1, 2),
		Rand:     h.rand,
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return h
}

func (h *harness) seedTask(t *testing.T, mutate func(*models.Task)) *models.Task {
	t.Helper()
	task := &models.Task{
		ID:                        "req-1",
		AccountID:                 "acct",
		MaxConversations:          3,
		ConcurrentConversations:   2,
		UseDelays:                 true,
		MaxTurns:                  10,
		ConsumerMessageDelayRange: models.DelayRange{Min: 2, Max: 5},
		Status:                    models.TaskInProgress,
	}
	if mutate != nil {
		mutate(task)
	}
	require.NoError(t, h.store.CreateTask(context.Background(), task))
	return task
}

// seedConversation writes to the store only, so lookups exercise the
// cache-miss path.
func (h *harness) seedConversation(t *testing.T, id string, mutate func(*models.Conversation)) *models.Conversation {
	t.Helper()
	conv := &models.Conversation{
		ID:            id,
		AccountID:     "acct",
		RequestID:     "req-1",
		DialogID:      id,
		DialogType:    models.DialogNormal,
		State:         models.StateActive,
		Status:        models.StageOpen,
		Active:        true,
		ConsumerToken: "jws",
	}
	if mutate != nil {
		mutate(conv)
	}
	require.NoError(t, h.store.CreateConversation(context.Background(), conv))
	return conv
}

func (h *harness) storedConversation(t *testing.T, id string) *models.Conversation {
	t.Helper()
	conv, err := h.store.GetConversation(context.Background(), "acct", id)
	require.NoError(t, err)
	return conv
}

func (h *harness) storedTask(t *testing.T) *models.Task {
	t.Helper()
	task, err := h.store.GetTask(context.Background(), "acct", "req-1")
	require.NoError(t, err)
	return task
}

func agentEvent(convID, text string) ContentEvent {
	return ContentEvent{Body: ContentBody{Changes: []ContentChange{{
		ConversationID:     convID,
		OriginatorMetadata: OriginatorMetadata{ID: "agent-1", Role: RoleAssignedAgent},
		MessageAudience:    AudienceAll,
		Event:              MessageEvent{Type: EventContent, ContentType: "text/plain", Message: text},
	}}}}
}

func closeEvent(convID string) StateChangeEvent {
	return StateChangeEvent{Body: StateChangeBody{Changes: []StateChange{{
		Type: "UPSERT",
		Result: StateResult{ConvID: convID, ConversationDetails: ConversationDetails{
			Stage: models.StageClose,
		}},
	}}}}
}
