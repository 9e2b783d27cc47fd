package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/convoy/internal/analysis"
	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/models"
	"github.com/zulandar/convoy/internal/orchestrator"
	"github.com/zulandar/convoy/internal/store"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type published struct {
	conversationID, dialogID, text string
}

type fakeOrchestrator struct {
	mu         sync.Mutex
	due        []models.Conversation
	dueErr     error
	tasks      map[string]*models.Task
	publishErr error
	results    map[string]orchestrator.PublishResult
	published  []published
	limit      int
	dueAt      time.Time
}

func (f *fakeOrchestrator) DueReplies(_ context.Context, now time.Time, limit int) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dueAt, f.limit = now, limit
	return f.due, f.dueErr
}

func (f *fakeOrchestrator) Task(_ context.Context, _, requestID string) (*models.Task, error) {
	task, ok := f.tasks[requestID]
	if !ok {
		return nil, errors.New("not found")
	}
	return task, nil
}

func (f *fakeOrchestrator) PublishReply(_ context.Context, conv *models.Conversation, text string) (orchestrator.PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return orchestrator.PublishFailed, f.publishErr
	}
	if res, ok := f.results[conv.ID]; ok {
		return res, nil
	}
	f.published = append(f.published, published{conv.ID, conv.DialogID, text})
	return orchestrator.PublishSent, nil
}

type fakeTracker struct {
	mu    sync.Mutex
	ticks int
	err   error
}

func (f *fakeTracker) Tick(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
	return f.err
}

func (f *fakeTracker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticks
}

type failingResponder struct{}

func (failingResponder) NextConsumerMessage(context.Context, *models.Task, *models.Conversation) (string, error) {
	return "", errors.New("model unavailable")
}

var sweepNow = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

func newSweeper(t *testing.T, orch *fakeOrchestrator, tr *fakeTracker, r analysis.Responder) *Sweeper {
	t.Helper()
	s, err := New(Opts{
		Orchestrator: orch,
		Tracker:      tr,
		Responder:    r,
		BatchSize:    25,
		Now:          func() time.Time { return sweepNow },
	})
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Opts{Responder: analysis.Scripted{}})
	assert.Error(t, err)
	_, err = New(Opts{Orchestrator: &fakeOrchestrator{}})
	assert.Error(t, err)

	s, err := New(Opts{Orchestrator: &fakeOrchestrator{}, Responder: analysis.Scripted{}})
	require.NoError(t, err)
	assert.Equal(t, defaultSchedule, s.schedule)
	assert.Equal(t, defaultBatchSize, s.batchSize)
}

func TestRunOnce_PublishesDueReplies(t *testing.T) {
	orch := &fakeOrchestrator{
		due: []models.Conversation{
			{ID: "c1", AccountID: "acct", RequestID: "r1", DialogID: "d1"},
			{ID: "c2", AccountID: "acct", RequestID: "r1", DialogID: "d2", ConsumerMessagesSentCount: 1},
			{ID: "c3", AccountID: "acct", RequestID: "cancelled"},
			{ID: "c4", AccountID: "acct", RequestID: "ghost"},
		},
		tasks: map[string]*models.Task{
			"r1":        {ID: "r1", Status: models.TaskInProgress},
			"cancelled": {ID: "cancelled", Status: models.TaskCancelled},
		},
	}
	tr := &fakeTracker{}
	s := newSweeper(t, orch, tr, analysis.Scripted{Lines: []string{"first", "second"}})

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Due: 4, Published: 2, Skipped: 1, Failed: 1}, res)
	assert.Equal(t, []published{{"c1", "d1", "first"}, {"c2", "d2", "second"}}, orch.published)
	assert.Equal(t, 25, orch.limit)
	assert.Equal(t, sweepNow, orch.dueAt)
	assert.Equal(t, 1, tr.count())
}

func TestRunOnce_ResponderAndPublishFailures(t *testing.T) {
	orch := &fakeOrchestrator{
		due:   []models.Conversation{{ID: "c1", AccountID: "acct", RequestID: "r1"}},
		tasks: map[string]*models.Task{"r1": {ID: "r1", Status: models.TaskInProgress}},
	}
	tl := logging.NewTestLogger()
	s, err := New(Opts{Orchestrator: orch, Responder: failingResponder{}, Logger: tl.Logger})
	require.NoError(t, err)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	tl.AssertLogged(t, zap.ErrorLevel, "consumer message generation failed")

	orch.publishErr = errors.New("empty text")
	s.responder = analysis.Scripted{}
	res, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
}

func TestRunOnce_CountsSwallowedPublishFailures(t *testing.T) {
	orch := &fakeOrchestrator{
		due: []models.Conversation{
			{ID: "sent", AccountID: "acct", RequestID: "r1"},
			{ID: "rejected", AccountID: "acct", RequestID: "r1"},
			{ID: "closed", AccountID: "acct", RequestID: "r1"},
		},
		tasks: map[string]*models.Task{"r1": {ID: "r1", Status: models.TaskInProgress}},
		results: map[string]orchestrator.PublishResult{
			"rejected": orchestrator.PublishFailed,
			"closed":   orchestrator.PublishSkipped,
		},
	}
	s := newSweeper(t, orch, &fakeTracker{}, analysis.Scripted{})

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Due: 3, Published: 1, Skipped: 1, Failed: 1}, res)
}

// storeOrchestrator serves due replies from a real store and marks them
// answered on publish.
type storeOrchestrator struct {
	store     *store.Store
	published []string
}

func (o *storeOrchestrator) DueReplies(ctx context.Context, now time.Time, limit int) ([]models.Conversation, error) {
	return o.store.ListDueReplies(ctx, now.UnixMilli(), limit)
}

func (o *storeOrchestrator) Task(ctx context.Context, accountID, requestID string) (*models.Task, error) {
	return o.store.GetTask(ctx, accountID, requestID)
}

func (o *storeOrchestrator) PublishReply(ctx context.Context, conv *models.Conversation, _ string) (orchestrator.PublishResult, error) {
	o.published = append(o.published, conv.ID)
	err := o.store.UpdateConversation(ctx, conv.AccountID, conv.ID, map[string]interface{}{"pending_consumer": false})
	return orchestrator.PublishSent, err
}

func TestRunOnce_CancelledTasksDoNotStarveLiveReplies(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Task{}, &models.Conversation{}))
	st, err := store.New(db)
	require.NoError(t, err)
	ctx := context.Background()

	for id, status := range map[string]models.TaskStatus{"live": models.TaskInProgress, "gone": models.TaskCancelled} {
		require.NoError(t, st.CreateTask(ctx, &models.Task{ID: id, AccountID: "acct", MaxConversations: 5, ConcurrentConversations: 5, Status: status}))
	}
	due := sweepNow.Add(-time.Minute).UnixMilli()
	convs := []models.Conversation{
		{ID: "g1", RequestID: "gone", PendingConsumerRespondTime: due},
		{ID: "g2", RequestID: "gone", PendingConsumerRespondTime: due + 1},
		{ID: "g3", RequestID: "gone", PendingConsumerRespondTime: due + 2},
		{ID: "l1", RequestID: "live", PendingConsumerRespondTime: due + 3},
	}
	for i := range convs {
		convs[i].AccountID = "acct"
		convs[i].State = models.StateActive
		convs[i].Status = models.StageOpen
		convs[i].PendingConsumer = true
		require.NoError(t, st.CreateConversation(ctx, &convs[i]))
	}

	orch := &storeOrchestrator{store: st}
	s, err := New(Opts{
		Orchestrator: orch,
		Responder:    analysis.Scripted{},
		BatchSize:    3,
		Now:          func() time.Time { return sweepNow },
	})
	require.NoError(t, err)

	res, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Due: 1, Published: 1}, res)
	assert.Equal(t, []string{"l1"}, orch.published)

	res, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Due)
}

func TestRunOnce_Errors(t *testing.T) {
	orch := &fakeOrchestrator{dueErr: errors.New("db gone")}
	tr := &fakeTracker{}
	s := newSweeper(t, orch, tr, analysis.Scripted{})

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db gone")
	assert.Zero(t, tr.count(), "no tick when the due query fails")

	orch.dueErr = nil
	tr.err = errors.New("tick failed")
	_, err = s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tick failed")
}

func TestRun_BadSchedule(t *testing.T) {
	s, err := New(Opts{Orchestrator: &fakeOrchestrator{}, Responder: analysis.Scripted{}, Schedule: "whenever"})
	require.NoError(t, err)
	err = s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whenever")
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	tr := &fakeTracker{}
	s, err := New(Opts{
		Orchestrator: &fakeOrchestrator{},
		Tracker:      tr,
		Responder:    analysis.Scripted{},
		Schedule:     "@every 1s",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return tr.count() > 0 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCronLogger(t *testing.T) {
	tl := logging.NewTestLogger()
	l := cronLogger{tl.Sugar()}
	l.Info("start", "entries", 1)
	l.Error(errors.New("boom"), "panic", "job", "sweep")

	tl.AssertLogged(t, zap.DebugLevel, "cron: start")
	tl.AssertLogged(t, zap.ErrorLevel, "cron: panic")
}
