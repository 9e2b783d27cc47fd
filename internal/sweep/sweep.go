// Package sweep runs the periodic pass that sends due consumer replies and
// lets the tracker top up or conclude tasks.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/convoy/internal/analysis"
	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/models"
	"github.com/zulandar/convoy/internal/orchestrator"
	"go.uber.org/zap"
)

const (
	defaultSchedule  = "@every 2s"
	defaultBatchSize = 100
)

// Orchestrator is the part of the conversation orchestrator the sweep drives.
type Orchestrator interface {
	DueReplies(ctx context.Context, now time.Time, limit int) ([]models.Conversation, error)
	Task(ctx context.Context, accountID, requestID string) (*models.Task, error)
	PublishReply(ctx context.Context, conv *models.Conversation, text string) (orchestrator.PublishResult, error)
}

// Tracker re-evaluates open tasks.
type Tracker interface {
	Tick(ctx context.Context) error
}

// Opts configures a Sweeper.
type Opts struct {
	Orchestrator Orchestrator
	Tracker      Tracker
	Responder    analysis.Responder
	Schedule     string // cron spec; "" → @every 2s
	BatchSize    int    // due replies per pass; 0 → 100
	Logger       *zap.Logger
	Now          func() time.Time
}

// Result summarises one pass. Published counts replies the platform
// accepted; Failed includes sends the platform rejected.
type Result struct {
	Due       int
	Published int
	Skipped   int
	Failed    int
}

// Sweeper publishes due replies on a cron schedule.
type Sweeper struct {
	orch      Orchestrator
	tracker   Tracker
	responder analysis.Responder
	schedule  string
	batchSize int
	log       *zap.Logger
	now       func() time.Time
}

// New creates a sweeper, validating required dependencies.
func New(opts Opts) (*Sweeper, error) {
	if opts.Orchestrator == nil {
		return nil, fmt.Errorf("sweep: orchestrator is required")
	}
	if opts.Responder == nil {
		return nil, fmt.Errorf("sweep: responder is required")
	}
	s := &Sweeper{
		orch:      opts.Orchestrator,
		tracker:   opts.Tracker,
		responder: opts.Responder,
		schedule:  opts.Schedule,
		batchSize: opts.BatchSize,
		log:       logging.OrNop(opts.Logger),
		now:       opts.Now,
	}
	if s.schedule == "" {
		s.schedule = defaultSchedule
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Run schedules RunOnce until ctx is cancelled. Passes that overrun the
// schedule are skipped, not queued.
func (s *Sweeper) Run(ctx context.Context) error {
	clog := cronLogger{s.log.Sugar()}
	c := cron.New(cron.WithLogger(clog), cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)))
	if _, err := c.AddFunc(s.schedule, func() {
		res, err := s.RunOnce(ctx)
		if err != nil {
			s.log.Error("sweep pass failed", zap.Error(err))
		}
		if res.Due > 0 {
			s.log.Debug("sweep pass",
				zap.Int("due", res.Due), zap.Int("published", res.Published),
				zap.Int("skipped", res.Skipped), zap.Int("failed", res.Failed))
		}
	}); err != nil {
		return fmt.Errorf("sweep: schedule %q: %w", s.schedule, err)
	}

	s.log.Info("sweep started", zap.String("schedule", s.schedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("sweep stopped")
	return nil
}

// RunOnce publishes every due reply in one batch, then ticks the tracker.
// Individual reply failures are counted, not returned; they stay pending and
// are retried on the next pass.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	due, err := s.orch.DueReplies(ctx, s.now(), s.batchSize)
	if err != nil {
		return res, fmt.Errorf("sweep: %w", err)
	}
	res.Due = len(due)

	for i := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		switch s.reply(ctx, &due[i]) {
		case replyPublished:
			res.Published++
		case replySkipped:
			res.Skipped++
		default:
			res.Failed++
		}
	}

	var errs []error
	if s.tracker != nil {
		if err := s.tracker.Tick(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sweep: tick: %w", err))
		}
	}
	return res, errors.Join(errs...)
}

type replyResult int

const (
	replyFailed replyResult = iota
	replyPublished
	replySkipped
)

func (s *Sweeper) reply(ctx context.Context, conv *models.Conversation) replyResult {
	log := s.log.With(logging.Account(conv.AccountID), logging.Conversation(conv.ID))

	task, err := s.orch.Task(ctx, conv.AccountID, conv.RequestID)
	if err != nil {
		log.Warn("due reply without task", logging.Request(conv.RequestID), zap.Error(err))
		return replyFailed
	}
	if task.Status.Terminal() {
		return replySkipped
	}

	text, err := s.responder.NextConsumerMessage(ctx, task, conv)
	if err != nil {
		log.Error("consumer message generation failed", zap.Error(err))
		return replyFailed
	}
	res, err := s.orch.PublishReply(ctx, conv, text)
	if err != nil {
		log.Error("consumer reply rejected", zap.Error(err))
		return replyFailed
	}
	switch res {
	case orchestrator.PublishSent:
		return replyPublished
	case orchestrator.PublishSkipped:
		return replySkipped
	default:
		return replyFailed
	}
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
