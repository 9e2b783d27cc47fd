package orchestrator

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/models"
	"go.uber.org/zap"
)

// DefaultReplyDelay applies when a task has no usable delay range.
const DefaultReplyDelay = 10 * time.Second

// IntSource yields uniform integers in [min, max).
type IntSource interface {
	Int(min, max int) (int, error)
}

// SecureRand draws from crypto/rand so reply timing cannot be predicted by
// the platform under test.
type SecureRand struct{}

// Int returns a uniform integer in [min, max).
func (SecureRand) Int(min, max int) (int, error) {
	if max <= min {
		return 0, fmt.Errorf("orchestrator: empty range [%d, %d)", min, max)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max-min)))
	if err != nil {
		return 0, fmt.Errorf("orchestrator: secure random: %w", err)
	}
	return min + int(n.Int64()), nil
}

// replyDelay is how long the synthetic consumer waits before answering.
func (o *Orchestrator) replyDelay(task *models.Task, postSurvey bool) time.Duration {
	if postSurvey || !task.UseDelays {
		return 0
	}
	r := task.ConsumerMessageDelayRange
	if !r.Valid() {
		return o.defaultDelay
	}
	n, err := o.rand.Int(r.Min, r.Max+1)
	if err != nil {
		o.log.Warn("reply delay fell back to default", logging.Request(task.ID), zap.Error(err))
		return o.defaultDelay
	}
	return time.Duration(n) * time.Second
}
