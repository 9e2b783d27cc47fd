package telegraph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/zulandar/convoy/internal/models"
)

func concludedTask() *models.Task {
	created := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	concluded := created.Add(90 * time.Second)
	return &models.Task{
		ID:                     "req-1",
		AccountID:              "acct",
		SkillID:                "42",
		Scenario:               "billing dispute",
		MaxConversations:       3,
		CompletedConversations: 3,
		Status:                 models.TaskAgentAnalysis,
		CreatedAt:              created,
		ConcludedAt:            &concluded,
	}
}

func TestSeverityColor(t *testing.T) {
	assert.Equal(t, ColorSuccess, severityColor("success"))
	assert.Equal(t, ColorWarning, severityColor("warning"))
	assert.Equal(t, ColorError, severityColor("error"))
	assert.Equal(t, ColorInfo, severityColor("info"))
	assert.Equal(t, ColorInfo, severityColor("unknown"))
}

func TestFormatTaskConcluded(t *testing.T) {
	evt := FormatTaskConcluded(concludedTask())

	assert.Equal(t, "Task req-1 concluded", evt.Title)
	assert.Equal(t, "success", evt.Severity)
	assert.Equal(t, ColorSuccess, evt.Color)
	assert.Contains(t, evt.Body, "Scenario: billing dispute")
	assert.Contains(t, evt.Body, "Ran for 1m30s")
	assert.Contains(t, evt.Fields, Field{Name: "Conversations", Value: "3/3 completed", Short: true})
	assert.Contains(t, evt.Fields, Field{Name: "Skill", Value: "42", Short: true})
}

func TestFormatTaskConcluded_ShortfallIsWarning(t *testing.T) {
	task := concludedTask()
	task.CompletedConversations = 1
	task.ErrorReason = "consumer token missing"

	evt := FormatTaskConcluded(task)
	assert.Equal(t, "warning", evt.Severity)
	assert.Equal(t, ColorWarning, evt.Color)
	assert.Contains(t, evt.Body, "Last error: consumer token missing")
}

func TestFormatTaskFailed(t *testing.T) {
	task := concludedTask()
	task.SkillID = ""
	task.Status = models.TaskError
	task.ErrorReason = "stored reason"

	evt := FormatTaskFailed(task, "conversation limit exceeded")
	assert.Equal(t, "Task req-1 failed", evt.Title)
	assert.Equal(t, "conversation limit exceeded", evt.Body)
	assert.Equal(t, ColorError, evt.Color)
	assert.Len(t, evt.Fields, 4)

	assert.Equal(t, "stored reason", FormatTaskFailed(task, "").Body)
}
